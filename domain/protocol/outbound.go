package protocol

import (
	"chat-roulette/domain/chat"
	"encoding/json"
	"fmt"
)

type OutboundType string

const (
	OutboundStatus              OutboundType = "status"
	OutboundRoomJoined          OutboundType = "room_joined"
	OutboundMessage             OutboundType = "message"
	OutboundTyping              OutboundType = "typing"
	OutboundPartnerLeft         OutboundType = "partner_left"
	OutboundPartnerDisconnected OutboundType = "partner_disconnected"
	OutboundError               OutboundType = "error"
)

const StatusWaiting = "waiting"

const (
	MsgLookingForMatch    = "Looking for a match..."
	MsgLookingForNewMatch = "Looking for a new match..."
	MsgAlreadyLooking     = "Already looking for a match..."
	MsgNoActivePartner    = "No active partner yet. Waiting for a match..."
	MsgPartnerLeft        = "Your partner has left the chat"
	MsgPartnerGone        = "Your partner has disconnected"
	MsgTooFast            = "You're sending messages too fast. Please slow down."
	MsgInvalid            = "Invalid message"
	MsgUnavailable        = "Something went wrong, please try again."
)

// Outbound is the single wire shape for every server frame; unused fields are omitted.
type Outbound struct {
	Type        OutboundType `json:"type"`
	Status      string       `json:"status,omitempty"`
	Message     string       `json:"message,omitempty"`
	RoomID      string       `json:"roomId,omitempty"`
	PartnerName string       `json:"partnerName,omitempty"`
	UserID      string       `json:"userId,omitempty"`
	UserName    string       `json:"userName,omitempty"`
	Content     string       `json:"content,omitempty"`
	Timestamp   int64        `json:"timestamp,omitempty"`
}

func Encode(o Outbound) ([]byte, error) {
	return json.Marshal(o)
}

func Waiting(message, userID string) Outbound {
	return Outbound{Type: OutboundStatus, Status: StatusWaiting, Message: message, UserID: userID}
}

func RoomJoined(roomID chat.RoomID, partnerName string) Outbound {
	return Outbound{
		Type:        OutboundRoomJoined,
		RoomID:      string(roomID),
		PartnerName: partnerName,
		Message:     fmt.Sprintf("Matched with %s! You can now chat.", partnerName),
	}
}

func ChatMessage(m chat.Message) Outbound {
	return Outbound{
		Type:      OutboundMessage,
		UserID:    m.UserID,
		UserName:  m.DisplayName,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

func Typing(userID string) Outbound {
	return Outbound{Type: OutboundTyping, UserID: userID}
}

func PartnerLeft() Outbound {
	return Outbound{Type: OutboundPartnerLeft, Message: MsgPartnerLeft}
}

func PartnerDisconnected() Outbound {
	return Outbound{Type: OutboundPartnerDisconnected, Message: MsgPartnerGone}
}

func Error(message string) Outbound {
	return Outbound{Type: OutboundError, Message: message}
}

func MessageTooLong(limit int) Outbound {
	return Error(fmt.Sprintf("Message too long (max %d characters)", limit))
}
