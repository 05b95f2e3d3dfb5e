// Package chat contains the core concepts of a one-on-one conversation.
// No runtime, network, or storage logic should be added here.
package chat

import "time"

type RoomID string

// Participant is one side of a room, identified by an opaque user handle.
type Participant struct {
	UserID      string
	DisplayName string
}

// Message is the canonical record of a chat line once a room has ordered it.
// Timestamp is expressed in milliseconds since the epoch and is strictly
// increasing inside a room.
type Message struct {
	UserID      string
	DisplayName string
	Content     string
	Timestamp   int64
}

func (m Message) At() time.Time {
	return time.UnixMilli(m.Timestamp).UTC()
}

type DepartureCause string

const (
	Left         DepartureCause = "left"
	Disconnected DepartureCause = "disconnected"
)

// Closure is what a room reports once it has been torn down.
type Closure struct {
	Room          RoomID
	UserID        string
	Cause         DepartureCause
	AlreadyClosed bool
}

// NextTimestamp keeps timestamps strictly increasing even when the wall clock
// stalls or goes backwards.
func NextTimestamp(now time.Time, last int64) int64 {
	return max(now.UnixMilli(), last+1)
}
