// Package protocol defines the JSON envelopes exchanged over a chat connection.
package protocol

import (
	"chat-roulette/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

var validate = validator.New()

type InboundType string

const (
	InboundMessage InboundType = "message"
	InboundTyping  InboundType = "typing"
	InboundRoll    InboundType = "roll"
	InboundLeave   InboundType = "leave"
)

type Inbound struct {
	Type    InboundType `validate:"required,oneof=message typing roll leave"`
	Content string      `validate:"required_if=Type message"`
}

// Decode reads one client frame.
// The type field is peeked first so unknown kinds are rejected before the
// content is looked at.
func Decode(raw []byte) (Inbound, error) {
	if !gjson.ValidBytes(raw) {
		return Inbound{}, fmt.Errorf("%w: not a JSON document", errors.ErrProtocol)
	}
	kind := gjson.GetBytes(raw, "type")
	if kind.Type != gjson.String {
		return Inbound{}, fmt.Errorf("%w: missing type", errors.ErrProtocol)
	}

	in := Inbound{Type: InboundType(kind.String())}
	switch in.Type {
	case InboundMessage:
		content := gjson.GetBytes(raw, "content")
		if content.Exists() && content.Type != gjson.String {
			return Inbound{}, fmt.Errorf("%w: content must be a string", errors.ErrProtocol)
		}
		in.Content = content.String()
	case InboundTyping, InboundRoll, InboundLeave:
	default:
		return Inbound{}, fmt.Errorf("%w: %w %q", errors.ErrProtocol, errors.ErrUnknownEnvelope, in.Type)
	}

	if err := validate.Struct(in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", errors.ErrProtocol, err)
	}
	return in, nil
}
