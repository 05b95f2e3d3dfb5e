package matchmaking

import "fmt"

const DefaultDisplayName = "anonymous"

type SessionID string

type PairingStrategy string

const (
	// Immediate pairs on every pool change
	Immediate PairingStrategy = "immediate"
	// Batched pairs on a re-armable timer
	Batched PairingStrategy = "batched"
)

func ParsePairingStrategy(s string) (PairingStrategy, error) {
	switch PairingStrategy(s) {
	case Immediate, Batched:
		return PairingStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown pairing strategy %q", s)
	}
}

// ConnectRequest carries the query parameters of a new connection.
// Both fields are optional: a missing user id is generated and a missing
// display name falls back to DefaultDisplayName.
// The display name length is bounded by configuration at the edge.
type ConnectRequest struct {
	UserID      string `validate:"omitempty,max=128,printascii"`
	DisplayName string
}

// Ticket identifies a registered session.
type Ticket struct {
	SessionID   SessionID
	UserID      string
	DisplayName string
}

// Status is a read-only snapshot of the matchmaker.
type Status struct {
	WaitingCount   int `json:"waitingCount"`
	TotalConnected int `json:"totalConnected"`
}
