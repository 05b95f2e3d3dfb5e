package errors

import (
	"errors"
	"fmt"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	// Reported to the sender only, the connection stays open
	ErrProtocol        = fmt.Errorf("invalid message")
	ErrUnknownEnvelope = fmt.Errorf("unknown envelope type")

	ErrRateLimited         = fmt.Errorf("rate limited")
	ErrMessageTooLong      = fmt.Errorf("message too long")
	ErrPartnerGone         = fmt.Errorf("partner gone")
	ErrTransientDependency = fmt.Errorf("transient dependency failure")

	ErrRoomClosed             = fmt.Errorf("room closed")
	ErrRoomAlreadyInitialized = fmt.Errorf("room already initialized")
	ErrRoomNotInitialized     = fmt.Errorf("room not initialized")
	ErrLimiterStopped         = fmt.Errorf("limiter stopped")
	ErrMatchmakerStopped      = fmt.Errorf("matchmaker stopped")
	ErrSessionNotFound        = fmt.Errorf("session not found")
	ErrInvalidReplacement     = fmt.Errorf("replacement must be a single character")
)

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Transient wraps err so callers can detect it with ErrTransientDependency
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransientDependency) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransientDependency, err)
}
