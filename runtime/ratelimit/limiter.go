// Package ratelimit throttles chat messages per user with a leaky bucket.
package ratelimit

import (
	"chat-roulette/errors"
	"context"
	"log/slog"
	"time"
)

type Clock func() time.Time

type Settings struct {
	// Quantum is the debt added by one accepted message
	Quantum time.Duration
	// Burst is the debt a user may carry before being throttled
	Burst time.Duration
	// IdleTimeout stops a drained limiter nobody talks to
	IdleTimeout time.Duration
	// CallTimeout bounds one request to the limiter actor
	CallTimeout time.Duration
}

type chargeRequest struct {
	reply chan time.Duration
}

// Limiter is the actor owning the bucket of one user.
// Only accepted charges move nextAllowed forward: a throttled message costs
// nothing, so waiting out the reported cooldown is always enough.
type Limiter struct {
	userID   string
	settings Settings
	clock    Clock
	log      *slog.Logger
	requests chan chargeRequest
	done     chan struct{}
	onIdle   func(*Limiter)

	nextAllowed time.Time
}

func NewLimiter(userID string, settings Settings, clock Clock, log *slog.Logger, onIdle func(*Limiter)) *Limiter {
	return &Limiter{
		userID:   userID,
		settings: settings,
		clock:    clock,
		log:      log.With("user_id", userID),
		requests: make(chan chargeRequest),
		done:     make(chan struct{}),
		onIdle:   onIdle,
	}
}

func (l *Limiter) Run(ctx context.Context) error {
	idle := time.NewTimer(l.settings.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-l.requests:
			req.reply <- l.charge()
			idle.Reset(l.settings.IdleTimeout)
		case <-idle.C:
			if l.clock().Before(l.nextAllowed) {
				idle.Reset(l.settings.IdleTimeout)
				continue
			}
			l.log.Debug("Limiter idle, stopping")
			if l.onIdle != nil {
				l.onIdle(l)
			}
			close(l.done)
			return nil
		}
	}
}

// charge advances nextAllowed by one quantum only when the message is accepted,
// unlike a per-call advance where a refused attempt would extend the cooldown.
func (l *Limiter) charge() time.Duration {
	now := l.clock()
	next := l.nextAllowed
	if next.Before(now) {
		next = now
	}
	next = next.Add(l.settings.Quantum)

	cooldown := next.Sub(now) - l.settings.Burst
	if cooldown > 0 {
		return cooldown
	}
	l.nextAllowed = next
	return 0
}

// Charge asks the actor for a decision.
// A stopped actor or a timeout is reported as a transient failure so the
// caller re-acquires a fresh limiter.
func (l *Limiter) Charge(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, l.settings.CallTimeout)
	defer cancel()

	req := chargeRequest{reply: make(chan time.Duration, 1)}
	select {
	case l.requests <- req:
	case <-l.done:
		return 0, errors.Transient(errors.ErrLimiterStopped)
	case <-ctx.Done():
		return 0, errors.Transient(ctx.Err())
	}

	select {
	case cooldown := <-req.reply:
		return cooldown, nil
	case <-ctx.Done():
		return 0, errors.Transient(ctx.Err())
	}
}

func (l *Limiter) Done() <-chan struct{} {
	return l.done
}
