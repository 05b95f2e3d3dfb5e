package ratelimit

import (
	"chat-roulette/contract"
	"context"
	"log/slog"
	"sync"
)

// Directory hands out the limiter of a user, creating it lazily.
// Limiters stop themselves once idle and drained, the next Get starts a new one.
type Directory struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	sup      contract.ISupervisor
	settings Settings
	clock    Clock
	log      *slog.Logger
}

func NewDirectory(sup contract.ISupervisor, settings Settings, clock Clock, log *slog.Logger) *Directory {
	return &Directory{
		limiters: make(map[string]*Limiter),
		sup:      sup,
		settings: settings,
		clock:    clock,
		log:      log.With("component", "limiter"),
	}
}

// Get returns the live limiter of userID.
// ctx is the lifetime of a newly started limiter, not a request deadline.
func (d *Directory) Get(ctx context.Context, userID string) (contract.Limiter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limiter, ok := d.limiters[userID]; ok {
		select {
		case <-limiter.Done():
		default:
			return limiter, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limiter := NewLimiter(userID, d.settings, d.clock, d.log, d.forget)
	d.limiters[userID] = limiter
	d.sup.Start(ctx, limiter)
	return limiter, nil
}

func (d *Directory) forget(l *Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.limiters[l.userID]; ok && current == l {
		delete(d.limiters, l.userID)
	}
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.limiters)
}
