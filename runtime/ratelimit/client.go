package ratelimit

import (
	"chat-roulette/contract"
	"chat-roulette/errors"
	"context"
	"sync"
	"time"
)

// Client is the caller side of a user's limiter.
// One check runs at a time, a positive cooldown is remembered locally so the
// limiter is not asked again before it elapses, and a failed call is retried
// once with a freshly acquired limiter.
type Client struct {
	mu           sync.Mutex
	userID       string
	directory    contract.ILimiterDirectory
	clock        Clock
	reportError  func(error)
	limiter      contract.Limiter
	blockedUntil time.Time
}

func NewClient(userID string, directory contract.ILimiterDirectory, clock Clock, reportError func(error)) *Client {
	return &Client{
		userID:      userID,
		directory:   directory,
		clock:       clock,
		reportError: reportError,
	}
}

// Check returns zero when the user may send now, the remaining cooldown otherwise.
func (c *Client) Check(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if now := c.clock(); now.Before(c.blockedUntil) {
		return c.blockedUntil.Sub(now), nil
	}

	cooldown, err := c.charge(ctx)
	if err != nil {
		if c.reportError != nil {
			c.reportError(err)
		}
		return 0, err
	}
	if cooldown > 0 {
		c.blockedUntil = c.clock().Add(cooldown)
	}
	return cooldown, nil
}

func (c *Client) charge(ctx context.Context) (time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if c.limiter == nil {
			limiter, err := c.directory.Get(ctx, c.userID)
			if err != nil {
				lastErr = err
				continue
			}
			c.limiter = limiter
		}
		cooldown, err := c.limiter.Charge(ctx)
		if err == nil {
			return cooldown, nil
		}
		lastErr = err
		c.limiter = nil
	}
	return 0, errors.Transient(lastErr)
}
