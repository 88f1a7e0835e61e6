package bitvavo

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between requests for a single
// credential set. Callers that arrive faster than the interval are queued
// and delayed, never rejected.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	nextSlot time.Time
}

// NewRateLimiter creates a rate limiter with the given minimum inter-request
// interval
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// Wait blocks until the caller may issue a request or the context is
// cancelled. Slots are handed out in arrival order.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	slot := r.nextSlot
	if slot.Before(now) {
		slot = now
	}
	r.nextSlot = slot.Add(r.interval)
	r.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
