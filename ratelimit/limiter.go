// Package ratelimit bounds outbound call rate to external collaborators.
// Callers see back-pressure as suspension, never as an error.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/juant72/sniperforge-sub012/types"
)

// Limiter is a token bucket refilled once per fixed window. Acquire blocks
// the caller until a token is free; tokens never go negative.
type Limiter struct {
	mu           sync.Mutex
	maxPerWindow int
	window       time.Duration
	tokens       int
	windowStart  time.Time
	now          func() time.Time
}

// NewLimiter creates a limiter admitting at most maxPerWindow acquisitions
// per window.
func NewLimiter(maxPerWindow int, window time.Duration) *Limiter {
	if maxPerWindow < 1 {
		maxPerWindow = 1
	}
	return &Limiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		tokens:       maxPerWindow,
		windowStart:  time.Now(),
		now:          time.Now,
	}
}

// Acquire suspends the caller until a slot is free or ctx is done. The only
// error it can return is the context's.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refillLocked()
		if l.tokens > 0 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.window - l.now().Sub(l.windowStart)
		l.mu.Unlock()

		if wait <= 0 {
			// Window rolled over between the check and now; retry.
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// refillLocked resets the bucket when the current window has elapsed.
func (l *Limiter) refillLocked() {
	now := l.now()
	if now.Sub(l.windowStart) >= l.window {
		l.tokens = l.maxPerWindow
		l.windowStart = now
	}
}

// Budget returns a point-in-time snapshot of the bucket.
func (l *Limiter) Budget() types.RateBudget {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	return types.RateBudget{
		AvailableTokens: l.tokens,
		WindowStart:     l.windowStart,
		MaxPerWindow:    l.maxPerWindow,
	}
}

// SetCapacity re-sizes the bucket. Tokens already handed out this window are
// kept; the new capacity takes full effect at the next refill.
func (l *Limiter) SetCapacity(maxPerWindow int) {
	if maxPerWindow < 1 {
		maxPerWindow = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	used := l.maxPerWindow - l.tokens
	l.maxPerWindow = maxPerWindow
	l.tokens = maxPerWindow - used
	if l.tokens < 0 {
		l.tokens = 0
	}
}

// Capacity returns the current bucket size.
func (l *Limiter) Capacity() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPerWindow
}
