package gateway

import (
	"sync"
	"time"
)

// Rejection reasons reported to clients
const (
	ReasonTooManyPending = "too many pending messages"
	ReasonRateLimited    = "rate limit exceeded"
	ReasonSessionExpired = "session expired"
)

// RateLimits bounds how fast one client may send messages
type RateLimits struct {
	MessagesPerMinute int
	MaxPending        int
}

// DefaultRateLimits returns the limits applied when none are configured
func DefaultRateLimits() RateLimits {
	return RateLimits{
		MessagesPerMinute: 30,
		MaxPending:        4,
	}
}

// ClientRateLimiter implements sliding window rate limiting per client.
// Pending counts messages accepted but not yet answered.
type ClientRateLimiter struct {
	mu       sync.Mutex
	limits   RateLimits
	window   time.Duration
	accepted []time.Time
	pending  int
	now      func() time.Time
}

// NewClientRateLimiter creates a rate limiter. Non-positive limits fall back
// to the defaults.
func NewClientRateLimiter(limits RateLimits) *ClientRateLimiter {
	defaults := DefaultRateLimits()
	if limits.MessagesPerMinute <= 0 {
		limits.MessagesPerMinute = defaults.MessagesPerMinute
	}
	if limits.MaxPending <= 0 {
		limits.MaxPending = defaults.MaxPending
	}

	return &ClientRateLimiter{
		limits: limits,
		window: time.Minute,
		now:    time.Now,
	}
}

// Acquire admits one message, or reports why it was rejected. Every admitted
// message must be paired with a Release.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending >= r.limits.MaxPending {
		return false, ReasonTooManyPending
	}

	now := r.now()
	r.pruneLocked(now)
	if len(r.accepted) >= r.limits.MessagesPerMinute {
		return false, ReasonRateLimited
	}

	r.accepted = append(r.accepted, now)
	r.pending++
	return true, ""
}

// Release marks an admitted message as answered
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending > 0 {
		r.pending--
	}
}

// Stats returns the messages accepted in the current window and the number pending
func (r *ClientRateLimiter) Stats() (accepted, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked(r.now())
	return len(r.accepted), r.pending
}

func (r *ClientRateLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	kept := r.accepted[:0]
	for _, at := range r.accepted {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	r.accepted = kept
}
