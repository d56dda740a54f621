package telemetry

import (
	"sync"
	"time"
)

// RateLimiter gates StructuredLogger's Error output to one line per
// interval, so a cascading incident storm (every workflow hitting the
// same dependency failure at once) doesn't flood stdout faster than an
// operator can read it.
type RateLimiter struct {
	interval time.Duration
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a rate limiter that allows one Allow() per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
	}
}

// Allow reports whether an interval has elapsed since the last allowed call.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastTime) >= r.interval {
		r.lastTime = now
		return true
	}
	return false
}
