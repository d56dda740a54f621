package resilience

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket per action category, generalizing the
// single-gate interval limiter this module's telemetry package uses for
// error-log flooding into a named-bucket limiter with burst capacity —
// used in front of outbound publishes that could overwhelm a downstream
// agent (e.g. "execute_remediation", "send_notification").
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens added per second
	burst   float64 // bucket capacity
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a RateLimiter where each category bucket refills
// at rate tokens/sec up to a capacity of burst tokens.
func NewRateLimiter(rate float64, burst float64) *RateLimiter {
	if burst <= 0 {
		burst = rate
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
}

// Allow reports whether one token is available for category, consuming
// it if so.
func (r *RateLimiter) Allow(category string) bool {
	return r.AllowN(category, 1)
}

// AllowN reports whether n tokens are available for category, consuming
// them if so.
func (r *RateLimiter) AllowN(category string, n float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[category]
	if !ok {
		b = &bucket{tokens: r.burst, lastFill: now}
		r.buckets[category] = b
	}

	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens = min(r.burst, b.tokens+elapsed*r.rate)
	b.lastFill = now

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}
