// Package ratelimit is the in-process secondary limiter spec.md §4.2
// describes alongside the Redis-backed token bucket in internal/kvstore: a
// cheap per-process guard that rejects obviously-abusive call rates before a
// request ever reaches the network, without needing Redis to enforce it.
// Adapted from the teacher's infrastructure/ratelimit/ratelimit.go, trimmed
// of its HTTP client wrapper since this core has no outbound HTTP surface.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the per-second and derived per-minute limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig matches the teacher's infrastructure default.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 100,
		Burst:             200,
	}
}

// Limiter wraps golang.org/x/time/rate with a derived per-minute limiter and
// a Reset hook, matching the shape of the teacher's RateLimiter.
type Limiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	perMinute *rate.Limiter
	config    Config
}

// New builds a Limiter from cfg, filling in defaults for non-positive fields.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		config:    cfg,
	}
}

// Allow reports whether a single call may proceed under the per-second bucket.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// AllowN reports whether n calls at time now may proceed.
func (l *Limiter) AllowN(now time.Time, n int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.AllowN(now, n)
}

// LimitExceeded is the negation of Allow, phrased for guard clauses
// ("if limiter.LimitExceeded() { return ErrTooManyRequests }").
func (l *Limiter) LimitExceeded() bool {
	return !l.Allow()
}

// PerMinuteLimitExceeded checks the derived per-minute bucket, used for a
// coarser secondary ceiling above the per-second one.
func (l *Limiter) PerMinuteLimitExceeded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.perMinute.Allow()
}

// Reset rebuilds both buckets at full capacity, for use after a known burst
// (e.g. a reconnect storm) that should not count against the caller.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
	l.perMinute = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond*60), l.config.Burst*2)
}
