// Package resilience provides fault tolerance patterns backed by
// github.com/sony/gobreaker/v2 (circuit breaking) and
// github.com/cenkalti/backoff/v4 (retry with exponential backoff).
//
// This package is a thin adapter that preserves the teacher codebase's API
// surface while delegating to battle-tested OSS, retuned to this core's
// own circuit-breaker defaults (failure_threshold=5, timeout=60s,
// success_threshold=2).
package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/niyusum/luminescence-sub000/internal/logging"
)

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State represents circuit breaker state.
type State int

const (
	StateClosed   State = State(gobreaker.StateClosed)
	StateHalfOpen State = State(gobreaker.StateHalfOpen)
	StateOpen     State = State(gobreaker.StateOpen)
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ---------------------------------------------------------------------------
// Circuit Breaker
// ---------------------------------------------------------------------------

// Config for circuit breaker. Defaults mirror spec: failure_threshold=5,
// timeout_seconds=60, success_threshold=2.
type Config struct {
	MaxFailures   int // consecutive failures before opening
	Timeout       time.Duration
	HalfOpenMax   int // consecutive half-open successes required to close
	OnStateChange func(from, to State)
}

// DefaultConfig returns this core's circuit breaker defaults.
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Timeout:     60 * time.Second,
		HalfOpenMax: 2,
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker while adding a manual
// forced-open override that gobreaker itself does not expose.
type CircuitBreaker struct {
	mu     sync.Mutex
	gb     *gobreaker.CircuitBreaker[any]
	cfg    Config
	forced atomic.Bool
}

// New creates a new CircuitBreaker backed by sony/gobreaker.
func New(cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{cfg: normalize(cfg)}
	cb.gb = newGobreaker(cb.cfg)
	return cb
}

func normalize(cfg Config) Config {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 2
	}
	return cfg
}

func newGobreaker(cfg Config) *gobreaker.CircuitBreaker[any] {
	maxFailures := uint32(cfg.MaxFailures)
	halfOpenMax := uint32(cfg.HalfOpenMax)

	settings := gobreaker.Settings{
		MaxRequests: halfOpenMax,
		Interval:    0,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			cfg.OnStateChange(State(from), State(to))
		}
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	if cb.forced.Load() {
		return StateOpen
	}
	return State(cb.gb.State())
}

// Execute runs fn with circuit breaker protection. The ctx parameter is
// accepted for API compatibility but gobreaker does not use it internally —
// callers should enforce timeouts via context on fn itself.
func (cb *CircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.forced.Load() {
		return ErrCircuitOpen
	}
	_, err := cb.gb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		return mapGobreakerError(err)
	}
	return nil
}

// ForceOpen manually trips the breaker to fail-fast regardless of observed
// failures, for operator-driven emergency shutoff.
func (cb *CircuitBreaker) ForceOpen() {
	cb.forced.Store(true)
}

// Reset clears a manual ForceOpen and rebuilds the underlying breaker in a
// fresh closed state, discarding any accumulated failure counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.forced.Store(false)
	cb.gb = newGobreaker(cb.cfg)
}

// mapGobreakerError translates gobreaker sentinel errors to this package's
// own so that consumer code comparing against ErrCircuitOpen /
// ErrTooManyRequests continues to work.
func mapGobreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrTooManyRequests
	}
	return err
}

// ---------------------------------------------------------------------------
// Retryable error classification
// ---------------------------------------------------------------------------

// RetryableError reports whether err belongs to the fixed set of transient
// failures worth retrying: deadline exceeded, io.EOF/io.ErrUnexpectedEOF,
// connection refused/reset, any *net.OpError, and other net.Error values
// whose Timeout() is true.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, mapped to backoff.RandomizationFactor
}

// DefaultRetryConfig returns this core's retry defaults (max_attempts=3).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry executes fn with exponential backoff using cenkalti/backoff.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		bo.InitialInterval = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		bo.MaxInterval = cfg.MaxDelay
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter > 0 {
		bo.RandomizationFactor = cfg.Jitter
	} else {
		bo.RandomizationFactor = 0
	}
	bo.MaxElapsedTime = 0

	maxRetries := uint64(cfg.MaxAttempts - 1)
	withMax := backoff.WithMaxRetries(bo, maxRetries)
	withCtx := backoff.WithContext(withMax, ctx)

	return backoff.Retry(func() error {
		return fn()
	}, withCtx)
}

// ---------------------------------------------------------------------------
// Logging hook
// ---------------------------------------------------------------------------

// WithLogging returns an OnStateChange callback that logs every circuit
// breaker transition through the shared structured logger.
func WithLogging(logger *logging.Logger, name string) func(from, to State) {
	return func(from, to State) {
		logger.LogCircuitStateChange(context.Background(), name, from, to)
	}
}
