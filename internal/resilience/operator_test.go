package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"
)

func TestCircuitBreakerForceOpenAndReset(t *testing.T) {
	cb := New(DefaultConfig())

	cb.ForceOpen()
	if cb.State() != StateOpen {
		t.Fatalf("expected forced open, got %v", cb.State())
	}
	err := cb.Execute(context.Background(), func() error { return nil })
	if err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen while forced open, got %v", err)
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %v", cb.State())
	}
	err = cb.Execute(context.Background(), func() error { return nil })
	if err != nil {
		t.Fatalf("expected success after reset, got %v", err)
	}
}

func TestRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"econnrefused", syscall.ECONNREFUSED, true},
		{"econnreset", syscall.ECONNRESET, true},
		{"opaque", errors.New("business rule violation"), false},
		{"net-op-error", &net.OpError{Op: "dial", Err: errors.New("boom")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RetryableError(tc.err); got != tc.want {
				t.Errorf("RetryableError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDefaultConfigMatchesSpec(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxFailures != 5 {
		t.Errorf("expected MaxFailures=5, got %d", cfg.MaxFailures)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("expected Timeout=60s, got %v", cfg.Timeout)
	}
	if cfg.HalfOpenMax != 2 {
		t.Errorf("expected HalfOpenMax=2, got %d", cfg.HalfOpenMax)
	}
}
