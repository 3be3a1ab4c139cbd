package resource

import "sync/atomic"

// Metrics mirrors the original's ResourceMetrics counter set, tracked with
// atomics rather than a lock-guarded dataclass.
type Metrics struct {
	grants             atomic.Int64
	consumes           atomic.Int64
	checks             atomic.Int64
	insufficientErrors atomic.Int64
	errors             atomic.Int64
}

// MetricsSnapshot is the point-in-time metrics view.
type MetricsSnapshot struct {
	Grants             int64
	Consumes           int64
	Checks             int64
	InsufficientErrors int64
	Errors             int64
}

// MetricsSnapshot returns the service's current counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Grants:             s.metrics.grants.Load(),
		Consumes:           s.metrics.consumes.Load(),
		Checks:             s.metrics.checks.Load(),
		InsufficientErrors: s.metrics.insufficientErrors.Load(),
		Errors:             s.metrics.errors.Load(),
	}
}
