// Package metrics exposes the core's Prometheus collectors: one registry,
// one counter/gauge/histogram per subsystem touchpoint (lock, cache, config,
// resource, audit, database), plus a process resource snapshot. Adapted from
// the teacher's pkg/metrics package-level Registry + Record* function shape,
// re-labeled for this domain's subsystems instead of HTTP/function/oracle
// dispatch metrics.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector this package registers.
	Registry = prometheus.NewRegistry()

	lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Distributed lock acquisition attempts by outcome.",
		},
		[]string{"outcome"}, // acquired|timeout|error|released|stolen_or_expired|release_error
	)

	lockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lumen",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire a distributed lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"lock_key"},
	)

	cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache operations by kind and outcome.",
		},
		[]string{"op", "outcome"}, // op: get|set|invalidate|invalidate_by_tag; outcome: hit|miss|ok|error
	)

	configOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "config",
			Name:      "operations_total",
			Help:      "Dynamic config operations by kind and outcome.",
		},
		[]string{"op", "outcome"}, // op: get|set|refresh; outcome: cache_hit|default|fallback|ok|error
	)

	resourceOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "resource",
			Name:      "operations_total",
			Help:      "Resource transaction operations by kind and outcome.",
		},
		[]string{"op", "outcome"}, // op: grant|consume|check; outcome: ok|insufficient|cap_hit|error
	)

	auditEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events emitted by transaction type and outcome.",
		},
		[]string{"transaction_type", "outcome"}, // outcome: published|validation_error|publish_error
	)

	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lumen",
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Duration of database operations run through the transaction scope.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation", "outcome"},
	)

	circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "resilience",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open).",
		},
		[]string{"breaker"},
	)

	processResources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "process",
			Name:      "resource_usage",
			Help:      "Process resource gauges (kind: cpu_percent|rss_bytes|goroutines|open_fds).",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		lockAcquisitions,
		lockWaitSeconds,
		cacheOps,
		configOps,
		resourceOps,
		auditEvents,
		dbQueryDuration,
		circuitState,
		processResources,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing every registered collector.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordLockAcquisition records a distributed lock event's outcome and,
// whenever wait is positive (whatever the outcome), how long the caller
// waited.
func RecordLockAcquisition(lockKey, outcome string, wait time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	lockAcquisitions.WithLabelValues(outcome).Inc()
	if wait > 0 {
		lockWaitSeconds.WithLabelValues(normalizeLockKey(lockKey)).Observe(wait.Seconds())
	}
}

// RecordCacheOp records a cache get/set/invalidate outcome.
func RecordCacheOp(op, outcome string) {
	cacheOps.WithLabelValues(op, outcome).Inc()
}

// RecordConfigOp records a dynamic config get/set/refresh outcome.
func RecordConfigOp(op, outcome string) {
	configOps.WithLabelValues(op, outcome).Inc()
}

// RecordResourceOp records a grant/consume/check outcome.
func RecordResourceOp(op, outcome string) {
	resourceOps.WithLabelValues(op, outcome).Inc()
}

// RecordAuditEvent records an audit pipeline outcome for a transaction type.
func RecordAuditEvent(transactionType, outcome string) {
	if transactionType == "" {
		transactionType = "unknown"
	}
	auditEvents.WithLabelValues(transactionType, outcome).Inc()
}

// RecordDBQuery records the duration and outcome of a database operation run
// through internal/database's transaction scope.
func RecordDBQuery(operation string, dur time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if operation == "" {
		operation = "unknown"
	}
	dbQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
}

// CircuitState mirrors gobreaker's State enum without importing it here, so
// this package stays dependency-light for callers that only need to report.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

// RecordCircuitState publishes the current state of a named circuit breaker.
func RecordCircuitState(name string, state CircuitState) {
	circuitState.WithLabelValues(name).Set(float64(state))
}

func normalizeLockKey(key string) string {
	// Collapse per-player/per-entity lock keys (e.g. "player:42") to their
	// prefix so the wait-time histogram doesn't grow an unbounded label set.
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		return key[:idx]
	}
	if key == "" {
		return "unknown"
	}
	return key
}
