package kvstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// HealthState mirrors the three-state health predicate spec.md §4.2 requires
// of the kvstore health monitor.
type HealthState string

const (
	HealthUnknown   HealthState = "UNKNOWN"
	HealthHealthy   HealthState = "HEALTHY"
	HealthDegraded  HealthState = "DEGRADED"
	HealthUnhealthy HealthState = "UNHEALTHY"
)

const (
	healthWindowSize    = 100
	healthDegradedAfter = 200 * time.Millisecond
	healthPingInterval  = 30 * time.Second
)

// HealthMonitor runs a periodic PING against the store and keeps a rolling
// latency window, deriving p50/p95/p99 via a sorted-copy percentile (no
// dependency justified for a 100-sample array — see DESIGN.md) and a
// HEALTHY/DEGRADED/UNHEALTHY classification a caller can expose on a
// readiness endpoint.
type HealthMonitor struct {
	store    *Store
	interval time.Duration
	cron     *cron.Cron

	mu          sync.Mutex
	latencies   []time.Duration
	state       HealthState
	lastErr     error
	lastChecked time.Time
}

// NewHealthMonitor builds a monitor for store. Call Start to begin polling.
func NewHealthMonitor(store *Store) *HealthMonitor {
	return &HealthMonitor{
		store:    store,
		interval: healthPingInterval,
		state:    HealthUnknown,
	}
}

// Start launches the background PING-on-timer job.
func (h *HealthMonitor) Start() {
	h.cron = cron.New()
	spec := "@every " + h.interval.String()
	_, _ = h.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.check(ctx)
	})
	h.cron.Start()
}

// Stop halts the background polling job.
func (h *HealthMonitor) Stop() {
	if h.cron != nil {
		h.cron.Stop()
	}
}

// check runs one PING, records its latency (or the failure), and
// recomputes the aggregate health state. Exported as CheckNow for callers
// that want an immediate on-demand probe (e.g. a readiness handler) rather
// than waiting for the next timer tick.
func (h *HealthMonitor) check(ctx context.Context) {
	start := time.Now()
	err := h.store.Ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastChecked = time.Now()
	h.lastErr = err

	if err != nil {
		h.state = HealthUnhealthy
		return
	}

	h.latencies = append(h.latencies, latency)
	if len(h.latencies) > healthWindowSize {
		h.latencies = h.latencies[len(h.latencies)-healthWindowSize:]
	}

	p99 := percentile(h.latencies, 0.99)
	switch {
	case p99 > healthDegradedAfter*3:
		h.state = HealthUnhealthy
	case p99 > healthDegradedAfter:
		h.state = HealthDegraded
	default:
		h.state = HealthHealthy
	}
}

// CheckNow runs an immediate probe and returns the resulting snapshot,
// bypassing the timer cadence.
func (h *HealthMonitor) CheckNow(ctx context.Context) HealthSnapshot {
	h.check(ctx)
	return h.Snapshot()
}

// HealthSnapshot is the point-in-time health view exposed to callers.
type HealthSnapshot struct {
	State       HealthState
	LastChecked time.Time
	LastError   error
	P50         time.Duration
	P95         time.Duration
	P99         time.Duration
	SampleCount int
}

// Snapshot returns the monitor's current state without triggering a probe.
func (h *HealthMonitor) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		State:       h.state,
		LastChecked: h.lastChecked,
		LastError:   h.lastErr,
		P50:         percentile(h.latencies, 0.50),
		P95:         percentile(h.latencies, 0.95),
		P99:         percentile(h.latencies, 0.99),
		SampleCount: len(h.latencies),
	}
}

// percentile returns the p-th percentile (0..1) of samples via a sorted
// copy — deliberately not mutating samples, and not pulling in a stats
// library for a 100-element rolling window.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
