package dynamicconfig

import "sync/atomic"

// Metrics tracks the same counters the original's
// ConfigManager.get_metrics()/reset_metrics() expose, atomics instead of a
// GIL-protected dict since this runs under concurrent goroutines.
type Metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	fallbacks atomic.Int64
	sets      atomic.Int64
	refreshes atomic.Int64
	errors    atomic.Int64
}

func (m *Metrics) recordHit()      { m.hits.Add(1) }
func (m *Metrics) recordMiss()     { m.misses.Add(1) }
func (m *Metrics) recordFallback() { m.fallbacks.Add(1) }
func (m *Metrics) recordSet()      { m.sets.Add(1) }
func (m *Metrics) recordRefresh()  { m.refreshes.Add(1) }
func (m *Metrics) recordError()    { m.errors.Add(1) }

// MetricsSnapshot is the point-in-time read of Metrics' counters.
type MetricsSnapshot struct {
	Gets         int64
	CacheHits    int64
	CacheMisses  int64
	Fallbacks    int64
	Sets         int64
	Refreshes    int64
	Errors       int64
	CacheHitRate float64
}

// MetricsSnapshot computes the hit-rate-enriched view get_metrics() returns.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	hits := m.metrics.hits.Load()
	misses := m.metrics.misses.Load()
	gets := hits + misses + m.metrics.fallbacks.Load()

	var hitRate float64
	if gets > 0 {
		hitRate = float64(hits) / float64(gets) * 100
	}

	return MetricsSnapshot{
		Gets:         gets,
		CacheHits:    hits,
		CacheMisses:  misses,
		Fallbacks:    m.metrics.fallbacks.Load(),
		Sets:         m.metrics.sets.Load(),
		Refreshes:    m.metrics.refreshes.Load(),
		Errors:       m.metrics.errors.Load(),
		CacheHitRate: hitRate,
	}
}
