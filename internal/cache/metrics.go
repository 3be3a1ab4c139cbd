package cache

import (
	"sync"
	"time"
)

// Metrics is the process-wide, mutex-guarded counter set spec.md §4.3
// describes for the cache engine: hits, misses, sets, invalidations,
// errors, and a reserved compressions counter for large-payload
// compression (not yet implemented, carried as a named placeholder so a
// future compressing codec has somewhere to report to), plus cumulative
// get/set latency for deriving averages.
type Metrics struct {
	mu sync.Mutex

	hits          int64
	misses        int64
	sets          int64
	invalidations int64
	errors        int64
	compressions  int64

	totalGetTime time.Duration
	totalSetTime time.Duration
	getCount     int64
	setCount     int64
}

func (m *Metrics) recordHit()          { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *Metrics) recordMiss()         { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *Metrics) recordSet()          { m.mu.Lock(); m.sets++; m.mu.Unlock() }
func (m *Metrics) recordInvalidation() { m.mu.Lock(); m.invalidations++; m.mu.Unlock() }
func (m *Metrics) recordError()        { m.mu.Lock(); m.errors++; m.mu.Unlock() }

func (m *Metrics) recordGetLatency(d time.Duration) {
	m.mu.Lock()
	m.totalGetTime += d
	m.getCount++
	m.mu.Unlock()
}

func (m *Metrics) recordSetLatency(d time.Duration) {
	m.mu.Lock()
	m.totalSetTime += d
	m.setCount++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of Metrics with derived values computed.
type Snapshot struct {
	Hits           int64
	Misses         int64
	Sets           int64
	Invalidations  int64
	Errors         int64
	Compressions   int64
	HitRate        float64
	AvgGetLatency  time.Duration
	AvgSetLatency  time.Duration
}

// Snapshot returns a consistent copy of the current counters with hit rate
// and average latencies computed on demand.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.hits + m.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(m.hits) / float64(total)
	}

	var avgGet, avgSet time.Duration
	if m.getCount > 0 {
		avgGet = m.totalGetTime / time.Duration(m.getCount)
	}
	if m.setCount > 0 {
		avgSet = m.totalSetTime / time.Duration(m.setCount)
	}

	return Snapshot{
		Hits:          m.hits,
		Misses:        m.misses,
		Sets:          m.sets,
		Invalidations: m.invalidations,
		Errors:        m.errors,
		Compressions:  m.compressions,
		HitRate:       hitRate,
		AvgGetLatency: avgGet,
		AvgSetLatency: avgSet,
	}
}

// Healthy reports spec.md §4.3's health predicate: errors below maxErrors
// and hit rate at or above minHitRate. A zero total-ops snapshot (no
// traffic yet) is considered healthy regardless of minHitRate.
func (s Snapshot) Healthy(maxErrors int64, minHitRate float64) bool {
	if s.Errors >= maxErrors {
		return false
	}
	if s.Hits+s.Misses == 0 {
		return true
	}
	return s.HitRate >= minHitRate
}
