package audit

import (
	"sync/atomic"
	"time"
)

// Metrics mirrors AuditMetrics: counters plus cumulative timing used to
// compute an average log time, tracked with atomics instead of a dataclass
// under a lock.
type Metrics struct {
	eventsEmitted      atomic.Int64
	batchEventsEmitted atomic.Int64
	batchSkipped       atomic.Int64
	validationErrors   atomic.Int64
	publishErrors      atomic.Int64
	totalLogTimeNanos  atomic.Int64
}

func (m *Metrics) recordLogTime(d time.Duration) {
	m.totalLogTimeNanos.Add(d.Nanoseconds())
}

// Snapshot mirrors AuditMetrics.as_dict()'s derived fields.
type Snapshot struct {
	TotalEvents      int64
	BatchEvents      int64
	BatchSkipped     int64
	ValidationErrors int64
	PublishErrors    int64
	ErrorRatePercent float64
	AvgLogTimeMs     float64
}

// Snapshot computes the point-in-time metrics view.
func (l *Logger) Snapshot() Snapshot {
	emitted := l.metrics.eventsEmitted.Load()
	batch := l.metrics.batchEventsEmitted.Load()
	valErrs := l.metrics.validationErrors.Load()
	pubErrs := l.metrics.publishErrors.Load()
	total := emitted + batch

	var errRate float64
	attempted := total + valErrs
	if attempted > 0 {
		errRate = float64(valErrs+pubErrs) / float64(attempted) * 100
	}

	var avgMs float64
	if total > 0 {
		avgMs = float64(l.metrics.totalLogTimeNanos.Load()) / float64(total) / 1e6
	}

	return Snapshot{
		TotalEvents:      total,
		BatchEvents:      batch,
		BatchSkipped:     l.metrics.batchSkipped.Load(),
		ValidationErrors: valErrs,
		PublishErrors:    pubErrs,
		ErrorRatePercent: errRate,
		AvgLogTimeMs:     avgMs,
	}
}
