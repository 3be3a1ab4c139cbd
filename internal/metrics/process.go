package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSnapshot is a point-in-time resource reading for the running
// process, published both as Prometheus gauges (RecordProcessSnapshot) and
// returned directly for a health-check JSON body.
type ProcessSnapshot struct {
	CPUPercent float64
	RSSBytes   uint64
	Goroutines int
	OpenFDs    int32
}

// CollectProcessSnapshot samples the current process's CPU/memory/goroutine
// usage via gopsutil, grounded on the same "process resource gauge" concern
// the teacher exposes through collectors.NewProcessCollector, but at a
// finer grain (RSS + a point CPU percent reading) than the Prometheus
// built-in process collector provides on its own.
func CollectProcessSnapshot(ctx context.Context) (ProcessSnapshot, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return ProcessSnapshot{}, err
	}

	cpuPct, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPct = 0
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	var rss uint64
	if err == nil && memInfo != nil {
		rss = memInfo.RSS
	}
	fds, err := proc.NumFDsWithContext(ctx)
	if err != nil {
		fds = 0
	}

	return ProcessSnapshot{
		CPUPercent: cpuPct,
		RSSBytes:   rss,
		Goroutines: runtime.NumGoroutine(),
		OpenFDs:    fds,
	}, nil
}

// RecordProcessSnapshot samples and publishes the process gauges in one call.
func RecordProcessSnapshot(ctx context.Context) error {
	snap, err := CollectProcessSnapshot(ctx)
	if err != nil {
		return err
	}
	processResources.WithLabelValues("cpu_percent").Set(snap.CPUPercent)
	processResources.WithLabelValues("rss_bytes").Set(float64(snap.RSSBytes))
	processResources.WithLabelValues("goroutines").Set(float64(snap.Goroutines))
	processResources.WithLabelValues("open_fds").Set(float64(snap.OpenFDs))
	return nil
}
