package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStats is the health of the server process itself.
type ProcessStats struct {
	PID           int32     `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float32   `json:"memory_percent"`
	RSSMb         uint64    `json:"rss_mb"`
	Threads       int32     `json:"threads"`
	Goroutines    int       `json:"goroutines"`
	AllocMemMb    uint64    `json:"alloc_mem_mb"`
	NumGC         uint32    `json:"num_gc"`
	SampledAt     time.Time `json:"sampled_at"`
}

// MonitoringManager samples the process at a fixed interval.
// It runs as a supervised worker and the admin surface reads the last sample.
type MonitoringManager struct {
	log      *slog.Logger
	interval time.Duration
	proc     *process.Process

	mu     sync.RWMutex
	latest ProcessStats
}

func NewMonitoringManager(log *slog.Logger, interval time.Duration) (*MonitoringManager, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	mm := &MonitoringManager{log: log, interval: interval, proc: proc}
	mm.updateStats()
	return mm, nil
}

func (mm *MonitoringManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			mm.log.Debug("Monitoring manager stopped")
			return nil
		case <-ticker.C:
			mm.updateStats()
		}
	}
}

func (mm *MonitoringManager) updateStats() {
	stats := ProcessStats{
		PID:        mm.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now().UTC(),
	}
	// gopsutil may not support every metric on every platform, a missing one stays zero
	if cpu, err := mm.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if ram, err := mm.proc.MemoryPercent(); err == nil {
		stats.MemoryPercent = ram
	}
	if info, err := mm.proc.MemoryInfo(); err == nil && info != nil {
		stats.RSSMb = info.RSS / 1024 / 1024
	}
	if threads, err := mm.proc.NumThreads(); err == nil {
		stats.Threads = threads
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	stats.AllocMemMb = m.Alloc / 1024 / 1024
	stats.NumGC = m.NumGC

	mm.mu.Lock()
	mm.latest = stats
	mm.mu.Unlock()

	mm.log.Debug("Process stats updated",
		"cpu", stats.CPUPercent, "mem_mb", stats.AllocMemMb, "goroutines", stats.Goroutines)
}

func (mm *MonitoringManager) GetLatest() ProcessStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latest
}
