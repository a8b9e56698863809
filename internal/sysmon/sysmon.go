// Package sysmon provides system-wide CPU and memory usage sampling, plus a
// memory-pressure monitor that purges the in-memory image cache when usage
// crosses a threshold.
package sysmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/agbru/imgloader/internal/logging"
)

// Stats holds a single snapshot of system-wide resource usage.
type Stats struct {
	CPUPercent float64 // 0.0 .. 100.0
	MemPercent float64 // 0.0 .. 100.0
}

// Sample collects a single system-wide CPU and memory snapshot.
// CPU uses interval=0 (delta since last call). Returns zero values on error.
func Sample() Stats {
	var s Stats
	cpuPcts, err := cpu.Percent(0, false)
	if err == nil && len(cpuPcts) > 0 {
		s.CPUPercent = cpuPcts[0]
	}
	vmem, err := mem.VirtualMemory()
	if err == nil && vmem != nil {
		s.MemPercent = vmem.UsedPercent
	}
	return s
}

// DefaultPressureThreshold is the used-memory percentage above which the
// monitor fires its purge callback.
const DefaultPressureThreshold = 85.0

// Monitor polls system memory usage and invokes a purge callback whenever
// usage is at or above the threshold. Consecutive over-threshold samples
// fire only once until usage drops below the threshold again.
type Monitor struct {
	interval  time.Duration
	threshold float64
	onPurge   func()
	logger    logging.Logger
	sample    func() Stats
}

// NewMonitor creates a monitor that samples every interval and calls onPurge
// under pressure. A non-positive threshold selects the default.
func NewMonitor(interval time.Duration, threshold float64, onPurge func(), logger logging.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultPressureThreshold
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Monitor{
		interval:  interval,
		threshold: threshold,
		onPurge:   onPurge,
		logger:    logger,
		sample:    Sample,
	}
}

// Run polls until ctx is cancelled. It is meant to be called in its own
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	over := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.sample()
			if s.MemPercent >= m.threshold {
				if !over {
					over = true
					m.logger.Warn("memory pressure, purging image cache",
						logging.Float64("mem_percent", s.MemPercent),
						logging.Float64("threshold", m.threshold))
					if m.onPurge != nil {
						m.onPurge()
					}
				}
				continue
			}
			over = false
		}
	}
}
