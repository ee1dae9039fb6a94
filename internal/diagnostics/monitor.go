// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package diagnostics samples host health so the observability API can
// report more than protocol state. It never gates connection behavior.
package diagnostics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats is a snapshot of host CPU/memory usage.
type HostStats struct {
	CPUPercent    float64
	MemoryPercent float64
	SampledAt     time.Time
}

// Monitor samples HostStats on a ticker, starting with an immediate sample.
type Monitor struct {
	logger *slog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats HostStats
}

// NewMonitor creates a monitor that samples every interval once started.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With("component", "diagnostics"),
		stop:   make(chan struct{}),
	}
}

// Start begins periodic sampling at the given interval.
func (m *Monitor) Start(interval time.Duration) {
	m.wg.Add(1)
	go m.run(interval)
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.collect()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	stats := HostStats{SampledAt: time.Now()}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to sample cpu", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to sample memory", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
