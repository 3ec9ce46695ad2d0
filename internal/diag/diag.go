// Package diag provides an optional, caller-started diagnostic sampler:
// memory/goroutine pressure plus broker progress, logged through
// internal/logger rather than printed directly. It never participates in
// scheduling decisions; a caller who never starts it loses nothing.
package diag

import (
	"context"
	"runtime"
	"time"

	"github.com/fastrm/fastrm/internal/broker"
	"github.com/fastrm/fastrm/internal/logger"
)

// memoryWarnBytes is the heap-allocation watermark above which a sample
// logs a warning instead of a debug line.
const memoryWarnBytes = 1 << 30 // 1 GiB

// Monitor periodically samples runtime and broker state.
type Monitor struct {
	interval time.Duration
	broker   *broker.Broker
}

// New returns a Monitor that samples every interval. broker may be nil if
// only runtime pressure should be tracked.
func New(interval time.Duration, br *broker.Broker) *Monitor {
	return &Monitor{interval: interval, broker: br}
}

// Run samples on every tick until ctx is done. Intended to be started in
// its own goroutine by the caller layer, which is also responsible for
// cancelling ctx once the deletion completes.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	if stats.Alloc > memoryWarnBytes {
		logger.Warning("diag: heap allocation at %d MiB, exceeding watch threshold", stats.Alloc/(1<<20))
	} else {
		logger.Debug("diag: goroutines=%d heap_mib=%d", runtime.NumGoroutine(), stats.Alloc/(1<<20))
	}

	if m.broker != nil {
		logger.Debug("diag: progress %d/%d directories", m.broker.CompletedCount(), m.broker.TotalDirs())
	}
}
