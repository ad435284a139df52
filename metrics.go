package vmgc

import (
	"sync/atomic"
	"time"
)

// CollectionInfo describes a finished collection cycle.
type CollectionInfo struct {
	Cycle     uint64
	FullHeap  bool
	User      bool
	Emergency bool
	// Pause is the time from stopping to resuming the mutators.
	Pause               time.Duration
	ReservedPagesBefore int
	ReservedPagesAfter  int
	// Packets is the number of work packets the cycle executed.
	Packets uint64
}

// MetricsCollector defines an interface for collecting collector metrics.
// Implement this interface to integrate with monitoring systems like Prometheus
// (see examples/observability).
//
// Methods are called with the mutators stopped or on a mutator's own
// goroutine and must not block.
type MetricsCollector interface {
	// RecordCollection is called after each cycle, before the mutators
	// resume.
	RecordCollection(info CollectionInfo)

	// RecordAllocSlowPath is called when an allocation blocked for a
	// collection. wait is the time the mutator was parked.
	RecordAllocSlowPath(wait time.Duration, emergency bool)

	// RecordOutOfMemory is called when an allocation of requested bytes
	// fails.
	RecordOutOfMemory(requested int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordCollection(CollectionInfo)         {}
func (NoopMetricsCollector) RecordAllocSlowPath(time.Duration, bool) {}
func (NoopMetricsCollector) RecordOutOfMemory(int)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	Collections          atomic.Int64
	FullHeapCollections  atomic.Int64
	UserCollections      atomic.Int64
	EmergencyCollections atomic.Int64
	PauseTotalNanos      atomic.Int64
	PauseMaxNanos        atomic.Int64
	PagesFreed           atomic.Int64
	SlowPaths            atomic.Int64
	SlowPathNanos        atomic.Int64
	OutOfMemory          atomic.Int64
}

// RecordCollection implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCollection(info CollectionInfo) {
	b.Collections.Add(1)
	if info.FullHeap {
		b.FullHeapCollections.Add(1)
	}
	if info.User {
		b.UserCollections.Add(1)
	}
	if info.Emergency {
		b.EmergencyCollections.Add(1)
	}
	pause := info.Pause.Nanoseconds()
	b.PauseTotalNanos.Add(pause)
	for {
		cur := b.PauseMaxNanos.Load()
		if pause <= cur || b.PauseMaxNanos.CompareAndSwap(cur, pause) {
			break
		}
	}
	if freed := info.ReservedPagesBefore - info.ReservedPagesAfter; freed > 0 {
		b.PagesFreed.Add(int64(freed))
	}
}

// RecordAllocSlowPath implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocSlowPath(wait time.Duration, _ bool) {
	b.SlowPaths.Add(1)
	b.SlowPathNanos.Add(wait.Nanoseconds())
}

// RecordOutOfMemory implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOutOfMemory(int) {
	b.OutOfMemory.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		Collections:          b.Collections.Load(),
		FullHeapCollections:  b.FullHeapCollections.Load(),
		UserCollections:      b.UserCollections.Load(),
		EmergencyCollections: b.EmergencyCollections.Load(),
		AvgPauseNanos:        avg(b.PauseTotalNanos.Load(), b.Collections.Load()),
		MaxPauseNanos:        b.PauseMaxNanos.Load(),
		PagesFreed:           b.PagesFreed.Load(),
		SlowPaths:            b.SlowPaths.Load(),
		AvgSlowPathNanos:     avg(b.SlowPathNanos.Load(), b.SlowPaths.Load()),
		OutOfMemory:          b.OutOfMemory.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Collections          int64
	FullHeapCollections  int64
	UserCollections      int64
	EmergencyCollections int64
	AvgPauseNanos        int64
	MaxPauseNanos        int64
	PagesFreed           int64
	SlowPaths            int64
	AvgSlowPathNanos     int64
	OutOfMemory          int64
}
