// Package metrics defines the operational metrics hooks of the indexing
// engine.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; see
// package promcollector for a Prometheus implementation.
type Collector interface {
	// RecordWrite is called after each indexed entity write.
	RecordWrite(entityType string, duration time.Duration, err error)

	// RecordEagerApply is called after an index batch applied synchronously
	// with a write. tentative reports whether the batch was tentative.
	RecordEagerApply(index string, updates int, tentative bool, err error)

	// RecordEnqueue is called after workflow records were appended to a queue.
	RecordEnqueue(queue string, records int, err error)

	// RecordPass is called after each queue handler pass.
	RecordPass(queue string, records int, duration time.Duration, err error)

	// RecordUndo is called when a handler pass reverses the updates of
	// abandoned workflows.
	RecordUndo(index string, updates int)

	// RecordChainGrow is called when a new successor bucket is created.
	RecordChainGrow(index string)

	// RecordRecovery is called after an entity reconciled its active
	// workflows on activation.
	RecordRecovery(entityType string, migrated int, err error)

	// RecordLookup is called after each index lookup.
	RecordLookup(index string, duration time.Duration, err error)
}

// Noop is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type Noop struct{}

func (Noop) RecordWrite(string, time.Duration, error)     {}
func (Noop) RecordEagerApply(string, int, bool, error)    {}
func (Noop) RecordEnqueue(string, int, error)             {}
func (Noop) RecordPass(string, int, time.Duration, error) {}
func (Noop) RecordUndo(string, int)                       {}
func (Noop) RecordChainGrow(string)                       {}
func (Noop) RecordRecovery(string, int, error)            {}
func (Noop) RecordLookup(string, time.Duration, error)    {}

// Basic provides simple in-memory metrics collection.
// Useful for tests and basic monitoring without external dependencies.
type Basic struct {
	WriteCount       atomic.Int64
	WriteErrors      atomic.Int64
	WriteTotalNanos  atomic.Int64
	EagerBatches     atomic.Int64
	EagerUpdates     atomic.Int64
	TentativeBatches atomic.Int64
	EagerErrors      atomic.Int64
	EnqueuedRecords  atomic.Int64
	EnqueueErrors    atomic.Int64
	PassCount        atomic.Int64
	PassRecords      atomic.Int64
	PassErrors       atomic.Int64
	UndoneUpdates    atomic.Int64
	ChainGrowths     atomic.Int64
	Recoveries       atomic.Int64
	MigratedRecords  atomic.Int64
	RecoveryErrors   atomic.Int64
	LookupCount      atomic.Int64
	LookupErrors     atomic.Int64
	LookupTotalNanos atomic.Int64
}

// RecordWrite implements Collector.
func (b *Basic) RecordWrite(_ string, duration time.Duration, err error) {
	b.WriteCount.Add(1)
	b.WriteTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordEagerApply implements Collector.
func (b *Basic) RecordEagerApply(_ string, updates int, tentative bool, err error) {
	b.EagerBatches.Add(1)
	b.EagerUpdates.Add(int64(updates))
	if tentative {
		b.TentativeBatches.Add(1)
	}
	if err != nil {
		b.EagerErrors.Add(1)
	}
}

// RecordEnqueue implements Collector.
func (b *Basic) RecordEnqueue(_ string, records int, err error) {
	if err != nil {
		b.EnqueueErrors.Add(1)
		return
	}
	b.EnqueuedRecords.Add(int64(records))
}

// RecordPass implements Collector.
func (b *Basic) RecordPass(_ string, records int, _ time.Duration, err error) {
	b.PassCount.Add(1)
	if err != nil {
		b.PassErrors.Add(1)
		return
	}
	b.PassRecords.Add(int64(records))
}

// RecordUndo implements Collector.
func (b *Basic) RecordUndo(_ string, updates int) {
	b.UndoneUpdates.Add(int64(updates))
}

// RecordChainGrow implements Collector.
func (b *Basic) RecordChainGrow(string) {
	b.ChainGrowths.Add(1)
}

// RecordRecovery implements Collector.
func (b *Basic) RecordRecovery(_ string, migrated int, err error) {
	b.Recoveries.Add(1)
	b.MigratedRecords.Add(int64(migrated))
	if err != nil {
		b.RecoveryErrors.Add(1)
	}
}

// RecordLookup implements Collector.
func (b *Basic) RecordLookup(_ string, duration time.Duration, err error) {
	b.LookupCount.Add(1)
	b.LookupTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LookupErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *Basic) GetStats() Stats {
	return Stats{
		WriteCount:       b.WriteCount.Load(),
		WriteErrors:      b.WriteErrors.Load(),
		WriteAvgNanos:    avg(b.WriteTotalNanos.Load(), b.WriteCount.Load()),
		EagerBatches:     b.EagerBatches.Load(),
		EagerUpdates:     b.EagerUpdates.Load(),
		TentativeBatches: b.TentativeBatches.Load(),
		EagerErrors:      b.EagerErrors.Load(),
		EnqueuedRecords:  b.EnqueuedRecords.Load(),
		EnqueueErrors:    b.EnqueueErrors.Load(),
		PassCount:        b.PassCount.Load(),
		PassRecords:      b.PassRecords.Load(),
		PassErrors:       b.PassErrors.Load(),
		UndoneUpdates:    b.UndoneUpdates.Load(),
		ChainGrowths:     b.ChainGrowths.Load(),
		Recoveries:       b.Recoveries.Load(),
		MigratedRecords:  b.MigratedRecords.Load(),
		RecoveryErrors:   b.RecoveryErrors.Load(),
		LookupCount:      b.LookupCount.Load(),
		LookupErrors:     b.LookupErrors.Load(),
		LookupAvgNanos:   avg(b.LookupTotalNanos.Load(), b.LookupCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// Stats is a snapshot of Basic state.
type Stats struct {
	WriteCount       int64
	WriteErrors      int64
	WriteAvgNanos    int64
	EagerBatches     int64
	EagerUpdates     int64
	TentativeBatches int64
	EagerErrors      int64
	EnqueuedRecords  int64
	EnqueueErrors    int64
	PassCount        int64
	PassRecords      int64
	PassErrors       int64
	UndoneUpdates    int64
	ChainGrowths     int64
	Recoveries       int64
	MigratedRecords  int64
	RecoveryErrors   int64
	LookupCount      int64
	LookupErrors     int64
	LookupAvgNanos   int64
}
