package actoridx

import "github.com/hupe1980/actoridx/metrics"

// MetricsCollector receives operational metrics. See package metrics for
// the recorded events and metrics/promcollector for a Prometheus backend.
type MetricsCollector = metrics.Collector

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector = metrics.Noop

// BasicMetricsCollector keeps in-memory counters.
//
// Example:
//
//	m := &actoridx.BasicMetricsCollector{}
//	sys, _ := actoridx.Open(ctx, blobstore.NewMemoryStore(), actoridx.WithMetricsCollector(m))
//	// ... use sys ...
//	stats := m.GetStats()
//	fmt.Printf("Writes: %d, Passes: %d\n", stats.WriteCount, stats.PassCount)
type BasicMetricsCollector = metrics.Basic

// MetricsStats is a snapshot of a BasicMetricsCollector.
type MetricsStats = metrics.Stats
