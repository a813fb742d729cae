// Package promcollector implements metrics.Collector with Prometheus
// counters and histograms.
package promcollector

import (
	"time"

	"github.com/hupe1980/actoridx/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "actoridx"

// Collector exports engine metrics to Prometheus.
type Collector struct {
	writeLatency  *prometheus.HistogramVec
	eagerUpdates  *prometheus.CounterVec
	enqueued      *prometheus.CounterVec
	passLatency   *prometheus.HistogramVec
	passRecords   *prometheus.CounterVec
	undone        *prometheus.CounterVec
	chainGrowths  *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	migrated      *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
}

var _ metrics.Collector = (*Collector)(nil)

// New creates a Collector and registers it with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "write_duration_seconds",
			Help:      "Latency of indexed entity writes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "status"}),
		eagerUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "eager_updates_total",
			Help:      "Index updates applied synchronously with a write",
		}, []string{"index", "mode", "status"}),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "enqueued_records_total",
			Help:      "Workflow records appended to queues",
		}, []string{"status"}),
		passLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "pass_duration_seconds",
			Help:      "Latency of queue handler passes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		passRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "processed_records_total",
			Help:      "Workflow records processed by handler passes",
		}, []string{"status"}),
		undone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "undone_updates_total",
			Help:      "Updates of abandoned workflows reversed by the handler",
		}, []string{"index"}),
		chainGrowths: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bucket",
			Name:      "chain_growths_total",
			Help:      "Successor buckets created on overflow",
		}, []string{"index"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "recoveries_total",
			Help:      "Active-workflow reconciliations on activation",
		}, []string{"type", "status"}),
		migrated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entity",
			Name:      "migrated_records_total",
			Help:      "Pending workflow records moved to a new queue during recovery",
		}, []string{"type"}),
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "lookup_duration_seconds",
			Help:      "Latency of index lookups",
			Buckets:   prometheus.DefBuckets,
		}, []string{"index", "status"}),
	}

	reg.MustRegister(
		c.writeLatency,
		c.eagerUpdates,
		c.enqueued,
		c.passLatency,
		c.passRecords,
		c.undone,
		c.chainGrowths,
		c.recoveries,
		c.migrated,
		c.lookupLatency,
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWrite implements metrics.Collector.
func (c *Collector) RecordWrite(entityType string, d time.Duration, err error) {
	c.writeLatency.WithLabelValues(entityType, status(err)).Observe(d.Seconds())
}

// RecordEagerApply implements metrics.Collector.
func (c *Collector) RecordEagerApply(index string, updates int, tentative bool, err error) {
	mode := "final"
	if tentative {
		mode = "tentative"
	}
	c.eagerUpdates.WithLabelValues(index, mode, status(err)).Add(float64(updates))
}

// RecordEnqueue implements metrics.Collector. Queue IDs are not used as
// labels; there is one queue per interface, shard and node.
func (c *Collector) RecordEnqueue(_ string, records int, err error) {
	c.enqueued.WithLabelValues(status(err)).Add(float64(records))
}

// RecordPass implements metrics.Collector.
func (c *Collector) RecordPass(_ string, records int, d time.Duration, err error) {
	s := status(err)
	c.passLatency.WithLabelValues(s).Observe(d.Seconds())
	c.passRecords.WithLabelValues(s).Add(float64(records))
}

// RecordUndo implements metrics.Collector.
func (c *Collector) RecordUndo(index string, updates int) {
	c.undone.WithLabelValues(index).Add(float64(updates))
}

// RecordChainGrow implements metrics.Collector.
func (c *Collector) RecordChainGrow(index string) {
	c.chainGrowths.WithLabelValues(index).Inc()
}

// RecordRecovery implements metrics.Collector.
func (c *Collector) RecordRecovery(entityType string, migrated int, err error) {
	c.recoveries.WithLabelValues(entityType, status(err)).Inc()
	c.migrated.WithLabelValues(entityType).Add(float64(migrated))
}

// RecordLookup implements metrics.Collector.
func (c *Collector) RecordLookup(index string, d time.Duration, err error) {
	c.lookupLatency.WithLabelValues(index, status(err)).Observe(d.Seconds())
}
