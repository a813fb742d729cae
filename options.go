package actoridx

import (
	"log/slog"
	"time"

	"github.com/hupe1980/actoridx/codec"
	"github.com/hupe1980/actoridx/persistence"
	"github.com/hupe1980/actoridx/resource"
)

const (
	defaultNodeID      = "node-0"
	defaultQueueShards = 4
)

type options struct {
	codec            codec.Codec
	compression      persistence.Compression
	metricsCollector MetricsCollector
	logger           *Logger
	nodeID           string
	queueShards      int
	retry            persistence.RetryPolicy
	resources        resource.Config
	fetchConcurrency int
}

// Option configures Open.
type Option func(*options)

// WithCodec configures the codec used to encode entity, bucket and queue
// state. Existing state decodes with the codec it was written with.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression configures the compression of persisted state.
//
// Small frames are stored uncompressed regardless of this setting.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// writes, queue passes, lookups and recoveries.
//
// Example:
//
//	collector := &actoridx.BasicMetricsCollector{}
//	sys, _ := actoridx.Open(ctx, store, actoridx.WithMetricsCollector(collector))
//	stats := collector.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
//
// If nil is passed, logging is disabled (NoopLogger).
//
// Example:
//
//	logger := actoridx.NewJSONLogger(slog.LevelInfo)
//	sys, _ := actoridx.Open(ctx, store, actoridx.WithLogger(logger))
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithLogLevel installs a text logger to stderr at level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithNodeID names the node that receives the first activations.
//
// Default: "node-0".
func WithNodeID(node string) Option {
	return func(o *options) {
		if node != "" {
			o.nodeID = node
		}
	}
}

// WithQueueShards sets the number of workflow queues per interface and
// node. Entities are spread over the shards by the hash of their reference.
//
// Changing the shard count of an existing system only affects where new
// records go: fault-tolerant entities migrate their pending records on
// activation.
//
// Default: 4.
func WithQueueShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueShards = n
		}
	}
}

// WithRetryPolicy bounds the retries of state reads and writes. A write
// that exhausts them fails with a *PersistenceError.
func WithRetryPolicy(p persistence.RetryPolicy) Option {
	return func(o *options) {
		o.retry = p
	}
}

// WithResources limits the background work of the system: concurrent queue
// passes, concurrent state writes and write throughput.
//
// Example:
//
//	actoridx.WithResources(resource.Config{
//	    MaxConcurrentDrains: 8,
//	    WriteBytesPerSec:    64 << 20,
//	})
func WithResources(cfg resource.Config) Option {
	return func(o *options) {
		interval := o.resources.RetryInterval
		o.resources = cfg
		if cfg.RetryInterval <= 0 {
			o.resources.RetryInterval = interval
		}
	}
}

// WithPassRetryInterval sets the minimum spacing between retried queue
// passes across the system.
//
// Default: 50ms.
func WithPassRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.resources.RetryInterval = d
	}
}

// WithFetchConcurrency bounds how many active-workflow requests a
// fault-tolerant queue pass sends at once. Zero means unlimited.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		o.fetchConcurrency = n
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		codec:            codec.Default,
		compression:      persistence.CompressionNone,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		nodeID:           defaultNodeID,
		queueShards:      defaultQueueShards,
		retry:            persistence.DefaultRetryPolicy,
		resources:        resource.DefaultConfig(),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	return o
}
