// Package workflow implements the durable per-shard queues that relay lazy
// index updates, and the handler that drains them into the buckets.
//
// A queue is persisted before Enqueue returns. Its drain loop hands the
// handler a chain of records ending in a punctuation node; records
// appended during a pass wait for the next one. A pass that fails is
// retried until it succeeds.
package workflow
