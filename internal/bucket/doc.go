// Package bucket implements the hash index bucket store.
//
// An index is split into partitions by key hash. Each partition is a chain
// of buckets: when a bucket reaches MaxEntriesPerBucket distinct keys, new
// keys go to a successor bucket at address "<id>/next". A key lives in
// exactly one bucket of its chain.
//
// Unique indexes never hold two entities under one key. Multi-step writes
// mark entries tentative; readers do not see tentative entries. Every
// update, and its reverse, is idempotent under redelivery.
package bucket
