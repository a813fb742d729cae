package model

// IndexMetaData is the immutable configuration of one index.
type IndexMetaData struct {
	// Name identifies the index within its interface.
	Name string `json:"name"`

	// Unique enforces at most one visible entity per key.
	Unique bool `json:"unique"`

	// Eager applies updates synchronously with the entity write. Lazy
	// indexes are updated through the workflow queues.
	Eager bool `json:"eager"`

	// ActiveOnly scopes the index to currently active entities: entries are
	// inserted on activation and removed on deactivation.
	ActiveOnly bool `json:"active_only"`

	// MaxEntriesPerBucket bounds the distinct keys per bucket instance.
	// Zero means unbounded (no chaining).
	MaxEntriesPerBucket int `json:"max_entries_per_bucket"`

	// Partitions is the number of key-hash partitions (minimum 1).
	Partitions int `json:"partitions"`
}

// Chained reports whether buckets overflow into successor buckets.
func (m IndexMetaData) Chained() bool {
	return m.MaxEntriesPerBucket > 0
}

// AtCapacity reports whether a bucket holding n distinct keys is full.
func (m IndexMetaData) AtCapacity(n int) bool {
	return m.MaxEntriesPerBucket > 0 && n >= m.MaxEntriesPerBucket
}

// PartitionCount returns Partitions, normalized to at least one.
func (m IndexMetaData) PartitionCount() int {
	if m.Partitions < 1 {
		return 1
	}
	return m.Partitions
}
