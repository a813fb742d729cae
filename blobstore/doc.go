// Package blobstore provides the storage abstraction behind persisted actor
// state (entities, index buckets and workflow queues).
//
// Blobs are small, written whole with Put and read back with Open or
// ReadAll. Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral systems
//   - LocalStore: one file per blob, written via temp file + rename
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible servers
//   - dynamodb.Store: one DynamoDB item per blob
//   - bolt.Store: a single bbolt database file
//   - sqlite.Store: a single SQLite database file
//
// # Custom Implementations
//
// Implement the BlobStore interface to support other backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Open must return an error satisfying errors.Is(err, ErrNotFound) for
// missing blobs, and Delete of a missing blob must succeed.
package blobstore
