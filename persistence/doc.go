// Package persistence stores actor state as self-describing frames in a
// blobstore.BlobStore.
//
// A frame is a small binary header followed by the encoded, optionally
// compressed, payload:
//
//	magic "AIX1" | version u16 | compression u8 | codec-name-len u8 |
//	codec name | raw-len u32 | payload-len u32 | crc32c u32 | payload
//
// Writes retry a bounded number of times with a fixed delay (RetryPolicy)
// and then fail with a *PersistenceError. Committer amortizes writes of one
// actor: concurrent commit requests arriving while a write is in flight are
// merged into the next write.
package persistence
