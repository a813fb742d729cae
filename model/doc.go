// Package model defines the core types shared by the index engine.
//
// # Identity Types
//
//   - EntityRef: stable, resolvable reference to an indexed entity
//   - Key: type-tagged encoding of an indexed value (NullKey marks "no value")
//   - WorkflowRecord: a durably queued set of index updates for one entity
//
// # Update Types
//
//   - MemberUpdate: {Operation, Before, After} for one index
//   - IndexUpdate: a MemberUpdate as applied to a bucket, tagged with its
//     Wrapper (Plain, Tentative, ReverseTentative, Overridden)
//
// Error types shared by every layer live in errors.go and are re-exported
// by the actoridx package.
package model
