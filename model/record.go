package model

import (
	"sort"

	"github.com/google/uuid"
)

// WorkflowRecord is one durably queued batch of index updates produced by
// a single lazy write of one entity.
type WorkflowRecord struct {
	ID        uuid.UUID               `json:"id"`
	Entity    EntityRef               `json:"entity"`
	Interface string                  `json:"interface"`
	Updates   map[string]MemberUpdate `json:"updates"`
}

// NewWorkflowRecord returns a record with a fresh random ID.
func NewWorkflowRecord(entity EntityRef, iface string, updates map[string]MemberUpdate) *WorkflowRecord {
	return &WorkflowRecord{
		ID:        uuid.New(),
		Entity:    entity,
		Interface: iface,
		Updates:   updates,
	}
}

// HasRealUpdate reports whether any update in the record changes an index.
func (r *WorkflowRecord) HasRealUpdate() bool {
	for _, u := range r.Updates {
		if u.IsReal() {
			return true
		}
	}
	return false
}

// IndexNames returns the names of the record's indexes in sorted order.
func (r *WorkflowRecord) IndexNames() []string {
	names := make([]string, 0, len(r.Updates))
	for name := range r.Updates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IDSet is a set of workflow record IDs.
type IDSet map[uuid.UUID]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...uuid.UUID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set.
func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Add inserts ids.
func (s IDSet) Add(ids ...uuid.UUID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Remove deletes ids.
func (s IDSet) Remove(ids ...uuid.UUID) {
	for _, id := range ids {
		delete(s, id)
	}
}

// Intersect returns the IDs present in both sets.
func (s IDSet) Intersect(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if other.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Equal reports whether both sets hold the same IDs.
func (s IDSet) Equal(other IDSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Slice returns the IDs in a deterministic order.
func (s IDSet) Slice() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Clone returns a copy of the set.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}
