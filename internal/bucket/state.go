package bucket

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/actoridx/model"
)

// Status is the lifecycle status of an index bucket.
type Status uint8

const (
	// Available buckets serve reads.
	Available Status = iota
	// UnderConstruction buckets accept writes but reject reads.
	UnderConstruction
	// Disposed buckets belong to a dropped index.
	Disposed
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case UnderConstruction:
		return "under-construction"
	case Disposed:
		return "disposed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Tentative is the pending operation marker of an entry.
type Tentative uint8

const (
	TentativeNone Tentative = iota
	TentativeInsert
	TentativeDelete
)

// Result tells the chain walker whether an update was handled.
type Result uint8

const (
	// Applied means the bucket owns the update's key and applied it.
	Applied Result = iota
	// NotFoundHere means the update belongs to a later bucket in the chain.
	NotFoundHere
)

func (r Result) String() string {
	if r == NotFoundHere {
		return "not-found-here"
	}
	return "applied"
}

// ErrSplitRequired is returned for an Update on a chained index whose
// images cannot both live in this bucket. Chained updates are applied as
// an Insert of the after-image followed by a Delete of the before-image.
var ErrSplitRequired = errors.New("bucket: update must be split")

// ErrTentativeNonUnique is returned for a tentative update on a non-unique
// index. Tentative marks a whole entry, so only single-valued entries may
// carry one.
var ErrTentativeNonUnique = errors.New("bucket: tentative update on non-unique index")

// Entry holds the entities indexed under one key. Tentative applies to the
// entry as a whole; it is only ever set on entries of unique indexes, which
// hold at most one entity.
type Entry struct {
	Values    []model.EntityRef `json:"values"`
	Tentative Tentative         `json:"tentative,omitempty"`
}

// Contains reports whether the entry holds ref.
func (e *Entry) Contains(ref model.EntityRef) bool {
	return e != nil && slices.Contains(e.Values, ref)
}

// Visible reports whether readers may see the entry.
func (e *Entry) Visible() bool {
	return e != nil && e.Tentative == TentativeNone && len(e.Values) > 0
}

func (e *Entry) holdsOther(ref model.EntityRef) bool {
	if e == nil {
		return false
	}
	for _, v := range e.Values {
		if v != ref {
			return true
		}
	}
	return false
}

// Repair is a delete recorded while the bucket was not Available. Inserts
// of the same pair arriving before the bucket is Available again do not
// cancel it: the delete wins when the status changes back.
type Repair struct {
	Key    model.Key       `json:"key"`
	Entity model.EntityRef `json:"entity"`
}

// State is the persisted content of one bucket.
type State struct {
	Entries map[model.Key]*Entry `json:"entries"`
	Status  Status               `json:"status"`
	Next    string               `json:"next,omitempty"`
	Repairs []Repair             `json:"repairs,omitempty"`
}

// NewState returns an empty Available state.
func NewState() *State {
	return &State{Entries: make(map[model.Key]*Entry)}
}

// Len returns the number of distinct keys.
func (s *State) Len() int {
	return len(s.Entries)
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	out := &State{
		Entries: make(map[model.Key]*Entry, len(s.Entries)),
		Status:  s.Status,
		Next:    s.Next,
		Repairs: slices.Clone(s.Repairs),
	}
	for k, e := range s.Entries {
		out.Entries[k] = &Entry{Values: slices.Clone(e.Values), Tentative: e.Tentative}
	}
	return out
}

// canCreate reports whether a new key may be added to this bucket. Only the
// tail of a chain takes new keys, so every key lives in exactly one bucket.
func (s *State) canCreate(meta model.IndexMetaData) bool {
	return s.Next == "" && !meta.AtCapacity(len(s.Entries))
}

// Apply applies u on behalf of entity.
//
// Replaying an update, or the reverse of an update, any number of times
// leaves the same state as applying it once. A unique index never gets a
// second entity under one key: such an update fails with a
// *model.UniquenessError and leaves the state untouched.
func (s *State) Apply(entity model.EntityRef, u model.IndexUpdate, unique bool, meta model.IndexMetaData) (Result, error) {
	if s.Entries == nil {
		s.Entries = make(map[model.Key]*Entry)
	}

	if u.Tentative && !unique && u.Op != model.OpNone {
		return Applied, fmt.Errorf("%w: %s", ErrTentativeNonUnique, u)
	}

	switch u.Op {
	case model.OpNone:
		return Applied, nil
	case model.OpInsert:
		return s.insert(entity, u.After, u.Tentative, unique, meta)
	case model.OpDelete:
		return s.delete(entity, u.Before, u.Tentative, meta)
	case model.OpUpdate:
		if !s.Entries[u.Before].Contains(entity) {
			return s.insert(entity, u.After, u.Tentative, unique, meta)
		}

		after, local := s.Entries[u.After]
		if !local && !s.canCreate(meta) {
			return Applied, fmt.Errorf("%w: %s", ErrSplitRequired, u)
		}
		if unique && after.holdsOther(entity) {
			return Applied, &model.UniquenessError{Index: meta.Name, Key: u.After, Entity: entity}
		}
		s.add(u.After, entity, u.Tentative)
		s.remove(u.Before, entity, u.Tentative)
		s.trackDelete(u.Before, entity)
		return Applied, nil
	default:
		return Applied, fmt.Errorf("bucket: unknown operation %s", u.Op)
	}
}

func (s *State) insert(entity model.EntityRef, key model.Key, tentative, unique bool, meta model.IndexMetaData) (Result, error) {
	e, local := s.Entries[key]
	if !local && !s.canCreate(meta) {
		return NotFoundHere, nil
	}
	if unique && e.holdsOther(entity) {
		return Applied, &model.UniquenessError{Index: meta.Name, Key: key, Entity: entity}
	}
	s.add(key, entity, tentative)
	return Applied, nil
}

func (s *State) delete(entity model.EntityRef, key model.Key, tentative bool, meta model.IndexMetaData) (Result, error) {
	if _, local := s.Entries[key]; !local && meta.Chained() && s.Next != "" {
		return NotFoundHere, nil
	}
	s.remove(key, entity, tentative)
	s.trackDelete(key, entity)
	return Applied, nil
}

func (s *State) add(key model.Key, entity model.EntityRef, tentative bool) {
	e, ok := s.Entries[key]
	if !ok {
		e = &Entry{}
		s.Entries[key] = e
	}
	if !e.Contains(entity) {
		e.Values = append(e.Values, entity)
	}
	if tentative {
		e.Tentative = TentativeInsert
	} else {
		e.Tentative = TentativeNone
	}
}

func (s *State) remove(key model.Key, entity model.EntityRef, tentative bool) {
	e, ok := s.Entries[key]
	if !ok || !e.Contains(entity) {
		return
	}
	if tentative {
		e.Tentative = TentativeDelete
		return
	}
	e.Values = slices.DeleteFunc(e.Values, func(v model.EntityRef) bool { return v == entity })
	e.Tentative = TentativeNone
	if len(e.Values) == 0 {
		delete(s.Entries, key)
	}
}

func (s *State) trackDelete(key model.Key, entity model.EntityRef) {
	if s.Status == Available {
		return
	}
	r := Repair{Key: key, Entity: entity}
	if !slices.Contains(s.Repairs, r) {
		s.Repairs = append(s.Repairs, r)
	}
}

// SetStatus changes the bucket status. Becoming Available enforces every
// recorded repair: the entity is removed from the key unless the entry is
// tentative. It returns the number of enforced repairs.
func (s *State) SetStatus(status Status) int {
	enforced := 0
	if status == Available && s.Status != Available {
		for _, r := range s.Repairs {
			e, ok := s.Entries[r.Key]
			if !ok || !e.Contains(r.Entity) || e.Tentative != TentativeNone {
				continue
			}
			s.remove(r.Key, r.Entity, false)
			enforced++
		}
		s.Repairs = nil
	}
	s.Status = status
	return enforced
}

// Lookup returns the visible entities under key. found reports whether the
// key is owned by this bucket, visible or not.
func (s *State) Lookup(key model.Key) (values []model.EntityRef, tentative, found bool) {
	e, ok := s.Entries[key]
	if !ok {
		return nil, false, false
	}
	if !e.Visible() {
		return nil, len(e.Values) > 0, true
	}
	return slices.Clone(e.Values), false, true
}
