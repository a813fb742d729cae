package indexing

import (
	"fmt"

	"github.com/hupe1980/actoridx/model"
)

// Reason is the event that triggers update generation.
type Reason uint8

const (
	// OnActivate re-inserts the before-images into active-only indexes.
	OnActivate Reason = iota
	// OnDeactivate removes the before-images from active-only indexes.
	OnDeactivate
	// WriteState diffs the before-images against the new state.
	WriteState
)

func (r Reason) String() string {
	switch r {
	case OnActivate:
		return "activate"
	case OnDeactivate:
		return "deactivate"
	case WriteState:
		return "write"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Updates is the outcome of Generate.
type Updates struct {
	// ByInterface holds the real updates per interface and index.
	ByInterface map[string]map[string]model.MemberUpdate
	// Eager reports whether the touched indexes are updated eagerly.
	Eager bool
	// OnlyUniqueUpdated reports whether every real update targets a
	// unique index.
	OnlyUniqueUpdated bool
	// NumUnique counts the real updates of unique indexes.
	NumUnique int
}

// Empty reports whether no index changes.
func (u Updates) Empty() bool {
	return len(u.ByInterface) == 0
}

// Len returns the number of real updates.
func (u Updates) Len() int {
	n := 0
	for _, m := range u.ByInterface {
		n += len(m)
	}
	return n
}

// Generate computes the index updates of one event. state is only read for
// WriteState. When onlyActive is set, indexes that are not ActiveOnly are
// skipped. It has no side effects; callers commit the images once the
// updates are applied.
func Generate[T any](s *Schema[T], images Images, state *T, reason Reason, onlyActive bool) (Updates, error) {
	out := Updates{
		ByInterface:       make(map[string]map[string]model.MemberUpdate),
		OnlyUniqueUpdated: true,
	}
	var eagerSeen, eager bool
	var first string

	for _, d := range s.defs {
		if onlyActive && !d.Meta.ActiveOnly {
			continue
		}

		before := images.Get(d.Interface, d.Meta.Name)
		var u model.MemberUpdate
		switch reason {
		case OnActivate:
			if !before.IsNull() {
				u = model.MemberUpdate{Op: model.OpInsert, After: before}
			}
		case OnDeactivate:
			if !before.IsNull() {
				u = model.MemberUpdate{Op: model.OpDelete, Before: before}
			}
		case WriteState:
			after, err := model.KeyOf(d.Extract(state))
			if err != nil {
				return Updates{}, fmt.Errorf("index %s: %w", d.Meta.Name, err)
			}
			u = model.Diff(before, after)
		}
		if !u.IsReal() {
			continue
		}

		if !eagerSeen {
			eagerSeen, eager, first = true, d.Meta.Eager, d.Meta.Name
		} else if eager != d.Meta.Eager {
			return Updates{}, &model.ConfigError{Msg: fmt.Sprintf("indexes %q and %q mix eager and lazy updates", first, d.Meta.Name)}
		}

		m, ok := out.ByInterface[d.Interface]
		if !ok {
			m = make(map[string]model.MemberUpdate)
			out.ByInterface[d.Interface] = m
		}
		m[d.Meta.Name] = u

		if d.Meta.Unique {
			out.NumUnique++
		} else {
			out.OnlyUniqueUpdated = false
		}
	}

	out.Eager = eager
	if out.Empty() {
		out.OnlyUniqueUpdated = false
	}
	return out, nil
}
