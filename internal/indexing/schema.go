// Package indexing turns entity writes into index updates and drives them
// to the buckets, eagerly or through the workflow queues.
package indexing

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/actoridx/model"
)

// IndexDef declares one index of an entity type.
type IndexDef[T any] struct {
	// Interface groups indexes that share a workflow queue.
	Interface string
	Meta      model.IndexMetaData
	// Extract returns the indexed value of an entity state. Nil means the
	// entity has no value for this index.
	Extract func(*T) any
}

// Schema is the validated index configuration of one entity type.
type Schema[T any] struct {
	entityType    string
	faultTolerant bool
	defs          []IndexDef[T]
	interfaces    []string
}

// NewSchema validates defs. All indexes of a type share one eagerness, and
// fault-tolerant types only have lazy indexes.
func NewSchema[T any](entityType string, faultTolerant bool, defs []IndexDef[T]) (*Schema[T], error) {
	if entityType == "" {
		return nil, &model.ConfigError{Msg: "entity type name is empty"}
	}

	defs = slices.Clone(defs)
	slices.SortStableFunc(defs, func(a, b IndexDef[T]) int {
		return cmp.Or(cmp.Compare(a.Interface, b.Interface), cmp.Compare(a.Meta.Name, b.Meta.Name))
	})

	s := &Schema[T]{entityType: entityType, faultTolerant: faultTolerant, defs: defs}
	seen := make(map[string]struct{}, len(defs))
	for i, d := range defs {
		switch {
		case d.Interface == "":
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: index %q has no interface", entityType, d.Meta.Name)}
		case d.Meta.Name == "":
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: unnamed index in interface %q", entityType, d.Interface)}
		case d.Extract == nil:
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: index %q has no extractor", entityType, d.Meta.Name)}
		case d.Meta.MaxEntriesPerBucket < 0 || d.Meta.Partitions < 0:
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: index %q has negative bucket limits", entityType, d.Meta.Name)}
		case d.Meta.Eager != defs[0].Meta.Eager:
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: indexes %q and %q mix eager and lazy updates", entityType, defs[0].Meta.Name, d.Meta.Name)}
		case faultTolerant && d.Meta.Eager:
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: fault-tolerant index %q must be lazy", entityType, d.Meta.Name)}
		}
		if _, dup := seen[d.Meta.Name]; dup {
			return nil, &model.ConfigError{Msg: fmt.Sprintf("%s: duplicate index %q", entityType, d.Meta.Name)}
		}
		seen[d.Meta.Name] = struct{}{}

		if i == 0 || defs[i-1].Interface != d.Interface {
			s.interfaces = append(s.interfaces, d.Interface)
		}
	}
	return s, nil
}

// EntityType returns the entity type name.
func (s *Schema[T]) EntityType() string { return s.entityType }

// FaultTolerant reports whether the type uses the fault-tolerant protocol.
func (s *Schema[T]) FaultTolerant() bool { return s.faultTolerant }

// Defs returns the index definitions ordered by interface and name.
func (s *Schema[T]) Defs() []IndexDef[T] { return s.defs }

// Interfaces returns the interface names in order.
func (s *Schema[T]) Interfaces() []string { return s.interfaces }

// Def returns the definition of index name.
func (s *Schema[T]) Def(name string) (IndexDef[T], bool) {
	for _, d := range s.defs {
		if d.Meta.Name == name {
			return d, true
		}
	}
	return IndexDef[T]{}, false
}

// Images holds the last applied value of every index, per interface.
type Images map[string]map[string]model.Key

// Get returns the image of index in iface, NullKey when unset.
func (im Images) Get(iface, index string) model.Key {
	return im[iface][index]
}

// Set records the image of index in iface.
func (im Images) Set(iface, index string, k model.Key) {
	m, ok := im[iface]
	if !ok {
		m = make(map[string]model.Key)
		im[iface] = m
	}
	m[index] = k
}

// Commit advances the images past applied updates.
func (im Images) Commit(updates map[string]map[string]model.MemberUpdate) {
	for iface, byIndex := range updates {
		for index, u := range byIndex {
			im.Set(iface, index, u.NextImage(im.Get(iface, index)))
		}
	}
}

// Extract computes the images of state for every index of s.
func (s *Schema[T]) Extract(state *T) (Images, error) {
	im := make(Images)
	for _, d := range s.defs {
		k, err := model.KeyOf(d.Extract(state))
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", d.Meta.Name, err)
		}
		im.Set(d.Interface, d.Meta.Name, k)
	}
	return im, nil
}
