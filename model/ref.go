package model

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// EntityRef identifies an indexed entity. It is comparable and safe to use
// as a map key.
type EntityRef struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// NewEntityRef returns the reference for key within entity type typ.
func NewEntityRef(typ, key string) EntityRef {
	return EntityRef{Type: typ, Key: key}
}

// String returns "type/key".
func (r EntityRef) String() string {
	return r.Type + "/" + r.Key
}

// IsZero reports whether r is the zero reference.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.Key == ""
}

// Hash returns a stable 64-bit hash of the reference.
func (r EntityRef) Hash() uint64 {
	return xxhash.Sum64String(r.String())
}

// Shard maps the reference onto one of n shards.
func (r EntityRef) Shard(n int) int {
	if n <= 1 {
		return 0
	}
	return int(r.Hash() % uint64(n))
}

// ParseEntityRef parses the output of EntityRef.String.
func ParseEntityRef(s string) (EntityRef, error) {
	typ, key, ok := strings.Cut(s, "/")
	if !ok || typ == "" {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q", s)
	}
	return EntityRef{Type: typ, Key: key}, nil
}

// CompareRefs orders references by type, then key.
func CompareRefs(a, b EntityRef) int {
	if c := strings.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}
