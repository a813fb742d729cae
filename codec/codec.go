// Package codec centralizes the encoding of persisted actor state.
//
// Every persisted frame records the name of the codec that produced it, so
// state written with one codec is always decoded with the same one.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by the name stored in a frame header.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Clone returns a deep copy of *v made by a round trip through c.
// Entity updates run against such a copy so a failed write leaves the
// original state untouched.
func Clone[T any](c Codec, v *T) (T, error) {
	var out T
	if c == nil {
		c = Default
	}
	data, err := c.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("codec %s: clone: %w", c.Name(), err)
	}
	if err := c.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("codec %s: clone: %w", c.Name(), err)
	}
	return out, nil
}

// MustMarshal is a helper for internal tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
