package model

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks inconsistent index configuration. It is fatal
	// and normally reported when an entity type is registered.
	ErrConfiguration = errors.New("index configuration error")

	// ErrUniquenessConstraintViolated is returned when a write would give a
	// unique index two visible values for one key.
	ErrUniquenessConstraintViolated = errors.New("uniqueness constraint violated")

	// ErrIndexUnavailable is returned by reads while an index bucket is not
	// Available.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIntegrity is returned when a unique lookup does not find exactly one
	// visible value.
	ErrIntegrity = errors.New("index integrity violation")

	// ErrUnreachable is returned when an addressed instance lives on a node
	// that is down.
	ErrUnreachable = errors.New("instance unreachable")

	// ErrClosed is returned after the system has been closed.
	ErrClosed = errors.New("closed")

	// ErrNotFound is returned for unknown entity types, interfaces or indexes.
	ErrNotFound = errors.New("not found")
)

// ConfigError describes a configuration problem.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "configuration: " + e.Msg }

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// UniquenessError reports the key and entity that collided.
type UniquenessError struct {
	Index  string
	Key    Key
	Entity EntityRef
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("uniqueness constraint violated: index %s already holds key %q (writer %s)", e.Index, e.Key, e.Entity)
}

func (e *UniquenessError) Unwrap() error { return ErrUniquenessConstraintViolated }

// IntegrityError reports a unique lookup that found Found visible values.
type IntegrityError struct {
	Index     string
	Key       Key
	Found     int
	Tentative bool
}

func (e *IntegrityError) Error() string {
	if e.Tentative {
		return fmt.Sprintf("index %s: key %q only has a tentative value", e.Index, e.Key)
	}
	return fmt.Sprintf("index %s: unique key %q has %d values", e.Index, e.Key, e.Found)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }
