package actoridx

import (
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
)

var (
	// ErrConfiguration is returned when an entity type's index
	// configuration is inconsistent.
	ErrConfiguration = model.ErrConfiguration

	// ErrUniquenessConstraintViolated is returned by a write that would give
	// a unique index two entities for one value. The entity is unchanged.
	ErrUniquenessConstraintViolated = model.ErrUniquenessConstraintViolated

	// ErrIndexUnavailable is returned by lookups while an index is not
	// Available.
	ErrIndexUnavailable = model.ErrIndexUnavailable

	// ErrIntegrity is returned when a unique lookup does not find exactly
	// one visible entity.
	ErrIntegrity = model.ErrIntegrity

	// ErrUnreachable is returned when an instance lives on a failed node.
	ErrUnreachable = model.ErrUnreachable

	// ErrClosed is returned after Close and by handles of deactivated
	// entities.
	ErrClosed = model.ErrClosed

	// ErrNotFound is returned for unknown entity types and indexes.
	ErrNotFound = model.ErrNotFound

	// ErrPersistenceFailed is returned when a state write still fails after
	// its retries.
	ErrPersistenceFailed = persistence.ErrPersistenceFailed
)

// ConfigError describes a configuration problem.
type ConfigError = model.ConfigError

// UniquenessError reports the value and writer of a uniqueness violation.
//
// It unwraps to ErrUniquenessConstraintViolated.
type UniquenessError = model.UniquenessError

// IntegrityError reports a unique lookup that found zero, several or only
// tentative entities.
//
// It unwraps to ErrIntegrity.
type IntegrityError = model.IntegrityError

// PersistenceError reports a state write that exhausted its retries.
//
// It unwraps to ErrPersistenceFailed and the last cause.
type PersistenceError = persistence.PersistenceError
