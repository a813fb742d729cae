package actoridx

import (
	"context"
	"fmt"
	"iter"

	"github.com/hupe1980/actoridx/internal/bucket"
	"github.com/hupe1980/actoridx/model"
)

// IndexStatus is the lifecycle state of an index.
type IndexStatus = bucket.Status

const (
	// IndexAvailable indexes serve lookups.
	IndexAvailable = bucket.Available
	// IndexUnderConstruction indexes accept updates but reject lookups.
	IndexUnderConstruction = bucket.UnderConstruction
	// IndexDisposed indexes reject lookups.
	IndexDisposed = bucket.Disposed
)

// Observer receives the results of LookupStreamed.
type Observer interface {
	// OnNext receives one batch of matches. An error stops the lookup.
	OnNext(ctx context.Context, refs []EntityRef) error
	OnCompleted(ctx context.Context)
	OnError(ctx context.Context, err error)
}

func (t *EntityType[T]) index(name string) (*bucket.Index, error) {
	idx, ok := t.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s of %s: %w", name, t.name, ErrNotFound)
	}
	return idx, nil
}

func (t *EntityType[T]) target(name string, value any) (*bucket.Index, model.Key, error) {
	idx, err := t.index(name)
	if err != nil {
		return nil, model.NullKey, err
	}
	key, err := model.KeyOf(value)
	if err != nil {
		return nil, model.NullKey, err
	}
	return idx, key, nil
}

// Lookup returns the entities whose index value equals value. Entities
// with pending lazy updates may be missing or stale until their queue
// drains.
func (t *EntityType[T]) Lookup(ctx context.Context, index string, value any) ([]EntityRef, error) {
	idx, key, err := t.target(index, value)
	if err != nil {
		return nil, err
	}
	refs, err := idx.Lookup(ctx, key)
	t.logger.LogLookup(ctx, idx.Name(), len(refs), err)
	return refs, err
}

// LookupUnique returns the single entity whose index value equals value.
// It fails with an *IntegrityError unless exactly one entity holds the
// value for good.
func (t *EntityType[T]) LookupUnique(ctx context.Context, index string, value any) (EntityRef, error) {
	idx, key, err := t.target(index, value)
	if err != nil {
		return EntityRef{}, err
	}
	ref, err := idx.LookupUnique(ctx, key)
	found := 0
	if err == nil {
		found = 1
	}
	t.logger.LogLookup(ctx, idx.Name(), found, err)
	return ref, err
}

// LookupStreamed delivers the matches of value to obs batch by batch,
// then calls OnCompleted, or OnError when the lookup fails.
func (t *EntityType[T]) LookupStreamed(ctx context.Context, index string, value any, obs Observer) error {
	idx, key, err := t.target(index, value)
	if err != nil {
		obs.OnError(ctx, err)
		return err
	}

	n := 0
	err = idx.LookupBatches(ctx, key, func(refs []model.EntityRef) error {
		n += len(refs)
		return obs.OnNext(ctx, refs)
	})
	t.logger.LogLookup(ctx, idx.Name(), n, err)
	if err != nil {
		obs.OnError(ctx, err)
		return err
	}
	obs.OnCompleted(ctx)
	return nil
}

// LookupStream yields the matches of value. A failure is yielded once as
// the last element.
func (t *EntityType[T]) LookupStream(ctx context.Context, index string, value any) iter.Seq2[EntityRef, error] {
	idx, key, err := t.target(index, value)
	if err != nil {
		return func(yield func(EntityRef, error) bool) {
			yield(EntityRef{}, err)
		}
	}
	return idx.LookupStream(ctx, key)
}

// IsAvailable reports whether index serves lookups.
func (t *EntityType[T]) IsAvailable(ctx context.Context, index string) (bool, error) {
	idx, err := t.index(index)
	if err != nil {
		return false, err
	}
	return idx.IsAvailable(ctx)
}

// SetIndexStatus changes the status of every bucket of index. Making an
// index Available again enforces the deletes it received meanwhile.
func (t *EntityType[T]) SetIndexStatus(ctx context.Context, index string, status IndexStatus) error {
	idx, err := t.index(index)
	if err != nil {
		return err
	}
	if err := idx.SetStatus(ctx, status); err != nil {
		return fmt.Errorf("index %s: %w", index, err)
	}
	t.logger.WithIndex(idx.Name()).InfoContext(ctx, "index status changed", "status", status.String())
	return nil
}

// Buckets returns the number of bucket instances of index, across all
// partitions and chains.
func (t *EntityType[T]) Buckets(ctx context.Context, index string) (int, error) {
	idx, err := t.index(index)
	if err != nil {
		return 0, err
	}
	return idx.Buckets(ctx)
}
