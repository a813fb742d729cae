package indexing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
)

// Index applies eager updates to one index.
type Index interface {
	Meta() model.IndexMetaData
	Apply(ctx context.Context, entity model.EntityRef, u model.IndexUpdate) error
}

// Enqueuer accepts workflow records.
type Enqueuer interface {
	Enqueue(ctx context.Context, record *model.WorkflowRecord) error
}

// Host is the entity a write belongs to. Its methods are called while the
// entity's write lock is held.
type Host interface {
	Ref() model.EntityRef
	// Queue returns the workflow queue of iface for this entity.
	Queue(ctx context.Context, iface string) (Enqueuer, error)
	// AddActive records durably queued workflow IDs.
	AddActive(ids ...uuid.UUID)
	// RemoveActive forgets workflow IDs.
	RemoveActive(ids ...uuid.UUID)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
}

// Coordinator orchestrates the index updates of one entity type.
type Coordinator[T any] struct {
	schema      *Schema[T]
	indexes     map[string]Index
	consistency consistency
	logger      *slog.Logger
	metrics     metrics.Collector
}

// NewCoordinator returns the coordinator of schema. indexes maps every
// index name of the schema to its buckets.
func NewCoordinator[T any](schema *Schema[T], indexes map[string]Index, optFns ...func(o *CoordinatorOptions)) (*Coordinator[T], error) {
	opts := CoordinatorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	for _, d := range schema.Defs() {
		if _, ok := indexes[d.Meta.Name]; !ok {
			return nil, fmt.Errorf("index %s: %w", d.Meta.Name, model.ErrNotFound)
		}
	}

	var c consistency = nonFaultTolerant{}
	if schema.FaultTolerant() {
		c = faultTolerant{}
	}
	return &Coordinator[T]{
		schema:      schema,
		indexes:     indexes,
		consistency: c,
		logger:      opts.Logger.With("entity_type", schema.EntityType()),
		metrics:     opts.Metrics,
	}, nil
}

// Schema returns the coordinator's schema.
func (c *Coordinator[T]) Schema() *Schema[T] { return c.schema }

// Apply drives updates for host and then persists the entity with persist
// (which may be nil). Unique updates are settled first; a uniqueness
// violation undoes them and is returned without persisting. On success the
// images are advanced past the updates.
func (c *Coordinator[T]) Apply(ctx context.Context, host Host, images Images, updates Updates, persist func(context.Context) error) error {
	if persist == nil {
		persist = func(context.Context) error { return nil }
	}
	if updates.Empty() {
		return persist(ctx)
	}

	tentative := false
	if updates.NumUnique > 0 {
		var err error
		if tentative, err = c.applyUnique(ctx, host.Ref(), updates); err != nil {
			return err
		}
	}

	var err error
	if updates.Eager {
		err = c.applyEager(ctx, host.Ref(), updates, tentative, persist)
	} else {
		err = c.consistency.applyLazy(ctx, c, host, updates, tentative, persist)
	}
	if err != nil {
		return err
	}

	images.Commit(updates.ByInterface)
	return nil
}

type pending struct {
	index  string
	update model.IndexUpdate
}

// uniqueUpdates lists the unique updates in a stable order.
func (c *Coordinator[T]) uniqueUpdates(updates Updates) []pending {
	var out []pending
	for _, byIndex := range updates.ByInterface {
		for name, u := range byIndex {
			if c.indexes[name].Meta().Unique {
				out = append(out, pending{index: name, update: model.Plain(u)})
			}
		}
	}
	slices.SortFunc(out, func(a, b pending) int { return cmp.Compare(a.index, b.index) })
	return out
}

// applyUnique applies the unique updates and reports whether they were
// applied tentatively.
func (c *Coordinator[T]) applyUnique(ctx context.Context, ref model.EntityRef, updates Updates) (bool, error) {
	unique := c.uniqueUpdates(updates)

	tentative := len(unique) > 1
	for _, p := range unique {
		if p.update.Op == model.OpDelete {
			tentative = true
		}
	}

	for i, p := range unique {
		u := p.update
		if tentative {
			u = u.AsTentative()
		}
		err := c.indexes[p.index].Apply(ctx, ref, u)
		c.metrics.RecordEagerApply(p.index, 1, tentative, err)
		if err == nil {
			continue
		}

		if errors.Is(err, model.ErrUniquenessConstraintViolated) {
			c.undo(ctx, ref, unique[:i+1])
		}
		return tentative, err
	}
	return tentative, nil
}

// undo applies the reverse of applied unique updates. Reverses are
// idempotent, so undoing the update that failed is harmless.
func (c *Coordinator[T]) undo(ctx context.Context, ref model.EntityRef, applied []pending) {
	for _, p := range applied {
		if err := c.indexes[p.index].Apply(ctx, ref, p.update.Reverse()); err != nil {
			c.logger.Error("failed to undo unique update", "entity", ref.String(), "index", p.index, "error", err)
		}
		c.metrics.RecordUndo(p.index, 1)
	}
}

// applyEager applies the non-unique updates and finalizes tentative unique
// ones, concurrently with persist.
func (c *Coordinator[T]) applyEager(ctx context.Context, ref model.EntityRef, updates Updates, tentative bool, persist func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return persist(gctx) })

	for _, byIndex := range updates.ByInterface {
		for name, u := range byIndex {
			idx := c.indexes[name]
			if idx.Meta().Unique && !tentative {
				continue
			}
			g.Go(func() error {
				err := idx.Apply(gctx, ref, model.Plain(u))
				c.metrics.RecordEagerApply(name, 1, false, err)
				return err
			})
		}
	}
	return g.Wait()
}
