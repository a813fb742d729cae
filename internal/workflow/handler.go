package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/actoridx/internal/bucket"
	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
)

// Entities is the entity-side protocol used by fault-tolerant passes.
type Entities interface {
	ActiveWorkflowIDs(ctx context.Context, ref model.EntityRef) (model.IDSet, error)
	RemoveFromActiveWorkflowIDs(ctx context.Context, ref model.EntityRef, ids []uuid.UUID) error
}

// Index is the bucket-side batch target of one index.
type Index interface {
	Meta() model.IndexMetaData
	ApplyBatch(ctx context.Context, items []bucket.Item) error
}

// HandlerOptions configures a PassHandler.
type HandlerOptions struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
	// FetchConcurrency bounds concurrent active-set requests. Zero means
	// unlimited.
	FetchConcurrency int
}

// PassHandler applies the records of one interface to its indexes.
type PassHandler struct {
	faultTolerant bool
	indexes       map[string]Index
	entities      Entities
	opts          HandlerOptions
	logger        *slog.Logger

	cleanup sync.WaitGroup
}

// NewHandler returns a handler for indexes, keyed by index name. entities
// is only consulted when faultTolerant is set.
func NewHandler(faultTolerant bool, indexes map[string]Index, entities Entities, optFns ...func(o *HandlerOptions)) *PassHandler {
	opts := HandlerOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &PassHandler{
		faultTolerant: faultTolerant,
		indexes:       indexes,
		entities:      entities,
		opts:          opts,
		logger:        opts.Logger,
	}
}

// Handle runs one pass over the chain starting at head.
func (h *PassHandler) Handle(ctx context.Context, head *Node) error {
	records := head.Records()
	if len(records) == 0 {
		return nil
	}

	// IDs of this pass per entity with a real update.
	batchIDs := make(map[model.EntityRef]model.IDSet)
	for _, r := range records {
		if !r.HasRealUpdate() {
			continue
		}
		ids, ok := batchIDs[r.Entity]
		if !ok {
			ids = model.NewIDSet()
			batchIDs[r.Entity] = ids
		}
		ids.Add(r.ID)
	}

	var active map[model.EntityRef]model.IDSet
	if h.faultTolerant {
		var err error
		if active, err = h.fetchActive(ctx, batchIDs); err != nil {
			return err
		}
	}

	batches := make(map[string][]bucket.Item)
	undone := make(map[string]int)
	for _, r := range records {
		confirmed := !h.faultTolerant || active[r.Entity].Has(r.ID)
		for _, name := range r.IndexNames() {
			u := r.Updates[name]
			if !u.IsReal() {
				continue
			}
			idx, ok := h.indexes[name]
			if !ok {
				h.logger.Warn("record references unknown index", "index", name, "workflow_id", r.ID.String())
				continue
			}

			update := model.Plain(u)
			if !confirmed {
				if !idx.Meta().Unique {
					continue
				}
				update = update.Reverse()
				undone[name]++
			}
			batches[name] = append(batches[name], bucket.Item{Entity: r.Entity, Update: update})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, items := range batches {
		idx := h.indexes[name]
		g.Go(func() error {
			if err := idx.ApplyBatch(gctx, items); err != nil {
				return fmt.Errorf("index %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for name, n := range undone {
		h.opts.Metrics.RecordUndo(name, n)
	}

	if h.faultTolerant {
		h.confirm(ctx, active)
	}
	return nil
}

// fetchActive requests each entity's active set once and intersects it
// with the IDs of this pass.
func (h *PassHandler) fetchActive(ctx context.Context, batchIDs map[model.EntityRef]model.IDSet) (map[model.EntityRef]model.IDSet, error) {
	var mu sync.Mutex
	active := make(map[model.EntityRef]model.IDSet, len(batchIDs))

	g, gctx := errgroup.WithContext(ctx)
	if h.opts.FetchConcurrency > 0 {
		g.SetLimit(h.opts.FetchConcurrency)
	}
	for ref, ids := range batchIDs {
		g.Go(func() error {
			set, err := h.entities.ActiveWorkflowIDs(gctx, ref)
			if err != nil {
				return fmt.Errorf("active workflows of %s: %w", ref, err)
			}
			mu.Lock()
			active[ref] = set.Intersect(ids)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return active, nil
}

// confirm asks every entity to forget the IDs applied by this pass. It does
// not wait for the answers.
func (h *PassHandler) confirm(ctx context.Context, active map[model.EntityRef]model.IDSet) {
	bg := context.WithoutCancel(ctx)
	for ref, ids := range active {
		if len(ids) == 0 {
			continue
		}
		h.cleanup.Add(1)
		go func() {
			defer h.cleanup.Done()
			if err := h.entities.RemoveFromActiveWorkflowIDs(bg, ref, ids.Slice()); err != nil {
				h.logger.Warn("failed to confirm workflow records", "entity", ref.String(), "records", len(ids), "error", err)
			}
		}()
	}
}

// Wait blocks until outstanding confirmations have been delivered.
func (h *PassHandler) Wait() {
	h.cleanup.Wait()
}
