package bucket

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
)

// ID returns the address of the head bucket of an index partition.
func ID(index string, partition int) string {
	return fmt.Sprintf("bucket/%s/%d", index, partition)
}

// NextID returns the address of the successor of bucket id.
func NextID(id string) string {
	return id + "/next"
}

// Resolver returns the activation of a bucket address.
type Resolver func(ctx context.Context, id string) (*Bucket, error)

// IndexOptions configures an Index.
type IndexOptions struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
}

// Index routes updates and lookups of one configured index to its buckets.
type Index struct {
	name    string
	meta    model.IndexMetaData
	resolve Resolver
	logger  *slog.Logger
	metrics metrics.Collector
}

// NewIndex returns an index named name (the bucket address namespace)
// configured by meta.
func NewIndex(name string, meta model.IndexMetaData, resolve Resolver, optFns ...func(o *IndexOptions)) *Index {
	opts := IndexOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Index{
		name:    name,
		meta:    meta,
		resolve: resolve,
		logger:  opts.Logger.With("index", name),
		metrics: opts.Metrics,
	}
}

// Name returns the index name.
func (x *Index) Name() string { return x.name }

// Meta returns the index configuration.
func (x *Index) Meta() model.IndexMetaData { return x.meta }

func (x *Index) partitionOf(key model.Key) int {
	return key.Partition(x.meta.PartitionCount())
}

// route returns the parts of u keyed by partition, in application order.
func (x *Index) route(u model.IndexUpdate) []routed {
	switch u.Op {
	case model.OpNone:
		return nil
	case model.OpInsert:
		return []routed{{x.partitionOf(u.After), u}}
	case model.OpDelete:
		return []routed{{x.partitionOf(u.Before), u}}
	}

	from, to := x.partitionOf(u.Before), x.partitionOf(u.After)
	if from == to && !x.meta.Chained() {
		return []routed{{from, u}}
	}
	ins, del := u.Split()
	return []routed{{to, ins}, {from, del}}
}

type routed struct {
	partition int
	update    model.IndexUpdate
}

// Apply applies u for entity and returns once it is persisted. Uniqueness
// violations are returned as *model.UniquenessError.
func (x *Index) Apply(ctx context.Context, entity model.EntityRef, u model.IndexUpdate) error {
	for _, r := range x.route(u) {
		if err := x.applyChain(ctx, ID(x.name, r.partition), entity, r.update); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) applyChain(ctx context.Context, id string, entity model.EntityRef, u model.IndexUpdate) error {
	for {
		b, err := x.resolve(ctx, id)
		if err != nil {
			return err
		}
		res, err := b.Apply(ctx, entity, u)
		if err != nil {
			return err
		}
		if res == Applied {
			return nil
		}
		if id, err = x.successor(ctx, b); err != nil {
			return err
		}
	}
}

// successor returns the next bucket of b's chain, creating it if b is the
// tail. A new bucket starts with its predecessor's status.
func (x *Index) successor(ctx context.Context, b *Bucket) (string, error) {
	next, created, err := b.Grow(ctx)
	if err != nil {
		return "", err
	}
	if !created {
		return next, nil
	}
	x.metrics.RecordChainGrow(x.name)
	x.logger.Debug("index chain grown", "bucket", next)

	if status := b.Status(); status != Available {
		nb, err := x.resolve(ctx, next)
		if err != nil {
			return "", err
		}
		if err := nb.SetStatus(ctx, status); err != nil {
			return "", err
		}
	}
	return next, nil
}

// ApplyBatch applies items grouped per partition, partitions concurrently.
// Within a partition items keep their order. Uniqueness violations are
// logged and skipped. The returned error aggregates persistence failures.
func (x *Index) ApplyBatch(ctx context.Context, items []Item) error {
	parts := make(map[int][]Item)
	for _, it := range items {
		for _, r := range x.route(it.Update) {
			parts[r.partition] = append(parts[r.partition], Item{Entity: it.Entity, Update: r.update})
		}
	}

	partitions := slices.Sorted(maps.Keys(parts))
	errs := make([]error, len(partitions))

	var g errgroup.Group
	for i, p := range partitions {
		g.Go(func() error {
			errs[i] = x.applyChainBatch(ctx, ID(x.name, p), parts[p])
			return nil
		})
	}
	_ = g.Wait()

	return multierr.Combine(errs...)
}

func (x *Index) applyChainBatch(ctx context.Context, id string, items []Item) error {
	for len(items) > 0 {
		b, err := x.resolve(ctx, id)
		if err != nil {
			return err
		}
		rest, violations, err := b.ApplyBatch(ctx, items)
		for _, v := range violations {
			var uerr *model.UniquenessError
			if errors.As(v, &uerr) {
				x.logger.Warn("skipping update that violates uniqueness", "entity", uerr.Entity.String(), "key", string(uerr.Key))
				continue
			}
			x.logger.Error("skipping inapplicable update", "error", v)
		}
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return nil
		}
		if id, err = x.successor(ctx, b); err != nil {
			return err
		}
		items = rest
	}
	return nil
}

// LookupBatches walks the chain of key's partition and calls fn with the
// visible entities of the bucket owning key. fn is not called when the key
// is absent.
func (x *Index) LookupBatches(ctx context.Context, key model.Key, fn func([]model.EntityRef) error) (err error) {
	start := time.Now()
	defer func() { x.metrics.RecordLookup(x.name, time.Since(start), err) }()

	id := ID(x.name, x.partitionOf(key))
	for id != "" {
		b, err := x.resolve(ctx, id)
		if err != nil {
			return err
		}
		values, _, found, status, next := b.Lookup(key)
		if status != Available {
			return fmt.Errorf("index %s is %s: %w", x.name, status, model.ErrIndexUnavailable)
		}
		if found {
			if len(values) == 0 {
				return nil
			}
			return fn(values)
		}
		id = next
	}
	return nil
}

// Lookup returns the visible entities indexed under key.
func (x *Index) Lookup(ctx context.Context, key model.Key) ([]model.EntityRef, error) {
	var out []model.EntityRef
	err := x.LookupBatches(ctx, key, func(refs []model.EntityRef) error {
		out = append(out, refs...)
		return nil
	})
	return out, err
}

// LookupUnique returns the single visible entity under key. Zero, several
// or only tentative values fail with *model.IntegrityError.
func (x *Index) LookupUnique(ctx context.Context, key model.Key) (model.EntityRef, error) {
	id := ID(x.name, x.partitionOf(key))
	for id != "" {
		b, err := x.resolve(ctx, id)
		if err != nil {
			return model.EntityRef{}, err
		}
		values, tentative, found, status, next := b.Lookup(key)
		if status != Available {
			return model.EntityRef{}, fmt.Errorf("index %s is %s: %w", x.name, status, model.ErrIndexUnavailable)
		}
		if found {
			if len(values) == 1 {
				return values[0], nil
			}
			return model.EntityRef{}, &model.IntegrityError{Index: x.name, Key: key, Found: len(values), Tentative: tentative}
		}
		id = next
	}
	return model.EntityRef{}, &model.IntegrityError{Index: x.name, Key: key}
}

// LookupStream yields the visible entities under key.
func (x *Index) LookupStream(ctx context.Context, key model.Key) iter.Seq2[model.EntityRef, error] {
	return func(yield func(model.EntityRef, error) bool) {
		stop := errors.New("stop")
		err := x.LookupBatches(ctx, key, func(refs []model.EntityRef) error {
			for _, r := range refs {
				if !yield(r, nil) {
					return stop
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(model.EntityRef{}, err)
		}
	}
}

// IsAvailable reports whether every partition head is Available.
func (x *Index) IsAvailable(ctx context.Context) (bool, error) {
	for p := range x.meta.PartitionCount() {
		b, err := x.resolve(ctx, ID(x.name, p))
		if err != nil {
			return false, err
		}
		if b.Status() != Available {
			return false, nil
		}
	}
	return true, nil
}

// SetStatus changes the status of every bucket of the index.
func (x *Index) SetStatus(ctx context.Context, status Status) error {
	return x.walk(ctx, func(b *Bucket) error {
		return b.SetStatus(ctx, status)
	})
}

// Buckets returns the number of bucket instances of the index.
func (x *Index) Buckets(ctx context.Context) (int, error) {
	n := 0
	err := x.walk(ctx, func(*Bucket) error {
		n++
		return nil
	})
	return n, err
}

func (x *Index) walk(ctx context.Context, fn func(*Bucket) error) error {
	for p := range x.meta.PartitionCount() {
		for id := ID(x.name, p); id != ""; {
			b, err := x.resolve(ctx, id)
			if err != nil {
				return err
			}
			if err := fn(b); err != nil {
				return err
			}
			id = b.Next()
		}
	}
	return nil
}
