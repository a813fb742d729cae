package bucket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
)

// Options configures a Bucket.
type Options struct {
	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration for a Bucket.
var DefaultOptions = Options{}

// Item is one update of a batch.
type Item struct {
	Entity model.EntityRef
	Update model.IndexUpdate
}

// Bucket is one persisted instance of an index partition or chain link.
//
// The mutex guards the in-memory state only. It is released before the
// state is written, so other requests interleave with a pending write.
type Bucket struct {
	id     string
	meta   model.IndexMetaData
	store  *persistence.Store
	logger *slog.Logger

	mu    sync.Mutex
	state *State

	committer *persistence.Committer
}

// Load activates the bucket id, reading its persisted state if any.
func Load(ctx context.Context, id string, meta model.IndexMetaData, store *persistence.Store, optFns ...func(o *Options)) (*Bucket, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	state := NewState()
	if _, err := store.Load(ctx, id, state); err != nil {
		return nil, fmt.Errorf("load bucket %s: %w", id, err)
	}
	if state.Entries == nil {
		state.Entries = make(map[model.Key]*Entry)
	}

	b := &Bucket{
		id:     id,
		meta:   meta,
		store:  store,
		logger: opts.Logger.With("bucket", id),
		state:  state,
	}
	b.committer = persistence.NewCommitter(b.write)
	return b, nil
}

func (b *Bucket) write(ctx context.Context) error {
	b.mu.Lock()
	snapshot := b.state.Clone()
	b.mu.Unlock()

	return b.store.Save(ctx, b.id, snapshot)
}

// ID returns the bucket address.
func (b *Bucket) ID() string { return b.id }

// Apply applies one update and persists the result before returning.
func (b *Bucket) Apply(ctx context.Context, entity model.EntityRef, u model.IndexUpdate) (Result, error) {
	b.mu.Lock()
	res, err := b.state.Apply(entity, u, b.meta.Unique, b.meta)
	b.mu.Unlock()

	if err != nil || res == NotFoundHere {
		return res, err
	}
	return Applied, b.committer.Commit(ctx)
}

// ApplyBatch applies items in order with a single write. Items owned by a
// later chain bucket are returned in order as rest. Once an item is
// deferred, every later item touching one of its keys is deferred too, so
// updates of a key reach its owning bucket in batch order. Uniqueness
// violations skip the offending item and are reported in violations.
func (b *Bucket) ApplyBatch(ctx context.Context, items []Item) (rest []Item, violations []error, err error) {
	applied := 0
	deferred := make(map[model.Key]struct{})

	b.mu.Lock()
	for _, it := range items {
		if touchesAny(it.Update, deferred) {
			rest = append(rest, it)
			deferKeys(it.Update, deferred)
			continue
		}
		res, err := b.state.Apply(it.Entity, it.Update, b.meta.Unique, b.meta)
		switch {
		case err != nil:
			violations = append(violations, err)
		case res == NotFoundHere:
			rest = append(rest, it)
			deferKeys(it.Update, deferred)
		default:
			applied++
		}
	}
	b.mu.Unlock()

	if applied > 0 {
		err = b.committer.Commit(ctx)
	}
	return rest, violations, err
}

func updateKeys(u model.IndexUpdate) []model.Key {
	switch u.Op {
	case model.OpInsert:
		return []model.Key{u.After}
	case model.OpDelete:
		return []model.Key{u.Before}
	case model.OpUpdate:
		return []model.Key{u.Before, u.After}
	default:
		return nil
	}
}

func touchesAny(u model.IndexUpdate, keys map[model.Key]struct{}) bool {
	for _, k := range updateKeys(u) {
		if _, ok := keys[k]; ok {
			return true
		}
	}
	return false
}

func deferKeys(u model.IndexUpdate, keys map[model.Key]struct{}) {
	for _, k := range updateKeys(u) {
		keys[k] = struct{}{}
	}
}

// Lookup returns the visible entities under key.
func (b *Bucket) Lookup(key model.Key) (values []model.EntityRef, tentative, found bool, status Status, next string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, tentative, found = b.state.Lookup(key)
	return values, tentative, found, b.state.Status, b.state.Next
}

// Next returns the successor bucket address, empty at the chain tail.
func (b *Bucket) Next() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.Next
}

// Grow links a successor bucket if none exists and returns its address.
// created reports whether this call added the link.
func (b *Bucket) Grow(ctx context.Context) (next string, created bool, err error) {
	b.mu.Lock()
	if b.state.Next == "" {
		b.state.Next = NextID(b.id)
		created = true
	}
	next = b.state.Next
	b.mu.Unlock()

	if created {
		b.logger.Debug("bucket chain grown", "next", next)
		err = b.committer.Commit(ctx)
	}
	return next, created, err
}

// Status returns the bucket status.
func (b *Bucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.Status
}

// SetStatus changes the bucket status and persists it.
func (b *Bucket) SetStatus(ctx context.Context, status Status) error {
	b.mu.Lock()
	if b.state.Status == status {
		b.mu.Unlock()
		return nil
	}
	enforced := b.state.SetStatus(status)
	b.mu.Unlock()

	if enforced > 0 {
		b.logger.Info("repairs enforced", "repairs", enforced)
	}
	return b.committer.Commit(ctx)
}

// Len returns the number of distinct keys held.
func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.Len()
}

// Snapshot returns a copy of the bucket state.
func (b *Bucket) Snapshot() *State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state.Clone()
}

// Flush persists the current state.
func (b *Bucket) Flush(ctx context.Context) error {
	return b.committer.Commit(ctx)
}
