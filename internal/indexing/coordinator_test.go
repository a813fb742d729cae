package indexing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/hupe1980/actoridx/internal/bucket"
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
)

func bucketIndexes[T any](s *Schema[T]) map[string]Index {
	store := persistence.NewStore(blobstore.NewMemoryStore())
	var mu sync.Mutex
	buckets := make(map[string]*bucket.Bucket)

	out := make(map[string]Index)
	for _, d := range s.Defs() {
		meta := d.Meta
		out[meta.Name] = bucket.NewIndex(s.EntityType()+"."+meta.Name, meta, func(ctx context.Context, id string) (*bucket.Bucket, error) {
			mu.Lock()
			defer mu.Unlock()
			if b, ok := buckets[id]; ok {
				return b, nil
			}
			b, err := bucket.Load(ctx, id, meta, store)
			if err != nil {
				return nil, err
			}
			buckets[id] = b
			return b, nil
		})
	}
	return out
}

type fakeQueue struct {
	mu      sync.Mutex
	records []*model.WorkflowRecord
	err     error
}

func (q *fakeQueue) Enqueue(_ context.Context, r *model.WorkflowRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, r)
	return nil
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.records)
}

type fakeHost struct {
	ref    model.EntityRef
	queue  *fakeQueue
	active model.IDSet
}

func newFakeHost(key string) *fakeHost {
	return &fakeHost{ref: model.NewEntityRef("player", key), queue: &fakeQueue{}, active: model.NewIDSet()}
}

func (h *fakeHost) Ref() model.EntityRef { return h.ref }

func (h *fakeHost) Queue(context.Context, string) (Enqueuer, error) { return h.queue, nil }

func (h *fakeHost) AddActive(ids ...uuid.UUID) { h.active.Add(ids...) }

func (h *fakeHost) RemoveActive(ids ...uuid.UUID) { h.active.Remove(ids...) }

type writer struct {
	t       *testing.T
	coord   *Coordinator[player]
	images  Images
	host    *fakeHost
	persist int
}

func newWriter(t *testing.T, c *Coordinator[player], key string) *writer {
	return &writer{t: t, coord: c, images: make(Images), host: newFakeHost(key)}
}

func (w *writer) write(ctx context.Context, p player, persistErr error) error {
	u, err := Generate(w.coord.Schema(), w.images, &p, WriteState, false)
	require.NoError(w.t, err)
	return w.coord.Apply(ctx, w.host, w.images, u, func(context.Context) error {
		w.persist++
		return persistErr
	})
}

func lookupAll(t *testing.T, idx Index, v string) []model.EntityRef {
	t.Helper()
	refs, err := idx.(*bucket.Index).Lookup(context.Background(), model.MustKeyOf(v))
	require.NoError(t, err)
	return refs
}

func newCoordinator(t *testing.T, faultTolerant, eager bool) (*Coordinator[player], map[string]Index) {
	s, err := NewSchema("player", faultTolerant, playerDefs(eager))
	require.NoError(t, err)
	indexes := bucketIndexes(s)
	c, err := NewCoordinator(s, indexes)
	require.NoError(t, err)
	return c, indexes
}

func TestCoordinatorEager(t *testing.T) {
	ctx := context.Background()
	c, indexes := newCoordinator(t, false, true)

	w := newWriter(t, c, "a")
	require.NoError(t, w.write(ctx, player{Email: "a@x", City: "Seattle"}, nil))
	assert.Equal(t, 1, w.persist)
	assert.Equal(t, []model.EntityRef{w.host.ref}, lookupAll(t, indexes["city"], "Seattle"))
	assert.Equal(t, []model.EntityRef{w.host.ref}, lookupAll(t, indexes["email"], "a@x"))
	assert.Zero(t, w.host.queue.len())

	// Email and city change together; the unique update is final.
	require.NoError(t, w.write(ctx, player{Email: "b@x", City: "SF"}, nil))
	assert.Empty(t, lookupAll(t, indexes["city"], "Seattle"))
	assert.Equal(t, []model.EntityRef{w.host.ref}, lookupAll(t, indexes["email"], "b@x"))
	assert.Equal(t, model.MustKeyOf("b@x"), w.images.Get("IPlayer", "email"))

	// Removing a unique value is a two-step delete.
	require.NoError(t, w.write(ctx, player{City: "SF"}, nil))
	assert.Empty(t, lookupAll(t, indexes["email"], "b@x"))
	_, err := indexes["email"].(*bucket.Index).LookupUnique(ctx, model.MustKeyOf("b@x"))
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.False(t, ierr.Tentative)
}

func TestCoordinatorNoUpdatesStillPersists(t *testing.T) {
	c, _ := newCoordinator(t, false, true)
	w := newWriter(t, c, "a")

	require.NoError(t, w.write(context.Background(), player{}, nil))
	assert.Equal(t, 1, w.persist)
}

func TestCoordinatorUniquenessViolation(t *testing.T) {
	ctx := context.Background()
	c, indexes := newCoordinator(t, false, true)

	a := newWriter(t, c, "a")
	b := newWriter(t, c, "b")
	require.NoError(t, a.write(ctx, player{Email: "a@x", City: "Seattle"}, nil))
	require.NoError(t, b.write(ctx, player{Email: "b@x", City: "SF"}, nil))

	err := b.write(ctx, player{Email: "a@x", City: "LA"}, nil)
	require.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)

	// b is unchanged everywhere.
	assert.Equal(t, 1, b.persist)
	assert.Equal(t, model.MustKeyOf("b@x"), b.images.Get("IPlayer", "email"))
	assert.Equal(t, []model.EntityRef{b.host.ref}, lookupAll(t, indexes["email"], "b@x"))
	assert.Equal(t, []model.EntityRef{b.host.ref}, lookupAll(t, indexes["city"], "SF"))
	assert.Empty(t, lookupAll(t, indexes["city"], "LA"))
	assert.Equal(t, []model.EntityRef{a.host.ref}, lookupAll(t, indexes["email"], "a@x"))
}

func TestCoordinatorMultiUniqueUndo(t *testing.T) {
	ctx := context.Background()
	defs := []IndexDef[player]{
		{Interface: "IPlayer", Meta: model.IndexMetaData{Name: "email", Unique: true, Eager: true}, Extract: func(p *player) any { return optional(p.Email) }},
		{Interface: "IPlayer", Meta: model.IndexMetaData{Name: "handle", Unique: true, Eager: true}, Extract: func(p *player) any { return optional(p.City) }},
	}
	s, err := NewSchema("player", false, defs)
	require.NoError(t, err)
	indexes := bucketIndexes(s)
	c, err := NewCoordinator(s, indexes)
	require.NoError(t, err)

	a := newWriter(t, c, "a")
	b := newWriter(t, c, "b")
	require.NoError(t, a.write(ctx, player{Email: "a@x", City: "neo"}, nil))

	// The email is applied tentatively, then the handle collides.
	err = b.write(ctx, player{Email: "b@x", City: "neo"}, nil)
	require.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)

	_, err = indexes["email"].(*bucket.Index).LookupUnique(ctx, model.MustKeyOf("b@x"))
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.False(t, ierr.Tentative, "tentative insert was undone")

	// Both values are settled for the writer that succeeds.
	require.NoError(t, b.write(ctx, player{Email: "b@x", City: "trinity"}, nil))
	ref, err := indexes["handle"].(*bucket.Index).LookupUnique(ctx, model.MustKeyOf("trinity"))
	require.NoError(t, err)
	assert.Equal(t, b.host.ref, ref)
	ref, err = indexes["email"].(*bucket.Index).LookupUnique(ctx, model.MustKeyOf("b@x"))
	require.NoError(t, err)
	assert.Equal(t, b.host.ref, ref)
}

func TestCoordinatorLazyNonFaultTolerant(t *testing.T) {
	ctx := context.Background()
	c, indexes := newCoordinator(t, false, false)
	w := newWriter(t, c, "a")

	require.NoError(t, w.write(ctx, player{Email: "a@x", City: "Seattle"}, nil))
	// One record per interface; the unique update is already visible.
	assert.Equal(t, 2, w.host.queue.len())
	assert.Equal(t, []model.EntityRef{w.host.ref}, lookupAll(t, indexes["email"], "a@x"))
	assert.Empty(t, lookupAll(t, indexes["city"], "Seattle"))
	assert.Empty(t, w.host.active)

	// A record holding only a final unique update is not queued.
	require.NoError(t, w.write(ctx, player{Email: "b@x", City: "Seattle"}, nil))
	assert.Equal(t, 2, w.host.queue.len())
}

func TestCoordinatorLazyFaultTolerant(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, true, false)
	w := newWriter(t, c, "a")

	require.NoError(t, w.write(ctx, player{Email: "a@x", City: "Seattle"}, nil))
	require.Equal(t, 2, w.host.queue.len())
	assert.Len(t, w.host.active, 2)
	for _, r := range w.host.queue.records {
		assert.True(t, w.host.active.Has(r.ID))
	}

	// Unique-only changes are still queued so the handler can confirm them.
	require.NoError(t, w.write(ctx, player{Email: "b@x", City: "Seattle"}, nil))
	assert.Equal(t, 3, w.host.queue.len())
	assert.Len(t, w.host.active, 3)
}

func TestCoordinatorFaultTolerantPersistFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, true, false)
	w := newWriter(t, c, "a")

	boom := errors.New("disk full")
	require.ErrorIs(t, w.write(ctx, player{City: "Seattle"}, boom), boom)

	// The record is durable but not active, so the handler will skip it.
	assert.Equal(t, 2, w.host.queue.len())
	assert.Empty(t, w.host.active)
	assert.Equal(t, model.NullKey, w.images.Get("IPlayer", "city"))
}

func TestCoordinatorFaultTolerantEnqueueFailure(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, true, false)
	w := newWriter(t, c, "a")
	w.host.queue.err = model.ErrUnreachable

	require.ErrorIs(t, w.write(ctx, player{City: "Seattle"}, nil), model.ErrUnreachable)
	assert.Zero(t, w.persist, "state is not persisted before the records are durable")
	assert.Empty(t, w.host.active)
}

func TestNewCoordinatorRequiresEveryIndex(t *testing.T) {
	s, err := NewSchema("player", false, playerDefs(true))
	require.NoError(t, err)

	_, err = NewCoordinator(s, map[string]Index{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}
