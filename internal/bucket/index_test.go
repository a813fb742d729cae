package bucket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
)

// registry activates buckets once per address, like the directory does.
type registry struct {
	meta  model.IndexMetaData
	store *persistence.Store

	mu      sync.Mutex
	buckets map[string]*Bucket
}

func newRegistry(meta model.IndexMetaData, blobs blobstore.BlobStore) *registry {
	return &registry{
		meta:    meta,
		store:   persistence.NewStore(blobs),
		buckets: make(map[string]*Bucket),
	}
}

func (r *registry) resolve(ctx context.Context, id string) (*Bucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buckets[id]; ok {
		return b, nil
	}
	b, err := Load(ctx, id, r.meta, r.store)
	if err != nil {
		return nil, err
	}
	r.buckets[id] = b
	return b, nil
}

func newIndex(meta model.IndexMetaData) (*Index, *registry, *metrics.Basic) {
	reg := newRegistry(meta, blobstore.NewMemoryStore())
	m := &metrics.Basic{}
	x := NewIndex("player."+meta.Name, meta, reg.resolve, func(o *IndexOptions) {
		o.Metrics = m
	})
	return x, reg, m
}

func player(i int) model.EntityRef {
	return model.NewEntityRef("player", fmt.Sprint(i))
}

func TestIndexOverflowChain(t *testing.T) {
	ctx := context.Background()
	x, _, m := newIndex(model.IndexMetaData{Name: "n", MaxEntriesPerBucket: 5})

	for i := range 20 {
		require.NoError(t, x.Apply(ctx, player(i), insert(i)))
	}

	n, err := x.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(3), m.GetStats().ChainGrowths)

	// Keys held only by the last bucket are reachable through the chain.
	refs, err := x.Lookup(ctx, key(19))
	require.NoError(t, err)
	assert.Equal(t, []model.EntityRef{player(19)}, refs)

	require.NoError(t, x.Apply(ctx, player(19), del(19)))
	refs, err = x.Lookup(ctx, key(19))
	require.NoError(t, err)
	assert.Empty(t, refs)

	// The freed slot in the tail is reused and no new bucket is created.
	require.NoError(t, x.Apply(ctx, player(20), insert(20)))
	n, err = x.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Updates across the chain move the entity.
	require.NoError(t, x.Apply(ctx, player(0), update(0, 21)))
	refs, err = x.Lookup(ctx, key(21))
	require.NoError(t, err)
	assert.Equal(t, []model.EntityRef{player(0)}, refs)
	refs, err = x.Lookup(ctx, key(0))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestIndexPartitions(t *testing.T) {
	ctx := context.Background()
	x, reg, _ := newIndex(model.IndexMetaData{Name: "city", Partitions: 4})

	for i := range 40 {
		require.NoError(t, x.Apply(ctx, player(i), insert(fmt.Sprintf("city-%d", i%10))))
	}
	for i := range 10 {
		refs, err := x.Lookup(ctx, key(fmt.Sprintf("city-%d", i)))
		require.NoError(t, err)
		assert.Len(t, refs, 4)
	}

	// An update whose images map to different partitions is split.
	require.NoError(t, x.Apply(ctx, player(0), update("city-0", "elsewhere")))
	refs, err := x.Lookup(ctx, key("city-0"))
	require.NoError(t, err)
	assert.Len(t, refs, 3)
	refs, err = x.Lookup(ctx, key("elsewhere"))
	require.NoError(t, err)
	assert.Equal(t, []model.EntityRef{player(0)}, refs)

	reg.mu.Lock()
	assert.LessOrEqual(t, len(reg.buckets), 4)
	reg.mu.Unlock()
}

func TestIndexUniqueUnderInterleavings(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newIndex(model.IndexMetaData{Name: "email", Unique: true, MaxEntriesPerBucket: 3})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := x.Apply(ctx, player(i), insert("shared@x"))
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)
		}(i)
	}

	// Concurrent readers never observe two owners.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			refs, err := x.Lookup(ctx, key("shared@x"))
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(refs), 1)
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, int32(1), wins.Load())
	owner, err := x.LookupUnique(ctx, key("shared@x"))
	require.NoError(t, err)
	assert.Equal(t, "player", owner.Type)
}

func TestIndexLookupUnique(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newIndex(model.IndexMetaData{Name: "email", Unique: true})

	_, err := x.LookupUnique(ctx, key("missing"))
	var ierr *model.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Zero(t, ierr.Found)

	require.NoError(t, x.Apply(ctx, alice, insert("a@x").AsTentative()))
	_, err = x.LookupUnique(ctx, key("a@x"))
	require.ErrorAs(t, err, &ierr)
	assert.True(t, ierr.Tentative)

	require.NoError(t, x.Apply(ctx, alice, insert("a@x")))
	ref, err := x.LookupUnique(ctx, key("a@x"))
	require.NoError(t, err)
	assert.Equal(t, alice, ref)
}

func TestIndexApplyBatch(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newIndex(model.IndexMetaData{Name: "email", Unique: true, Partitions: 2, MaxEntriesPerBucket: 2})

	items := []Item{
		{Entity: alice, Update: insert("a@x")},
		{Entity: bob, Update: insert("a@x")}, // violation, skipped
		{Entity: bob, Update: insert("b@x")},
		{Entity: bob, Update: update("b@x", "c@x")},
	}
	for i := range 6 {
		items = append(items, Item{Entity: player(i), Update: insert(i)})
	}

	require.NoError(t, x.ApplyBatch(ctx, items))
	// Redelivery leaves the same result.
	require.NoError(t, x.ApplyBatch(ctx, items))

	ref, err := x.LookupUnique(ctx, key("a@x"))
	require.NoError(t, err)
	assert.Equal(t, alice, ref)

	ref, err = x.LookupUnique(ctx, key("c@x"))
	require.NoError(t, err)
	assert.Equal(t, bob, ref)

	refs, err := x.Lookup(ctx, key("b@x"))
	require.NoError(t, err)
	assert.Empty(t, refs)

	for i := range 6 {
		ref, err := x.LookupUnique(ctx, key(i))
		require.NoError(t, err)
		assert.Equal(t, player(i), ref)
	}
}

func TestIndexApplyBatchKeepsKeyOrderAcrossChain(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newIndex(model.IndexMetaData{Name: "city", MaxEntriesPerBucket: 2})

	require.NoError(t, x.ApplyBatch(ctx, []Item{
		{Entity: alice, Update: insert("A")},
		{Entity: alice, Update: insert("B")},
	}))

	// The tail is full: the insert moves to a new bucket and the delete
	// must follow it there.
	items := []Item{
		{Entity: bob, Update: insert("C")},
		{Entity: bob, Update: del("C")},
	}
	require.NoError(t, x.ApplyBatch(ctx, items))

	n, err := x.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	refs, err := x.Lookup(ctx, key("C"))
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, x.ApplyBatch(ctx, items))
	refs, err = x.Lookup(ctx, key("C"))
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestBucketApplyBatchDefersFollowers(t *testing.T) {
	ctx := context.Background()
	meta := model.IndexMetaData{Name: "city", MaxEntriesPerBucket: 1}
	reg := newRegistry(meta, blobstore.NewMemoryStore())

	b, err := reg.resolve(ctx, ID("player.city", 0))
	require.NoError(t, err)
	_, err = b.Apply(ctx, alice, insert("A"))
	require.NoError(t, err)

	rest, violations, err := b.ApplyBatch(ctx, []Item{
		{Entity: bob, Update: insert("C")},
		{Entity: alice, Update: insert("A")},
		{Entity: bob, Update: del("C")},
	})
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, []Item{
		{Entity: bob, Update: insert("C")},
		{Entity: bob, Update: del("C")},
	}, rest)
}

func TestIndexStatus(t *testing.T) {
	ctx := context.Background()
	x, _, _ := newIndex(model.IndexMetaData{Name: "n", MaxEntriesPerBucket: 1})

	require.NoError(t, x.Apply(ctx, alice, insert(1)))
	require.NoError(t, x.SetStatus(ctx, UnderConstruction))

	ok, err := x.IsAvailable(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = x.Lookup(ctx, key(1))
	assert.ErrorIs(t, err, model.ErrIndexUnavailable)

	// Writes keep working and new chain links inherit the status.
	require.NoError(t, x.Apply(ctx, bob, insert(2)))
	require.NoError(t, x.Apply(ctx, alice, del(1)))

	require.NoError(t, x.SetStatus(ctx, Available))
	ok, err = x.IsAvailable(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	refs, err := x.Lookup(ctx, key(2))
	require.NoError(t, err)
	assert.Equal(t, []model.EntityRef{bob}, refs)
}

func TestBucketPersistence(t *testing.T) {
	ctx := context.Background()
	meta := model.IndexMetaData{Name: "n", MaxEntriesPerBucket: 2}
	blobs := blobstore.NewMemoryStore()

	x := NewIndex("player.n", meta, newRegistry(meta, blobs).resolve)
	for i := range 5 {
		require.NoError(t, x.Apply(ctx, player(i), insert(i)))
	}

	// A fresh activation table reloads the chain from storage.
	reloaded := NewIndex("player.n", meta, newRegistry(meta, blobs).resolve)
	n, err := reloaded.Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	refs, err := reloaded.Lookup(ctx, key(4))
	require.NoError(t, err)
	assert.Equal(t, []model.EntityRef{player(4)}, refs)
}

func TestBucketGroupCommit(t *testing.T) {
	ctx := context.Background()
	meta := model.IndexMetaData{Name: "n"}
	reg := newRegistry(meta, blobstore.NewMemoryStore())

	b, err := reg.resolve(ctx, ID("player.n", 0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.Apply(ctx, player(i), insert("x"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, b.committer.Writes(), uint64(50))
	assert.Equal(t, uint64(50), b.committer.Requests())

	var state State
	found, err := reg.store.Load(ctx, b.ID(), &state)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, state.Entries[key("x")].Values, 50)
}
