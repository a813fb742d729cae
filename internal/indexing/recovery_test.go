package indexing

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/hupe1980/actoridx/internal/workflow"
	"github.com/hupe1980/actoridx/metrics"
	"github.com/hupe1980/actoridx/model"
	"github.com/hupe1980/actoridx/persistence"
)

type fakeLocator struct {
	store   *persistence.Store
	current map[string]*workflow.Queue
	queues  map[string]*workflow.Queue
	down    map[string]bool
	reinc   map[string]*workflow.Queue
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{
		store:   persistence.NewStore(blobstore.NewMemoryStore()),
		current: make(map[string]*workflow.Queue),
		queues:  make(map[string]*workflow.Queue),
		down:    make(map[string]bool),
		reinc:   make(map[string]*workflow.Queue),
	}
}

func (l *fakeLocator) open(t *testing.T, id string) *workflow.Queue {
	t.Helper()
	q, err := workflow.Open(context.Background(), id, l.store, workflow.HandlerFunc(func(context.Context, *workflow.Node) error {
		return nil
	}), func(o *workflow.Options) { o.Paused = true })
	require.NoError(t, err)
	t.Cleanup(q.Stop)
	l.queues[id] = q
	return q
}

func (l *fakeLocator) Current(_ context.Context, iface string) (Queue, error) {
	q, ok := l.current[iface]
	if !ok {
		return nil, fmt.Errorf("no queue for %s: %w", iface, model.ErrNotFound)
	}
	return q, nil
}

func (l *fakeLocator) Resolve(_ context.Context, id string) (Queue, error) {
	if l.down[id] {
		return nil, model.ErrUnreachable
	}
	return l.queues[id], nil
}

func (l *fakeLocator) Reincarnation(ctx context.Context, id string) (Queue, error) {
	if q, ok := l.reinc[id]; ok {
		return q, nil
	}
	q, err := workflow.Open(ctx, workflow.ReincarnationID(id), l.store, nil, func(o *workflow.Options) { o.Passive = true })
	if err != nil {
		return nil, err
	}
	l.reinc[id] = q
	return q, nil
}

func enqueued(t *testing.T, q *workflow.Queue, ref model.EntityRef, n int) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for range n {
		r := model.NewWorkflowRecord(ref, "IPlayer", map[string]model.MemberUpdate{
			"city": model.Diff(model.NullKey, model.MustKeyOf("Seattle")),
		})
		require.NoError(t, q.Enqueue(context.Background(), r))
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRecoverKeepsPendingInCurrentQueue(t *testing.T) {
	ctx := context.Background()
	ref := model.NewEntityRef("player", "a")
	l := newFakeLocator()

	q := l.open(t, workflow.ID("IPlayer", 0, "n1"))
	l.current["IPlayer"] = q
	ids := enqueued(t, q, ref, 2)

	confirmed := uuid.New()
	active := model.NewIDSet(append(ids, confirmed)...)
	res := Recover(ctx, ref, []string{"IPlayer"}, active, map[string]string{"IPlayer": q.ID()}, l)

	assert.True(t, res.Active.Equal(model.NewIDSet(ids...)))
	assert.True(t, res.Changed)
	assert.Zero(t, res.Migrated)
	assert.Equal(t, 2, q.Len())

	// Released records are drained again.
	q.Resume()
	require.NoError(t, q.WaitIdle(ctx))
}

func TestRecoverMigratesFromReassignedQueue(t *testing.T) {
	ctx := context.Background()
	ref := model.NewEntityRef("player", "a")
	other := model.NewEntityRef("player", "b")
	l := newFakeLocator()
	m := &metrics.Basic{}

	old := l.open(t, workflow.ID("IPlayer", 0, "n1"))
	ids := enqueued(t, old, ref, 2)
	foreign := enqueued(t, old, other, 1)

	cur := l.open(t, workflow.ID("IPlayer", 0, "n2"))
	l.current["IPlayer"] = cur

	res := Recover(ctx, ref, []string{"IPlayer"}, model.NewIDSet(ids...), map[string]string{"IPlayer": old.ID()}, l, func(o *RecoverOptions) {
		o.Metrics = m
	})

	assert.True(t, res.Active.Equal(model.NewIDSet(ids...)))
	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, cur.ID(), res.Queues["IPlayer"])
	assert.True(t, res.Changed)

	assert.Equal(t, 2, cur.Len())
	require.Equal(t, 1, old.Len())
	assert.Equal(t, foreign[0], old.Records()[0].ID)
	assert.Equal(t, int64(2), m.GetStats().MigratedRecords)

	// Running recovery again finds the records in place.
	again := Recover(ctx, ref, []string{"IPlayer"}, res.Active, res.Queues, l)
	assert.False(t, again.Changed)
	assert.Zero(t, again.Migrated)
	assert.Equal(t, 2, cur.Len())
}

func TestRecoverUsesReincarnation(t *testing.T) {
	ctx := context.Background()
	ref := model.NewEntityRef("player", "a")
	l := newFakeLocator()

	old := l.open(t, workflow.ID("IPlayer", 0, "n1"))
	ids := enqueued(t, old, ref, 3)
	old.Stop()
	l.down[old.ID()] = true

	cur := l.open(t, workflow.ID("IPlayer", 0, "n2"))
	l.current["IPlayer"] = cur

	// One record was applied before the crash, so it is no longer active.
	active := model.NewIDSet(ids[1:]...)
	res := Recover(ctx, ref, []string{"IPlayer"}, active, map[string]string{"IPlayer": old.ID()}, l)

	assert.True(t, res.Active.Equal(active))
	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, 2, cur.Len())

	reinc := l.reinc[old.ID()]
	require.NotNil(t, reinc)
	assert.Equal(t, 1, reinc.Len())
}

func TestRecoverFailureKeepsActiveSet(t *testing.T) {
	ctx := context.Background()
	ref := model.NewEntityRef("player", "a")
	l := newFakeLocator()
	m := &metrics.Basic{}

	active := model.NewIDSet(uuid.New())
	res := Recover(ctx, ref, []string{"IPlayer"}, active, map[string]string{"IPlayer": "queue/IPlayer/0@n1"}, l, func(o *RecoverOptions) {
		o.Metrics = m
	})

	assert.True(t, res.Active.Equal(active))
	assert.False(t, res.Changed)
	assert.Equal(t, int64(1), m.GetStats().RecoveryErrors)
}
