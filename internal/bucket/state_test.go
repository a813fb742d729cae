package bucket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/actoridx/model"
)

var (
	alice = model.NewEntityRef("player", "alice")
	bob   = model.NewEntityRef("player", "bob")
)

func key(v any) model.Key { return model.MustKeyOf(v) }

func insert(v any) model.IndexUpdate { return model.Plain(model.Diff(model.NullKey, key(v))) }

func del(v any) model.IndexUpdate { return model.Plain(model.Diff(key(v), model.NullKey)) }

func update(from, to any) model.IndexUpdate { return model.Plain(model.Diff(key(from), key(to))) }

func apply(t *testing.T, s *State, ref model.EntityRef, u model.IndexUpdate, meta model.IndexMetaData) {
	t.Helper()
	res, err := s.Apply(ref, u, meta.Unique, meta)
	require.NoError(t, err)
	require.Equal(t, Applied, res)
}

func visible(s *State, v any) []model.EntityRef {
	values, _, _ := s.Lookup(key(v))
	return values
}

func TestStateInsertDelete(t *testing.T) {
	meta := model.IndexMetaData{Name: "city"}
	s := NewState()

	apply(t, s, alice, insert("Seattle"), meta)
	apply(t, s, bob, insert("Seattle"), meta)
	assert.ElementsMatch(t, []model.EntityRef{alice, bob}, visible(s, "Seattle"))

	apply(t, s, alice, del("Seattle"), meta)
	assert.Equal(t, []model.EntityRef{bob}, visible(s, "Seattle"))

	apply(t, s, bob, del("Seattle"), meta)
	assert.Zero(t, s.Len())

	// Deleting an absent value is a no-op.
	apply(t, s, bob, del("Seattle"), meta)
	assert.Zero(t, s.Len())
}

func TestStateUniqueness(t *testing.T) {
	meta := model.IndexMetaData{Name: "email", Unique: true}
	s := NewState()

	apply(t, s, alice, insert("a@x"), meta)

	_, err := s.Apply(bob, insert("a@x"), true, meta)
	var uerr *model.UniquenessError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, key("a@x"), uerr.Key)
	assert.Equal(t, bob, uerr.Entity)
	assert.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)

	apply(t, s, bob, insert("b@x"), meta)
	_, err = s.Apply(bob, update("b@x", "a@x"), true, meta)
	require.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)

	// A failed update leaves the state untouched.
	assert.Equal(t, []model.EntityRef{bob}, visible(s, "b@x"))
	assert.Equal(t, []model.EntityRef{alice}, visible(s, "a@x"))

	// Re-inserting the owner is a replay, not a violation.
	apply(t, s, alice, insert("a@x"), meta)
}

func TestStateTentativeDeleteKeepsSlot(t *testing.T) {
	meta := model.IndexMetaData{Name: "email", Unique: true}
	s := NewState()

	apply(t, s, alice, insert("a@x"), meta)
	apply(t, s, alice, del("a@x").AsTentative(), meta)

	values, tentative, found := s.Lookup(key("a@x"))
	assert.Empty(t, values)
	assert.True(t, tentative)
	assert.True(t, found)

	_, err := s.Apply(bob, insert("a@x"), true, meta)
	require.ErrorIs(t, err, model.ErrUniquenessConstraintViolated)

	apply(t, s, alice, del("a@x"), meta)
	apply(t, s, bob, insert("a@x"), meta)
	assert.Equal(t, []model.EntityRef{bob}, visible(s, "a@x"))
}

func TestStateTentativeConfirmAndUndo(t *testing.T) {
	meta := model.IndexMetaData{Name: "email", Unique: true}

	t.Run("confirm", func(t *testing.T) {
		s := NewState()
		apply(t, s, alice, insert("a@x"), meta)

		u := update("a@x", "b@x").AsTentative()
		apply(t, s, alice, u, meta)
		assert.Empty(t, visible(s, "a@x"))
		assert.Empty(t, visible(s, "b@x"))

		apply(t, s, alice, u.AsFinal(), meta)
		assert.Equal(t, []model.EntityRef{alice}, visible(s, "b@x"))
		_, _, found := s.Lookup(key("a@x"))
		assert.False(t, found)
	})

	t.Run("undo", func(t *testing.T) {
		s := NewState()
		apply(t, s, alice, insert("a@x"), meta)

		u := update("a@x", "b@x").AsTentative()
		apply(t, s, alice, u, meta)
		apply(t, s, alice, u.Reverse(), meta)

		assert.Equal(t, []model.EntityRef{alice}, visible(s, "a@x"))
		_, _, found := s.Lookup(key("b@x"))
		assert.False(t, found)
	})

	t.Run("undo insert", func(t *testing.T) {
		s := NewState()
		u := insert("a@x").AsTentative()
		apply(t, s, alice, u, meta)
		apply(t, s, alice, u.Reverse(), meta)
		assert.Zero(t, s.Len())
	})
}

func TestStateReplayIsIdempotent(t *testing.T) {
	meta := model.IndexMetaData{Name: "email", Unique: true}
	updates := []model.IndexUpdate{
		insert("a@x"),
		update("a@x", "b@x").AsTentative(),
		update("a@x", "b@x"),
		del("b@x").AsTentative(),
	}

	once := NewState()
	for _, u := range updates {
		apply(t, once, alice, u, meta)
	}

	twice := NewState()
	for _, u := range updates {
		apply(t, twice, alice, u, meta)
		apply(t, twice, alice, u, meta)
	}
	assert.Equal(t, once, twice)

	// Undo path.
	undo := once.Clone()
	r := updates[3].Reverse()
	apply(t, undo, alice, r, meta)
	apply(t, undo, alice, r, meta)
	assert.Equal(t, []model.EntityRef{alice}, visible(undo, "b@x"))
}

func TestStateOverflow(t *testing.T) {
	meta := model.IndexMetaData{Name: "n", MaxEntriesPerBucket: 2}
	s := NewState()

	apply(t, s, alice, insert(1), meta)
	apply(t, s, alice, insert(2), meta)

	res, err := s.Apply(alice, insert(3), false, meta)
	require.NoError(t, err)
	assert.Equal(t, NotFoundHere, res)

	// Existing keys still take new values.
	apply(t, s, bob, insert(2), meta)

	// An absent key at the tail is a no-op delete.
	apply(t, s, alice, del(3), meta)

	s.Next = "next"
	res, err = s.Apply(alice, del(3), false, meta)
	require.NoError(t, err)
	assert.Equal(t, NotFoundHere, res)

	apply(t, s, alice, del(1), meta)
	res, err = s.Apply(alice, insert(1), false, meta)
	require.NoError(t, err)
	assert.Equal(t, NotFoundHere, res, "only the tail takes new keys")

	_, err = s.Apply(bob, update(2, 4), false, meta)
	assert.ErrorIs(t, err, ErrSplitRequired)
}

func TestStateRepairs(t *testing.T) {
	meta := model.IndexMetaData{Name: "city"}
	s := NewState()
	s.SetStatus(UnderConstruction)

	apply(t, s, alice, insert("Seattle"), meta)
	apply(t, s, alice, del("Seattle"), meta)
	require.Len(t, s.Repairs, 1)

	// A redelivered insert lands again but keeps the tombstone.
	apply(t, s, alice, insert("Seattle"), meta)
	apply(t, s, bob, insert("Seattle"), meta)
	require.Len(t, s.Repairs, 1)

	assert.Equal(t, 1, s.SetStatus(Available))
	assert.Empty(t, s.Repairs)
	assert.Equal(t, []model.EntityRef{bob}, visible(s, "Seattle"))

	// Available buckets apply inserts without tombstones.
	apply(t, s, alice, del("Seattle"), meta)
	apply(t, s, alice, insert("Seattle"), meta)
	assert.Empty(t, s.Repairs)
	assert.ElementsMatch(t, []model.EntityRef{alice, bob}, visible(s, "Seattle"))
}

func TestStateRepairOfAbsentPair(t *testing.T) {
	meta := model.IndexMetaData{Name: "city"}
	s := NewState()
	s.SetStatus(UnderConstruction)

	// The delete overtakes its insert.
	apply(t, s, alice, del("SF"), meta)
	apply(t, s, alice, insert("SF"), meta)

	assert.Equal(t, 1, s.SetStatus(Available))
	assert.Zero(t, s.Len())
}

func TestStateRepairSkipsTentative(t *testing.T) {
	meta := model.IndexMetaData{Name: "email", Unique: true}
	s := NewState()
	s.SetStatus(UnderConstruction)

	apply(t, s, alice, del("a@x"), meta)
	apply(t, s, alice, insert("a@x").AsTentative(), meta)

	assert.Zero(t, s.SetStatus(Available))
	_, tentative, found := s.Lookup(key("a@x"))
	assert.True(t, tentative)
	assert.True(t, found)
}

func TestStateRejectsTentativeOnNonUnique(t *testing.T) {
	meta := model.IndexMetaData{Name: "city"}
	s := NewState()
	apply(t, s, alice, insert("Seattle"), meta)

	_, err := s.Apply(bob, insert("Seattle").AsTentative(), false, meta)
	require.ErrorIs(t, err, ErrTentativeNonUnique)
	assert.Equal(t, []model.EntityRef{alice}, visible(s, "Seattle"))
}
