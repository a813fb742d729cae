package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Open(ctx, "entity/people/alice")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, s.Put(ctx, "entity/people/alice", []byte("v1")))
	require.NoError(t, s.Put(ctx, "entity/people/alice", []byte("v2")))
	require.NoError(t, s.Put(ctx, "entity/people_archive/x", []byte("x")))
	require.NoError(t, s.Put(ctx, "queue/people/0@node-1", []byte("q")))

	got, err := blobstore.ReadAll(ctx, s, "entity/people/alice")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	names, err := s.List(ctx, "entity/people/")
	require.NoError(t, err)
	assert.Equal(t, []string{"entity/people/alice"}, names)

	// Prefixes are matched literally, not as LIKE patterns.
	names, err = s.List(ctx, "entity/people_")
	require.NoError(t, err)
	assert.Equal(t, []string{"entity/people_archive/x"}, names)

	require.NoError(t, s.Delete(ctx, "entity/people/alice"))
	require.NoError(t, s.Delete(ctx, "entity/people/alice"))
	_, err = s.Open(ctx, "entity/people/alice")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				name := fmt.Sprintf("bucket/idx/%d", i)
				assert.NoError(t, s.Put(ctx, name, []byte(fmt.Sprintf("%d-%d", i, j))))
			}
		}(i)
	}
	wg.Wait()

	names, err := s.List(ctx, "bucket/idx/")
	require.NoError(t, err)
	assert.Len(t, names, 8)

	got, err := blobstore.ReadAll(ctx, s, "bucket/idx/3")
	require.NoError(t, err)
	assert.Equal(t, "3-9", string(got))
}
