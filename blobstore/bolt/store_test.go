package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hupe1980/actoridx/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(path)
	require.NoError(t, err)

	_, err = store.Open(ctx, "bucket/email/0")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, "bucket/email/0", []byte("b0")))
	require.NoError(t, store.Put(ctx, "bucket/email/0/next", []byte("b1")))
	require.NoError(t, store.Put(ctx, "queue/people/0@node-1", []byte("q")))

	names, err := store.List(ctx, "bucket/")
	require.NoError(t, err)
	assert.Equal(t, []string{"bucket/email/0", "bucket/email/0/next"}, names)

	require.NoError(t, store.Delete(ctx, "bucket/email/0"))
	require.NoError(t, store.Delete(ctx, "bucket/email/0"))
	require.NoError(t, store.Close())

	// Reopen: data survives.
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := blobstore.ReadAll(ctx, store, "bucket/email/0/next")
	require.NoError(t, err)
	assert.Equal(t, "b1", string(got))

	_, err = store.Open(ctx, "bucket/email/0")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}
