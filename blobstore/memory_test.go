package blobstore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("payload")
	require.NoError(t, store.Put(ctx, "entity/people/alice", data))

	// Mutating the caller's slice must not change the stored blob.
	data[0] = 'X'

	got, err := ReadAll(ctx, store, "entity/people/alice")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, store.Put(ctx, "entity/people/bob", nil))
	empty, err := ReadAll(ctx, store, "entity/people/bob")
	require.NoError(t, err)
	assert.Empty(t, empty)

	names, err := store.List(ctx, "entity/people/")
	require.NoError(t, err)
	assert.Equal(t, []string{"entity/people/alice", "entity/people/bob"}, names)
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.Delete(ctx, "entity/people/alice"))
	require.NoError(t, store.Delete(ctx, "entity/people/alice"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("blob-%02d", i)
			assert.NoError(t, store.Put(ctx, name, []byte(name)))
			got, err := ReadAll(ctx, store, name)
			assert.NoError(t, err)
			assert.Equal(t, name, string(got))
		}(i)
	}
	wg.Wait()

	names, err := store.List(ctx, "blob-")
	require.NoError(t, err)
	assert.Len(t, names, 16)
}

func TestBytesBlob_ReadAt(t *testing.T) {
	ctx := context.Background()
	b := NewBytesBlob([]byte("hello"))

	buf := make([]byte, 3)
	n, err := b.ReadAt(ctx, buf, 3)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "lo", string(buf[:n]))

	_, err = b.ReadAt(ctx, buf, 10)
	assert.ErrorIs(t, err, io.EOF)
}
