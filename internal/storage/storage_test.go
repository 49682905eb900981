package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	content := []byte("local blob content")
	id, size, err := store.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.EqualValues(t, len(content), size)

	rc, err := store.Get(ctx, id)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.Error(t, err)

	// A second delete reports the blob as gone, not a generic failure.
	assert.ErrorIs(t, store.Delete(ctx, id), ErrNotExist)
}

func TestLocalStorage_CreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "blobs")
	_, err := NewLocalStorage(base)
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	content := []byte("in-memory blob")
	id, size, err := store.Put(ctx, bytes.NewReader(content))
	require.NoError(t, err)
	assert.EqualValues(t, len(content), size)
	assert.Equal(t, 1, store.Len())

	rc, err := store.Get(ctx, id)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, store.Delete(ctx, id))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStorage_GetMissing(t *testing.T) {
	store := NewMemoryStorage()

	_, err := store.Get(context.Background(), "no-such-blob")
	assert.ErrorIs(t, err, ErrNotExist)

	err = store.Delete(context.Background(), "no-such-blob")
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestMemoryStorage_ReadsAreIsolated(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	id, _, err := store.Put(ctx, bytes.NewReader([]byte("original")))
	require.NoError(t, err)

	rc, err := store.Get(ctx, id)
	require.NoError(t, err)
	first, err := io.ReadAll(rc)
	require.NoError(t, err)
	first[0] = 'X'

	rc, err = store.Get(ctx, id)
	require.NoError(t, err)
	second, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), second)
}
