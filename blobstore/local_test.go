package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewLocalStore(tmpDir)
	ctx := context.Background()

	blobName := "backup-1/_0.cfs"
	data := []byte("hello world, this is a test blob for invgo")

	w, err := store.Create(ctx, blobName)
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "blob must not be visible before Close")

	require.NoError(t, w.Close())
	_, err = os.Stat(filepath.Join(tmpDir, "backup-1", "_0.cfs"))
	require.NoError(t, err)

	blob, err := store.Open(ctx, blobName)
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(buf))

	rc, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "this", string(content))

	require.NoError(t, store.Put(ctx, "backup-1/segments_1", []byte("x")))
	require.NoError(t, store.Put(ctx, "LATEST", []byte("backup-1")))

	names, err = store.List(ctx, "backup-1/")
	require.NoError(t, err)
	require.Equal(t, []string{"backup-1/_0.cfs", "backup-1/segments_1"}, names)

	require.NoError(t, store.Delete(ctx, blobName))
	require.NoError(t, store.Delete(ctx, blobName))
	_, err = store.Open(ctx, blobName)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := Get(ctx, store, "LATEST")
	require.NoError(t, err)
	assert.Equal(t, "backup-1", string(got))
}

func TestLocalStoreReadRangeBoundaries(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, "boundary.bin", data))

	blob, err := store.Open(ctx, "boundary.bin")
	require.NoError(t, err)
	defer blob.Close()

	r, err := blob.ReadRange(ctx, 0, 10)
	require.NoError(t, err)
	content, _ := io.ReadAll(r)
	require.Equal(t, data, content)

	r, err = blob.ReadRange(ctx, 8, 5)
	require.NoError(t, err)
	content, err = io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "89", string(content))

	_, err = blob.ReadRange(ctx, 20, 5)
	require.ErrorIs(t, err, io.EOF)
}

func TestLocalStoreListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w, err := s.Create(ctx, "a/1")
	require.NoError(t, err)
	_, err = w.Write([]byte("one"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.Put(ctx, "a/2", []byte("two")))
	require.NoError(t, s.Put(ctx, "b/1", []byte("three")))

	names, err := s.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, names)

	got, err := Get(ctx, s, "a/1")
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	_, err = s.Open(ctx, "c")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "a/1"))
	assert.Equal(t, 2, s.Len())
}
