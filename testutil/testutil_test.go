package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	w1 := rng.Words(10)
	rng.Reset()
	w2 := rng.Words(10)
	assert.Equal(t, w1, w2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestZipfSkew(t *testing.T) {
	rng := NewRNG(4711)
	counts := make([]int, 10)
	for range 2000 {
		counts[rng.Zipf(10, 1.5)]++
	}
	assert.Greater(t, counts[0], counts[9])
}

func TestText(t *testing.T) {
	rng := NewRNG(1)
	for range 50 {
		n := len(rng.Words(0))
		assert.Zero(t, n)
		text := rng.Text(3, 5)
		assert.NotEmpty(t, text)
	}
}

func TestDocument(t *testing.T) {
	rng := NewRNG(1)
	doc := rng.Document(42)
	assert.Equal(t, "42", doc.Get("id"))
	assert.NotEmpty(t, doc.Get("body"))
	_, ok := doc.Field("num")
	assert.True(t, ok)

	docs := rng.Documents(10, 3)
	require.Len(t, docs, 3)
	assert.Equal(t, "12", docs[2].Get("id"))
}

func TestWriteLegacyIndex(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, WriteLegacyIndex(dir))

	r, err := index.OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, LegacyDocs, r.MaxDoc())
	assert.Equal(t, LegacyDocs-1, r.NumDocs())

	live, err := r.IsLive(LegacyDeletedDoc)
	require.NoError(t, err)
	assert.False(t, live)
}

func TestWriteTooOldIndex(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, WriteTooOldIndex(dir))

	_, err := index.OpenReader(dir)
	assert.ErrorIs(t, err, store.ErrFormatTooOld)
}
