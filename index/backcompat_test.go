package index_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

func hits(t *testing.T, dir store.Directory) ([]int, *index.DirectoryReader) {
	t.Helper()
	r, err := index.OpenReader(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	docs, err := r.DocsWithTerm(index.NewTerm("content", testutil.LegacyTerm))
	require.NoError(t, err)
	return docs, r
}

func TestLegacyIndexSearchAndForceMerge(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(dir))

	docs, r := hits(t, dir)
	assert.Len(t, docs, 34)
	doc, err := r.Document(docs[0])
	require.NoError(t, err)
	assert.Equal(t, "0", doc.Get("id"))

	w, err := index.Open(dir)
	require.NoError(t, err)
	for i := range 10 {
		_, err := w.AddDocument(testutil.LegacyDocument(testutil.LegacyDocs + i))
		require.NoError(t, err)
	}
	require.NoError(t, w.ForceMerge(context.Background(), 1))
	require.NoError(t, w.Close())

	docs, r = hits(t, dir)
	assert.Len(t, docs, 44)
	require.Len(t, r.Leaves(), 1)
	assert.Equal(t, standard.Name, r.Leaves()[0].Reader.CommitInfo().Info.Codec)
}

func TestLegacySegmentsKeepTheirCodec(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(dir))

	_, r := hits(t, dir)
	for _, l := range r.Leaves() {
		assert.NotEqual(t, standard.Name, l.Reader.CommitInfo().Info.Codec)
	}
}

func TestTooOldIndexRejected(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteTooOldIndex(dir))

	_, err := index.OpenReader(dir)
	assert.ErrorIs(t, err, codec.ErrFormatTooOld)

	_, err = index.Open(dir)
	assert.ErrorIs(t, err, codec.ErrFormatTooOld)

	var tooOld *store.IndexFormatTooOldError
	require.ErrorAs(t, err, &tooOld)
	assert.NotEmpty(t, tooOld.Resource)
}

func TestAddIndexesRewritesLegacySegments(t *testing.T) {
	src := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(src))

	dir := store.NewRAMDirectory()
	w, err := index.Open(dir)
	require.NoError(t, err)
	_, err = w.AddIndexes(src)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	docs, r := hits(t, dir)
	assert.Len(t, docs, 34)
	assert.Equal(t, 34, r.MaxDoc())
	for _, l := range r.Leaves() {
		assert.Equal(t, standard.Name, l.Reader.CommitInfo().Info.Codec)
	}
}
