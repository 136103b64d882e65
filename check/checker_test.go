package check

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

// buildIndex writes n random documents in segments of perSegment docs and
// deletes every seventh document.
func buildIndex(t *testing.T, dir store.Directory, n, perSegment int) {
	t.Helper()
	w, err := index.Open(dir,
		index.WithMaxBufferedDocs(perSegment),
		index.WithMergePolicy(merge.NoMerge{}),
		index.WithMergeScheduler(merge.NewSerial()),
	)
	require.NoError(t, err)
	rng := testutil.NewRNG(42)
	for i := range n {
		_, err := w.AddDocument(rng.Document(i))
		require.NoError(t, err)
	}
	for i := 0; i < n; i += 7 {
		_, err := w.DeleteDocuments(index.NewTerm("id", strconv.Itoa(i)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestCheckCleanIndex(t *testing.T) {
	dir := store.NewRAMDirectory()
	buildIndex(t, dir, 60, 20)

	st, err := New(dir, WithCrossCheckTermVectors(true)).Check(context.Background())
	require.NoError(t, err)
	require.True(t, st.Clean, "%+v", st.Segments)
	assert.Equal(t, 3, st.NumSegments)
	assert.Len(t, st.Segments, 3)
	assert.False(t, st.Partial)

	live := 0
	for _, seg := range st.Segments {
		assert.True(t, seg.OpenReaderPassed)
		assert.Positive(t, seg.Terms.TermCount)
		assert.Positive(t, seg.Terms.TotPos)
		assert.Equal(t, seg.NumDocs, seg.StoredFields.DocCount)
		assert.Equal(t, seg.NumDocs, seg.TermVectors.DocCount)
		assert.Equal(t, 1, seg.DocValues.TotalNumericFields)
		assert.Equal(t, 1, seg.DocValues.TotalSortedFields)
		assert.Equal(t, seg.NumDeleted, seg.LiveDocs.NumDeleted)
		live += seg.NumDocs
	}
	assert.Equal(t, uint64(live), st.Fingerprint.Docs)
}

func TestCheckPartial(t *testing.T) {
	dir := store.NewRAMDirectory()
	buildIndex(t, dir, 20, 10)

	st, err := New(dir).Check(context.Background(), "_0")
	require.NoError(t, err)
	assert.True(t, st.Partial)
	assert.Equal(t, []string{"_0"}, st.SegmentsChecked)
	assert.ErrorIs(t, New(dir).Exorcise(context.Background(), st), ErrPartialCheck)
}

func TestCheckMissingCommit(t *testing.T) {
	st, err := New(store.NewRAMDirectory()).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Clean)
	assert.True(t, st.MissingSegments)
	assert.ErrorIs(t, New(store.NewRAMDirectory()).Exorcise(context.Background(), st), ErrNoCommit)
}

func TestCheckTooOldIndex(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteTooOldIndex(dir))

	st, err := New(dir).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Clean)
	assert.True(t, st.CantOpenSegments)
	assert.ErrorIs(t, st.Err, codec.ErrFormatTooOld)
	assert.True(t, strings.HasPrefix(st.Error, "format too old"), st.Error)
}

func TestCheckLegacyIndex(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(dir))

	st, err := New(dir).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Clean)
	assert.Equal(t, uint64(testutil.LegacyDocs-1), st.Fingerprint.Docs)
}

func TestCheckBrokenSegmentAndExorcise(t *testing.T) {
	dir := store.NewRAMDirectory()
	buildIndex(t, dir, 30, 10)

	sis, err := index.ReadLatestSegmentInfos(dir)
	require.NoError(t, err)
	victim := sis.Segments[1]
	for _, f := range victim.Info.Files() {
		if !strings.HasSuffix(f, "."+codec.SegmentInfoExtension) {
			require.NoError(t, dir.DeleteFile(f))
			break
		}
	}

	c := New(dir)
	st, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Clean)
	assert.Equal(t, 1, st.NumBadSegments)
	assert.Equal(t, victim.NumDocs(), st.TotLoseDocCount)

	var bad *SegmentStatus
	for _, seg := range st.Segments {
		if !seg.Clean() {
			bad = seg
		}
	}
	require.NotNil(t, bad)
	assert.Equal(t, victim.Name(), bad.Name)
	assert.True(t, strings.HasPrefix(bad.Error, "file not found"), bad.Error)

	require.NoError(t, c.Exorcise(context.Background(), st))

	after, err := New(dir).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, after.Clean)
	assert.Equal(t, 2, after.NumSegments)
	assert.Equal(t, st.Fingerprint, after.Fingerprint)
}

func TestFingerprintIgnoresLayout(t *testing.T) {
	a := store.NewRAMDirectory()
	buildIndex(t, a, 40, 5)
	b := store.NewRAMDirectory()
	buildIndex(t, b, 40, 40)

	stA, err := New(a).Check(context.Background())
	require.NoError(t, err)
	stB, err := New(b).Check(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, stA.NumSegments, stB.NumSegments)
	assert.True(t, stA.Fingerprint.Equal(stB.Fingerprint), "%s != %s", stA.Fingerprint, stB.Fingerprint)

	w, err := index.Open(a, index.WithMergeScheduler(merge.NewSerial()))
	require.NoError(t, err)
	require.NoError(t, w.ForceMerge(context.Background(), 1))
	require.NoError(t, w.Close())

	merged, err := New(a).Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, merged.NumSegments)
	assert.Equal(t, stA.Fingerprint, merged.Fingerprint)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.True(t, strings.HasPrefix(Describe(store.Corruptf("x", "bad")), "corrupt index: "))
	assert.Equal(t, "unknown codec", Kind(codec.ErrUnknownCodec))
}
