package upgrade

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/check"
	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

func fingerprint(t *testing.T, dir store.Directory) check.Fingerprint {
	t.Helper()
	st, err := check.New(dir).Check(context.Background())
	require.NoError(t, err)
	require.True(t, st.Clean, st.Error)
	return st.Fingerprint
}

func assertCurrent(t *testing.T, dir store.Directory) *index.SegmentInfos {
	t.Helper()
	sis, err := index.ReadLatestSegmentInfos(dir)
	require.NoError(t, err)
	for _, sci := range sis.Segments {
		assert.Equal(t, standard.Name, sci.Info.Codec, sci.Name())
		assert.Equal(t, codec.Version, sci.Info.Version, sci.Name())
	}
	return sis
}

func TestUpgradeSingleSegment(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndexSegments(dir, testutil.LegacyDocs))
	want := fingerprint(t, dir)

	res, err := New(dir, WithWriterOptions(index.WithMergeScheduler(merge.NewSerial()))).Upgrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outdated)
	assert.Equal(t, 1, res.SegmentsBefore)
	assert.Equal(t, 1, res.SegmentsAfter)
	assert.NotEmpty(t, res.Commit)

	sis := assertCurrent(t, dir)
	assert.Equal(t, 1, sis.Len())
	assert.Equal(t, want, fingerprint(t, dir))

	r, err := index.OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, testutil.LegacyDocs-1, r.NumDocs())
	n, err := r.DocFreq(index.NewTerm("content", testutil.LegacyTerm))
	require.NoError(t, err)
	assert.Equal(t, testutil.LegacyDocs-1, n)
}

func TestUpgradeManySegments(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(dir))
	want := fingerprint(t, dir)

	res, err := New(dir, WithWriterOptions(index.WithMergeScheduler(merge.NewSerial()))).Upgrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Outdated)
	assert.Equal(t, 4, res.SegmentsBefore)

	assertCurrent(t, dir)
	assert.Equal(t, want, fingerprint(t, dir))

	r, err := index.OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()
	ids, err := r.DocsWithTerm(index.NewTerm("id", strconv.Itoa(testutil.LegacyDeletedDoc)))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestUpgradeCurrentIndexIsNoop(t *testing.T) {
	dir := store.NewRAMDirectory()
	w, err := index.Open(dir, index.WithMergeScheduler(merge.NewSerial()))
	require.NoError(t, err)
	for _, d := range testutil.NewRNG(1).Documents(0, 10) {
		_, err := w.AddDocument(d)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	before, err := index.ReadLatestSegmentInfos(dir)
	require.NoError(t, err)

	res, err := New(dir).Upgrade(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Outdated)
	assert.Empty(t, res.Commit)

	after, err := index.ReadLatestSegmentInfos(dir)
	require.NoError(t, err)
	assert.Equal(t, before.Generation(), after.Generation())
}

func TestUpgradePriorCommits(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndexSegments(dir, testutil.LegacyDocs))

	w, err := index.Open(dir,
		index.WithCodec(standard.NewLegacy(true)),
		index.WithDeletionPolicy(index.KeepAll{}),
		index.WithMergePolicy(merge.NoMerge{}),
	)
	require.NoError(t, err)
	_, err = w.AddDocument(testutil.LegacyDocument(testutil.LegacyDocs))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = New(dir).Upgrade(context.Background())
	require.ErrorIs(t, err, ErrPriorCommits)

	res, err := New(dir,
		WithDeletePriorCommits(true),
		WithWriterOptions(index.WithMergeScheduler(merge.NewSerial())),
	).Upgrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Outdated)
	assertCurrent(t, dir)

	commits, err := index.ListCommits(dir)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestUpgradeTwice(t *testing.T) {
	dir := store.NewRAMDirectory()
	require.NoError(t, testutil.WriteLegacyIndex(dir))
	u := New(dir, WithWriterOptions(index.WithMergeScheduler(merge.NewSerial())))

	res, err := u.Upgrade(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Outdated)

	commits, err := index.ListCommits(dir)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, res.Commit, commits[0].SegmentsFileName())

	res, err = u.Upgrade(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Outdated)
	assert.Empty(t, res.Commit)
}

func TestUpgradeEmptyDirectory(t *testing.T) {
	_, err := New(store.NewRAMDirectory()).Upgrade(context.Background())
	require.ErrorIs(t, err, index.ErrNoCommits)
}
