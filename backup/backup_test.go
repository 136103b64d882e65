package backup

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/check"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/internal/cache"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

func noRetry() backoff.BackOff { return &backoff.StopBackOff{} }

type fixture struct {
	t   *testing.T
	dir store.Directory
	sdp *index.SnapshotDeletionPolicy
	w   *index.Writer
	rng *testutil.RNG
	n   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := store.NewRAMDirectory()
	sdp := index.NewSnapshotDeletionPolicy(index.KeepOnlyLastCommit{})
	w, err := index.Open(dir,
		index.WithDeletionPolicy(sdp),
		index.WithMaxBufferedDocs(10),
		index.WithMergePolicy(merge.NoMerge{}),
		index.WithMergeScheduler(merge.NewSerial()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return &fixture{t: t, dir: dir, sdp: sdp, w: w, rng: testutil.NewRNG(7)}
}

// addAndCommit adds n documents and commits.
func (f *fixture) addAndCommit(n int) {
	f.t.Helper()
	for range n {
		_, err := f.w.AddDocument(f.rng.Document(f.n))
		require.NoError(f.t, err)
		f.n++
	}
	_, err := f.w.Commit()
	require.NoError(f.t, err)
}

func fingerprint(t *testing.T, dir store.Directory) check.Fingerprint {
	t.Helper()
	st, err := check.New(dir).Check(context.Background())
	require.NoError(t, err)
	require.True(t, st.Clean, "%+v", st.Segments)
	return st.Fingerprint
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(25)
	_, err := f.w.DeleteDocuments(index.NewTerm("id", "3"))
	require.NoError(t, err)
	_, err = f.w.Commit()
	require.NoError(t, err)

	bs := blobstore.NewMemoryStore()
	b := New(bs, WithVerify(true))
	m, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)
	assert.Equal(t, 0, f.sdp.SnapshotCount())
	assert.Equal(t, len(m.Files), m.Uploaded())
	assert.Positive(t, m.Size())

	latest, err := b.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, latest.ID)
	assert.Equal(t, m.SegmentsFile, latest.SegmentsFile)

	dst := store.NewRAMDirectory()
	restored, err := b.Restore(ctx, "", dst)
	require.NoError(t, err)
	assert.Equal(t, m.ID, restored.ID)

	r, err := index.OpenReader(dst)
	require.NoError(t, err)
	assert.Equal(t, 24, r.NumDocs())
	require.NoError(t, r.Close())

	assert.Equal(t, fingerprint(t, f.dir), fingerprint(t, dst))
}

func TestBackupIsIncremental(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bs := blobstore.NewMemoryStore()
	b := New(bs)

	f.addAndCommit(20)
	first, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)

	f.addAndCommit(10)
	second, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)
	assert.Greater(t, second.Generation, first.Generation)

	old := make(map[string]File)
	for _, file := range first.Files {
		old[file.Name] = file
	}
	reused := 0
	for _, file := range second.Files {
		if prev, ok := old[file.Name]; ok {
			assert.True(t, file.Reused, file.Name)
			assert.Equal(t, prev.Key, file.Key)
			reused++
		} else {
			assert.False(t, file.Reused, file.Name)
		}
	}
	assert.Positive(t, reused)
	assert.Less(t, second.Uploaded(), len(second.Files))

	all, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	dst := store.NewRAMDirectory()
	_, err = b.Restore(ctx, first.ID, dst)
	require.NoError(t, err)
	r, err := index.OpenReader(dst)
	require.NoError(t, err)
	assert.Equal(t, 20, r.NumDocs())
	require.NoError(t, r.Close())
}

func TestBackupWithoutWriter(t *testing.T) {
	_, err := New(blobstore.NewMemoryStore()).Backup(context.Background(), index.NewSnapshotDeletionPolicy(nil))
	assert.ErrorIs(t, err, index.ErrIllegalState)
}

func TestLatestWithoutBackup(t *testing.T) {
	b := New(blobstore.NewMemoryStore())
	_, err := b.Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
	_, err = b.Restore(context.Background(), "", store.NewRAMDirectory())
	assert.ErrorIs(t, err, ErrNoBackup)
	_, err = b.Manifest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestRestoreRefusesExistingIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(5)
	b := New(blobstore.NewMemoryStore())
	_, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)

	_, err = b.Restore(ctx, "", f.dir)
	assert.ErrorIs(t, err, ErrDirectoryNotEmpty)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(15)
	bs := blobstore.NewMemoryStore()
	b := New(bs, WithBackOff(noRetry))
	m, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)

	var victim File
	for _, file := range m.Files {
		if file.Name != m.SegmentsFile {
			victim = file
			break
		}
	}
	data, err := blobstore.Get(ctx, bs, victim.Key)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, bs.Put(ctx, victim.Key, data))

	dst := store.NewRAMDirectory()
	_, err = b.Restore(ctx, m.ID, dst)
	require.ErrorIs(t, err, ErrChecksumMismatch)

	exists, err := dst.FileExists(victim.Name)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = index.ListCommits(dst)
	assert.ErrorIs(t, err, index.ErrNoCommits)
}

func TestRestoreMissingContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(5)
	bs := blobstore.NewMemoryStore()
	b := New(bs)
	m, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)
	require.NoError(t, bs.Delete(ctx, m.Files[0].Key))

	_, err = b.Restore(ctx, m.ID, store.NewRAMDirectory())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bs := blobstore.NewMemoryStore()
	b := New(bs)

	var ids []string
	for range 3 {
		f.addAndCommit(10)
		m, err := b.Backup(ctx, f.sdp)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	res, err := b.Prune(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:2], res.Manifests)
	// the older segments files are only referenced by pruned manifests
	assert.Len(t, res.Files, 2)
	for _, key := range res.Files {
		assert.True(t, strings.HasPrefix(key, filesPrefix+"segments_"), key)
	}

	all, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ids[2], all[0].ID)

	dst := store.NewRAMDirectory()
	_, err = New(bs, WithVerify(true)).Restore(ctx, "", dst)
	require.NoError(t, err)
	assert.Equal(t, fingerprint(t, f.dir), fingerprint(t, dst))
}

func TestBackupZstdToLocalStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(30)

	bs := blobstore.NewLocalStore(t.TempDir())
	m, err := New(bs, WithCompression(CompressionZstd), WithConcurrency(2)).Backup(ctx, f.sdp)
	require.NoError(t, err)
	for _, file := range m.Files {
		assert.Equal(t, CompressionZstd, file.Encoding)
		assert.True(t, strings.HasSuffix(file.Key, zstdSuffix), file.Key)
	}

	// content stored compressed is reused by an uncompressed backup
	again, err := New(bs).Backup(ctx, f.sdp)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Uploaded())

	cached := blobstore.NewCachingStore(bs, cache.NewLRU(1<<20, nil), 4096)
	dst := store.NewRAMDirectory()
	_, err = New(cached, WithVerify(true)).Restore(ctx, m.ID, dst)
	require.NoError(t, err)
	assert.Equal(t, fingerprint(t, f.dir), fingerprint(t, dst))
}

// flakyStore fails the first pointer updates.
type flakyStore struct {
	*blobstore.MemoryStore
	failures atomic.Int32
}

var errFlaky = errors.New("flaky: conditional write failed")

func (s *flakyStore) Put(ctx context.Context, name string, data []byte) error {
	if name == blobstore.PointerName && s.failures.Add(-1) >= 0 {
		return errFlaky
	}
	return s.MemoryStore.Put(ctx, name, data)
}

func TestPointerUpdateIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(5)

	bs := &flakyStore{MemoryStore: blobstore.NewMemoryStore()}
	bs.failures.Store(2)
	fast := func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3) }

	m, err := New(bs, WithBackOff(fast)).Backup(ctx, f.sdp)
	require.NoError(t, err)
	latest, err := New(bs).Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.ID, latest.ID)

	bs.failures.Store(10)
	f.addAndCommit(1)
	_, err = New(bs, WithBackOff(fast)).Backup(ctx, f.sdp)
	assert.ErrorIs(t, err, errFlaky)
}

func TestPointerNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addAndCommit(5)
	old, err := f.sdp.Snapshot()
	require.NoError(t, err)
	defer func() { require.NoError(t, f.sdp.Release(old)) }()

	f.addAndCommit(5)
	bs := blobstore.NewMemoryStore()
	b := New(bs)
	newer, err := b.Backup(ctx, f.sdp)
	require.NoError(t, err)

	older, err := b.BackupCommit(ctx, old)
	require.NoError(t, err)
	assert.Less(t, older.Generation, newer.Generation)

	latest, err := b.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.Equal(t, newer.Generation, latest.Generation)
}
