package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := newApp(&out, &errOut).RunContext(context.Background(), append([]string{"invgo"}, args...))
	return out.String(), err
}

// newIndex writes docs documents into a new index under a temp dir and
// commits every perCommit documents.
func newIndex(t *testing.T, docs, perCommit int, opts ...index.Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index")
	idx, err := invgo.Open(path, invgo.WithWriterOptions(append([]index.Option{
		index.WithMaxBufferedDocs(10),
		index.WithMergePolicy(merge.NoMerge{}),
		index.WithMergeScheduler(merge.NewSerial()),
	}, opts...)...))
	require.NoError(t, err)
	rng := testutil.NewRNG(3)
	for i := range docs {
		_, err := idx.Writer().AddDocument(rng.Document(i))
		require.NoError(t, err)
		if (i+1)%perCommit == 0 {
			_, err = idx.Commit(context.Background())
			require.NoError(t, err)
		}
	}
	require.NoError(t, idx.Close())
	return path
}

func openFS(t *testing.T, path string) store.Directory {
	t.Helper()
	dir, err := store.NewFSDirectory(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func TestMissingPath(t *testing.T) {
	for _, cmd := range []string{"check", "stats", "upgrade"} {
		_, err := run(t, cmd)
		require.Error(t, err, cmd)
		assert.Equal(t, 2, exitCode(err), cmd)
	}
}

func TestUnknownDirImpl(t *testing.T) {
	path := newIndex(t, 5, 5)
	_, err := run(t, "check", "--dir-impl", "nfs", path)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestBadConfigIsUsageError(t *testing.T) {
	t.Setenv("INVGO_DELETION_POLICY", "sometimes")
	_, err := run(t, "stats", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestStats(t *testing.T) {
	path := newIndex(t, 25, 25)
	out, err := run(t, "stats", "--dir-impl", "mmap", path)
	require.NoError(t, err)
	assert.Contains(t, out, "segments_1")
	assert.Contains(t, out, standard.Name)
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "25")
}

func TestCheckCleanIndex(t *testing.T) {
	path := newIndex(t, 25, 25)
	out, err := run(t, "check", "--cross-check-term-vectors", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No problems were detected")
	assert.Contains(t, out, "Fingerprint")
}

func TestCheckEmptyDirectory(t *testing.T) {
	out, err := run(t, "check", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "no commit found")
}

func TestCheckExorciseConflictsWithSegment(t *testing.T) {
	path := newIndex(t, 5, 5)
	_, err := run(t, "check", "--exorcise", "--segment", "_0", path)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestUpgradeLegacyIndex(t *testing.T) {
	t.Setenv("INVGO_MERGE_SCHEDULER", "serial")
	path := t.TempDir()
	require.NoError(t, testutil.WriteLegacyIndex(openFS(t, path)))

	out, err := run(t, "upgrade", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Upgraded 4 of 4 segments")

	out, err = run(t, "upgrade", path)
	require.NoError(t, err)
	assert.Contains(t, out, "are current")

	sis, err := index.ReadLatestSegmentInfos(openFS(t, path))
	require.NoError(t, err)
	assert.Equal(t, testutil.LegacyDocs-1, sis.NumDocs())
}

func TestUpgradePriorCommits(t *testing.T) {
	t.Setenv("INVGO_MERGE_SCHEDULER", "serial")
	path := t.TempDir()
	require.NoError(t, testutil.WriteLegacyIndex(openFS(t, path)))
	w, err := index.Open(openFS(t, path),
		index.WithOpenMode(index.Append),
		index.WithCodec(standard.NewLegacy(true)),
		index.WithDeletionPolicy(index.KeepAll{}),
		index.WithMergePolicy(merge.NoMerge{}),
	)
	require.NoError(t, err)
	_, err = w.AddDocument(testutil.LegacyDocument(testutil.LegacyDocs))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = run(t, "upgrade", path)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, err.Error(), "--delete-prior-commits")

	_, err = run(t, "upgrade", "--delete-prior-commits", path)
	require.NoError(t, err)
	commits, err := index.ListCommits(openFS(t, path))
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	path := newIndex(t, 30, 10)
	target := t.TempDir()

	out, err := run(t, "backup", "--target", "local", "--path", target, "--compression", "zstd", path)
	require.NoError(t, err)
	assert.Contains(t, out, "generation 3")

	out, err = run(t, "backup", "--path", target, path)
	require.NoError(t, err)
	assert.Contains(t, out, "(0 uploaded)")

	out, err = run(t, "backups", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, " *")

	dst := filepath.Join(t.TempDir(), "restored")
	out, err = run(t, "restore", "--path", target, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "restored backup")

	_, err = run(t, "restore", "--path", target, dst)
	require.Error(t, err)

	r, err := index.OpenReader(openFS(t, dst))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 30, r.NumDocs())
}

func TestBackupPrune(t *testing.T) {
	path := newIndex(t, 10, 10)
	target := t.TempDir()
	for range 3 {
		_, err := run(t, "backup", "--path", target, path)
		require.NoError(t, err)
	}
	out, err := run(t, "backup", "--path", target, "--keep", "1", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 3 backups")
}

func TestBackupUnknownTarget(t *testing.T) {
	path := newIndex(t, 5, 5)
	_, err := run(t, "backup", "--target", "ftp", path)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}
