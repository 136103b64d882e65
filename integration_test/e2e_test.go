package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo"
	"github.com/hupe1980/invgo/backup"
	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/blobstore/s3"
	"github.com/hupe1980/invgo/check"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
	"github.com/hupe1980/invgo/upgrade"
)

func openIndex(t *testing.T, path string, kind store.Kind, opts ...index.Option) *invgo.Index {
	t.Helper()
	idx, err := invgo.Open(path,
		invgo.WithDirectoryKind(kind),
		invgo.WithWriterOptions(append([]index.Option{
			index.WithMaxBufferedDocs(50),
			index.WithMergeScheduler(merge.NewSerial()),
		}, opts...)...),
	)
	require.NoError(t, err)
	return idx
}

func addDocs(t *testing.T, idx *invgo.Index, start, n int) {
	t.Helper()
	for _, doc := range testutil.NewRNG(int64(start)).Documents(start, n) {
		_, err := idx.Writer().AddDocument(doc)
		require.NoError(t, err)
	}
}

func fingerprint(t *testing.T, dir store.Directory) check.Fingerprint {
	t.Helper()
	st, err := check.New(dir).Check(context.Background())
	require.NoError(t, err)
	require.True(t, st.Clean, st.Error)
	return st.Fingerprint
}

func TestE2E_Restart(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	// 1. Open and Insert
	idx := openIndex(t, path, store.KindFS)
	addDocs(t, idx, 0, 120)
	_, err := idx.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	// 2. Reopen and Verify
	idx = openIndex(t, path, store.KindMMap)
	defer idx.Close()
	assert.Equal(t, 120, idx.Writer().NumDocs())

	r, err := idx.Reader()
	require.NoError(t, err)
	defer r.Close()
	n, err := r.DocFreq(index.NewTerm("id", "42"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestE2E_UncommittedChangesAreLost(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()

	idx := openIndex(t, path, store.KindFS, index.WithCommitOnClose(false))
	addDocs(t, idx, 0, 60)
	_, err := idx.Commit(ctx)
	require.NoError(t, err)
	addDocs(t, idx, 60, 60)
	_, err = idx.Writer().DeleteDocuments(index.NewTerm("id", "1"))
	require.NoError(t, err)
	require.NoError(t, idx.Flush(ctx))
	require.NoError(t, idx.Close())

	dir, err := store.NewFSDirectory(path)
	require.NoError(t, err)
	defer dir.Close()
	r, err := index.OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 60, r.NumDocs())
	assert.False(t, r.HasDeletions())
}

func TestE2E_UpgradeCheckBackupRestore(t *testing.T) {
	ctx := context.Background()
	dir, err := store.NewFSDirectory(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()

	require.NoError(t, testutil.WriteLegacyIndex(dir))
	want := fingerprint(t, dir)

	res, err := upgrade.New(dir,
		upgrade.WithWriterOptions(index.WithMergeScheduler(merge.NewSerial())),
	).Upgrade(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Outdated)
	assert.Equal(t, want, fingerprint(t, dir))

	commits, err := index.ListCommits(dir)
	require.NoError(t, err)
	bs := blobstore.NewLocalStore(t.TempDir())
	b := backup.New(bs, backup.WithCompression(backup.CompressionZstd), backup.WithVerify(true))
	m, err := b.BackupCommit(ctx, commits[len(commits)-1])
	require.NoError(t, err)

	dst, err := store.Open(store.KindMMap, filepath.Join(t.TempDir(), "restored"))
	require.NoError(t, err)
	defer dst.Close()
	_, err = b.Restore(ctx, m.ID, dst)
	require.NoError(t, err)
	assert.Equal(t, want, fingerprint(t, dst))
}

func TestE2E_S3Backup(t *testing.T) {
	bucket := os.Getenv("S3_BUCKET")
	if bucket == "" {
		t.Skip("S3_BUCKET not set")
	}
	ctx := context.Background()

	bs, err := s3.New(ctx, bucket, s3.WithPrefix("invgo-e2e/"+filepath.Base(t.TempDir())))
	require.NoError(t, err)

	idx := openIndex(t, "", store.KindRAM)
	defer idx.Close()
	addDocs(t, idx, 0, 200)
	_, err = idx.Commit(ctx)
	require.NoError(t, err)

	m, err := idx.Backup(ctx, bs)
	require.NoError(t, err)

	dst := store.NewRAMDirectory()
	_, err = backup.New(bs, backup.WithVerify(true)).Restore(ctx, m.ID, dst)
	require.NoError(t, err)
	assert.Equal(t, fingerprint(t, idx.Directory()), fingerprint(t, dst))
}
