package invgo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/backup"
	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
	"github.com/hupe1980/invgo/testutil"
)

func addDocs(t *testing.T, idx *Index, start, n int) {
	t.Helper()
	rng := testutil.NewRNG(int64(start))
	for i := range n {
		_, err := idx.Writer().AddDocument(rng.Document(start + i))
		require.NoError(t, err)
	}
}

func TestOpenCommitAndMetrics(t *testing.T) {
	ctx := context.Background()
	basic := &BasicMetricsCollector{}
	reg := prometheus.NewRegistry()
	prom, err := NewPrometheusCollector(reg, "invgo")
	require.NoError(t, err)

	idx, err := Open("",
		WithDirectoryKind(store.KindRAM),
		WithMetricsCollector(basic),
		WithMetricsCollector(prom),
		WithWriterOptions(
			index.WithMaxBufferedDocs(10),
			index.WithMergeScheduler(merge.NewSerial()),
		),
	)
	require.NoError(t, err)

	addDocs(t, idx, 0, 25)
	_, err = idx.Commit(ctx)
	require.NoError(t, err)

	stats := basic.GetStats()
	assert.Equal(t, int64(1), stats.CommitCount)
	assert.GreaterOrEqual(t, stats.FlushCount, int64(3))
	assert.Equal(t, int64(25), stats.FlushedDocs)
	assert.Equal(t, idx.Writer().SegmentInfos().LastGeneration(), stats.LastGeneration)

	assert.Equal(t, float64(1), promtest.ToFloat64(prom.commits))
	assert.Equal(t, float64(25), promtest.ToFloat64(prom.flushedDocs))
	assert.Equal(t, float64(stats.LastGeneration), promtest.ToFloat64(prom.generation))

	r, err := idx.Reader()
	require.NoError(t, err)
	assert.Equal(t, 25, r.NumDocs())
	require.NoError(t, r.Close())

	require.NoError(t, idx.ForceMerge(ctx, 1))
	assert.Equal(t, 1, idx.Writer().SegmentCount())
	assert.Positive(t, basic.GetStats().MergeCount)

	require.NoError(t, idx.Close())
	_, err = idx.Writer().AddDocument(testutil.NewRNG(1).Document(99))
	assert.ErrorIs(t, err, ErrAlreadyClosed)
}

func TestOpenWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invgo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
writer:
  maxBufferedDocs: 5
merge:
  policy: none
  scheduler: serial
deletion:
  policy: keep_all
logging:
  level: error
`), 0o644))

	dir := t.TempDir()
	idx, err := Open(dir, WithConfigFile(path), WithDirectoryKind(store.KindMMap))
	require.NoError(t, err)
	addDocs(t, idx, 0, 12)
	_, err = idx.Commit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Writer().SegmentCount())
	addDocs(t, idx, 12, 1)
	require.NoError(t, idx.Close())

	commits, err := index.ListCommits(mustFS(t, dir))
	require.NoError(t, err)
	assert.Len(t, commits, 2)
}

func mustFS(t *testing.T, path string) store.Directory {
	t.Helper()
	dir, err := store.NewFSDirectory(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Setenv("INVGO_MERGE_POLICY", "bogus")
	_, err := Open("", WithDirectoryKind(store.KindRAM))
	require.Error(t, err)
}

func TestBackupThroughFacade(t *testing.T) {
	ctx := context.Background()
	idx, err := Open("", WithDirectoryKind(store.KindRAM))
	require.NoError(t, err)
	defer idx.Close()

	addDocs(t, idx, 0, 8)
	_, err = idx.Commit(ctx)
	require.NoError(t, err)

	bs := blobstore.NewMemoryStore()
	m, err := idx.Backup(ctx, bs, backup.WithCompression(backup.CompressionZstd))
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Snapshots().SnapshotCount())

	dst := store.NewRAMDirectory()
	_, err = backup.New(bs, backup.WithVerify(true)).Restore(ctx, m.ID, dst)
	require.NoError(t, err)
	r, err := index.OpenReader(dst)
	require.NoError(t, err)
	assert.Equal(t, 8, r.NumDocs())
	require.NoError(t, r.Close())
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "json", slog.LevelDebug).WithDirectory("/data")

	l.LogCommit(context.Background(), 4, 2, time.Millisecond, nil)
	l.LogMerge(context.Background(), 5, 1, time.Second, errors.New("boom"))
	l.LogFlush(context.Background(), 10, time.Millisecond, nil)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "commit completed", rec["msg"])
	assert.Equal(t, "/data", rec["dir"])
	assert.Equal(t, float64(4), rec["generation"])

	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "merge failed", rec["msg"])
	assert.Equal(t, "ERROR", rec["level"])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNoopCollectorsAreCollectors(t *testing.T) {
	var c MetricsCollector = NoopMetricsCollector{}
	c.OnStall()
	m := multiCollector{&BasicMetricsCollector{}, &BasicMetricsCollector{}}
	m.OnDeletesApplied(3)
	m.OnMerge(2, 10, time.Second, errors.New("x"))
	for _, b := range m {
		s := b.(*BasicMetricsCollector).GetStats()
		assert.Equal(t, int64(3), s.DeletedDocs)
		assert.Equal(t, int64(1), s.MergeErrors)
		assert.Equal(t, int64(0), s.MergeAvgNanos)
	}
}
