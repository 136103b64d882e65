package invgo

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/backup"
	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/internal/config"
	"github.com/hupe1980/invgo/store"
)

// Index is a writer on a directory together with the snapshot policy
// that pins commits for backups.
type Index struct {
	path   string
	dir    store.Directory
	w      *index.Writer
	sdp    *index.SnapshotDeletionPolicy
	logger *Logger
}

// Open opens or creates the index at path.
func Open(path string, optFns ...Option) (_ *Index, err error) {
	o := applyOptions(optFns)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		if o.configPath != "" {
			logger = newLogger(os.Stderr, cfg.Logging.Format, ParseLevel(cfg.Logging.Level))
		} else {
			logger = NoopLogger()
		}
	}
	logger = logger.WithDirectory(path)

	writerOpts := append(cfg.ToOptions(),
		index.WithLogger(logger.Logger),
		index.WithMetrics(o.metricsCollector),
	)
	writerOpts = append(writerOpts, o.writerOptions...)

	// the snapshot policy wraps whatever policy the options selected
	probe := index.DefaultConfig()
	for _, opt := range writerOpts {
		opt(&probe)
	}
	sdp := index.NewSnapshotDeletionPolicy(probe.DeletionPolicy)
	writerOpts = append(writerOpts, index.WithDeletionPolicy(sdp))

	dir, err := store.Open(o.dirKind, path)
	if err != nil {
		return nil, err
	}
	w, err := index.Open(dir, writerOpts...)
	if err != nil {
		_ = dir.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	logger.Info("index opened",
		"kind", o.dirKind,
		"segments", w.SegmentCount(),
		"docs", w.NumDocs(),
	)
	return &Index{path: path, dir: dir, w: w, sdp: sdp, logger: logger}, nil
}

// Writer returns the underlying writer.
func (x *Index) Writer() *index.Writer { return x.w }

// Directory returns the index directory.
func (x *Index) Directory() store.Directory { return x.dir }

// Snapshots returns the deletion policy pinning commits.
func (x *Index) Snapshots() *index.SnapshotDeletionPolicy { return x.sdp }

// Reader opens a near real-time reader including uncommitted changes.
func (x *Index) Reader() (*index.DirectoryReader, error) {
	return x.w.GetReader(true)
}

// Flush writes the buffered documents as new segments without committing.
func (x *Index) Flush(ctx context.Context) error {
	start := time.Now()
	docs := x.w.MaxDoc()
	err := x.w.Flush()
	x.logger.LogFlush(ctx, docs, time.Since(start), err)
	return err
}

// Commit makes all changes durable and returns the sequence number of the
// last covered operation.
func (x *Index) Commit(ctx context.Context) (int64, error) {
	start := time.Now()
	seq, err := x.w.Commit()
	sis := x.w.SegmentInfos()
	x.logger.LogCommit(ctx, sis.LastGeneration(), sis.Len(), time.Since(start), err)
	return seq, err
}

// ForceMerge merges down to at most maxSegments segments.
func (x *Index) ForceMerge(ctx context.Context, maxSegments int) error {
	start := time.Now()
	before := x.w.SegmentCount()
	err := x.w.ForceMerge(ctx, maxSegments)
	x.logger.LogMerge(ctx, before, x.w.SegmentCount(), time.Since(start), err)
	return err
}

// Backup copies the newest commit to bs.
func (x *Index) Backup(ctx context.Context, bs blobstore.BlobStore, opts ...backup.Option) (*backup.Manifest, error) {
	opts = append([]backup.Option{backup.WithLogger(x.logger.Logger)}, opts...)
	m, err := backup.New(bs, opts...).Backup(ctx, x.sdp)
	if err != nil {
		x.logger.LogBackup(ctx, "", 0, 0, 0, err)
		return nil, err
	}
	x.logger.LogBackup(ctx, m.ID, m.Generation, len(m.Files), m.Uploaded(), nil)
	return m, nil
}

// Close commits pending changes, unless disabled, and releases the
// directory.
func (x *Index) Close() error {
	var errs *multierror.Error
	if err := x.w.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := x.dir.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}
	x.logger.Debug("index closed")
	return nil
}
