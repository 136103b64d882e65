package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/index"
	ihash "github.com/hupe1980/invgo/internal/hash"
	"github.com/hupe1980/invgo/store"
)

// DefaultConcurrency is the number of files copied in parallel.
const DefaultConcurrency = 4

// Option configures a Backuper.
type Option func(*Backuper)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backuper) {
		if l != nil {
			b.base = l
			b.logger = l.With("component", "backup")
		}
	}
}

// WithConcurrency bounds the number of files copied at once.
func WithConcurrency(n int) Option {
	return func(b *Backuper) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithCompression selects how new file content is stored. Content
// already in the store keeps its encoding.
func WithCompression(c Compression) Option {
	return func(b *Backuper) { b.compression = c }
}

// WithVerify runs the consistency checker on every restored index.
func WithVerify(on bool) Option {
	return func(b *Backuper) { b.verify = on }
}

// WithBackOff sets the retry schedule of blob store operations.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(b *Backuper) {
		if newBackOff != nil {
			b.newBackOff = newBackOff
		}
	}
}

// Backuper copies commits to a blob store and back.
type Backuper struct {
	bs          blobstore.BlobStore
	base        *slog.Logger
	logger      *slog.Logger
	concurrency int
	compression Compression
	verify      bool
	newBackOff  func() backoff.BackOff
	now         func() time.Time
}

// New returns a Backuper writing to bs.
func New(bs blobstore.BlobStore, opts ...Option) *Backuper {
	b := &Backuper{
		bs:          bs,
		base:        slog.New(slog.DiscardHandler),
		logger:      slog.New(slog.DiscardHandler),
		concurrency: DefaultConcurrency,
		compression: CompressionNone,
		newBackOff:  defaultBackOff,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(eb, 5)
}

func (b *Backuper) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(op, backoff.WithContext(b.newBackOff(), ctx))
}

// Backup pins the newest commit of the writer using sdp, copies it and
// releases it again.
func (b *Backuper) Backup(ctx context.Context, sdp *index.SnapshotDeletionPolicy) (_ *Manifest, err error) {
	commit, err := sdp.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot commit: %w", err)
	}
	defer func() {
		if rerr := sdp.Release(commit); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return b.BackupCommit(ctx, commit)
}

// BackupCommit copies commit and moves the LATEST pointer to it. The
// caller keeps the commit files alive until it returns.
func (b *Backuper) BackupCommit(ctx context.Context, commit index.IndexCommit) (*Manifest, error) {
	start := b.now()
	m := &Manifest{
		Version:      ManifestVersion,
		ID:           uuid.NewString(),
		Generation:   commit.Generation(),
		SegmentsFile: commit.SegmentsFileName(),
		SegmentCount: commit.SegmentCount(),
		UserData:     commit.UserData(),
		CommitTime:   commit.Timestamp(),
		Created:      start.UTC(),
	}

	existing, err := b.bs.List(ctx, filesPrefix)
	if err != nil {
		return nil, fmt.Errorf("list stored files: %w", err)
	}

	names := slices.Clone(commit.FileNames())
	slices.Sort(names)
	m.Files = make([]File, len(names))

	dir := commit.Directory()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, name := range names {
		g.Go(func() error {
			f, err := b.copyFile(gctx, dir, name, existing)
			if err != nil {
				return fmt.Errorf("backup %s: %w", name, err)
			}
			m.Files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := b.retry(ctx, func() error { return writeManifest(ctx, b.bs, m) }); err != nil {
		return nil, err
	}
	if err := b.publish(ctx, m); err != nil {
		return nil, err
	}

	b.logger.Info("backup complete",
		"id", m.ID,
		"generation", m.Generation,
		"files", len(m.Files),
		"uploaded", m.Uploaded(),
		"bytes", m.Size(),
		"took", b.now().Sub(start),
	)
	return m, nil
}

// publish moves the pointer to m unless a newer commit was published
// meanwhile.
func (b *Backuper) publish(ctx context.Context, m *Manifest) error {
	return b.retry(ctx, func() error {
		cur, err := b.Latest(ctx)
		switch {
		case errors.Is(err, ErrNoBackup):
		case err != nil:
			return err
		case cur.Generation > m.Generation:
			b.logger.Debug("pointer already newer", "current", cur.ID, "generation", cur.Generation)
			return nil
		}
		if err := b.bs.Put(ctx, blobstore.PointerName, []byte(m.ID)); err != nil {
			b.logger.Debug("pointer update failed", "id", m.ID, "error", err)
			return err
		}
		return nil
	})
}

func (b *Backuper) copyFile(ctx context.Context, dir store.Directory, name string, existing []string) (File, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return File{}, err
	}
	defer in.Close()

	crc := ihash.NewCRC32C()
	if err := store.CopyBytes(crc, in, in.Len()); err != nil {
		return File{}, err
	}
	f := File{Name: name, Size: in.Len(), Checksum: crc.Sum32()}

	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		if key := fileKey(name, f.Checksum, c); containsSorted(existing, key) {
			f.Key, f.Encoding, f.Reused = key, c, true
			b.logger.Debug("file already stored", "file", name, "key", key)
			return f, nil
		}
	}

	f.Key, f.Encoding = fileKey(name, f.Checksum, b.compression), b.compression
	err = b.retry(ctx, func() error {
		if err := in.SeekTo(0); err != nil {
			return backoff.Permanent(err)
		}
		return b.upload(ctx, f, in)
	})
	if err != nil {
		return File{}, err
	}
	b.logger.Debug("file uploaded", "file", name, "key", f.Key, "size", f.Size)
	return f, nil
}

func (b *Backuper) upload(ctx context.Context, f File, in store.IndexInput) (err error) {
	w, err := b.bs.Create(ctx, f.Key)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = blobstore.Discard(ctx, b.bs, f.Key, w)
		}
	}()

	var dst io.Writer = w
	var enc *zstd.Encoder
	if f.Encoding == CompressionZstd {
		if enc, err = zstd.NewWriter(w); err != nil {
			return backoff.Permanent(err)
		}
		dst = enc
	}
	if err := store.CopyBytes(dst, in, f.Size); err != nil {
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	if err := w.Sync(); err != nil {
		return err
	}
	return w.Close()
}

func containsSorted(sorted []string, s string) bool {
	_, ok := slices.BinarySearch(sorted, s)
	return ok
}
