package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/invgo/blobstore"
	"github.com/hupe1980/invgo/check"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

// Restore copies the backup id into dst, which must not hold a commit.
// An empty id restores the latest backup. Every file is checked against
// the size and checksum recorded in the manifest.
func (b *Backuper) Restore(ctx context.Context, id string, dst store.Directory) (*Manifest, error) {
	start := b.now()
	m, err := b.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}

	commits, err := index.ListCommits(dst)
	if err != nil && !errors.Is(err, index.ErrNoCommits) {
		return nil, err
	}
	if len(commits) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotEmpty, commits[len(commits)-1].SegmentsFileName())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, f := range m.Files {
		if f.Name == m.SegmentsFile {
			continue
		}
		g.Go(func() error { return b.restoreFile(gctx, f, dst) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seg, ok := m.file(m.SegmentsFile)
	if !ok {
		return nil, fmt.Errorf("manifest %s does not list %s", m.ID, m.SegmentsFile)
	}
	if err := b.restoreFile(ctx, seg, dst); err != nil {
		return nil, err
	}

	names := make([]string, len(m.Files))
	for i, f := range m.Files {
		names[i] = f.Name
	}
	if err := dst.Sync(names); err != nil {
		return nil, fmt.Errorf("sync restored files: %w", err)
	}

	if b.verify {
		st, err := check.New(dst, check.WithLogger(b.base)).Check(ctx)
		if err != nil {
			return nil, err
		}
		if !st.Clean {
			return nil, fmt.Errorf("%w: %d broken segments %s", ErrVerifyFailed, st.NumBadSegments, st.Error)
		}
	}

	b.logger.Info("restore complete",
		"id", m.ID,
		"generation", m.Generation,
		"files", len(m.Files),
		"bytes", m.Size(),
		"took", b.now().Sub(start),
	)
	return m, nil
}

func (b *Backuper) restoreFile(ctx context.Context, f File, dst store.Directory) error {
	err := b.retry(ctx, func() error { return b.download(ctx, f, dst) })
	if err != nil {
		return fmt.Errorf("restore %s: %w", f.Name, err)
	}
	return nil
}

func (b *Backuper) download(ctx context.Context, f File, dst store.Directory) (err error) {
	blob, err := b.bs.Open(ctx, f.Key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return backoff.Permanent(err)
	}
	if err != nil {
		return err
	}
	defer blob.Close()

	rc := io.NopCloser(strings.NewReader(""))
	if blob.Size() > 0 {
		if rc, err = blob.ReadRange(ctx, 0, blob.Size()); err != nil {
			return err
		}
	}
	defer rc.Close()

	var src io.Reader = rc
	if f.Encoding == CompressionZstd {
		dec, err := zstd.NewReader(rc)
		if err != nil {
			return err
		}
		defer dec.Close()
		src = dec
	}

	out, err := dst.CreateOutput(f.Name)
	if errors.Is(err, store.ErrFileExists) {
		return backoff.Permanent(err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = dst.DeleteFile(f.Name)
		}
	}()

	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	if out.Pos() != f.Size || out.Checksum() != f.Checksum {
		return fmt.Errorf("%w: %s has %d bytes crc %08x, want %d bytes crc %08x",
			ErrChecksumMismatch, f.Name, out.Pos(), out.Checksum(), f.Size, f.Checksum)
	}
	b.logger.Debug("file restored", "file", f.Name, "key", f.Key, "size", f.Size)
	return nil
}
