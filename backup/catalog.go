package backup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/blobstore"
)

// Latest returns the manifest the LATEST pointer names.
func (b *Backuper) Latest(ctx context.Context) (*Manifest, error) {
	data, err := blobstore.Get(ctx, b.bs, blobstore.PointerName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, ErrNoBackup
	}
	if err != nil {
		return nil, fmt.Errorf("read pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return nil, ErrNoBackup
	}
	return readManifest(ctx, b.bs, id)
}

// Manifest reads one manifest. An empty id selects the latest backup.
func (b *Backuper) Manifest(ctx context.Context, id string) (*Manifest, error) {
	if id == "" {
		return b.Latest(ctx)
	}
	m, err := readManifest(ctx, b.bs, id)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoBackup, id)
	}
	return m, err
}

// List returns every manifest ordered by commit generation, oldest first.
func (b *Backuper) List(ctx context.Context) ([]*Manifest, error) {
	ids, err := manifestIDs(ctx, b.bs)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	out := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := readManifest(ctx, b.bs, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b *Manifest) int {
		if a.Generation != b.Generation {
			if a.Generation < b.Generation {
				return -1
			}
			return 1
		}
		return a.Created.Compare(b.Created)
	})
	return out, nil
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	Manifests []string
	Files     []string
}

// Prune keeps the newest keep manifests and the one LATEST names, and
// removes the rest together with file content no kept manifest uses.
// It must not run while a backup to the same store is in progress.
func (b *Backuper) Prune(ctx context.Context, keep int) (*PruneResult, error) {
	if keep < 1 {
		keep = 1
	}
	all, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := b.Latest(ctx)
	if err != nil && !errors.Is(err, ErrNoBackup) {
		return nil, err
	}

	res := &PruneResult{}
	used := make(map[string]struct{})
	for i, m := range all {
		if i >= len(all)-keep || (latest != nil && m.ID == latest.ID) {
			for _, f := range m.Files {
				used[f.Key] = struct{}{}
			}
			continue
		}
		res.Manifests = append(res.Manifests, m.ID)
	}

	var errs *multierror.Error
	for _, id := range res.Manifests {
		if err := b.bs.Delete(ctx, manifestKey(id)); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete manifest %s: %w", id, err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return res, err
	}

	keys, err := b.bs.List(ctx, filesPrefix)
	if err != nil {
		return res, fmt.Errorf("list stored files: %w", err)
	}
	for _, key := range keys {
		if _, ok := used[key]; ok {
			continue
		}
		if err := b.bs.Delete(ctx, key); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		res.Files = append(res.Files, key)
	}

	b.logger.Info("pruned backups",
		"manifests", len(res.Manifests),
		"files", len(res.Files),
		"kept", len(all)-len(res.Manifests),
	)
	return res, errs.ErrorOrNil()
}
