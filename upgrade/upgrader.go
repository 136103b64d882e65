package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// ErrPriorCommits is returned when the index holds more than one commit
// and prior commits may not be deleted.
var ErrPriorCommits = errors.New("upgrade: index holds prior commits")

// ErrNotUpgraded is returned when a segment still carries an old codec
// after the upgrade.
var ErrNotUpgraded = errors.New("upgrade: segment not upgraded")

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithDeletePriorCommits lets the upgrade run on an index with several
// commits. Without it such an index is refused. Either way only the
// upgraded commit remains afterwards.
func WithDeletePriorCommits(on bool) Option {
	return func(u *Upgrader) { u.deletePriorCommits = on }
}

// WithLogger sets the logger. The writer used for the upgrade logs to it
// as well.
func WithLogger(l *slog.Logger) Option {
	return func(u *Upgrader) {
		if l != nil {
			u.base = l
			u.logger = l.With("component", "upgrade")
		}
	}
}

// WithWriterOptions adds options for the writer performing the upgrade,
// e.g. a merge scheduler or RAM buffer size. The merge policy, open mode
// and deletion policy are set by the upgrader.
func WithWriterOptions(opts ...index.Option) Option {
	return func(u *Upgrader) { u.writerOpts = append(u.writerOpts, opts...) }
}

// WithCodec sets the codec segments are upgraded to. It defaults to the
// standard codec.
func WithCodec(c codec.Codec) Option {
	return func(u *Upgrader) { u.codec = c }
}

// Upgrader upgrades the index in one directory.
type Upgrader struct {
	dir                store.Directory
	codec              codec.Codec
	deletePriorCommits bool
	writerOpts         []index.Option
	base               *slog.Logger
	logger             *slog.Logger
}

// Result summarizes an upgrade.
type Result struct {
	// Outdated is the number of segments written by an older codec.
	Outdated       int
	SegmentsBefore int
	SegmentsAfter  int
	// Commit is the segments file written by the upgrade, empty when
	// nothing had to be done.
	Commit string
	Took   time.Duration
}

// New returns an upgrader for dir.
func New(dir store.Directory, opts ...Option) *Upgrader {
	discard := slog.New(slog.DiscardHandler)
	u := &Upgrader{
		dir:    dir,
		codec:  standard.New(),
		base:   discard,
		logger: discard,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upgrade rewrites every outdated segment with the current codec and
// commits. Segments are merged together only as far as forcing the index
// down to one segment requires, so an index of one outdated segment keeps
// one segment.
func (u *Upgrader) Upgrade(ctx context.Context) (_ *Result, err error) {
	start := time.Now()
	commits, err := index.ListCommits(u.dir)
	if err != nil {
		return nil, err
	}
	if !u.deletePriorCommits && len(commits) > 1 {
		names := make([]string, len(commits))
		for i, c := range commits {
			names[i] = c.SegmentsFileName()
		}
		return nil, fmt.Errorf("%w: %s", ErrPriorCommits, strings.Join(names, ", "))
	}

	before, err := index.ReadLatestSegmentInfos(u.dir)
	if err != nil {
		return nil, err
	}
	res := &Result{SegmentsBefore: before.Len()}
	current := u.codec.Name()
	for _, sci := range before.Segments {
		if sci.Info.Codec != current {
			res.Outdated++
		}
	}
	u.logger.Info("upgrading index",
		"dir", fmt.Sprint(u.dir),
		"segments", res.SegmentsBefore,
		"outdated", res.Outdated,
		"codec", current,
	)
	if res.Outdated == 0 {
		res.SegmentsAfter = res.SegmentsBefore
		res.Took = time.Since(start)
		u.logger.Info("index is current")
		return res, nil
	}

	policy := merge.NewUpgrade(merge.NewTiered(), current)
	policy.Logger = u.base

	opts := append([]index.Option{
		index.WithCodec(u.codec),
		index.WithLogger(u.base),
	}, u.writerOpts...)
	opts = append(opts,
		index.WithOpenMode(index.Append),
		index.WithMergePolicy(policy),
		index.WithDeletionPolicy(index.KeepOnlyLastCommit{}),
	)
	w, err := index.Open(u.dir, opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if rerr := w.Rollback(); rerr != nil && !errors.Is(rerr, index.ErrAlreadyClosed) {
				err = multierror.Append(err, rerr)
			}
		}
	}()

	if err = w.ForceMerge(ctx, 1); err != nil {
		return nil, fmt.Errorf("upgrade merge: %w", err)
	}
	if _, err = w.Commit(); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	after, err := index.ReadLatestSegmentInfos(u.dir)
	if err != nil {
		return nil, err
	}
	for _, sci := range after.Segments {
		if sci.Info.Codec != current {
			return nil, fmt.Errorf("%w: %s has codec %s", ErrNotUpgraded, sci.Name(), sci.Info.Codec)
		}
	}
	res.SegmentsAfter = after.Len()
	res.Commit = after.SegmentsFileName()
	res.Took = time.Since(start)
	u.logger.Info("upgrade finished",
		"commit", res.Commit,
		"segments", res.SegmentsAfter,
		"took", res.Took,
	)
	return res, nil
}
