package check

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

// DefaultLockTimeout bounds how long Exorcise waits for the write lock.
const DefaultLockTimeout = time.Second

// Exorcise writes a new commit holding only the segments st found
// healthy. The documents of the broken segments are lost. The old commit
// stays on disk until the next writer removes it. It is a no-op for a
// clean status.
func (c *Checker) Exorcise(ctx context.Context, st *Status) error {
	if st.Partial {
		return ErrPartialCheck
	}
	if st.infos == nil {
		return ErrNoCommit
	}
	if st.Clean {
		return nil
	}

	lock, err := store.ObtainLockWithTimeout(ctx, c.dir, codec.WriteLockName, DefaultLockTimeout)
	if err != nil {
		return fmt.Errorf("lock index: %w", err)
	}
	defer lock.Close()

	sis := st.infos.Clone()
	sis.Segments = sis.Segments[:0]
	for _, sci := range st.good {
		sis.Segments = append(sis.Segments, sci.Clone())
	}
	sis.Changed()

	name, err := sis.Commit(c.dir, time.Now())
	if err != nil {
		return fmt.Errorf("write exorcised commit: %w", err)
	}
	c.logger.Warn("wrote commit without broken segments",
		"file", name,
		"removedSegments", st.NumBadSegments,
		"lostDocs", st.TotLoseDocCount,
	)
	return nil
}

// CheckAndExorcise checks dir and removes broken segments from a new
// commit. It returns the status of the check before exorcising.
func CheckAndExorcise(ctx context.Context, dir store.Directory, opts ...Option) (*Status, error) {
	c := New(dir, opts...)
	st, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Exorcise(ctx, st); err != nil {
		return st, err
	}
	return st, nil
}
