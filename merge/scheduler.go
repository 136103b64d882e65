package merge

import (
	"context"
	"sync"
)

// Source hands out the merges registered with a writer and executes them.
type Source interface {
	// NextMerge returns the next pending merge, nil if there is none.
	NextMerge() *OneMerge

	// HasPendingMerges reports whether NextMerge would return a merge.
	HasPendingMerges() bool

	// Merge executes m and records its outcome on m.
	Merge(ctx context.Context, m *OneMerge) error
}

// Scheduler decides on which goroutine pending merges run.
type Scheduler interface {
	// Merge runs or starts the pending merges of src.
	Merge(ctx context.Context, src Source, trigger Trigger) error

	// Close waits for running merges and rejects new ones.
	Close() error
}

// Serial runs merges one at a time in the calling goroutine.
type Serial struct {
	mu sync.Mutex
}

// NewSerial returns a serial scheduler.
func NewSerial() *Serial { return &Serial{} }

func (s *Serial) Merge(ctx context.Context, src Source, _ Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := src.NextMerge()
		if m == nil {
			return nil
		}
		if err := src.Merge(ctx, m); err != nil {
			return err
		}
	}
}

func (s *Serial) Close() error { return nil }
