package merge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/internal/resource"
)

// Throttled is implemented by schedulers whose merges share a resource
// controller, so merge outputs can be rate limited through it.
type Throttled interface {
	Controller() *resource.Controller
}

// ConcurrentOption configures a Concurrent scheduler.
type ConcurrentOption func(*Concurrent)

// WithMaxMergesAndThreads sets how many merges may be pending or running
// before producers stall and how many run at once.
func WithMaxMergesAndThreads(maxMergeCount, maxThreadCount int) ConcurrentOption {
	return func(c *Concurrent) {
		c.maxMergeCount = maxMergeCount
		c.maxThreadCount = maxThreadCount
	}
}

// WithMergeMBPerSec throttles the bytes written by merges. 0 disables it.
func WithMergeMBPerSec(mb float64) ConcurrentOption {
	return func(c *Concurrent) { c.ioBytesPerSec = int64(mb * (1 << 20)) }
}

// WithController shares an existing resource controller.
func WithController(rc *resource.Controller) ConcurrentOption {
	return func(c *Concurrent) { c.rc = rc }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) ConcurrentOption {
	return func(c *Concurrent) {
		if l != nil {
			c.logger = l.With("component", "merge")
		}
	}
}

// Concurrent runs each merge on a background goroutine. At most
// maxThreadCount merges run at once. Once maxMergeCount merges are
// running, the goroutine asking for more merges waits until one finishes,
// which slows down indexing instead of piling up segments.
type Concurrent struct {
	maxMergeCount  int
	maxThreadCount int
	ioBytesPerSec  int64

	rc     *resource.Controller
	logger *slog.Logger

	mu      sync.Mutex
	running int
	changed chan struct{}
	closed  bool
	errs    *multierror.Error
	stalls  int64

	wg sync.WaitGroup
}

// NewConcurrent returns a concurrent scheduler. Defaults: one merge thread
// and at most six merges in flight.
func NewConcurrent(opts ...ConcurrentOption) *Concurrent {
	c := &Concurrent{
		maxMergeCount:  6,
		maxThreadCount: 1,
		logger:         slog.New(slog.DiscardHandler),
		changed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxThreadCount <= 0 {
		c.maxThreadCount = 1
	}
	if c.maxMergeCount < c.maxThreadCount {
		c.maxMergeCount = c.maxThreadCount
	}
	if c.rc == nil {
		c.rc = resource.NewController(resource.Config{
			MaxMergeWorkers: int64(c.maxThreadCount),
			IOBytesPerSec:   c.ioBytesPerSec,
		})
	} else if c.ioBytesPerSec > 0 {
		c.rc.SetIORate(c.ioBytesPerSec)
	}
	return c
}

// Controller returns the resource controller merges run under.
func (c *Concurrent) Controller() *resource.Controller { return c.rc }

// MaxMergeCount is the in-flight limit before producers stall.
func (c *Concurrent) MaxMergeCount() int { return c.maxMergeCount }

// MaxThreadCount is the number of merges running at once.
func (c *Concurrent) MaxThreadCount() int { return c.maxThreadCount }

func (c *Concurrent) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Merge starts a goroutine per pending merge. It returns once every pending
// merge was started, waiting while maxMergeCount merges are in flight.
func (c *Concurrent) Merge(ctx context.Context, src Source, trigger Trigger) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrSchedulerClosed
		}
		for c.running >= c.maxMergeCount && src.HasPendingMerges() {
			c.stalls++
			wait, running := c.changed, c.running
			c.mu.Unlock()
			c.logger.Debug("too many merges, stalling producer", "running", running, "max", c.maxMergeCount)
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			c.mu.Lock()
		}
		m := src.NextMerge()
		if m == nil {
			c.mu.Unlock()
			return nil
		}
		c.running++
		c.wg.Add(1)
		c.mu.Unlock()

		c.logger.Debug("launch merge", "trigger", trigger, "merge", m.String())
		go c.run(ctx, src, m)
	}
}

// run executes m and then keeps pulling merges registered in the meantime,
// e.g. cascading merges found when m committed.
func (c *Concurrent) run(ctx context.Context, src Source, m *OneMerge) {
	defer c.wg.Done()
	ctx = context.WithoutCancel(ctx)
	for m != nil {
		err := c.rc.AcquireMergeWorker(ctx)
		if err == nil {
			err = src.Merge(ctx, m)
			c.rc.ReleaseMergeWorker()
		}

		c.mu.Lock()
		if err != nil && !errors.Is(err, ErrAborted) {
			c.errs = multierror.Append(c.errs, err)
			c.logger.Error("merge failed", "merge", m.String(), "error", err)
		}
		m = nil
		if !c.closed {
			m = src.NextMerge()
		}
		if m == nil {
			c.running--
		}
		c.notifyLocked()
		c.mu.Unlock()
	}
}

// Running is the number of merges in flight.
func (c *Concurrent) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Stalls counts how often a producer had to wait.
func (c *Concurrent) Stalls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalls
}

// Wait blocks until no merge is running.
func (c *Concurrent) Wait() { c.wg.Wait() }

// Err returns the failures of background merges so far.
func (c *Concurrent) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs.ErrorOrNil()
}

func (c *Concurrent) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}
