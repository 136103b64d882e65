package flush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds the thresholds of a Control.
type Config struct {
	// RAMBufferBytes is the soft budget for buffered documents, Disabled to
	// flush by count only.
	RAMBufferBytes int64

	// MaxBufferedDocs flushes a state once it holds that many documents.
	MaxBufferedDocs int

	// MaxBufferedDeleteTerms applies deletes once that many are buffered.
	MaxBufferedDeleteTerms int

	// PerThreadHardLimitBytes forces a flush of a single state regardless
	// of the policy.
	PerThreadHardLimitBytes int64
}

// Option configures a Control.
type Option func(*Control)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Control) {
		if l != nil {
			c.logger = l.With("component", "flush")
		}
	}
}

// WithPolicy replaces the default ByRAMOrCounts policy.
func WithPolicy(p Policy) Option {
	return func(c *Control) { c.policy = p }
}

// WithDeleteStats sets the callback reporting buffered delete terms and
// their memory.
func WithDeleteStats(fn func() (terms int, bytes int64)) Option {
	return func(c *Control) { c.deletes = fn }
}

// WithStallHook is called every time an indexing goroutine has to wait
// for pending flushes.
func WithStallHook(fn func()) Option {
	return func(c *Control) { c.onStall = fn }
}

// Control tracks active (buffered) and flushing memory over all thread
// states and decides when to flush and when to stall.
type Control struct {
	mu sync.Mutex

	cfg     Config
	pool    *Pool
	policy  Policy
	stall   *StallControl
	logger  *slog.Logger
	deletes func() (int, int64)
	onStall func()

	activeBytes int64
	flushBytes  int64
	numPending  int

	// checked out buffers and the bytes they were accounted with
	flushing map[Buffer]int64

	applyAllDeletes bool
	fullFlush       bool
	closed          bool

	peakActive int64
	peakFlush  int64
	peakNet    int64
}

// NewControl returns a Control for the states of pool.
func NewControl(cfg Config, pool *Pool, opts ...Option) *Control {
	c := &Control{
		cfg:  cfg,
		pool: pool,
		policy: ByRAMOrCounts{
			MaxBufferedDocs:        cfg.MaxBufferedDocs,
			MaxBufferedDeleteTerms: cfg.MaxBufferedDeleteTerms,
			RAMBufferBytes:         cfg.RAMBufferBytes,
		},
		stall:    NewStallControl(),
		logger:   slog.New(slog.DiscardHandler),
		deletes:  func() (int, int64) { return 0, 0 },
		flushing: make(map[Buffer]int64),
	}
	c.stall.onBlock = c.blocked
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Control) deleteStats() (int, int64) { return c.deletes() }

// stallLimit is the net byte usage above which indexing stalls.
func (c *Control) stallLimit() int64 {
	if c.cfg.RAMBufferBytes <= 0 {
		return 1<<63 - 1
	}
	return 2 * c.cfg.RAMBufferBytes
}

// DoAfterDocument accounts the new memory use of ts after a document was
// added, runs the policy and returns the buffer to flush, if ts itself
// became pending and could be checked out. The caller owns ts.
func (c *Control) DoAfterDocument(ts *ThreadState, isUpdate bool) Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commitBytes(ts)
	if !ts.flushPending {
		if isUpdate {
			OnUpdate(c.policy, c, ts)
		} else {
			c.policy.OnInsert(c, ts)
		}
		if !ts.flushPending && c.cfg.PerThreadHardLimitBytes > 0 && ts.bytesUsed > c.cfg.PerThreadHardLimitBytes {
			c.logger.Warn("per thread hard limit reached", "state", ts.id, "bytes", ts.bytesUsed)
			c.setFlushPending(ts)
		}
	}
	var out Buffer
	if ts.flushPending && !c.fullFlush {
		out = c.checkout(ts)
	}
	c.updateStallState()
	return out
}

// DoAfterDelete runs the policy after a delete was buffered.
func (c *Control) DoAfterDelete(ts *ThreadState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy.OnDelete(c, ts)
}

func (c *Control) commitBytes(ts *ThreadState) {
	var now int64
	ts.docs = 0
	if ts.buf != nil {
		now = ts.buf.BytesUsed()
		ts.docs = ts.buf.NumDocs()
	}
	delta := now - ts.bytesUsed
	ts.bytesUsed = now
	if ts.flushPending {
		c.flushBytes += delta
	} else {
		c.activeBytes += delta
	}
	c.peakActive = max(c.peakActive, c.activeBytes)
	c.peakFlush = max(c.peakFlush, c.flushBytes)
	c.peakNet = max(c.peakNet, c.activeBytes+c.flushBytes)
}

// SetFlushPending marks ts pending. Must be called from a Policy.
func (c *Control) SetFlushPending(ts *ThreadState) { c.setFlushPending(ts) }

func (c *Control) setFlushPending(ts *ThreadState) {
	if ts.flushPending || ts.docs == 0 {
		return
	}
	ts.flushPending = true
	c.flushBytes += ts.bytesUsed
	c.activeBytes -= ts.bytesUsed
	c.numPending++
}

// markLargestPending marks the largest non-pending state pending. The
// calling goroutine's own state wins ties so it flushes inline.
func (c *Control) markLargestPending(self *ThreadState) {
	largest := self
	if self.flushPending {
		largest = nil
	}
	for _, ts := range c.pool.States() {
		if ts.flushPending || ts.docs == 0 {
			continue
		}
		if largest == nil || ts.bytesUsed > largest.bytesUsed {
			largest = ts
		}
	}
	if largest != nil {
		c.setFlushPending(largest)
	}
}

// SetApplyAllDeletes asks the writer to apply buffered deletes.
func (c *Control) SetApplyAllDeletes() { c.applyAllDeletes = true }

// GetAndResetApplyAllDeletes returns and clears the apply-deletes request.
func (c *Control) GetAndResetApplyAllDeletes() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.applyAllDeletes
	c.applyAllDeletes = false
	return v
}

// checkout detaches the buffer of a pending ts. Caller holds c.mu and owns ts.
func (c *Control) checkout(ts *ThreadState) Buffer {
	buf := ts.buf
	if buf == nil {
		return nil
	}
	c.flushing[buf] = ts.bytesUsed
	ts.buf = nil
	ts.bytesUsed = 0
	ts.docs = 0
	ts.flushPending = false
	c.numPending--
	return buf
}

// TryCheckoutForFlush checks out ts if it is pending. The caller owns ts.
func (c *Control) TryCheckoutForFlush(ts *ThreadState) Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !ts.flushPending {
		return nil
	}
	return c.checkout(ts)
}

// NextPendingFlush checks out a pending state that no goroutine owns right
// now, or returns nil.
func (c *Control) NextPendingFlush() Buffer {
	c.mu.Lock()
	pending := c.numPending
	c.mu.Unlock()
	if pending == 0 {
		return nil
	}
	for _, ts := range c.pool.States() {
		if !ts.TryLock() {
			continue
		}
		buf := c.TryCheckoutForFlush(ts)
		ts.Unlock()
		if buf != nil {
			return buf
		}
	}
	return nil
}

// MarkForFullFlush marks every state with documents pending and checks out
// all of them. It blocks until each state is free. The returned buffers must
// each be passed to DoAfterFlush.
func (c *Control) MarkForFullFlush() []Buffer {
	c.mu.Lock()
	c.fullFlush = true
	c.mu.Unlock()

	var out []Buffer
	for _, ts := range c.pool.States() {
		ts.Lock()
		c.mu.Lock()
		c.commitBytes(ts)
		c.setFlushPending(ts)
		if buf := c.checkoutIfPending(ts); buf != nil {
			out = append(out, buf)
		}
		c.mu.Unlock()
		ts.Unlock()
	}
	return out
}

func (c *Control) checkoutIfPending(ts *ThreadState) Buffer {
	if !ts.flushPending {
		return nil
	}
	return c.checkout(ts)
}

// FinishFullFlush ends a full flush started by MarkForFullFlush.
func (c *Control) FinishFullFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullFlush = false
	c.updateStallState()
}

// DoAfterFlush releases the accounting of a checked out buffer. It must be
// called once for every checked out buffer, whether the flush succeeded or
// not.
func (c *Control) DoAfterFlush(buf Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bytes, ok := c.flushing[buf]
	if !ok {
		return
	}
	delete(c.flushing, buf)
	c.flushBytes -= bytes
	c.updateStallState()
}

// DoOnAbort drops the buffer of ts from the accounting. The caller owns ts.
func (c *Control) DoOnAbort(ts *ThreadState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts.flushPending {
		c.flushBytes -= ts.bytesUsed
		c.numPending--
		ts.flushPending = false
	} else {
		c.activeBytes -= ts.bytesUsed
	}
	ts.bytesUsed = 0
	ts.docs = 0
	ts.buf = nil
	c.updateStallState()
}

func (c *Control) updateStallState() {
	stalled := c.numPending+len(c.flushing) > 0 && c.activeBytes+c.flushBytes > c.stallLimit() && !c.closed
	c.stall.UpdateStalled(stalled)
}

// blocked runs when an indexing goroutine parks on the stall control.
func (c *Control) blocked() {
	c.mu.Lock()
	active, flushing, limit := c.activeBytes, c.flushBytes, c.stallLimit()
	c.mu.Unlock()
	c.logger.Info("indexing stalled", "activeBytes", active, "flushBytes", flushing, "limit", limit)
	if c.onStall != nil {
		c.onStall()
	}
}

// WaitIfStalled blocks the calling indexing goroutine while stalled.
func (c *Control) WaitIfStalled(ctx context.Context) error { return c.stall.WaitIfStalled(ctx) }

// StallControl exposes the stall state.
func (c *Control) StallControl() *StallControl { return c.stall }

// Close releases stalled goroutines for good.
func (c *Control) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stall.UpdateStalled(false)
}

// ActiveBytes is the memory of buffers that are not pending.
func (c *Control) ActiveBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeBytes
}

// FlushBytes is the memory of pending and flushing buffers.
func (c *Control) FlushBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushBytes
}

// NetBytes is ActiveBytes plus FlushBytes.
func (c *Control) NetBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeBytes + c.flushBytes
}

// NumPending is the number of pending states not yet checked out.
func (c *Control) NumPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numPending
}

// NumFlushing is the number of checked out buffers.
func (c *Control) NumFlushing() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flushing)
}

// Peaks returns the largest active, flush and net usage observed.
func (c *Control) Peaks() (active, flush, net int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive, c.peakFlush, c.peakNet
}

// CheckAccounting verifies that the active bytes equal the sum over all
// non-pending states and the flush bytes equal pending plus checked out
// buffers.
func (c *Control) CheckAccounting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var active, flush int64
	for _, ts := range c.pool.States() {
		if ts.flushPending {
			flush += ts.bytesUsed
		} else {
			active += ts.bytesUsed
		}
	}
	for _, b := range c.flushing {
		flush += b
	}
	if active != c.activeBytes || flush != c.flushBytes {
		return fmt.Errorf("flush: accounting mismatch: active %d != %d or flush %d != %d", active, c.activeBytes, flush, c.flushBytes)
	}
	return nil
}
