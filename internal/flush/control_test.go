package flush

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuffer struct {
	bytes int64
	docs  int
}

func (b *fakeBuffer) BytesUsed() int64 { return b.bytes }
func (b *fakeBuffer) NumDocs() int     { return b.docs }

func addDoc(c *Control, ts *ThreadState, bytes int64) Buffer {
	if ts.Buffer() == nil {
		ts.SetBuffer(&fakeBuffer{})
	}
	b := ts.Buffer().(*fakeBuffer)
	b.bytes += bytes
	b.docs++
	return c.DoAfterDocument(ts, false)
}

func TestFlushByDocCount(t *testing.T) {
	pool := NewPool(1)
	c := NewControl(Config{RAMBufferBytes: Disabled, MaxBufferedDocs: 3}, pool)

	ts := pool.Obtain()
	assert.Nil(t, addDoc(c, ts, 10))
	assert.Nil(t, addDoc(c, ts, 10))
	buf := addDoc(c, ts, 10)
	require.NotNil(t, buf)
	assert.Equal(t, 3, buf.NumDocs())
	assert.Nil(t, ts.Buffer(), "checked out buffer is detached")
	pool.Release(ts)

	assert.Equal(t, int64(0), c.ActiveBytes())
	assert.Equal(t, int64(30), c.FlushBytes())
	assert.Equal(t, 1, c.NumFlushing())
	require.NoError(t, c.CheckAccounting())

	c.DoAfterFlush(buf)
	assert.Equal(t, int64(0), c.NetBytes())
	assert.Zero(t, c.NumFlushing())
}

func TestFlushByRAMMarksLargestState(t *testing.T) {
	pool := NewPool(2)
	c := NewControl(Config{RAMBufferBytes: 100, MaxBufferedDocs: Disabled}, pool)

	a := pool.Obtain()
	assert.Nil(t, addDoc(c, a, 30))

	b := pool.Obtain()
	require.NotEqual(t, a.ID(), b.ID())
	assert.Nil(t, addDoc(c, b, 60))
	bufB := b.Buffer()
	pool.Release(b)

	assert.Nil(t, addDoc(c, a, 20), "the larger state is picked, not the caller")
	pool.Release(a)

	assert.Equal(t, 1, c.NumPending())
	assert.Equal(t, int64(50), c.ActiveBytes())
	assert.Equal(t, int64(60), c.FlushBytes())
	require.NoError(t, c.CheckAccounting())

	buf := c.NextPendingFlush()
	require.NotNil(t, buf)
	assert.Same(t, bufB, buf)
	assert.Nil(t, c.NextPendingFlush())

	c.DoAfterFlush(buf)
	assert.Equal(t, int64(50), c.NetBytes())
	require.NoError(t, c.CheckAccounting())
}

func TestPerThreadHardLimit(t *testing.T) {
	pool := NewPool(1)
	c := NewControl(Config{RAMBufferBytes: Disabled, MaxBufferedDocs: Disabled, PerThreadHardLimitBytes: 50}, pool)
	ts := pool.Obtain()
	defer pool.Release(ts)
	assert.Nil(t, addDoc(c, ts, 40))
	require.NotNil(t, addDoc(c, ts, 40))
}

func TestStallUntilFlushCompletes(t *testing.T) {
	pool := NewPool(2)
	var stalls atomic.Int64
	c := NewControl(Config{RAMBufferBytes: 10, MaxBufferedDocs: Disabled}, pool, WithStallHook(func() { stalls.Add(1) }))

	ts := pool.Obtain()
	buf := addDoc(c, ts, 30)
	pool.Release(ts)
	require.NotNil(t, buf)
	require.True(t, c.StallControl().Stalled())
	assert.Zero(t, stalls.Load())
	assert.Zero(t, c.StallControl().Stalls())

	waited := make(chan error, 1)
	go func() { waited <- c.WaitIfStalled(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("indexing must wait while stalled")
	case <-time.After(50 * time.Millisecond):
	}
	c.DoAfterFlush(buf)

	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stall was not released")
	}
	assert.False(t, c.StallControl().Stalled())
	assert.Equal(t, int64(1), c.StallControl().Stalls())
	assert.Equal(t, int64(1), stalls.Load())
}

func TestStallFlagAloneIsNoStall(t *testing.T) {
	pool := NewPool(1)
	var stalls atomic.Int64
	c := NewControl(Config{RAMBufferBytes: 10, MaxBufferedDocs: Disabled}, pool, WithStallHook(func() { stalls.Add(1) }))

	for range 5 {
		require.NoError(t, c.WaitIfStalled(context.Background()))
		ts := pool.Obtain()
		buf := addDoc(c, ts, 30)
		pool.Release(ts)
		require.NotNil(t, buf)
		require.True(t, c.StallControl().Stalled())
		c.DoAfterFlush(buf)
	}
	assert.Zero(t, stalls.Load())
	assert.Zero(t, c.StallControl().Stalls())
}

func TestWaitIfStalledHonorsContext(t *testing.T) {
	s := NewStallControl()
	s.UpdateStalled(true)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.WaitIfStalled(ctx), context.DeadlineExceeded)
	assert.False(t, s.AnyStalledThreads())
}

func TestNoStallWithLargeBudget(t *testing.T) {
	pool := NewPool(4)
	c := NewControl(Config{RAMBufferBytes: 1 << 40, MaxBufferedDocs: 50}, pool)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				assert.NoError(t, c.WaitIfStalled(context.Background()))
				ts := pool.Obtain()
				buf := addDoc(c, ts, int64(i%7+1))
				pool.Release(ts)
				if buf != nil {
					c.DoAfterFlush(buf)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, c.StallControl().Stalls())
	require.NoError(t, c.CheckAccounting())
	assert.LessOrEqual(t, pool.Len(), 4)

	var sum int64
	for _, ts := range pool.States() {
		if ts.Buffer() != nil {
			sum += ts.Buffer().BytesUsed()
		}
	}
	assert.Equal(t, sum, c.ActiveBytes())
}

func TestMarkForFullFlush(t *testing.T) {
	pool := NewPool(3)
	c := NewControl(Config{RAMBufferBytes: Disabled, MaxBufferedDocs: Disabled}, pool)

	a := pool.Obtain()
	b := pool.Obtain()
	e := pool.Obtain()
	addDoc(c, a, 5)
	addDoc(c, b, 7)
	pool.Release(a)
	pool.Release(b)
	pool.Release(e)

	bufs := c.MarkForFullFlush()
	require.Len(t, bufs, 2, "empty states are not flushed")
	assert.Equal(t, int64(12), c.FlushBytes())
	assert.Zero(t, c.ActiveBytes())
	for _, buf := range bufs {
		c.DoAfterFlush(buf)
	}
	c.FinishFullFlush()
	assert.Zero(t, c.NetBytes())
	require.NoError(t, c.CheckAccounting())
}

func TestAbortResetsAccounting(t *testing.T) {
	pool := NewPool(1)
	c := NewControl(Config{RAMBufferBytes: Disabled, MaxBufferedDocs: Disabled}, pool)
	ts := pool.Obtain()
	addDoc(c, ts, 42)
	c.DoOnAbort(ts)
	pool.Release(ts)

	assert.Zero(t, c.NetBytes())
	require.NoError(t, c.CheckAccounting())
	active, _, net := c.Peaks()
	assert.Equal(t, int64(42), active)
	assert.Equal(t, int64(42), net)
}

func TestDeletePolicy(t *testing.T) {
	terms := 0
	pool := NewPool(1)
	c := NewControl(Config{RAMBufferBytes: Disabled, MaxBufferedDocs: Disabled, MaxBufferedDeleteTerms: 2}, pool,
		WithDeleteStats(func() (int, int64) { return terms, int64(terms) * 64 }))

	terms = 1
	c.DoAfterDelete(nil)
	assert.False(t, c.GetAndResetApplyAllDeletes())

	terms = 2
	c.DoAfterDelete(nil)
	assert.True(t, c.GetAndResetApplyAllDeletes())
	assert.False(t, c.GetAndResetApplyAllDeletes())
}

func TestPoolReusesFreeStates(t *testing.T) {
	pool := NewPool(1)
	ts := pool.Obtain()
	id := ts.ID()

	got := make(chan *ThreadState)
	go func() { got <- pool.Obtain() }()

	select {
	case <-got:
		t.Fatal("pool must block when all states are taken")
	case <-time.After(20 * time.Millisecond):
	}
	pool.Release(ts)
	other := <-got
	assert.Equal(t, id, other.ID())
	pool.Release(other)
	assert.Equal(t, 1, pool.Len())
}
