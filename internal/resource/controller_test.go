package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilControllerImposesNoLimits(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Zero(t, c.MemoryUsage())
	require.NoError(t, c.AcquireMergeWorker(t.Context()))
	assert.True(t, c.TryAcquireMergeWorker())
	c.ReleaseMergeWorker()
	require.NoError(t, c.ThrottleIO(t.Context(), 1<<30))
	assert.Zero(t, c.IORate())
}

func TestMemoryLimit(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	require.NoError(t, c.AcquireMemory(60))
	assert.ErrorIs(t, c.AcquireMemory(50), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(60), c.MemoryUsage())

	c.ReleaseMemory(60)
	assert.True(t, c.TryAcquireMemory(100))
	assert.Equal(t, int64(100), c.MemoryUsage())
}

func TestMergeWorkers(t *testing.T) {
	c := NewController(Config{MaxMergeWorkers: 2})
	assert.Equal(t, int64(2), c.MaxMergeWorkers())

	require.NoError(t, c.AcquireMergeWorker(t.Context()))
	require.True(t, c.TryAcquireMergeWorker())
	assert.False(t, c.TryAcquireMergeWorker())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireMergeWorker(ctx), context.DeadlineExceeded)

	c.ReleaseMergeWorker()
	assert.True(t, c.TryAcquireMergeWorker())
}

func TestThrottleIO(t *testing.T) {
	c := NewController(Config{IOBytesPerSec: 1000})
	assert.Equal(t, int64(1000), c.IORate())

	start := time.Now()
	require.NoError(t, c.ThrottleIO(t.Context(), 1000))
	require.NoError(t, c.ThrottleIO(t.Context(), 200))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Positive(t, c.ThrottledBytes())

	c.SetIORate(0)
	assert.Zero(t, c.IORate())
	require.NoError(t, c.ThrottleIO(t.Context(), 1<<20))
}
