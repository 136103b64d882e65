package resource

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the limit.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps tracked memory. 0 only tracks usage.
	MemoryLimitBytes int64

	// MaxMergeWorkers is the number of merges allowed to run at once.
	// 0 defaults to 1.
	MaxMergeWorkers int64

	// IOBytesPerSec throttles merge output. 0 means unlimited.
	IOBytesPerSec int64
}

// Controller manages memory, merge concurrency and merge IO.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	workers *semaphore.Weighted

	ioLimiter *rate.Limiter
	throttled atomic.Int64 // bytes that had to wait for tokens
}

// NewController creates a Controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxMergeWorkers <= 0 {
		cfg.MaxMergeWorkers = 1
	}

	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxMergeWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	c.ioLimiter = rate.NewLimiter(rate.Inf, 0)
	c.SetIORate(cfg.IOBytesPerSec)
	return c
}

// MaxMergeWorkers returns the configured merge concurrency.
func (c *Controller) MaxMergeWorkers() int64 {
	if c == nil {
		return math.MaxInt64
	}
	return c.cfg.MaxMergeWorkers
}

// TryAcquireMemory reserves bytes without blocking.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	return c.AcquireMemory(bytes) == nil
}

// AcquireMemory reserves bytes, failing fast when the limit would be exceeded.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns reserved bytes.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the tracked bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireMergeWorker blocks until a merge slot is free or ctx is done.
func (c *Controller) AcquireMergeWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// TryAcquireMergeWorker takes a merge slot if one is free.
func (c *Controller) TryAcquireMergeWorker() bool {
	if c == nil {
		return true
	}
	return c.workers.TryAcquire(1)
}

// ReleaseMergeWorker frees a merge slot.
func (c *Controller) ReleaseMergeWorker() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// SetIORate changes the merge IO rate. bytesPerSec <= 0 removes the limit.
func (c *Controller) SetIORate(bytesPerSec int64) {
	if c == nil {
		return
	}
	if bytesPerSec <= 0 {
		c.ioLimiter.SetLimit(rate.Inf)
		c.ioLimiter.SetBurst(0)
		return
	}
	c.ioLimiter.SetLimit(rate.Limit(bytesPerSec))
	c.ioLimiter.SetBurst(int(bytesPerSec))
}

// IORate returns the current merge IO rate in bytes per second, 0 if unlimited.
func (c *Controller) IORate() int64 {
	if c == nil || c.ioLimiter.Limit() == rate.Inf {
		return 0
	}
	return int64(c.ioLimiter.Limit())
}

// ThrottleIO blocks until n bytes may be written.
func (c *Controller) ThrottleIO(ctx context.Context, n int) error {
	if c == nil || n <= 0 || c.ioLimiter.Limit() == rate.Inf {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if burst > 0 && chunk > burst {
			chunk = burst
		}
		if !c.ioLimiter.AllowN(time.Now(), chunk) {
			c.throttled.Add(int64(chunk))
			if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
				return err
			}
		}
		n -= chunk
	}
	return nil
}

// ThrottledBytes returns how many bytes had to wait for IO tokens.
func (c *Controller) ThrottledBytes() int64 {
	if c == nil {
		return 0
	}
	return c.throttled.Load()
}
