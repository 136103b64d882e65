package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultLockPollInterval is how often ObtainLockWithTimeout retries.
const DefaultLockPollInterval = 100 * time.Millisecond

// ObtainLockWithTimeout retries dir.ObtainLock until it succeeds, the
// timeout elapses or ctx is done. A zero timeout tries exactly once and a
// negative timeout waits forever.
func ObtainLockWithTimeout(ctx context.Context, dir Directory, name string, timeout time.Duration) (Lock, error) {
	lock, err := dir.ObtainLock(name)
	if err == nil || timeout == 0 || !errors.Is(err, ErrLockObtainFailed) {
		return lock, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultLockPollInterval
	b.MaxInterval = DefaultLockPollInterval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	lastErr := err
	err = backoff.Retry(func() error {
		l, err := dir.ObtainLock(name)
		if err != nil {
			if !errors.Is(err, ErrLockObtainFailed) {
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		lock = l
		return nil
	}, backoff.WithContext(b, waitCtx))
	if err == nil {
		return lock, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitCtx.Err() == nil {
		return nil, err
	}
	// the deadline may fire between two polls
	if lock, err = dir.ObtainLock(name); err == nil {
		return lock, nil
	}
	if !errors.Is(err, ErrLockObtainFailed) {
		return nil, err
	}
	lastErr = err
	return nil, fmt.Errorf("store: lock %s not obtained within %s: %w", name, timeout, lastErr)
}
