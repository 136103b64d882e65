package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx")
	for name, dir := range map[string]func() Directory{
		"fs": func() Directory {
			d, err := NewFSDirectory(path)
			require.NoError(t, err)
			return d
		},
		"ram": func() Directory { return NewRAMDirectory() },
	} {
		t.Run(name, func(t *testing.T) {
			d := dir()
			l, err := d.ObtainLock("write.lock")
			require.NoError(t, err)
			require.NoError(t, l.EnsureValid())

			_, err = d.ObtainLock("write.lock")
			assert.ErrorIs(t, err, ErrLockObtainFailed)

			require.NoError(t, l.Close())
			assert.Error(t, l.EnsureValid())

			l2, err := d.ObtainLock("write.lock")
			require.NoError(t, err)
			require.NoError(t, l2.Close())
		})
	}
}

func TestObtainLockWithTimeout(t *testing.T) {
	dir := NewRAMDirectory()
	held, err := dir.ObtainLock("write.lock")
	require.NoError(t, err)

	for _, timeout := range []time.Duration{50 * time.Millisecond, 300 * time.Millisecond} {
		start := time.Now()
		_, err = ObtainLockWithTimeout(context.Background(), dir, "write.lock", timeout)
		assert.ErrorIs(t, err, ErrLockObtainFailed)
		assert.GreaterOrEqual(t, time.Since(start), timeout)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(120 * time.Millisecond)
		_ = held.Close()
		close(released)
	}()
	l, err := ObtainLockWithTimeout(context.Background(), dir, "write.lock", 250*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	<-released
}

func TestObtainLockWithTimeoutHonorsContext(t *testing.T) {
	dir := NewRAMDirectory()
	held, err := dir.ObtainLock("write.lock")
	require.NoError(t, err)
	defer held.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = ObtainLockWithTimeout(ctx, dir, "write.lock", -1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
