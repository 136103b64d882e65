package merge

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	pending []*OneMerge
	done    []string
	release chan struct{}
	fail    map[string]error
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{fail: map[string]error{}}
	for _, seg := range segs(n, 1, 1) {
		s.pending = append(s.pending, NewOneMerge(seg))
	}
	return s
}

func (s *fakeSource) NextMerge() *OneMerge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	m := s.pending[0]
	s.pending = s.pending[1:]
	return m
}

func (s *fakeSource) HasPendingMerges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *fakeSource) Merge(_ context.Context, m *OneMerge) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, m.Names()[0])
	err := s.fail[m.Names()[0]]
	m.Finish(err)
	return err
}

func (s *fakeSource) completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.done...)
}

func TestSerialRunsMergesInOrder(t *testing.T) {
	src := newFakeSource(3)
	sched := NewSerial()
	require.NoError(t, sched.Merge(context.Background(), src, TriggerExplicit))
	assert.Equal(t, []string{"_0", "_1", "_2"}, src.completed())
	require.NoError(t, sched.Close())

	src = newFakeSource(2)
	src.fail["_0"] = errors.New("boom")
	require.Error(t, sched.Merge(context.Background(), src, TriggerExplicit))
	assert.True(t, src.HasPendingMerges())
}

func TestConcurrentStallsProducer(t *testing.T) {
	src := newFakeSource(5)
	src.release = make(chan struct{})
	var logs bytes.Buffer
	sched := NewConcurrent(
		WithMaxMergesAndThreads(2, 2),
		WithSchedulerLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)

	returned := make(chan error, 1)
	go func() { returned <- sched.Merge(context.Background(), src, TriggerSegmentFlush) }()

	require.Eventually(t, func() bool { return sched.Running() == 2 }, 5*time.Second, time.Millisecond)
	select {
	case <-returned:
		t.Fatal("producer must stall while two merges are running")
	case <-time.After(20 * time.Millisecond):
	}

	close(src.release)
	require.NoError(t, <-returned)
	sched.Wait()

	assert.Len(t, src.completed(), 5)
	assert.Zero(t, sched.Running())
	assert.Positive(t, sched.Stalls())
	assert.Contains(t, logs.String(), "component=merge running=2 max=2")
	require.NoError(t, sched.Err())
	require.NoError(t, sched.Close())
	require.ErrorIs(t, sched.Merge(context.Background(), newFakeSource(1), TriggerExplicit), ErrSchedulerClosed)
}

func TestConcurrentRecordsErrors(t *testing.T) {
	src := newFakeSource(3)
	src.fail["_1"] = errors.New("disk gone")
	src.fail["_2"] = ErrAborted
	sched := NewConcurrent(WithMaxMergesAndThreads(4, 1), WithMergeMBPerSec(100))
	require.NoError(t, sched.Merge(context.Background(), src, TriggerExplicit))
	sched.Wait()

	err := sched.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
	assert.NotContains(t, err.Error(), "aborted")
	assert.Equal(t, int64(100<<20), sched.Controller().IORate())
	assert.Equal(t, 4, sched.MaxMergeCount())
	assert.Equal(t, 1, sched.MaxThreadCount())
}
