package flush

import (
	"context"
	"sync"
)

// StallControl blocks indexing goroutines while the writer is too far behind
// with flushing. Goroutines that are currently flushing never wait here, so
// stalling cannot deadlock a single indexing goroutine.
type StallControl struct {
	mu      sync.Mutex
	stalled bool
	waiters int
	stalls  int64
	onBlock func()

	// wake is closed and replaced whenever the state changes so that
	// context-aware waiters can select on it.
	wake chan struct{}
}

// NewStallControl returns an unstalled control.
func NewStallControl() *StallControl {
	return &StallControl{wake: make(chan struct{})}
}

// UpdateStalled sets the stall flag and wakes waiters when it clears.
func (s *StallControl) UpdateStalled(stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stalled == stalled {
		return
	}
	s.stalled = stalled
	close(s.wake)
	s.wake = make(chan struct{})
}

// WaitIfStalled blocks until the control is not stalled or ctx is done.
// A call that parks at least once counts as one stall.
func (s *StallControl) WaitIfStalled(ctx context.Context) error {
	blocked := false
	s.mu.Lock()
	for s.stalled {
		wake := s.wake
		s.waiters++
		hook := s.onBlock
		if !blocked {
			blocked = true
			s.stalls++
		} else {
			hook = nil
		}
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		select {
		case <-wake:
		case <-ctx.Done():
			s.mu.Lock()
			s.waiters--
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Lock()
		s.waiters--
	}
	s.mu.Unlock()
	return nil
}

// Stalled reports the current flag.
func (s *StallControl) Stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalled
}

// AnyStalledThreads reports whether some goroutine is blocked right now.
func (s *StallControl) AnyStalledThreads() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters > 0
}

// Stalls is how often an indexing goroutine actually had to wait.
func (s *StallControl) Stalls() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalls
}
