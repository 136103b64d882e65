package flush

import (
	"sync"
	"sync/atomic"
)

// Pool hands out ThreadStates to indexing goroutines. At most max states
// exist. Obtain prefers a free state and only waits when all are taken.
type Pool struct {
	mu     sync.Mutex
	states []*ThreadState
	max    int
	next   atomic.Uint32
}

// NewPool returns a pool of at most max states.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{max: max}
}

// Obtain returns a locked state. The caller must Release it.
func (p *Pool) Obtain() *ThreadState {
	p.mu.Lock()
	for _, ts := range p.states {
		if ts.TryLock() {
			p.mu.Unlock()
			return ts
		}
	}
	if len(p.states) < p.max {
		ts := &ThreadState{id: len(p.states)}
		ts.Lock()
		p.states = append(p.states, ts)
		p.mu.Unlock()
		return ts
	}
	ts := p.states[int(p.next.Add(1))%len(p.states)]
	p.mu.Unlock()
	ts.Lock()
	return ts
}

// Release returns ts to the pool.
func (p *Pool) Release(ts *ThreadState) { ts.Unlock() }

// States returns a snapshot of all states created so far.
func (p *Pool) States() []*ThreadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ThreadState, len(p.states))
	copy(out, p.states)
	return out
}

// Len is the number of states created so far.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// Max is the configured upper bound.
func (p *Pool) Max() int { return p.max }
