package flush

import "sync"

// Buffer is the private document buffer of one indexing goroutine.
type Buffer interface {
	// BytesUsed is the memory currently held by the buffer.
	BytesUsed() int64

	// NumDocs is the number of buffered documents.
	NumDocs() int
}

// ThreadState binds a Buffer to the goroutine that currently owns it. The
// owner holds the state's lock for the whole time it writes into the buffer.
type ThreadState struct {
	mu sync.Mutex
	id int

	buf Buffer

	// guarded by Control.mu
	bytesUsed    int64
	docs         int
	flushPending bool
}

// ID identifies the state within its pool.
func (ts *ThreadState) ID() int { return ts.id }

// Buffer returns the current buffer, nil if none was assigned yet or it was
// checked out for flushing.
func (ts *ThreadState) Buffer() Buffer { return ts.buf }

// SetBuffer installs a fresh buffer. Only the owner may call it.
func (ts *ThreadState) SetBuffer(b Buffer) { ts.buf = b }

// Lock takes ownership of the state.
func (ts *ThreadState) Lock() { ts.mu.Lock() }

// TryLock takes ownership if the state is free.
func (ts *ThreadState) TryLock() bool { return ts.mu.TryLock() }

// Unlock releases ownership.
func (ts *ThreadState) Unlock() { ts.mu.Unlock() }
