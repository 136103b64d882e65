package cache

// Key identifies an immutable block inside a segment file.
type Key struct {
	// Segment is the unique id of the segment, not its name: a segment
	// name is reused across indexes (and after AddIndexes).
	Segment string
	File    string
	Offset  int64
}

// BlockCache caches immutable byte blocks. Returned slices are read-only.
type BlockCache interface {
	Get(key Key) ([]byte, bool)
	Set(key Key, b []byte)
	Invalidate(predicate func(Key) bool)
	Stats() (hits, misses int64)
}
