package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/invgo/internal/resource"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(10, nil)
	a := Key{Segment: "seg-a", File: "_0.fdt", Offset: 0}
	b := Key{Segment: "seg-a", File: "_0.fdt", Offset: 100}
	d := Key{Segment: "seg-b", File: "_1.fdt", Offset: 0}

	c.Set(a, []byte("12345"))
	c.Set(b, []byte("67890"))

	_, ok := c.Get(a)
	assert.True(t, ok)

	c.Set(d, []byte("abcde"))

	_, ok = c.Get(b)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(a)
	assert.True(t, ok)
	assert.Equal(t, int64(10), c.Size())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUSkipsOversizedBlocks(t *testing.T) {
	c := NewLRU(4, nil)
	c.Set(Key{File: "_0.fdt"}, []byte("too large"))
	assert.Zero(t, c.Size())
}

func TestLRUInvalidateAndMemoryAccounting(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8})
	c := NewLRU(100, rc)

	c.Set(Key{Segment: "x", Offset: 1}, []byte("1234"))
	c.Set(Key{Segment: "y", Offset: 1}, []byte("5678"))
	assert.Equal(t, int64(8), rc.MemoryUsage())

	// over the global budget: not cached
	c.Set(Key{Segment: "z", Offset: 1}, []byte("9"))
	_, ok := c.Get(Key{Segment: "z", Offset: 1})
	assert.False(t, ok)

	c.Invalidate(func(k Key) bool { return k.Segment == "x" })
	assert.Equal(t, int64(4), c.Size())
	assert.Equal(t, int64(4), rc.MemoryUsage())
}
