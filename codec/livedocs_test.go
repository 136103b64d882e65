package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLiveDocs(t *testing.T) {
	live := NewLiveDocs(10)
	assert.True(t, live.Delete(7))
	assert.False(t, live.Delete(7))
	assert.False(t, live.Get(7))
	assert.True(t, live.Get(6))
	assert.Equal(t, 1, live.DeletedCount())

	clone := live.Clone()
	clone.Delete(1)
	assert.Equal(t, 1, live.DeletedCount())
	assert.Equal(t, 2, clone.DeletedCount())

	assert.True(t, IsLive(nil, 3))
	assert.True(t, IsLive(MatchAllBits(4), 3))
	assert.False(t, IsLive(live, 7))
}
