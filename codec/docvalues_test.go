package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/document"
)

func TestDocValuesBuilderSorted(t *testing.T) {
	b := NewDocValuesBuilder(document.DocValuesSorted)
	require.NoError(t, b.AddBinary(0, []byte("pear")))
	require.NoError(t, b.AddBinary(2, []byte("apple")))
	require.NoError(t, b.AddBinary(3, []byte("pear")))
	require.ErrorIs(t, b.AddBinary(3, []byte("fig")), ErrIllegalArgument)

	dv := b.Build(5)
	assert.Equal(t, 2, dv.ValueCount())
	assert.Equal(t, 1, dv.SortedOrd(0))
	assert.Equal(t, -1, dv.SortedOrd(1))
	assert.Equal(t, 0, dv.SortedOrd(2))
	assert.Equal(t, []byte("pear"), dv.Binary(3))
	assert.False(t, dv.Has(4))
	assert.Equal(t, -2, dv.LookupTerm([]byte("banana")))
}

func TestDocValuesBuilderMultiValued(t *testing.T) {
	set := NewDocValuesBuilder(document.DocValuesSortedSet)
	set.AddSortedSet(1, []byte("b"))
	set.AddSortedSet(1, []byte("a"))
	set.AddSortedSet(1, []byte("b"))
	dv := set.Build(2)
	assert.Equal(t, []int32{0, 1}, dv.SortedSetOrds(1))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, dv.SortedSetValues(1))
	assert.Empty(t, dv.SortedSetOrds(0))

	num := NewDocValuesBuilder(document.DocValuesSortedNumeric)
	num.AddSortedNumeric(0, 7)
	num.AddSortedNumeric(0, -3)
	assert.Equal(t, []int64{-3, 7}, num.Build(1).SortedNumeric(0))
}

func TestMergeDocValuesDropsDeletedDocs(t *testing.T) {
	a := NewDocValuesBuilder(document.DocValuesNumeric)
	require.NoError(t, a.AddNumeric(0, 10))
	require.NoError(t, a.AddNumeric(1, 11))
	require.NoError(t, a.AddNumeric(2, 12))

	b := NewDocValuesBuilder(document.DocValuesNumeric)
	require.NoError(t, b.AddNumeric(1, 21))

	merged, err := MergeDocValues(document.DocValuesNumeric,
		[]*DocValues{a.Build(3), b.Build(2), nil},
		[][]int{{0, -1, 1}, {2, 3}, {4}}, 5)
	require.NoError(t, err)

	assert.Equal(t, int64(10), merged.Numeric(0))
	assert.Equal(t, int64(12), merged.Numeric(1))
	assert.False(t, merged.Has(2))
	assert.Equal(t, int64(21), merged.Numeric(3))
	assert.False(t, merged.Has(4))
}

func TestNumericUpdatesCopyTheColumn(t *testing.T) {
	b := NewDocValuesBuilder(document.DocValuesNumeric)
	require.NoError(t, b.AddNumeric(0, 1))
	dv := b.Build(3)

	updated := dv.WithNumericUpdates(map[int]int64{0: 5, 2: 9})
	assert.Equal(t, int64(1), dv.Numeric(0))
	assert.False(t, dv.Has(2))
	assert.Equal(t, int64(5), updated.Numeric(0))
	assert.True(t, updated.Has(2))
	assert.Equal(t, int64(9), updated.Numeric(2))
}
