package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/document"
)

func TestFieldInfosBuilderNeverLowersIndexOptions(t *testing.T) {
	b := NewFieldInfosBuilder(nil)

	fi, err := b.AddOrUpdate("body", document.TextType)
	require.NoError(t, err)
	assert.Equal(t, document.DocsAndFreqsAndPositions, fi.IndexOptions)

	_, err = b.AddOrUpdate("body", document.StringType)
	require.NoError(t, err)
	assert.Equal(t, document.DocsAndFreqsAndPositions, fi.IndexOptions)
	assert.False(t, fi.OmitNorms, "norms stay once any occurrence keeps them")

	fis, err := b.Finish()
	require.NoError(t, err)
	assert.True(t, fis.HasProx)
	assert.True(t, fis.HasNorms)
	assert.Equal(t, fi, fis.ByNumber(fi.Number))
}

func TestFieldInfosMergeHeterogeneousOptions(t *testing.T) {
	positions := &FieldInfo{Name: "f", Number: 0, IndexOptions: document.DocsAndFreqsAndPositions, StorePayloads: true, DocValuesGen: -1}
	docsOnly := &FieldInfo{Name: "f", Number: 0, IndexOptions: document.DocsOnly, OmitNorms: true, DocValuesGen: -1}
	storedOnly := &FieldInfo{Name: "f", Number: 0, OmitNorms: true, DocValuesGen: -1}

	b := NewFieldInfosBuilder(nil)
	_, err := b.Add(positions)
	require.NoError(t, err)
	_, err = b.Add(storedOnly)
	require.NoError(t, err)
	fi, err := b.Add(docsOnly)
	require.NoError(t, err)

	assert.Equal(t, document.DocsOnly, fi.IndexOptions)
	assert.False(t, fi.StorePayloads, "payloads require positions")
	assert.False(t, fi.OmitNorms)
}

func TestFieldNumbersPinDocValuesType(t *testing.T) {
	global := NewFieldNumbers()

	b := NewFieldInfosBuilder(global)
	_, err := b.AddOrUpdate("price", document.FieldType{DocValuesType: document.DocValuesNumeric})
	require.NoError(t, err)

	other := NewFieldInfosBuilder(global)
	_, err = other.AddOrUpdate("price", document.FieldType{DocValuesType: document.DocValuesBinary})
	require.ErrorIs(t, err, ErrIllegalArgument)

	assert.True(t, global.Contains("price", document.DocValuesNumeric))
	global.Clear()
	assert.False(t, global.Contains("price", document.DocValuesNumeric))
}

func TestFieldNumbersAreStableAcrossSegments(t *testing.T) {
	global := NewFieldNumbers()

	first := NewFieldInfosBuilder(global)
	a, err := first.AddOrUpdate("a", document.TextType)
	require.NoError(t, err)
	bfi, err := first.AddOrUpdate("b", document.TextType)
	require.NoError(t, err)

	second := NewFieldInfosBuilder(global)
	b2, err := second.AddOrUpdate("b", document.StringType)
	require.NoError(t, err)
	a2, err := second.AddOrUpdate("a", document.StringType)
	require.NoError(t, err)

	assert.Equal(t, a.Number, a2.Number)
	assert.Equal(t, bfi.Number, b2.Number)
}

func TestNewFieldInfosRejectsDuplicates(t *testing.T) {
	_, err := NewFieldInfos([]*FieldInfo{{Name: "a", Number: 1}, {Name: "b", Number: 1}})
	require.ErrorIs(t, err, ErrIllegalArgument)

	_, err = NewFieldInfos([]*FieldInfo{{Name: "a", Number: 1}, {Name: "a", Number: 2}})
	require.ErrorIs(t, err, ErrIllegalArgument)
}
