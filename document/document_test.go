package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexOptionsOrdering(t *testing.T) {
	assert.False(t, IndexOptionsNone.IsIndexed())
	assert.True(t, DocsOnly.IsIndexed())
	assert.False(t, DocsOnly.HasFreqs())
	assert.True(t, DocsAndFreqs.HasFreqs())
	assert.False(t, DocsAndFreqs.HasPositions())
	assert.True(t, DocsAndFreqsAndPositions.HasPositions())
	assert.False(t, DocsAndFreqsAndPositions.HasOffsets())
	assert.True(t, DocsAndFreqsAndPositionsAndOffsets.HasOffsets())
	assert.Equal(t, "DOCS_AND_FREQS", DocsAndFreqs.String())
	assert.Equal(t, "SORTED_SET", DocValuesSortedSet.String())
}

func TestFieldTypeValidate(t *testing.T) {
	tests := []struct {
		name string
		ft   FieldType
		ok   bool
	}{
		{"text", TextType, true},
		{"string", StoredStringType, true},
		{"stored only", StoredOnlyType, true},
		{"doc values only", FieldType{DocValuesType: DocValuesNumeric}, true},
		{"nothing", FieldType{}, false},
		{"vectors not indexed", FieldType{Stored: true, StoreTermVectors: true}, false},
		{"positions without vectors", FieldType{IndexOptions: DocsOnly, StoreTermVectorPositions: true}, false},
		{"payloads without positions", FieldType{IndexOptions: DocsOnly, StoreTermVectors: true, StoreTermVectorPayloads: true}, false},
		{"tokenized not indexed", FieldType{Stored: true, Tokenized: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ft.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidField)
			}
		})
	}
}

func TestDocumentAccessors(t *testing.T) {
	doc := New(
		NewStringField("id", "7", true),
		NewTextField("content", "aaa bbb", false),
		NewStoredIntField("count", 42),
		NewStoredField("tag", "a"),
		NewStoredField("tag", "b"),
	)
	doc.Add(NewNumericDocValuesField("dv", 3))

	assert.Equal(t, 6, doc.Len())
	assert.Equal(t, "7", doc.Get("id"))
	assert.Equal(t, "42", doc.Get("count"))
	assert.Equal(t, []string{"a", "b"}, doc.GetAll("tag"))
	assert.Equal(t, "", doc.Get("missing"))

	f, ok := doc.Field("dv")
	require.True(t, ok)
	assert.Equal(t, DocValuesNumeric, f.Type().DocValuesType)
	assert.Equal(t, int64(3), f.IntValue())

	doc.RemoveFields("tag")
	assert.Empty(t, doc.GetAll("tag"))
	assert.Equal(t, 4, doc.Len())

	_, err := NewField("", "x", TextType)
	assert.ErrorIs(t, err, ErrInvalidField)
	_, err = NewTokenStreamField("f", NewCannedTokenStream(), StoredTextType)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestWhitespaceAnalyzer(t *testing.T) {
	ts := WhitespaceAnalyzer{}.TokenStream("content", "  aaa\tbbb  ccc ")
	var terms []string
	var offsets [][2]int
	for ts.Next() {
		tok := ts.Token()
		terms = append(terms, string(tok.Term))
		offsets = append(offsets, [2]int{tok.StartOffset, tok.EndOffset})
		assert.Equal(t, 1, tok.PositionIncrement)
	}
	require.NoError(t, ts.Err())
	assert.Equal(t, []string{"aaa", "bbb", "ccc"}, terms)
	assert.Equal(t, [][2]int{{2, 5}, {6, 9}, {11, 14}}, offsets)
}

func TestKeywordAndCannedStreams(t *testing.T) {
	ts := KeywordAnalyzer{}.TokenStream("id", "doc 1")
	require.True(t, ts.Next())
	assert.Equal(t, "doc 1", string(ts.Token().Term))
	assert.False(t, ts.Next())

	canned := NewCannedTokenStream(
		Token{Term: []byte("a"), PositionIncrement: 1, Payload: []byte{9}},
		Token{Term: []byte("b"), PositionIncrement: 0},
	)
	require.True(t, canned.Next())
	assert.Equal(t, []byte{9}, canned.Token().Payload)
	require.True(t, canned.Next())
	assert.Equal(t, 0, canned.Token().PositionIncrement)
	assert.False(t, canned.Next())
	assert.False(t, canned.Next())
}
