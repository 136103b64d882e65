package codec

import (
	"bytes"
	"fmt"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/invgo/document"
)

// DocValues is the fully loaded column of one field in one segment.
// It is immutable and safe for concurrent use.
type DocValues struct {
	Type   document.DocValuesType
	MaxDoc int
	// DocsWithField marks the documents that have a value.
	DocsWithField *roaring.Bitmap

	numeric  []int64
	binary   [][]byte
	terms    [][]byte
	ords     []int32
	setOrds  [][]int32
	multiNum [][]int64
}

// Has reports whether doc has a value.
func (dv *DocValues) Has(doc int) bool { return dv.DocsWithField.Contains(uint32(doc)) }

// Numeric returns the value of doc, 0 if it has none.
func (dv *DocValues) Numeric(doc int) int64 {
	if doc >= len(dv.numeric) {
		return 0
	}
	return dv.numeric[doc]
}

// Binary returns the value of doc, nil if it has none.
func (dv *DocValues) Binary(doc int) []byte {
	switch dv.Type {
	case document.DocValuesSorted:
		if ord := dv.SortedOrd(doc); ord >= 0 {
			return dv.terms[ord]
		}
		return nil
	default:
		if doc >= len(dv.binary) {
			return nil
		}
		return dv.binary[doc]
	}
}

// SortedOrd returns the ord of doc's value or -1.
func (dv *DocValues) SortedOrd(doc int) int {
	if doc >= len(dv.ords) {
		return -1
	}
	return int(dv.ords[doc])
}

// LookupOrd returns the term with the given ord.
func (dv *DocValues) LookupOrd(ord int) []byte { return dv.terms[ord] }

// ValueCount returns the number of unique terms of a sorted or sorted set
// field.
func (dv *DocValues) ValueCount() int { return len(dv.terms) }

// LookupTerm returns the ord of term, or -(insertion point)-1 if absent.
func (dv *DocValues) LookupTerm(term []byte) int {
	i := sort.Search(len(dv.terms), func(i int) bool { return bytes.Compare(dv.terms[i], term) >= 0 })
	if i < len(dv.terms) && bytes.Equal(dv.terms[i], term) {
		return i
	}
	return -i - 1
}

// SortedSetOrds returns the ascending ords of doc.
func (dv *DocValues) SortedSetOrds(doc int) []int32 {
	if doc >= len(dv.setOrds) {
		return nil
	}
	return dv.setOrds[doc]
}

// SortedSetValues returns the ascending values of doc.
func (dv *DocValues) SortedSetValues(doc int) [][]byte {
	ords := dv.SortedSetOrds(doc)
	out := make([][]byte, len(ords))
	for i, o := range ords {
		out[i] = dv.terms[o]
	}
	return out
}

// SortedNumeric returns the ascending values of doc.
func (dv *DocValues) SortedNumeric(doc int) []int64 {
	if doc >= len(dv.multiNum) {
		return nil
	}
	return dv.multiNum[doc]
}

// DocValuesBuilder accumulates the values of one field while a segment is
// buffered or merged. Documents may be added in any order.
type DocValuesBuilder struct {
	typ  document.DocValuesType
	docs *roaring.Bitmap

	numeric  []int64
	binary   [][]byte
	setVals  [][][]byte
	multiNum [][]int64

	bytesUsed int64
}

// NewDocValuesBuilder returns a builder for typ.
func NewDocValuesBuilder(typ document.DocValuesType) *DocValuesBuilder {
	return &DocValuesBuilder{typ: typ, docs: roaring.New()}
}

// BytesUsed estimates the memory held by the builder.
func (b *DocValuesBuilder) BytesUsed() int64 { return b.bytesUsed }

// Add adds the value carried by f to doc.
func (b *DocValuesBuilder) Add(doc int, f document.Field) error {
	switch b.typ {
	case document.DocValuesNumeric:
		return b.AddNumeric(doc, f.IntValue())
	case document.DocValuesBinary, document.DocValuesSorted:
		return b.AddBinary(doc, f.BytesValue())
	case document.DocValuesSortedSet:
		b.AddSortedSet(doc, f.BytesValue())
		return nil
	case document.DocValuesSortedNumeric:
		b.AddSortedNumeric(doc, f.IntValue())
		return nil
	default:
		return fmt.Errorf("%w: field %s has no doc values", ErrIllegalArgument, f.Name())
	}
}

func (b *DocValuesBuilder) markSingle(doc int) error {
	if !b.docs.CheckedAdd(uint32(doc)) {
		return fmt.Errorf("%w: %s doc values field appears more than once in document %d", ErrIllegalArgument, b.typ, doc)
	}
	return nil
}

// AddNumeric sets the numeric value of doc.
func (b *DocValuesBuilder) AddNumeric(doc int, v int64) error {
	if err := b.markSingle(doc); err != nil {
		return err
	}
	for len(b.numeric) <= doc {
		b.numeric = append(b.numeric, 0)
		b.bytesUsed += 8
	}
	b.numeric[doc] = v
	return nil
}

// AddBinary sets the binary or sorted value of doc.
func (b *DocValuesBuilder) AddBinary(doc int, v []byte) error {
	if err := b.markSingle(doc); err != nil {
		return err
	}
	for len(b.binary) <= doc {
		b.binary = append(b.binary, nil)
		b.bytesUsed += 24
	}
	if v == nil {
		v = []byte{}
	}
	b.binary[doc] = bytes.Clone(v)
	b.bytesUsed += int64(len(v))
	return nil
}

// AddSortedSet adds one value to doc's set.
func (b *DocValuesBuilder) AddSortedSet(doc int, v []byte) {
	if v == nil {
		v = []byte{}
	}
	b.docs.Add(uint32(doc))
	for len(b.setVals) <= doc {
		b.setVals = append(b.setVals, nil)
		b.bytesUsed += 24
	}
	b.setVals[doc] = append(b.setVals[doc], bytes.Clone(v))
	b.bytesUsed += int64(len(v)) + 24
}

// AddSortedNumeric adds one value to doc's list.
func (b *DocValuesBuilder) AddSortedNumeric(doc int, v int64) {
	b.docs.Add(uint32(doc))
	for len(b.multiNum) <= doc {
		b.multiNum = append(b.multiNum, nil)
		b.bytesUsed += 24
	}
	b.multiNum[doc] = append(b.multiNum[doc], v)
	b.bytesUsed += 8
}

// Build returns the column for a segment of maxDoc documents.
func (b *DocValuesBuilder) Build(maxDoc int) *DocValues {
	dv := &DocValues{Type: b.typ, MaxDoc: maxDoc, DocsWithField: b.docs.Clone()}
	switch b.typ {
	case document.DocValuesNumeric:
		dv.numeric = padded(b.numeric, maxDoc)
	case document.DocValuesBinary:
		dv.binary = padded(b.binary, maxDoc)
	case document.DocValuesSorted:
		dv.terms = uniqueSorted(b.binary)
		dv.ords = make([]int32, maxDoc)
		for doc := range dv.ords {
			dv.ords[doc] = -1
			if doc < len(b.binary) && b.docs.Contains(uint32(doc)) {
				dv.ords[doc] = int32(dv.LookupTerm(b.binary[doc]))
			}
		}
	case document.DocValuesSortedSet:
		var all [][]byte
		for _, vals := range b.setVals {
			all = append(all, vals...)
		}
		dv.terms = uniqueSorted(all)
		dv.setOrds = make([][]int32, maxDoc)
		for doc := 0; doc < len(b.setVals) && doc < maxDoc; doc++ {
			var ords []int32
			for _, v := range b.setVals[doc] {
				ords = append(ords, int32(dv.LookupTerm(v)))
			}
			slices.Sort(ords)
			dv.setOrds[doc] = slices.Compact(ords)
		}
	case document.DocValuesSortedNumeric:
		dv.multiNum = make([][]int64, maxDoc)
		for doc := 0; doc < len(b.multiNum) && doc < maxDoc; doc++ {
			vals := slices.Clone(b.multiNum[doc])
			slices.Sort(vals)
			dv.multiNum[doc] = vals
		}
	}
	return dv
}

func padded[T any](in []T, n int) []T {
	out := make([]T, n)
	copy(out, in)
	return out
}

func uniqueSorted(vals [][]byte) [][]byte {
	var out [][]byte
	for _, v := range vals {
		if v != nil {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, bytes.Compare)
	return slices.CompactFunc(out, bytes.Equal)
}

// NewNumericDocValues builds a numeric column from per-doc values.
func NewNumericDocValues(values []int64, docsWithField *roaring.Bitmap) *DocValues {
	return &DocValues{Type: document.DocValuesNumeric, MaxDoc: len(values), DocsWithField: docsWithField, numeric: values}
}

// NewBinaryDocValues builds a binary column from per-doc values.
func NewBinaryDocValues(values [][]byte, docsWithField *roaring.Bitmap) *DocValues {
	return &DocValues{Type: document.DocValuesBinary, MaxDoc: len(values), DocsWithField: docsWithField, binary: values}
}

// NewSortedDocValues builds a sorted column from its sorted unique terms and
// per-doc ords (-1 for missing).
func NewSortedDocValues(terms [][]byte, ords []int32) *DocValues {
	docs := roaring.New()
	for doc, o := range ords {
		if o >= 0 {
			docs.Add(uint32(doc))
		}
	}
	return &DocValues{Type: document.DocValuesSorted, MaxDoc: len(ords), DocsWithField: docs, terms: terms, ords: ords}
}

// NewSortedSetDocValues builds a sorted set column from its sorted unique
// terms and per-doc ascending ords.
func NewSortedSetDocValues(terms [][]byte, ords [][]int32) *DocValues {
	docs := roaring.New()
	for doc, o := range ords {
		if len(o) > 0 {
			docs.Add(uint32(doc))
		}
	}
	return &DocValues{Type: document.DocValuesSortedSet, MaxDoc: len(ords), DocsWithField: docs, terms: terms, setOrds: ords}
}

// NewSortedNumericDocValues builds a sorted numeric column from per-doc
// ascending values.
func NewSortedNumericDocValues(values [][]int64) *DocValues {
	docs := roaring.New()
	for doc, v := range values {
		if len(v) > 0 {
			docs.Add(uint32(doc))
		}
	}
	return &DocValues{Type: document.DocValuesSortedNumeric, MaxDoc: len(values), DocsWithField: docs, multiNum: values}
}

// AppendTo adds the values of doc to b as newDoc.
func (dv *DocValues) AppendTo(b *DocValuesBuilder, doc, newDoc int) error {
	if !dv.Has(doc) {
		return nil
	}
	switch dv.Type {
	case document.DocValuesNumeric:
		return b.AddNumeric(newDoc, dv.Numeric(doc))
	case document.DocValuesBinary, document.DocValuesSorted:
		return b.AddBinary(newDoc, dv.Binary(doc))
	case document.DocValuesSortedSet:
		for _, v := range dv.SortedSetValues(doc) {
			b.AddSortedSet(newDoc, v)
		}
	case document.DocValuesSortedNumeric:
		for _, v := range dv.SortedNumeric(doc) {
			b.AddSortedNumeric(newDoc, v)
		}
	}
	return nil
}

// MergeDocValues concatenates the columns of merged segments. docMaps[i]
// maps the docs of inputs[i] to the merged segment, -1 for dropped docs.
// A nil input means the segment lacks the field.
func MergeDocValues(typ document.DocValuesType, inputs []*DocValues, docMaps [][]int, maxDoc int) (*DocValues, error) {
	b := NewDocValuesBuilder(typ)
	for i, dv := range inputs {
		if dv == nil {
			continue
		}
		for doc, newDoc := range docMaps[i] {
			if newDoc < 0 {
				continue
			}
			if err := dv.AppendTo(b, doc, newDoc); err != nil {
				return nil, err
			}
		}
	}
	return b.Build(maxDoc), nil
}

// WithNumericUpdates returns a copy of a numeric column with the given
// per-doc values replaced.
func (dv *DocValues) WithNumericUpdates(updates map[int]int64) *DocValues {
	out := &DocValues{Type: dv.Type, MaxDoc: dv.MaxDoc, DocsWithField: dv.DocsWithField.Clone(), numeric: padded(dv.numeric, dv.MaxDoc)}
	for doc, v := range updates {
		out.numeric[doc] = v
		out.DocsWithField.Add(uint32(doc))
	}
	return out
}

// WithBinaryUpdates returns a copy of a binary column with the given
// per-doc values replaced.
func (dv *DocValues) WithBinaryUpdates(updates map[int][]byte) *DocValues {
	out := &DocValues{Type: dv.Type, MaxDoc: dv.MaxDoc, DocsWithField: dv.DocsWithField.Clone(), binary: padded(dv.binary, dv.MaxDoc)}
	for doc, v := range updates {
		out.binary[doc] = v
		out.DocsWithField.Add(uint32(doc))
	}
	return out
}

// EmptyDocValues returns a column of typ without values.
func EmptyDocValues(typ document.DocValuesType, maxDoc int) *DocValues {
	return NewDocValuesBuilder(typ).Build(maxDoc)
}
