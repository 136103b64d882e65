package document

import "fmt"

// IndexOptions controls what the inverted index records for a field. The
// values are ordered: every option includes everything the previous one
// records.
type IndexOptions uint8

const (
	// IndexOptionsNone means the field is not indexed.
	IndexOptionsNone IndexOptions = iota
	// DocsOnly records documents but no frequencies or positions.
	DocsOnly
	// DocsAndFreqs adds term frequencies.
	DocsAndFreqs
	// DocsAndFreqsAndPositions adds positions and payloads.
	DocsAndFreqsAndPositions
	// DocsAndFreqsAndPositionsAndOffsets adds character offsets.
	DocsAndFreqsAndPositionsAndOffsets
)

// IsIndexed reports whether the field is indexed at all.
func (o IndexOptions) IsIndexed() bool { return o != IndexOptionsNone }

// HasFreqs reports whether term frequencies are recorded.
func (o IndexOptions) HasFreqs() bool { return o >= DocsAndFreqs }

// HasPositions reports whether positions are recorded.
func (o IndexOptions) HasPositions() bool { return o >= DocsAndFreqsAndPositions }

// HasOffsets reports whether offsets are recorded.
func (o IndexOptions) HasOffsets() bool { return o >= DocsAndFreqsAndPositionsAndOffsets }

func (o IndexOptions) String() string {
	switch o {
	case IndexOptionsNone:
		return "NONE"
	case DocsOnly:
		return "DOCS"
	case DocsAndFreqs:
		return "DOCS_AND_FREQS"
	case DocsAndFreqsAndPositions:
		return "DOCS_AND_FREQS_AND_POSITIONS"
	case DocsAndFreqsAndPositionsAndOffsets:
		return "DOCS_AND_FREQS_AND_POSITIONS_AND_OFFSETS"
	default:
		return fmt.Sprintf("IndexOptions(%d)", uint8(o))
	}
}

// DocValuesType is the column type of a doc values field.
type DocValuesType uint8

const (
	DocValuesNone DocValuesType = iota
	// DocValuesNumeric stores one int64 per document.
	DocValuesNumeric
	// DocValuesBinary stores one byte slice per document.
	DocValuesBinary
	// DocValuesSorted stores one byte slice per document, deduplicated and
	// addressed by ordinal.
	DocValuesSorted
	// DocValuesSortedSet stores a set of byte slices per document.
	DocValuesSortedSet
	// DocValuesSortedNumeric stores a sorted list of int64 per document.
	DocValuesSortedNumeric
)

func (t DocValuesType) String() string {
	switch t {
	case DocValuesNone:
		return "NONE"
	case DocValuesNumeric:
		return "NUMERIC"
	case DocValuesBinary:
		return "BINARY"
	case DocValuesSorted:
		return "SORTED"
	case DocValuesSortedSet:
		return "SORTED_SET"
	case DocValuesSortedNumeric:
		return "SORTED_NUMERIC"
	default:
		return fmt.Sprintf("DocValuesType(%d)", uint8(t))
	}
}
