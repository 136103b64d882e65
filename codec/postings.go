package codec

import "math"

// NoMoreDocs is returned by DocsEnum when the postings are exhausted.
const NoMoreDocs = math.MaxInt32

// SeekStatus is the result of TermsEnum.SeekCeil.
type SeekStatus int

const (
	// SeekEnd means no term is >= the target; the enum is unpositioned.
	SeekEnd SeekStatus = iota
	// SeekFound means the exact target term was found.
	SeekFound
	// SeekNotFound means the enum is positioned on the smallest term
	// greater than the target.
	SeekNotFound
)

func (s SeekStatus) String() string {
	switch s {
	case SeekEnd:
		return "END"
	case SeekFound:
		return "FOUND"
	case SeekNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Flags for TermsEnum.Docs and TermsEnum.DocsAndPositions.
const (
	// FlagFreqs asks for term frequencies. Without it Freq may return 1.
	FlagFreqs = 1 << iota
	// FlagOffsets asks for offsets.
	FlagOffsets
	// FlagPayloads asks for payloads.
	FlagPayloads
)

// TermStats are per-term statistics. TotalTermFreq is -1 when the field
// omits frequencies.
type TermStats struct {
	DocFreq       int
	TotalTermFreq int64
}

// FieldsConsumer receives the postings of a new segment, one field at a
// time in ascending field-name order.
type FieldsConsumer interface {
	AddField(info *FieldInfo) (TermsConsumer, error)
	// Close finalizes the postings files.
	Close() error
}

// TermsConsumer receives the terms of one field in ascending byte order.
type TermsConsumer interface {
	StartTerm(term []byte) (PostingsConsumer, error)
	FinishTerm(term []byte, stats TermStats) error
	// Finish ends the field. sumTotalTermFreq is -1 when frequencies are
	// omitted.
	Finish(sumTotalTermFreq, sumDocFreq int64, docCount int) error
}

// PostingsConsumer receives the postings of one term in ascending doc order.
type PostingsConsumer interface {
	StartDoc(docID, freq int) error
	AddPosition(position int, payload []byte, startOffset, endOffset int) error
	FinishDoc() error
}

// FieldsProducer reads the postings of a segment. It is safe for
// concurrent use; enumerators are not.
type FieldsProducer interface {
	// Fields returns the indexed field names in ascending order.
	Fields() []string
	// Terms returns the terms of field, or nil if the field has none.
	Terms(field string) (Terms, error)
	CheckIntegrity() error
	Close() error
}

// Terms is the term dictionary of one field.
type Terms interface {
	// Iterator returns an unpositioned enum. reuse may be nil.
	Iterator(reuse TermsEnum) (TermsEnum, error)
	Size() int64
	SumTotalTermFreq() int64
	SumDocFreq() int64
	DocCount() int
	HasFreqs() bool
	HasPositions() bool
	HasOffsets() bool
	HasPayloads() bool
}

// TermsEnum walks the terms of a field in ascending byte order.
type TermsEnum interface {
	// Next advances to the next term and returns it, or nil at the end.
	Next() ([]byte, error)
	SeekCeil(term []byte) (SeekStatus, error)
	SeekExact(term []byte) (bool, error)
	SeekExactOrd(ord int64) error
	// Term returns the current term. The slice is valid until the next move.
	Term() []byte
	Ord() int64
	DocFreq() int
	TotalTermFreq() int64
	// Docs returns the postings of the current term, skipping documents
	// liveDocs marks deleted. liveDocs may be nil.
	Docs(liveDocs Bits, reuse DocsEnum, flags int) (DocsEnum, error)
	// DocsAndPositions is like Docs with positions. It fails with
	// ErrNoPositions when the field was indexed without positions.
	DocsAndPositions(liveDocs Bits, reuse DocsAndPositionsEnum, flags int) (DocsAndPositionsEnum, error)
}

// DocsEnum iterates over the documents of a term.
type DocsEnum interface {
	// DocID returns the current doc, -1 before the first NextDoc and
	// NoMoreDocs once exhausted.
	DocID() int
	// NextDoc advances and returns the next doc or NoMoreDocs.
	NextDoc() (int, error)
	// Advance moves to the first doc >= target and returns it or
	// NoMoreDocs. target must be greater than the current doc.
	Advance(target int) (int, error)
	Freq() int
	Cost() int64
}

// DocsAndPositionsEnum adds the positions of each document.
type DocsAndPositionsEnum interface {
	DocsEnum
	// NextPosition returns the next position. Call it at most Freq times
	// per document.
	NextPosition() (int, error)
	// StartOffset and EndOffset are -1 when offsets were not indexed.
	StartOffset() int
	EndOffset() int
	// Payload returns the payload at the current position or nil.
	Payload() []byte
}

// SlowAdvance implements Advance with NextDoc.
func SlowAdvance(e DocsEnum, target int) (int, error) {
	doc := e.DocID()
	for doc < target {
		var err error
		if doc, err = e.NextDoc(); err != nil {
			return doc, err
		}
	}
	return doc, nil
}
