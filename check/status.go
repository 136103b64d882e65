package check

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

// Status is the result of checking one commit.
type Status struct {
	// Clean is true when the commit could be read and no segment is broken.
	Clean bool

	// MissingSegments is set when the directory holds no commit.
	MissingSegments bool
	// CantOpenSegments is set when the newest commit descriptor could not
	// be read. Error says why.
	CantOpenSegments bool

	SegmentsFileName string
	Generation       int64
	NumSegments      int
	UserData         map[string]string

	// Partial is set when only some segments were checked.
	Partial         bool
	SegmentsChecked []string

	NumBadSegments int
	// TotLoseDocCount is the number of live documents Exorcise would drop.
	TotLoseDocCount int

	Segments []*SegmentStatus

	// Fingerprint summarizes the live content of every healthy segment.
	Fingerprint Fingerprint

	// Err is the commit level failure, nil if the descriptor was read.
	Err error
	// Error describes Err, prefixed with the kind of failure.
	Error string

	Took time.Duration

	infos *index.SegmentInfos
	good  []*index.SegmentCommitInfo
}

// SegmentStatus is the result of checking one segment.
type SegmentStatus struct {
	Name        string
	Codec       string
	Version     string
	MaxDoc      int
	NumDocs     int
	Compound    bool
	NumFiles    int
	SizeBytes   int64
	Diagnostics map[string]string

	HasDeletions bool
	DelGen       int64
	NumDeleted   int

	OpenReaderPassed bool
	NumFields        int

	LiveDocs     LiveDocsStatus
	FieldInfos   FieldInfosStatus
	Norms        NormsStatus
	Terms        TermsStatus
	StoredFields StoredFieldsStatus
	TermVectors  TermVectorsStatus
	DocValues    DocValuesStatus

	// Err is the first failure found in the segment.
	Err error
	// Error describes Err, prefixed with the kind of failure.
	Error string
}

// Clean reports whether the segment passed every test.
func (s *SegmentStatus) Clean() bool { return s.Err == nil }

func (s *SegmentStatus) fail(err error) {
	if s.Err == nil {
		s.Err = err
		s.Error = Describe(err)
	}
}

// LiveDocsStatus is the live docs test of a segment.
type LiveDocsStatus struct {
	NumDeleted int
	Err        error
}

// FieldInfosStatus is the field infos test of a segment.
type FieldInfosStatus struct {
	TotFields int
	Err       error
}

// NormsStatus is the norms test of a segment.
type NormsStatus struct {
	TotFields int
	Err       error
}

// TermsStatus is the postings test of a segment.
type TermsStatus struct {
	TermCount    int64
	DelTermCount int64
	TotFreq      int64
	TotPos       int64
	Err          error
}

// StoredFieldsStatus is the stored fields test of a segment.
type StoredFieldsStatus struct {
	DocCount  int
	TotFields int64
	Err       error
}

// TermVectorsStatus is the term vectors test of a segment.
type TermVectorsStatus struct {
	DocCount   int
	TotVectors int64
	Err        error
}

// DocValuesStatus is the doc values test of a segment.
type DocValuesStatus struct {
	TotalNumericFields       int
	TotalBinaryFields        int
	TotalSortedFields        int
	TotalSortedSetFields     int
	TotalSortedNumericFields int
	TotalValues              int64
	Err                      error
}

// Describe prefixes err with the kind of failure, e.g.
// "format too old: ...".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", Kind(err), err)
}

// Kind names the class of err.
func Kind(err error) string {
	switch {
	case errors.Is(err, codec.ErrFormatTooOld):
		return "format too old"
	case errors.Is(err, codec.ErrFormatTooNew):
		return "format too new"
	case errors.Is(err, codec.ErrCorruptIndex):
		return "corrupt index"
	case errors.Is(err, codec.ErrUnknownCodec):
		return "unknown codec"
	case errors.Is(err, store.ErrFileNotFound):
		return "file not found"
	case errors.Is(err, store.ErrReadPastEOF):
		return "truncated file"
	case errors.Is(err, index.ErrNoCommits):
		return "no commit"
	default:
		return "error"
	}
}
