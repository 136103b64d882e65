package codec

import (
	"github.com/hupe1980/invgo/store"
)

// SegmentWriteState is passed to the formats writing a new segment.
type SegmentWriteState struct {
	Directory   store.Directory
	SegmentInfo *SegmentInfo
	FieldInfos  *FieldInfos
	// SegmentSuffix separates files of the same extension, e.g. the doc
	// values of an update generation.
	SegmentSuffix string
	// DelCountOnFlush counts documents deleted while the segment was
	// buffered; LiveDocs marks them.
	DelCountOnFlush int
	LiveDocs        *LiveDocs
}

// SegmentReadState is passed to the formats opening a segment.
type SegmentReadState struct {
	Directory     store.Directory
	SegmentInfo   *SegmentInfo
	FieldInfos    *FieldInfos
	SegmentSuffix string
}

// PostingsFormat encodes the term dictionary and postings.
type PostingsFormat interface {
	FieldsConsumer(state *SegmentWriteState) (FieldsConsumer, error)
	FieldsProducer(state *SegmentReadState) (FieldsProducer, error)
}

// StoredFieldsFormat encodes the stored fields of every document.
type StoredFieldsFormat interface {
	StoredFieldsWriter(dir store.Directory, si *SegmentInfo) (StoredFieldsWriter, error)
	StoredFieldsReader(dir store.Directory, si *SegmentInfo, fis *FieldInfos) (StoredFieldsReader, error)
}

// StoredFieldsWriter receives documents in doc id order.
type StoredFieldsWriter interface {
	StartDocument() error
	WriteField(info *FieldInfo, value StoredField) error
	FinishDocument() error
	// Finish checks that numDocs documents were written.
	Finish(numDocs int) error
	Close() error
	// Abort closes the writer after a failure; files are removed by the
	// caller.
	Abort()
}

// StoredFieldsReader returns the stored fields of a document. It is safe
// for concurrent use.
type StoredFieldsReader interface {
	Document(docID int) ([]StoredField, error)
	CheckIntegrity() error
	Close() error
}

// TermVectorsFormat encodes per-document term vectors.
type TermVectorsFormat interface {
	TermVectorsWriter(dir store.Directory, si *SegmentInfo) (TermVectorsWriter, error)
	TermVectorsReader(dir store.Directory, si *SegmentInfo, fis *FieldInfos) (TermVectorsReader, error)
}

// TermVectorsWriter receives the vectors of every document in doc id
// order; documents without vectors are added with no fields.
type TermVectorsWriter interface {
	AddDocument(fields []FieldVector) error
	Finish(numDocs int) error
	Close() error
	Abort()
}

// TermVectorsReader returns the vectors of a document. It is safe for
// concurrent use.
type TermVectorsReader interface {
	Get(docID int) ([]FieldVector, error)
	CheckIntegrity() error
	Close() error
}

// DocValuesFormat encodes column-stride per-document values.
type DocValuesFormat interface {
	DocValuesConsumer(state *SegmentWriteState) (DocValuesConsumer, error)
	DocValuesProducer(state *SegmentReadState) (DocValuesProducer, error)
}

// NormsFormat encodes per-field length norms. Norms use the numeric doc
// values model.
type NormsFormat interface {
	NormsConsumer(state *SegmentWriteState) (DocValuesConsumer, error)
	NormsProducer(state *SegmentReadState) (DocValuesProducer, error)
}

// DocValuesConsumer writes the doc values of a segment, one field at a time.
type DocValuesConsumer interface {
	AddField(info *FieldInfo, values *DocValues) error
	Close() error
}

// DocValuesProducer reads doc values. Values loads the whole column and is
// safe for concurrent use.
type DocValuesProducer interface {
	Values(info *FieldInfo) (*DocValues, error)
	CheckIntegrity() error
	Close() error
}

// FieldInfosFormat encodes the schema of a segment. gen is -1 for the
// schema written with the segment and the update generation otherwise.
type FieldInfosFormat interface {
	Read(dir store.Directory, segment string, gen int64) (*FieldInfos, error)
	Write(dir store.Directory, segment string, gen int64, infos *FieldInfos) (string, error)
}

// SegmentInfoFormat encodes the segment descriptor (.si).
type SegmentInfoFormat interface {
	Read(dir store.Directory, segment string) (*SegmentInfo, error)
	Write(dir store.Directory, si *SegmentInfo) error
}

// LiveDocsFormat encodes deletions as generation-tagged files.
type LiveDocsFormat interface {
	Read(dir store.Directory, si *SegmentInfo, delGen int64, delCount int) (*LiveDocs, error)
	Write(dir store.Directory, si *SegmentInfo, delGen int64, live *LiveDocs) (string, error)
}
