package testutil

import (
	"strconv"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// Layout of the legacy fixture.
const (
	LegacyDocs       = 35
	LegacyDeletedDoc = 7
	LegacyTerm       = "aaa"
)

// LegacyDocument is document i of the legacy fixture.
func LegacyDocument(i int) *document.Document {
	return document.New(
		document.NewStringField("id", strconv.Itoa(i), true),
		document.NewTextField("content", LegacyTerm, false),
		document.NewTextField("content2", "here is more content with "+LegacyTerm+" and "+strconv.Itoa(i), true),
		document.NewStoredField("utf8", "Lu\U0001D11Ece\U0001D160ne \u0000 ☠ abcd"),
		document.NewNumericDocValuesField("dvLong", int64(i)),
	)
}

// WriteLegacyIndex writes an index of LegacyDocs documents with the legacy
// codec into dir and deletes document LegacyDeletedDoc. Every document
// holds LegacyTerm in field "content". The index has four segments.
func WriteLegacyIndex(dir store.Directory) error {
	return WriteLegacyIndexSegments(dir, 10)
}

// WriteLegacyIndexSegments is WriteLegacyIndex with docsPerSegment
// documents per flushed segment. Values >= LegacyDocs give a single
// segment.
func WriteLegacyIndexSegments(dir store.Directory, docsPerSegment int) error {
	w, err := index.Open(dir,
		index.WithOpenMode(index.Create),
		index.WithCodec(standard.NewLegacy(true)),
		index.WithCompoundFile(false),
		index.WithMaxBufferedDocs(docsPerSegment),
		index.WithMergePolicy(merge.NoMerge{}),
	)
	if err != nil {
		return err
	}
	for i := range LegacyDocs {
		if _, err := w.AddDocument(LegacyDocument(i)); err != nil {
			_ = w.Rollback()
			return err
		}
	}
	if _, err := w.DeleteDocuments(index.NewTerm("id", strconv.Itoa(LegacyDeletedDoc))); err != nil {
		_ = w.Rollback()
		return err
	}
	if _, err := w.Commit(); err != nil {
		_ = w.Rollback()
		return err
	}
	return w.Close()
}

// WriteTooOldIndex writes a commit descriptor whose format predates every
// supported one.
func WriteTooOldIndex(dir store.Directory) error {
	out, err := dir.CreateOutput(codec.SegmentsFileName(1))
	if err != nil {
		return err
	}
	if err := store.WriteHeader(out, index.SegmentsCodec, index.SegmentsFormat09-1); err != nil {
		_ = out.Close()
		return err
	}
	e := store.NewEncoder(out)
	e.Uint64(1) // version
	e.Uint32(0) // counter
	e.Uint32(0) // segments
	if err := e.Err(); err != nil {
		_ = out.Close()
		return err
	}
	if err := store.WriteFooter(out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
