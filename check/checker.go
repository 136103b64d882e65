package check

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger. Per segment progress is logged at debug
// level, problems at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l.With("component", "checkindex")
		}
	}
}

// WithCrossCheckTermVectors compares the term vectors of every document
// with its postings. It is slow.
func WithCrossCheckTermVectors(on bool) Option {
	return func(c *Checker) { c.crossCheckTermVectors = on }
}

// WithFailFast stops at the first broken segment.
func WithFailFast(on bool) Option {
	return func(c *Checker) { c.failFast = on }
}

// Checker checks the newest commit of a directory. No writer may have the
// directory open while it runs.
type Checker struct {
	dir                   store.Directory
	logger                *slog.Logger
	crossCheckTermVectors bool
	failFast              bool
}

// New returns a checker for dir.
func New(dir store.Directory, opts ...Option) *Checker {
	c := &Checker{
		dir:    dir,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check walks the newest commit. With onlySegments only the named
// segments are checked and the status is partial. The returned error is
// reserved for failures of the check itself, e.g. a canceled context;
// problems of the index are reported in the Status.
func (c *Checker) Check(ctx context.Context, onlySegments ...string) (*Status, error) {
	start := time.Now()
	st := &Status{}
	defer func() { st.Took = time.Since(start) }()

	files, err := c.dir.ListAll()
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	if index.LastCommitGeneration(files) == -1 {
		st.MissingSegments = true
		st.Err = fmt.Errorf("%w in %v", index.ErrNoCommits, c.dir)
		st.Error = Describe(st.Err)
		c.logger.Warn("no commit found", "dir", fmt.Sprint(c.dir))
		return st, nil
	}

	sis, err := index.ReadLatestSegmentInfos(c.dir)
	if err != nil {
		st.CantOpenSegments = true
		st.Err = err
		st.Error = Describe(err)
		c.logger.Warn("cannot read commit", "error", st.Error)
		return st, nil
	}
	st.infos = sis
	st.SegmentsFileName = sis.SegmentsFileName()
	st.Generation = sis.Generation()
	st.NumSegments = sis.Len()
	st.UserData = maps.Clone(sis.UserData)

	if len(onlySegments) > 0 {
		st.Partial = true
	}
	c.logger.Info("checking commit",
		"file", st.SegmentsFileName,
		"segments", st.NumSegments,
		"partial", st.Partial,
	)

	for _, sci := range sis.Segments {
		if st.Partial && !slices.Contains(onlySegments, sci.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.SegmentsChecked = append(st.SegmentsChecked, sci.Name())

		seg, fp := c.checkSegment(sci)
		st.Segments = append(st.Segments, seg)
		if seg.Clean() {
			st.good = append(st.good, sci)
			st.Fingerprint.merge(fp)
			c.logger.Debug("segment ok", "segment", seg.Name, "docs", seg.NumDocs)
			continue
		}
		st.NumBadSegments++
		st.TotLoseDocCount += sci.NumDocs()
		c.logger.Warn("segment broken", "segment", seg.Name, "error", seg.Error)
		if c.failFast {
			break
		}
	}

	st.Clean = st.NumBadSegments == 0
	c.logger.Info("check finished",
		"clean", st.Clean,
		"badSegments", st.NumBadSegments,
		"lostDocs", st.TotLoseDocCount,
		"fingerprint", st.Fingerprint.String(),
	)
	return st, nil
}

func (c *Checker) checkSegment(sci *index.SegmentCommitInfo) (*SegmentStatus, Fingerprint) {
	var fp Fingerprint
	seg := &SegmentStatus{
		Name:         sci.Name(),
		Codec:        sci.Info.Codec,
		Version:      sci.Info.Version,
		MaxDoc:       sci.MaxDoc(),
		NumDocs:      sci.NumDocs(),
		Compound:     sci.Info.UseCompoundFile,
		NumFiles:     len(sci.Files()),
		Diagnostics:  maps.Clone(sci.Info.Diagnostics),
		HasDeletions: sci.HasDeletions(),
		DelGen:       sci.DelGen,
		NumDeleted:   sci.DelCount,
	}

	size, err := sci.SizeInBytes()
	if err != nil {
		seg.fail(err)
		return seg, fp
	}
	seg.SizeBytes = size

	if _, err := codec.Lookup(sci.Info.Codec); err != nil {
		seg.fail(err)
		return seg, fp
	}

	r, err := index.OpenSegmentReader(sci)
	if err != nil {
		seg.fail(fmt.Errorf("open segment: %w", err))
		return seg, fp
	}
	defer r.Close()
	seg.OpenReaderPassed = true

	if err := r.CheckIntegrity(); err != nil {
		seg.fail(fmt.Errorf("checksum: %w", err))
		return seg, fp
	}

	h := newHasher()
	seg.LiveDocs = testLiveDocs(r, sci)
	seg.FieldInfos = testFieldInfos(r)
	seg.NumFields = seg.FieldInfos.TotFields
	seg.Norms = testNorms(r)
	seg.Terms = testPostings(r, h, &fp)
	seg.StoredFields = testStoredFields(r, h, &fp)
	seg.TermVectors = testTermVectors(r, c.crossCheckTermVectors)
	seg.DocValues = testDocValues(r)

	for _, err := range []error{
		seg.LiveDocs.Err,
		seg.FieldInfos.Err,
		seg.Norms.Err,
		seg.Terms.Err,
		seg.StoredFields.Err,
		seg.TermVectors.Err,
		seg.DocValues.Err,
	} {
		if err != nil {
			seg.fail(err)
		}
	}
	return seg, fp
}

func testLiveDocs(r *index.SegmentReader, sci *index.SegmentCommitInfo) LiveDocsStatus {
	var st LiveDocsStatus
	live := r.LiveDocs()
	if live == nil {
		if sci.DelCount != 0 {
			st.Err = corrupt(sci.Name(), "segment reports %d deletions but has no live docs", sci.DelCount)
		}
		return st
	}
	if live.Len() != r.MaxDoc() {
		st.Err = corrupt(sci.Name(), "live docs length %d does not match maxDoc %d", live.Len(), r.MaxDoc())
		return st
	}
	for doc := range r.MaxDoc() {
		if !live.Get(doc) {
			st.NumDeleted++
		}
	}
	if st.NumDeleted != sci.DelCount {
		st.Err = corrupt(sci.Name(), "live docs count %d deletions but segment reports %d", st.NumDeleted, sci.DelCount)
	}
	return st
}

func testFieldInfos(r *index.SegmentReader) FieldInfosStatus {
	var st FieldInfosStatus
	seen := make(map[string]bool)
	for _, fi := range r.FieldInfos().All() {
		if seen[fi.Name] {
			st.Err = corrupt(r.SegmentName(), "duplicate field %q", fi.Name)
			return st
		}
		seen[fi.Name] = true
		st.TotFields++
	}
	return st
}

func testNorms(r *index.SegmentReader) NormsStatus {
	var st NormsStatus
	for _, fi := range r.FieldInfos().All() {
		if !fi.HasNorms() {
			continue
		}
		norms, err := r.Norms(fi.Name)
		if err != nil {
			st.Err = fmt.Errorf("norms of field %q: %w", fi.Name, err)
			return st
		}
		if norms == nil {
			continue
		}
		if norms.MaxDoc != r.MaxDoc() {
			st.Err = corrupt(r.SegmentName(), "norms of field %q cover %d docs, want %d", fi.Name, norms.MaxDoc, r.MaxDoc())
			return st
		}
		st.TotFields++
	}
	return st
}

func testPostings(r *index.SegmentReader, h *hasher, fp *Fingerprint) TermsStatus {
	var st TermsStatus
	live := r.LiveDocs()
	maxDoc := r.MaxDoc()

	for _, field := range r.Fields().Fields() {
		fi := r.FieldInfos().ByName(field)
		if fi == nil {
			st.Err = corrupt(r.SegmentName(), "postings for unknown field %q", field)
			return st
		}
		terms, err := r.Terms(field)
		if err != nil {
			st.Err = err
			return st
		}
		if terms == nil {
			continue
		}
		te, err := terms.Iterator(nil)
		if err != nil {
			st.Err = err
			return st
		}

		hasFreqs := fi.IndexOptions.HasFreqs()
		hasPositions := fi.IndexOptions.HasPositions()
		hasOffsets := fi.IndexOptions.HasOffsets()
		flags := 0
		if hasFreqs {
			flags |= codec.FlagFreqs
		}
		if hasOffsets {
			flags |= codec.FlagOffsets
		}

		var (
			prev        []byte
			termCount   int64
			sumDocFreq  int64
			sumTotFreq  int64
			docsInField = make(map[int]struct{})
		)
		for {
			term, err := te.Next()
			if err != nil {
				st.Err = err
				return st
			}
			if term == nil {
				break
			}
			if prev != nil && bytes.Compare(prev, term) >= 0 {
				st.Err = corrupt(r.SegmentName(), "terms of field %q out of order: %q after %q", field, term, prev)
				return st
			}
			prev = append(prev[:0], term...)
			termCount++

			var de codec.DocsEnum
			var dpe codec.DocsAndPositionsEnum
			if hasPositions {
				dpe, err = te.DocsAndPositions(nil, nil, flags|codec.FlagPayloads)
				de = dpe
			} else {
				de, err = te.Docs(nil, nil, flags)
			}
			if err != nil {
				st.Err = err
				return st
			}

			docFreq, liveDocFreq := 0, 0
			var totFreq int64
			lastDoc := -1
			for {
				doc, err := de.NextDoc()
				if err != nil {
					st.Err = err
					return st
				}
				if doc == codec.NoMoreDocs {
					break
				}
				if doc <= lastDoc || doc >= maxDoc {
					st.Err = corrupt(r.SegmentName(), "term %s:%q: doc %d out of order or range (last %d, maxDoc %d)", field, term, doc, lastDoc, maxDoc)
					return st
				}
				lastDoc = doc
				docFreq++
				docsInField[doc] = struct{}{}

				freq := de.Freq()
				if hasFreqs && freq <= 0 {
					st.Err = corrupt(r.SegmentName(), "term %s:%q: doc %d has freq %d", field, term, doc, freq)
					return st
				}
				totFreq += int64(freq)
				isLive := live == nil || live.Get(doc)
				if isLive {
					liveDocFreq++
					if hasFreqs {
						fp.addPosting(h, field, term, freq)
					} else {
						fp.addPosting(h, field, term, -1)
					}
				}

				if dpe != nil {
					if err := checkPositions(dpe, freq, hasOffsets); err != nil {
						st.Err = corrupt(r.SegmentName(), "term %s:%q doc %d: %v", field, term, doc, err)
						return st
					}
					st.TotPos += int64(freq)
				}
			}

			if docFreq != te.DocFreq() {
				st.Err = corrupt(r.SegmentName(), "term %s:%q: docFreq %d but postings hold %d docs", field, term, te.DocFreq(), docFreq)
				return st
			}
			if hasFreqs && te.TotalTermFreq() != -1 && te.TotalTermFreq() != totFreq {
				st.Err = corrupt(r.SegmentName(), "term %s:%q: totalTermFreq %d but postings sum to %d", field, term, te.TotalTermFreq(), totFreq)
				return st
			}
			if liveDocFreq == 0 {
				st.DelTermCount++
			}
			ok, err := te.SeekExact(term)
			if err != nil || !ok {
				st.Err = corrupt(r.SegmentName(), "term %s:%q: seek back failed (err=%v)", field, term, err)
				return st
			}

			sumDocFreq += int64(docFreq)
			sumTotFreq += totFreq
			st.TotFreq += totFreq
		}

		st.TermCount += termCount
		if n := terms.Size(); n != -1 && n != termCount {
			st.Err = corrupt(r.SegmentName(), "field %q: size %d but %d terms enumerated", field, n, termCount)
			return st
		}
		if n := terms.SumDocFreq(); n != -1 && n != sumDocFreq {
			st.Err = corrupt(r.SegmentName(), "field %q: sumDocFreq %d but postings sum to %d", field, n, sumDocFreq)
			return st
		}
		if n := terms.SumTotalTermFreq(); hasFreqs && n != -1 && n != sumTotFreq {
			st.Err = corrupt(r.SegmentName(), "field %q: sumTotalTermFreq %d but postings sum to %d", field, n, sumTotFreq)
			return st
		}
		if n := terms.DocCount(); n != -1 && n != len(docsInField) {
			st.Err = corrupt(r.SegmentName(), "field %q: docCount %d but %d docs have terms", field, n, len(docsInField))
			return st
		}
	}
	return st
}

func checkPositions(e codec.DocsAndPositionsEnum, freq int, hasOffsets bool) error {
	lastPos, lastStart := -1, 0
	for range freq {
		pos, err := e.NextPosition()
		if err != nil {
			return err
		}
		if pos < 0 || pos < lastPos {
			return fmt.Errorf("position %d after %d", pos, lastPos)
		}
		lastPos = pos
		if !hasOffsets {
			continue
		}
		start, end := e.StartOffset(), e.EndOffset()
		if start < 0 || end < start || start < lastStart {
			return fmt.Errorf("offsets [%d,%d) after start %d", start, end, lastStart)
		}
		lastStart = start
	}
	return nil
}

func testStoredFields(r *index.SegmentReader, h *hasher, fp *Fingerprint) StoredFieldsStatus {
	var st StoredFieldsStatus
	live := r.LiveDocs()
	for doc := range r.MaxDoc() {
		if live != nil && !live.Get(doc) {
			continue
		}
		d, err := r.Document(doc)
		if err != nil {
			st.Err = fmt.Errorf("stored fields of doc %d: %w", doc, err)
			return st
		}
		st.DocCount++
		st.TotFields += int64(d.Len())
		fp.addDocument(h, d)
	}
	if st.DocCount != r.NumDocs() {
		st.Err = corrupt(r.SegmentName(), "stored fields visited %d docs, want %d", st.DocCount, r.NumDocs())
	}
	return st
}

func testTermVectors(r *index.SegmentReader, crossCheck bool) TermVectorsStatus {
	var st TermVectorsStatus
	live := r.LiveDocs()
	for doc := range r.MaxDoc() {
		if live != nil && !live.Get(doc) {
			continue
		}
		vectors, err := r.TermVectors(doc)
		if err != nil {
			st.Err = fmt.Errorf("term vectors of doc %d: %w", doc, err)
			return st
		}
		if vectors == nil {
			continue
		}
		st.DocCount++
		for _, fv := range vectors {
			fi := r.FieldInfos().ByNumber(fv.Number)
			if fi == nil || !fi.StoreTermVectors {
				st.Err = corrupt(r.SegmentName(), "doc %d has term vectors for field %d which does not store them", doc, fv.Number)
				return st
			}
			st.TotVectors++
			if crossCheck {
				if err := crossCheckVector(r, doc, fi.Name, fv); err != nil {
					st.Err = err
					return st
				}
			}
		}
	}
	return st
}

// crossCheckVector verifies that every term of a vector lists doc in its
// postings with the same frequency.
func crossCheckVector(r *index.SegmentReader, doc int, field string, fv codec.FieldVector) error {
	for _, tv := range fv.Terms {
		de, err := r.Postings(index.NewTermBytes(field, tv.Term), codec.FlagFreqs)
		if err != nil {
			return err
		}
		if de == nil {
			return corrupt(r.SegmentName(), "term vector term %s:%q of doc %d has no postings", field, tv.Term, doc)
		}
		got, err := de.Advance(doc)
		if err != nil {
			return err
		}
		if got != doc {
			return corrupt(r.SegmentName(), "term vector term %s:%q lists doc %d but postings do not", field, tv.Term, doc)
		}
		if r.FieldInfos().ByName(field).IndexOptions.HasFreqs() && de.Freq() != tv.Freq {
			return corrupt(r.SegmentName(), "term %s:%q doc %d: vector freq %d, postings freq %d", field, tv.Term, doc, tv.Freq, de.Freq())
		}
	}
	return nil
}

func testDocValues(r *index.SegmentReader) DocValuesStatus {
	var st DocValuesStatus
	for _, fi := range r.FieldInfos().All() {
		if !fi.HasDocValues() {
			continue
		}
		dv, err := r.DocValues(fi.Name)
		if err != nil {
			st.Err = fmt.Errorf("doc values of field %q: %w", fi.Name, err)
			return st
		}
		if dv == nil {
			st.Err = corrupt(r.SegmentName(), "field %q declares doc values but has none", fi.Name)
			return st
		}
		if dv.Type != fi.DocValuesType {
			st.Err = corrupt(r.SegmentName(), "field %q: doc values type %s, declared %s", fi.Name, dv.Type, fi.DocValuesType)
			return st
		}
		if err := checkDocValues(dv, r.MaxDoc()); err != nil {
			st.Err = corrupt(r.SegmentName(), "field %q: %v", fi.Name, err)
			return st
		}
		st.TotalValues += int64(dv.DocsWithField.GetCardinality())
		switch fi.DocValuesType {
		case document.DocValuesNumeric:
			st.TotalNumericFields++
		case document.DocValuesBinary:
			st.TotalBinaryFields++
		case document.DocValuesSorted:
			st.TotalSortedFields++
		case document.DocValuesSortedSet:
			st.TotalSortedSetFields++
		case document.DocValuesSortedNumeric:
			st.TotalSortedNumericFields++
		}
	}
	return st
}

func checkDocValues(dv *codec.DocValues, maxDoc int) error {
	if dv.DocsWithField == nil {
		return fmt.Errorf("missing docs with field")
	}
	if !dv.DocsWithField.IsEmpty() && int(dv.DocsWithField.Maximum()) >= maxDoc {
		return fmt.Errorf("doc %d with value is beyond maxDoc %d", dv.DocsWithField.Maximum(), maxDoc)
	}
	switch dv.Type {
	case document.DocValuesSorted:
		for i := 1; i < dv.ValueCount(); i++ {
			if bytes.Compare(dv.LookupOrd(i-1), dv.LookupOrd(i)) >= 0 {
				return fmt.Errorf("sorted values out of order at ord %d", i)
			}
		}
		it := dv.DocsWithField.Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			if ord := dv.SortedOrd(doc); ord < 0 || ord >= dv.ValueCount() {
				return fmt.Errorf("doc %d has ord %d of %d", doc, ord, dv.ValueCount())
			}
		}
	case document.DocValuesSortedSet:
		it := dv.DocsWithField.Iterator()
		for it.HasNext() {
			doc := int(it.Next())
			last := int32(-1)
			for _, ord := range dv.SortedSetOrds(doc) {
				if ord <= last || int(ord) >= dv.ValueCount() {
					return fmt.Errorf("doc %d has ords out of order or range", doc)
				}
				last = ord
			}
		}
	}
	return nil
}

func corrupt(segment, format string, args ...any) error {
	return store.Corruptf(segment, format, args...)
}
