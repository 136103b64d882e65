package index

import (
	"bytes"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// MaxTermLength is the longest term in bytes the index accepts.
const MaxTermLength = 1<<15 - 2

// Estimated memory of the buffered structures.
const (
	bytesPerNewTerm     = 64
	bytesPerPosting     = 24
	bytesPerPosition    = 8
	bytesPerStoredField = 32
	bytesPerDoc         = 16
)

// postingList holds the postings of one term in a buffer. Positions,
// offsets and payloads are flattened; posStart[i] indexes the first
// position of docs[i].
type postingList struct {
	docs     []int
	freqs    []int
	posStart []int

	positions    []int
	startOffsets []int
	endOffsets   []int
	payloads     [][]byte
}

func (pl *postingList) lastDoc() int {
	if len(pl.docs) == 0 {
		return -1
	}
	return pl.docs[len(pl.docs)-1]
}

// fieldState is the per-field inverter of a buffer.
type fieldState struct {
	fi       *codec.FieldInfo
	postings map[string]*postingList
	docs     *roaring.Bitmap
	norms    *codec.DocValuesBuilder
	dv       *codec.DocValuesBuilder

	// state of the current document
	doc          int
	length       int
	position     int
	offset       int
	touched      []string
	vecPositions bool
	vecOffsets   bool
	vecPayloads  bool
	wantVectors  bool
}

// documentsBuffer is the private in-memory segment of one indexing
// goroutine. It implements flush.Buffer.
type documentsBuffer struct {
	dir      store.Directory
	codec    codec.Codec
	analyzer document.Analyzer
	logger   *slog.Logger

	infos  *codec.FieldInfosBuilder
	fields map[string]*fieldState

	stored  [][]codec.StoredField
	vectors [][]codec.FieldVector
	docSeqs []int64
	aborted *roaring.Bitmap

	numDocs   int
	bytesUsed int64
}

func newDocumentsBuffer(dir store.Directory, c codec.Codec, analyzer document.Analyzer, numbers *codec.FieldNumbers, logger *slog.Logger) *documentsBuffer {
	return &documentsBuffer{
		dir:      dir,
		codec:    c,
		analyzer: analyzer,
		logger:   logger,
		infos:    codec.NewFieldInfosBuilder(numbers),
		fields:   make(map[string]*fieldState),
		aborted:  roaring.New(),
	}
}

func (b *documentsBuffer) BytesUsed() int64 { return b.bytesUsed }
func (b *documentsBuffer) NumDocs() int     { return b.numDocs }

// setDocSeqs records the sequence numbers of the documents from first on;
// the last one gets last.
func (b *documentsBuffer) setDocSeqs(first int, last int64) {
	n := b.numDocs - first
	for i := 0; i < n; i++ {
		b.docSeqs = append(b.docSeqs, last-int64(n-1-i))
	}
	b.bytesUsed += int64(n) * 8
}

// addDocument inverts doc as the next document of the buffer. A document
// that fails half way still takes its doc id and is marked deleted.
func (b *documentsBuffer) addDocument(doc *document.Document) error {
	docID := b.numDocs
	b.numDocs++
	b.bytesUsed += bytesPerDoc

	var (
		stored  []codec.StoredField
		touched []*fieldState
	)
	err := b.processFields(docID, doc, &stored, &touched)
	if err == nil {
		err = b.finishFields(docID, touched)
	}
	b.stored = append(b.stored, stored)
	b.vectors = append(b.vectors, b.collectVectors(touched))
	if err != nil {
		b.aborted.Add(uint32(docID))
		return err
	}
	return nil
}

// addDocuments adds a block of documents. If one fails, the whole block is
// marked deleted.
func (b *documentsBuffer) addDocuments(docs []*document.Document) error {
	first := b.numDocs
	for _, doc := range docs {
		if err := b.addDocument(doc); err != nil {
			b.aborted.AddRange(uint64(first), uint64(b.numDocs))
			return err
		}
	}
	return nil
}

func (b *documentsBuffer) processFields(docID int, doc *document.Document, stored *[]codec.StoredField, touched *[]*fieldState) error {
	for _, f := range doc.Fields() {
		ft := f.Type()
		fi, err := b.infos.AddOrUpdate(f.Name(), ft)
		if err != nil {
			return err
		}
		fs := b.fieldState(fi)
		if ft.Indexed() {
			if fs.doc != docID {
				fs.startDocument(docID)
				*touched = append(*touched, fs)
			} else {
				fs.position += b.analyzer.PositionIncrementGap(fi.Name)
				fs.offset += b.analyzer.OffsetGap(fi.Name)
			}
			if ft.StoreTermVectors {
				fs.wantVectors = true
				fs.vecPositions = fs.vecPositions || ft.StoreTermVectorPositions
				fs.vecOffsets = fs.vecOffsets || ft.StoreTermVectorOffsets
				fs.vecPayloads = fs.vecPayloads || ft.StoreTermVectorPayloads
			}
			if err := b.invert(fs, f); err != nil {
				return err
			}
		}
		if ft.Stored {
			sf := codec.NewStoredField(fi.Number, f)
			*stored = append(*stored, sf)
			b.bytesUsed += bytesPerStoredField + int64(len(sf.S)+len(sf.B))
		}
		if ft.DocValuesType != document.DocValuesNone {
			if fs.dv == nil {
				fs.dv = codec.NewDocValuesBuilder(ft.DocValuesType)
			}
			before := fs.dv.BytesUsed()
			if err := fs.dv.Add(docID, f); err != nil {
				return err
			}
			b.bytesUsed += fs.dv.BytesUsed() - before
		}
	}
	return nil
}

func (b *documentsBuffer) fieldState(fi *codec.FieldInfo) *fieldState {
	fs, ok := b.fields[fi.Name]
	if !ok {
		fs = &fieldState{
			fi:       fi,
			postings: make(map[string]*postingList),
			docs:     roaring.New(),
			norms:    codec.NewDocValuesBuilder(document.DocValuesNumeric),
			doc:      -1,
		}
		b.fields[fi.Name] = fs
	}
	return fs
}

func (fs *fieldState) startDocument(docID int) {
	fs.doc = docID
	fs.length = 0
	fs.position = -1
	fs.offset = 0
	fs.touched = fs.touched[:0]
	fs.wantVectors = false
	fs.vecPositions, fs.vecOffsets, fs.vecPayloads = false, false, false
	fs.docs.Add(uint32(docID))
}

// tokens returns the token stream of an indexed field value. Untokenized
// values are a single token.
func (b *documentsBuffer) tokens(f document.Field) document.TokenStream {
	if ts := f.TokenStream(); ts != nil {
		return ts
	}
	if f.Type().Tokenized {
		return b.analyzer.TokenStream(f.Name(), f.StringValue())
	}
	var term []byte
	if f.Kind() == document.ValueBytes {
		term = f.BytesValue()
	} else {
		term = []byte(f.StringValue())
	}
	return document.NewCannedTokenStream(document.Token{Term: term, PositionIncrement: 1, EndOffset: len(term)})
}

func (b *documentsBuffer) invert(fs *fieldState, f document.Field) error {
	ts := b.tokens(f)
	hasPositions := fs.fi.IndexOptions.HasPositions()
	lastEnd := 0
	for ts.Next() {
		tok := ts.Token()
		if tok.PositionIncrement < 0 {
			return fmt.Errorf("%w: position increment must be >= 0, got %d (field %q)", ErrIllegalArgument, tok.PositionIncrement, fs.fi.Name)
		}
		if tok.StartOffset < 0 || tok.EndOffset < tok.StartOffset {
			return fmt.Errorf("%w: invalid offsets start=%d end=%d (field %q)", ErrIllegalArgument, tok.StartOffset, tok.EndOffset, fs.fi.Name)
		}
		if len(tok.Term) > MaxTermLength {
			return fmt.Errorf("%w: immense term of %d bytes in field %q (max %d)", ErrIllegalArgument, len(tok.Term), fs.fi.Name, MaxTermLength)
		}
		fs.position += tok.PositionIncrement
		if fs.position < 0 {
			fs.position = 0
		}
		if len(tok.Payload) > 0 && hasPositions {
			fs.fi.StorePayloads = true
		}
		b.addOccurrence(fs, tok, fs.offset+tok.StartOffset, fs.offset+tok.EndOffset)
		fs.length++
		lastEnd = tok.EndOffset
	}
	if err := ts.Err(); err != nil {
		return err
	}
	fs.offset += lastEnd
	return nil
}

func (b *documentsBuffer) addOccurrence(fs *fieldState, tok document.Token, start, end int) {
	key := string(tok.Term)
	pl, ok := fs.postings[key]
	if !ok {
		pl = &postingList{}
		fs.postings[key] = pl
		b.bytesUsed += bytesPerNewTerm + 2*int64(len(key))
	}
	if pl.lastDoc() != fs.doc {
		pl.docs = append(pl.docs, fs.doc)
		pl.freqs = append(pl.freqs, 0)
		pl.posStart = append(pl.posStart, len(pl.positions))
		fs.touched = append(fs.touched, key)
		b.bytesUsed += bytesPerPosting
	}
	pl.freqs[len(pl.freqs)-1]++
	pl.positions = append(pl.positions, fs.position)
	pl.startOffsets = append(pl.startOffsets, start)
	pl.endOffsets = append(pl.endOffsets, end)
	var payload []byte
	if len(tok.Payload) > 0 {
		payload = bytes.Clone(tok.Payload)
	}
	pl.payloads = append(pl.payloads, payload)
	b.bytesUsed += bytesPerPosition + int64(len(payload))
}

func (b *documentsBuffer) finishFields(docID int, touched []*fieldState) error {
	for _, fs := range touched {
		before := fs.norms.BytesUsed()
		if err := fs.norms.AddNumeric(docID, int64(fs.length)); err != nil {
			return err
		}
		b.bytesUsed += fs.norms.BytesUsed() - before
	}
	return nil
}

// collectVectors builds the term vectors of the current document from the
// postings it touched.
func (b *documentsBuffer) collectVectors(touched []*fieldState) []codec.FieldVector {
	var out []codec.FieldVector
	for _, fs := range touched {
		if !fs.wantVectors || len(fs.touched) == 0 {
			continue
		}
		fv := codec.FieldVector{
			Number:       fs.fi.Number,
			HasPositions: fs.vecPositions,
			HasOffsets:   fs.vecOffsets,
			HasPayloads:  fs.vecPayloads && fs.vecPositions,
		}
		terms := slices.Clone(fs.touched)
		slices.Sort(terms)
		for _, term := range terms {
			pl := fs.postings[term]
			i := len(pl.docs) - 1
			freq := pl.freqs[i]
			lo, hi := pl.posStart[i], pl.posStart[i]+freq
			tv := codec.TermVector{Term: []byte(term), Freq: freq}
			if fv.HasPositions {
				tv.Positions = slices.Clone(pl.positions[lo:hi])
			}
			if fv.HasOffsets {
				tv.StartOffsets = slices.Clone(pl.startOffsets[lo:hi])
				tv.EndOffsets = slices.Clone(pl.endOffsets[lo:hi])
			}
			if fv.HasPayloads {
				tv.Payloads = slices.Clone(pl.payloads[lo:hi])
			}
			fv.Terms = append(fv.Terms, tv)
			b.bytesUsed += int64(len(term)) + int64(freq)*bytesPerPosition
		}
		out = append(out, fv)
	}
	slices.SortFunc(out, func(x, y codec.FieldVector) int { return x.Number - y.Number })
	return out
}

// flushedSegment is the result of flushing a buffer. The segment is not
// sealed yet: compound packing and the .si are written by the writer.
type flushedSegment struct {
	info     *codec.SegmentInfo
	infos    *codec.FieldInfos
	liveDocs *codec.LiveDocs
	delCount int
	// resolvedSeq is the last sequence number whose ops were applied.
	resolvedSeq int64
}

// docValuesUpdates collects the doc values updates a flush applies to the
// buffered documents, keyed by field name.
type docValuesUpdates struct {
	numeric map[string]map[int]int64
	binary  map[string]map[int][]byte
}

// applyOps resolves the buffered ops against the buffered documents. Ops
// only see documents with a smaller sequence number.
func (b *documentsBuffer) applyOps(ops []bufferedOp, deleted *roaring.Bitmap) docValuesUpdates {
	updates := docValuesUpdates{numeric: make(map[string]map[int]int64), binary: make(map[string]map[int][]byte)}
	for i := range ops {
		op := &ops[i]
		fs, ok := b.fields[op.term.Field]
		if !ok {
			continue
		}
		pl, ok := fs.postings[op.term.Text]
		if !ok {
			continue
		}
		for _, doc := range pl.docs {
			if !op.appliesTo(b.docSeqs[doc]) {
				continue
			}
			switch op.kind {
			case opDeleteTerm:
				deleted.Add(uint32(doc))
			case opNumericUpdate:
				m := updates.numeric[op.field]
				if m == nil {
					m = make(map[int]int64)
					updates.numeric[op.field] = m
				}
				m[doc] = op.num
			case opBinaryUpdate:
				m := updates.binary[op.field]
				if m == nil {
					m = make(map[int][]byte)
					updates.binary[op.field] = m
				}
				m[doc] = op.bin
			}
		}
	}
	return updates
}

// flush writes the buffered documents as segment name. ops are the
// buffered deletes and updates up to sequence number frozen.
func (b *documentsBuffer) flush(name string, frozen int64, ops []bufferedOp) (seg *flushedSegment, err error) {
	maxDoc := b.numDocs
	si := codec.NewSegmentInfo(b.dir, name, maxDoc, b.codec.Name())
	si.Diagnostics[codec.DiagSource] = codec.DiagSourceFlush
	tdir := store.NewTrackingDirectory(b.dir)
	defer func() {
		if err != nil {
			for _, f := range tdir.CreatedFiles() {
				_ = b.dir.DeleteFile(f)
			}
		}
	}()

	deleted := b.aborted.Clone()
	updates := b.applyOps(ops, deleted)
	for field := range updates.numeric {
		if _, err := b.infos.AddOrUpdate(field, document.FieldType{DocValuesType: document.DocValuesNumeric}); err != nil {
			return nil, err
		}
	}
	for field := range updates.binary {
		if _, err := b.infos.AddOrUpdate(field, document.FieldType{DocValuesType: document.DocValuesBinary}); err != nil {
			return nil, err
		}
	}

	fis, err := b.infos.Finish()
	if err != nil {
		return nil, err
	}
	var live *codec.LiveDocs
	if !deleted.IsEmpty() {
		live = codec.LiveDocsFromDeleted(maxDoc, deleted)
	}
	state := &codec.SegmentWriteState{
		Directory:       tdir,
		SegmentInfo:     si,
		FieldInfos:      fis,
		DelCountOnFlush: int(deleted.GetCardinality()),
		LiveDocs:        live,
	}

	if err := b.writePostings(state); err != nil {
		return nil, err
	}
	if err := b.writeStoredFields(tdir, si, fis); err != nil {
		return nil, err
	}
	if fis.HasVectors {
		if err := b.writeVectors(tdir, si); err != nil {
			return nil, err
		}
	}
	if fis.HasNorms {
		if err := b.writeNorms(state); err != nil {
			return nil, err
		}
	}
	if fis.HasDocValues {
		if err := b.writeDocValues(state, updates); err != nil {
			return nil, err
		}
	}
	if _, err := b.codec.FieldInfosFormat().Write(tdir, name, -1, fis); err != nil {
		return nil, err
	}
	si.SetFiles(tdir.CreatedFiles())

	b.logger.Debug("flushed buffer", "segment", name, "docs", maxDoc, "deleted", state.DelCountOnFlush, "bytes", b.bytesUsed)
	return &flushedSegment{
		info:        si,
		infos:       fis,
		liveDocs:    live,
		delCount:    state.DelCountOnFlush,
		resolvedSeq: frozen,
	}, nil
}

func (b *documentsBuffer) sortedFields() []*fieldState {
	names := slices.Sorted(maps.Keys(b.fields))
	out := make([]*fieldState, 0, len(names))
	for _, n := range names {
		out = append(out, b.fields[n])
	}
	return out
}

func (b *documentsBuffer) writePostings(state *codec.SegmentWriteState) (err error) {
	fc, err := b.codec.PostingsFormat().FieldsConsumer(state)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fc.Close(); err == nil {
			err = cerr
		}
	}()
	for _, fs := range b.sortedFields() {
		if !fs.fi.IsIndexed() || len(fs.postings) == 0 {
			continue
		}
		if err := writeFieldPostings(fc, fs); err != nil {
			return err
		}
	}
	return nil
}

func writeFieldPostings(fc codec.FieldsConsumer, fs *fieldState) error {
	tc, err := fc.AddField(fs.fi)
	if err != nil {
		return err
	}
	opts := fs.fi.IndexOptions
	var sumTTF, sumDF int64
	for _, term := range slices.Sorted(maps.Keys(fs.postings)) {
		pl := fs.postings[term]
		pc, err := tc.StartTerm([]byte(term))
		if err != nil {
			return err
		}
		var ttf int64
		for i, doc := range pl.docs {
			freq := pl.freqs[i]
			if err := pc.StartDoc(doc, freq); err != nil {
				return err
			}
			if opts.HasPositions() {
				for p := pl.posStart[i]; p < pl.posStart[i]+freq; p++ {
					start, end := -1, -1
					if opts.HasOffsets() {
						start, end = pl.startOffsets[p], pl.endOffsets[p]
					}
					if err := pc.AddPosition(pl.positions[p], pl.payloads[p], start, end); err != nil {
						return err
					}
				}
			}
			if err := pc.FinishDoc(); err != nil {
				return err
			}
			ttf += int64(freq)
		}
		stats := codec.TermStats{DocFreq: len(pl.docs), TotalTermFreq: ttf}
		if !opts.HasFreqs() {
			stats.TotalTermFreq = -1
		}
		if err := tc.FinishTerm([]byte(term), stats); err != nil {
			return err
		}
		sumTTF += ttf
		sumDF += int64(len(pl.docs))
	}
	if !opts.HasFreqs() {
		sumTTF = -1
	}
	return tc.Finish(sumTTF, sumDF, int(fs.docs.GetCardinality()))
}

func (b *documentsBuffer) writeStoredFields(dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos) error {
	w, err := b.codec.StoredFieldsFormat().StoredFieldsWriter(dir, si)
	if err != nil {
		return err
	}
	for _, fields := range b.stored {
		if err := w.StartDocument(); err != nil {
			w.Abort()
			return err
		}
		for _, sf := range fields {
			if err := w.WriteField(fis.ByNumber(sf.Number), sf); err != nil {
				w.Abort()
				return err
			}
		}
		if err := w.FinishDocument(); err != nil {
			w.Abort()
			return err
		}
	}
	if err := w.Finish(len(b.stored)); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func (b *documentsBuffer) writeVectors(dir store.Directory, si *codec.SegmentInfo) error {
	w, err := b.codec.TermVectorsFormat().TermVectorsWriter(dir, si)
	if err != nil {
		return err
	}
	for _, fields := range b.vectors {
		if err := w.AddDocument(fields); err != nil {
			w.Abort()
			return err
		}
	}
	if err := w.Finish(len(b.vectors)); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func (b *documentsBuffer) writeNorms(state *codec.SegmentWriteState) (err error) {
	nc, err := b.codec.NormsFormat().NormsConsumer(state)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := nc.Close(); err == nil {
			err = cerr
		}
	}()
	for _, fi := range state.FieldInfos.All() {
		if !fi.HasNorms() {
			continue
		}
		values := codec.EmptyDocValues(document.DocValuesNumeric, state.SegmentInfo.MaxDoc)
		if fs, ok := b.fields[fi.Name]; ok {
			values = fs.norms.Build(state.SegmentInfo.MaxDoc)
		}
		if err := nc.AddField(fi, values); err != nil {
			return err
		}
	}
	return nil
}

func (b *documentsBuffer) writeDocValues(state *codec.SegmentWriteState, updates docValuesUpdates) (err error) {
	dc, err := b.codec.DocValuesFormat().DocValuesConsumer(state)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dc.Close(); err == nil {
			err = cerr
		}
	}()
	maxDoc := state.SegmentInfo.MaxDoc
	for _, fi := range state.FieldInfos.All() {
		if !fi.HasDocValues() {
			continue
		}
		var values *codec.DocValues
		if fs, ok := b.fields[fi.Name]; ok && fs.dv != nil {
			values = fs.dv.Build(maxDoc)
		} else {
			values = codec.EmptyDocValues(fi.DocValuesType, maxDoc)
		}
		if u := updates.numeric[fi.Name]; len(u) > 0 {
			values = values.WithNumericUpdates(u)
		}
		if u := updates.binary[fi.Name]; len(u) > 0 {
			values = values.WithBinaryUpdates(u)
		}
		if err := dc.AddField(fi, values); err != nil {
			return err
		}
	}
	return nil
}
