package standard

import (
	"bytes"
	"fmt"

	"github.com/willf/bloom"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

type postingsFormat struct{ c *Codec }

func (f postingsFormat) FieldsConsumer(state *codec.SegmentWriteState) (codec.FieldsConsumer, error) {
	if err := f.c.checkWritable(); err != nil {
		return nil, err
	}
	return newFieldsWriter(f.c, state)
}

func (f postingsFormat) FieldsProducer(state *codec.SegmentReadState) (codec.FieldsProducer, error) {
	return newFieldsReader(f.c, state)
}

// termMeta is the dictionary entry of one term.
type termMeta struct {
	term          []byte
	docFreq       int
	totalTermFreq int64
	docFP         int64
	posFP         int64
	// skipOffset is the distance from docFP to the skip data, 0 if the
	// term has none.
	skipOffset int64
}

// fieldMeta is the directory entry of one field in the terms file.
type fieldMeta struct {
	number           int
	numTerms         int64
	sumTotalTermFreq int64
	sumDocFreq       int64
	docCount         int
	indexFP          int64
	numBlocks        int
	bloomFP          int64
}

type skipEntry struct {
	doc   int
	docFP int64
	posFP int64
}

// fieldsWriter writes the terms dictionary (.tim), its block index (.tip),
// doc and frequency postings (.doc), positions (.pos) and, for the current
// codec, per-field bloom filters (.blm).
type fieldsWriter struct {
	c      *Codec
	state  *codec.SegmentWriteState
	timOut store.IndexOutput
	tipOut store.IndexOutput
	docOut store.IndexOutput
	posOut store.IndexOutput
	blmOut store.IndexOutput

	tim, tip, doc, pos *store.Encoder

	fields    []fieldMeta
	lastField string
	closed    bool
}

func newFieldsWriter(c *Codec, state *codec.SegmentWriteState) (_ *fieldsWriter, err error) {
	w := &fieldsWriter{c: c, state: state}
	defer func() {
		if err != nil {
			_ = w.closeOutputs()
		}
	}()
	seg, suffix, dir := state.SegmentInfo.Name, state.SegmentSuffix, state.Directory
	if w.timOut, err = createOutput(dir, codec.SegmentFileName(seg, suffix, termsExt), termsCodec, c.version); err != nil {
		return nil, err
	}
	if w.tipOut, err = createOutput(dir, codec.SegmentFileName(seg, suffix, termsIndexExt), termsIndexCodec, c.version); err != nil {
		return nil, err
	}
	if w.docOut, err = createOutput(dir, codec.SegmentFileName(seg, suffix, docExt), docCodec, c.version); err != nil {
		return nil, err
	}
	if state.FieldInfos.HasProx {
		if w.posOut, err = createOutput(dir, codec.SegmentFileName(seg, suffix, posExt), posCodec, c.version); err != nil {
			return nil, err
		}
		w.pos = store.NewEncoder(w.posOut)
	}
	if !c.legacy() {
		if w.blmOut, err = createOutput(dir, codec.SegmentFileName(seg, suffix, bloomExt), bloomCodec, c.version); err != nil {
			return nil, err
		}
	}
	w.tim = store.NewEncoder(w.timOut)
	w.tip = store.NewEncoder(w.tipOut)
	w.doc = store.NewEncoder(w.docOut)
	return w, nil
}

func (w *fieldsWriter) AddField(info *codec.FieldInfo) (codec.TermsConsumer, error) {
	if w.lastField != "" && info.Name <= w.lastField {
		return nil, fmt.Errorf("%w: fields must be added in order: %q after %q", codec.ErrIllegalArgument, info.Name, w.lastField)
	}
	if info.IndexOptions.HasPositions() && w.posOut == nil {
		return nil, fmt.Errorf("%w: field %q has positions but the segment does not", codec.ErrIllegalArgument, info.Name)
	}
	w.lastField = info.Name
	tw := &termsWriter{
		w:           w,
		info:        info,
		hasFreqs:    info.IndexOptions.HasFreqs(),
		hasPos:      info.IndexOptions.HasPositions(),
		hasOffsets:  info.IndexOptions.HasOffsets(),
		hasPayloads: info.StorePayloads,
		skip:        !w.c.legacy(),
		indexFP:     w.tipOut.Pos(),
	}
	return tw, nil
}

func (w *fieldsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	dirFP := w.timOut.Pos()
	w.tim.Uvarint(uint64(len(w.fields)))
	for _, f := range w.fields {
		w.tim.Uvarint(uint64(f.number))
		w.tim.Uvarint(uint64(f.numTerms))
		w.tim.Varint(f.sumTotalTermFreq)
		w.tim.Varint(f.sumDocFreq)
		w.tim.Uvarint(uint64(f.docCount))
		w.tim.Uvarint(uint64(f.indexFP))
		w.tim.Uvarint(uint64(f.numBlocks))
		w.tim.Varint(f.bloomFP)
	}
	w.tim.Int64(dirFP)
	for _, e := range []*store.Encoder{w.tim, w.tip, w.doc, w.pos} {
		if e != nil && e.Err() != nil {
			_ = w.closeOutputs()
			return e.Err()
		}
	}

	var err error
	for _, out := range []store.IndexOutput{w.timOut, w.tipOut, w.docOut, w.posOut, w.blmOut} {
		if out == nil {
			continue
		}
		if ferr := finishOutput(out); ferr != nil && err == nil {
			err = ferr
		}
	}
	return err
}

func (w *fieldsWriter) closeOutputs() error {
	return closeAll(w.timOut, w.tipOut, w.docOut, w.posOut, w.blmOut)
}

// termsWriter buffers the terms of the current block and streams postings
// of the current term.
type termsWriter struct {
	w    *fieldsWriter
	info *codec.FieldInfo

	hasFreqs, hasPos, hasOffsets, hasPayloads bool
	skip                                      bool

	pending   []termMeta
	lastTerm  []byte
	numTerms  int64
	numBlocks int
	indexFP   int64
	bloomKeys [][]byte

	// current term
	docFP, posFP    int64
	lastDoc         int
	docFreq         int
	totalTermFreq   int64
	skipEntries     []skipEntry
	freq            int
	positions       int
	lastPos         int
	lastStartOffset int
}

func (t *termsWriter) StartTerm(term []byte) (codec.PostingsConsumer, error) {
	if t.numTerms > 0 || len(t.pending) > 0 {
		if bytes.Compare(term, t.lastTerm) <= 0 {
			return nil, fmt.Errorf("%w: terms of field %q out of order: %q after %q", codec.ErrIllegalArgument, t.info.Name, term, t.lastTerm)
		}
	}
	t.docFP = t.w.docOut.Pos()
	if t.w.posOut != nil {
		t.posFP = t.w.posOut.Pos()
	}
	t.lastDoc = 0
	t.docFreq = 0
	t.totalTermFreq = 0
	t.skipEntries = t.skipEntries[:0]
	return t, nil
}

func (t *termsWriter) StartDoc(docID, freq int) error {
	if t.docFreq > 0 && docID <= t.lastDoc {
		return fmt.Errorf("%w: docs out of order: %d after %d (field %q)", codec.ErrIllegalArgument, docID, t.lastDoc, t.info.Name)
	}
	if docID < 0 || docID >= t.w.state.SegmentInfo.MaxDoc {
		return fmt.Errorf("%w: doc %d out of bounds [0, %d)", codec.ErrIllegalArgument, docID, t.w.state.SegmentInfo.MaxDoc)
	}
	delta := uint64(docID - t.lastDoc)
	if t.hasFreqs {
		if freq <= 0 {
			return fmt.Errorf("%w: freq must be positive, got %d", codec.ErrIllegalArgument, freq)
		}
		if freq == 1 {
			t.w.doc.Uvarint(delta<<1 | 1)
		} else {
			t.w.doc.Uvarint(delta << 1)
			t.w.doc.Uvarint(uint64(freq))
		}
	} else {
		t.w.doc.Uvarint(delta)
	}
	t.lastDoc = docID
	t.docFreq++
	if t.hasFreqs {
		t.totalTermFreq += int64(freq)
	} else {
		t.totalTermFreq++
	}
	t.freq = freq
	t.positions = 0
	t.lastPos = 0
	t.lastStartOffset = 0
	return t.w.doc.Err()
}

func (t *termsWriter) AddPosition(position int, payload []byte, startOffset, endOffset int) error {
	if !t.hasPos {
		return nil
	}
	if position < t.lastPos {
		return fmt.Errorf("%w: position %d < previous position %d (field %q)", codec.ErrIllegalArgument, position, t.lastPos, t.info.Name)
	}
	if t.positions >= t.freq {
		return fmt.Errorf("%w: more than freq=%d positions (field %q)", codec.ErrIllegalArgument, t.freq, t.info.Name)
	}
	t.w.pos.Uvarint(uint64(position - t.lastPos))
	t.lastPos = position
	if t.hasPayloads {
		t.w.pos.ByteSlice(payload)
	}
	if t.hasOffsets {
		if startOffset < t.lastStartOffset || endOffset < startOffset {
			return fmt.Errorf("%w: offsets must not go backwards: start=%d end=%d last start=%d (field %q)",
				codec.ErrIllegalArgument, startOffset, endOffset, t.lastStartOffset, t.info.Name)
		}
		t.w.pos.Uvarint(uint64(startOffset - t.lastStartOffset))
		t.w.pos.Uvarint(uint64(endOffset - startOffset))
		t.lastStartOffset = startOffset
	}
	t.positions++
	return t.w.pos.Err()
}

func (t *termsWriter) FinishDoc() error {
	if t.hasPos && t.positions != t.freq {
		return fmt.Errorf("%w: got %d positions for freq=%d (field %q)", codec.ErrIllegalArgument, t.positions, t.freq, t.info.Name)
	}
	if t.skip && t.docFreq%skipInterval == 0 {
		e := skipEntry{doc: t.lastDoc, docFP: t.w.docOut.Pos()}
		if t.w.posOut != nil {
			e.posFP = t.w.posOut.Pos()
		}
		t.skipEntries = append(t.skipEntries, e)
	}
	return nil
}

func (t *termsWriter) FinishTerm(term []byte, stats codec.TermStats) error {
	if stats.DocFreq == 0 {
		return nil
	}
	if stats.DocFreq != t.docFreq {
		return fmt.Errorf("%w: docFreq=%d but %d docs were written for term %q", codec.ErrIllegalArgument, stats.DocFreq, t.docFreq, term)
	}
	meta := termMeta{
		term:          bytes.Clone(term),
		docFreq:       t.docFreq,
		totalTermFreq: t.totalTermFreq,
		docFP:         t.docFP,
		posFP:         t.posFP,
	}
	if t.skip && t.docFreq > skipInterval {
		skipFP := t.w.docOut.Pos()
		t.w.doc.Uvarint(uint64(len(t.skipEntries)))
		prev := skipEntry{docFP: t.docFP, posFP: t.posFP}
		for _, e := range t.skipEntries {
			t.w.doc.Uvarint(uint64(e.doc - prev.doc))
			t.w.doc.Uvarint(uint64(e.docFP - prev.docFP))
			t.w.doc.Uvarint(uint64(e.posFP - prev.posFP))
			prev = e
		}
		meta.skipOffset = skipFP - t.docFP
	}
	t.pending = append(t.pending, meta)
	t.lastTerm = meta.term
	t.numTerms++
	if t.w.blmOut != nil {
		t.bloomKeys = append(t.bloomKeys, meta.term)
	}
	if len(t.pending) == termsPerBlock {
		t.flushBlock()
	}
	return t.w.doc.Err()
}

func (t *termsWriter) flushBlock() {
	if len(t.pending) == 0 {
		return
	}
	tim := t.w.tim
	t.w.tip.ByteSlice(t.pending[0].term)
	t.w.tip.Uvarint(uint64(t.w.timOut.Pos()))

	tim.Uvarint(uint64(len(t.pending)))
	var prev termMeta
	for _, m := range t.pending {
		prefix := commonPrefix(prev.term, m.term)
		tim.Uvarint(uint64(prefix))
		tim.ByteSlice(m.term[prefix:])
		tim.Uvarint(uint64(m.docFreq))
		if t.hasFreqs {
			tim.Uvarint(uint64(m.totalTermFreq - int64(m.docFreq)))
		}
		tim.Uvarint(uint64(m.docFP - prev.docFP))
		if t.hasPos {
			tim.Uvarint(uint64(m.posFP - prev.posFP))
		}
		if t.skip {
			tim.Uvarint(uint64(m.skipOffset))
		}
		prev = m
	}
	t.pending = t.pending[:0]
	t.numBlocks++
}

func (t *termsWriter) Finish(sumTotalTermFreq, sumDocFreq int64, docCount int) error {
	t.flushBlock()
	if t.numTerms == 0 {
		return t.w.tim.Err()
	}
	if !t.hasFreqs {
		sumTotalTermFreq = -1
	}
	meta := fieldMeta{
		number:           t.info.Number,
		numTerms:         t.numTerms,
		sumTotalTermFreq: sumTotalTermFreq,
		sumDocFreq:       sumDocFreq,
		docCount:         docCount,
		indexFP:          t.indexFP,
		numBlocks:        t.numBlocks,
		bloomFP:          -1,
	}
	if t.w.blmOut != nil {
		filter := bloom.NewWithEstimates(uint(len(t.bloomKeys)), t.w.c.opts.bloomFPP)
		for _, k := range t.bloomKeys {
			filter.Add(k)
		}
		var buf bytes.Buffer
		if _, err := filter.WriteTo(&buf); err != nil {
			return err
		}
		meta.bloomFP = t.w.blmOut.Pos()
		enc := store.NewEncoder(t.w.blmOut)
		enc.ByteSlice(buf.Bytes())
		if err := enc.Err(); err != nil {
			return err
		}
		t.bloomKeys = nil
	}
	t.w.fields = append(t.w.fields, meta)
	if err := t.w.tim.Err(); err != nil {
		return err
	}
	return t.w.tip.Err()
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
