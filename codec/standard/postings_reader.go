package standard

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/willf/bloom"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

type blockIndexEntry struct {
	firstTerm []byte
	fp        int64
}

// fieldsReader keeps the term block index and bloom filters of every field
// in memory and reads blocks and postings on demand through input clones.
type fieldsReader struct {
	c     *Codec
	timIn store.IndexInput
	tipIn store.IndexInput
	docIn store.IndexInput
	posIn store.IndexInput
	blmIn store.IndexInput

	fields map[string]*fieldReader
	names  []string
}

var _ codec.FieldsProducer = (*fieldsReader)(nil)

func newFieldsReader(c *Codec, state *codec.SegmentReadState) (_ *fieldsReader, err error) {
	r := &fieldsReader{c: c, fields: make(map[string]*fieldReader)}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	seg, suffix, dir := state.SegmentInfo.Name, state.SegmentSuffix, state.Directory
	if r.timIn, err = openInput(dir, codec.SegmentFileName(seg, suffix, termsExt), termsCodec, c.version); err != nil {
		return nil, err
	}
	if r.tipIn, err = openInput(dir, codec.SegmentFileName(seg, suffix, termsIndexExt), termsIndexCodec, c.version); err != nil {
		return nil, err
	}
	if r.docIn, err = openInput(dir, codec.SegmentFileName(seg, suffix, docExt), docCodec, c.version); err != nil {
		return nil, err
	}
	if state.FieldInfos.HasProx {
		if r.posIn, err = openInput(dir, codec.SegmentFileName(seg, suffix, posExt), posCodec, c.version); err != nil {
			return nil, err
		}
	}
	if !c.legacy() {
		if r.blmIn, err = openInput(dir, codec.SegmentFileName(seg, suffix, bloomExt), bloomCodec, c.version); err != nil {
			return nil, err
		}
	}
	if err := r.readDirectory(state.FieldInfos); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *fieldsReader) readDirectory(fis *codec.FieldInfos) error {
	in := r.timIn.Clone()
	if _, err := store.RetrieveChecksum(in); err != nil {
		return err
	}
	if err := in.SeekTo(in.Len() - store.FooterLength - 8); err != nil {
		return err
	}
	d := store.NewDecoder(in)
	dirFP := d.Int64()
	if d.Err() == nil {
		if dirFP < 0 || dirFP > in.Len() {
			return store.Corruptf(in.Name(), "invalid field directory pointer %d", dirFP)
		}
		d.Fail(in.SeekTo(dirFP))
	}
	n := d.Int()
	for i := 0; i < n && d.Err() == nil; i++ {
		m := fieldMeta{
			number:           d.Int(),
			numTerms:         int64(d.Uvarint()),
			sumTotalTermFreq: d.Varint(),
			sumDocFreq:       d.Varint(),
			docCount:         d.Int(),
			indexFP:          int64(d.Uvarint()),
			numBlocks:        d.Int(),
			bloomFP:          d.Varint(),
		}
		if d.Err() != nil {
			break
		}
		info := fis.ByNumber(m.number)
		if info == nil {
			return store.Corruptf(in.Name(), "unknown field number %d", m.number)
		}
		if m.numBlocks == 0 || int64(m.numBlocks) != (m.numTerms+termsPerBlock-1)/termsPerBlock {
			return store.Corruptf(in.Name(), "field %q: %d blocks for %d terms", info.Name, m.numBlocks, m.numTerms)
		}
		fr, err := r.newFieldReader(info, m)
		if err != nil {
			return err
		}
		r.fields[info.Name] = fr
		r.names = append(r.names, info.Name)
	}
	if err := d.Err(); err != nil {
		return err
	}
	sort.Strings(r.names)
	return nil
}

func (r *fieldsReader) newFieldReader(info *codec.FieldInfo, m fieldMeta) (*fieldReader, error) {
	fr := &fieldReader{
		r:           r,
		info:        info,
		meta:        m,
		hasFreqs:    info.IndexOptions.HasFreqs(),
		hasPos:      info.IndexOptions.HasPositions(),
		hasOffsets:  info.IndexOptions.HasOffsets(),
		hasPayloads: info.StorePayloads,
		skip:        !r.c.legacy(),
	}
	in := r.tipIn.Clone()
	if err := in.SeekTo(m.indexFP); err != nil {
		return nil, err
	}
	d := store.NewDecoder(in)
	fr.blocks = make([]blockIndexEntry, m.numBlocks)
	for i := range fr.blocks {
		fr.blocks[i] = blockIndexEntry{firstTerm: d.ByteSlice(), fp: int64(d.Uvarint())}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if m.bloomFP >= 0 {
		if r.blmIn == nil {
			return nil, store.Corruptf(r.timIn.Name(), "field %q references a missing bloom filter", info.Name)
		}
		in := r.blmIn.Clone()
		if err := in.SeekTo(m.bloomFP); err != nil {
			return nil, err
		}
		d := store.NewDecoder(in)
		raw := d.ByteSlice()
		if err := d.Err(); err != nil {
			return nil, err
		}
		fr.bloom = new(bloom.BloomFilter)
		if _, err := fr.bloom.ReadFrom(bytes.NewReader(raw)); err != nil {
			return nil, &store.CorruptIndexError{Resource: in.Name(), Msg: "invalid bloom filter for field " + info.Name, Err: err}
		}
	}
	return fr, nil
}

func (r *fieldsReader) Fields() []string { return r.names }

func (r *fieldsReader) Terms(field string) (codec.Terms, error) {
	fr, ok := r.fields[field]
	if !ok {
		return nil, nil
	}
	return fr, nil
}

func (r *fieldsReader) CheckIntegrity() error {
	return verifyAll(r.timIn, r.tipIn, r.docIn, r.posIn, r.blmIn)
}

func (r *fieldsReader) Close() error {
	return closeAll(r.timIn, r.tipIn, r.docIn, r.posIn, r.blmIn)
}

// fieldReader is the dictionary of one field.
type fieldReader struct {
	r      *fieldsReader
	info   *codec.FieldInfo
	meta   fieldMeta
	blocks []blockIndexEntry
	bloom  *bloom.BloomFilter

	hasFreqs, hasPos, hasOffsets, hasPayloads bool
	skip                                      bool
}

var _ codec.Terms = (*fieldReader)(nil)

func (fr *fieldReader) Iterator(reuse codec.TermsEnum) (codec.TermsEnum, error) {
	if te, ok := reuse.(*termsEnum); ok && te.fr == fr {
		te.reset()
		return te, nil
	}
	te := &termsEnum{fr: fr, in: fr.r.timIn.Clone()}
	te.reset()
	return te, nil
}

func (fr *fieldReader) Size() int64             { return fr.meta.numTerms }
func (fr *fieldReader) SumTotalTermFreq() int64 { return fr.meta.sumTotalTermFreq }
func (fr *fieldReader) SumDocFreq() int64       { return fr.meta.sumDocFreq }
func (fr *fieldReader) DocCount() int           { return fr.meta.docCount }
func (fr *fieldReader) HasFreqs() bool          { return fr.hasFreqs }
func (fr *fieldReader) HasPositions() bool      { return fr.hasPos }
func (fr *fieldReader) HasOffsets() bool        { return fr.hasOffsets }
func (fr *fieldReader) HasPayloads() bool       { return fr.hasPayloads }

// termsEnum decodes one block at a time.
type termsEnum struct {
	fr *fieldReader
	in store.IndexInput

	block    []termMeta
	blockIdx int
	idx      int
	ended    bool
}

var _ codec.TermsEnum = (*termsEnum)(nil)

func (te *termsEnum) reset() {
	te.block = te.block[:0]
	te.blockIdx = -1
	te.idx = -1
	te.ended = false
}

func (te *termsEnum) positioned() bool { return te.blockIdx >= 0 && !te.ended }

func (te *termsEnum) loadBlock(b int) error {
	fr := te.fr
	if err := te.in.SeekTo(fr.blocks[b].fp); err != nil {
		return err
	}
	d := store.NewDecoder(te.in)
	n := d.Int()
	if d.Err() == nil && (n == 0 || n > termsPerBlock) {
		return store.Corruptf(te.in.Name(), "invalid block size %d", n)
	}
	block := te.block[:0]
	var prev termMeta
	for i := 0; i < n && d.Err() == nil; i++ {
		prefix := d.Int()
		suffix := d.ByteSlice()
		if prefix > len(prev.term) {
			return store.Corruptf(te.in.Name(), "term prefix %d exceeds previous term length %d", prefix, len(prev.term))
		}
		m := termMeta{term: make([]byte, 0, prefix+len(suffix))}
		m.term = append(append(m.term, prev.term[:prefix]...), suffix...)
		m.docFreq = d.Int()
		m.totalTermFreq = -1
		if fr.hasFreqs {
			m.totalTermFreq = int64(d.Uvarint()) + int64(m.docFreq)
		}
		m.docFP = prev.docFP + int64(d.Uvarint())
		m.posFP = prev.posFP
		if fr.hasPos {
			m.posFP += int64(d.Uvarint())
		}
		if fr.skip {
			m.skipOffset = int64(d.Uvarint())
		}
		block = append(block, m)
		prev = m
	}
	if err := d.Err(); err != nil {
		te.reset()
		return err
	}
	te.block = block
	te.blockIdx = b
	te.ended = false
	return nil
}

func (te *termsEnum) Next() ([]byte, error) {
	if te.ended {
		return nil, nil
	}
	if te.blockIdx < 0 {
		if err := te.loadBlock(0); err != nil {
			return nil, err
		}
		te.idx = 0
		return te.block[0].term, nil
	}
	te.idx++
	if te.idx < len(te.block) {
		return te.block[te.idx].term, nil
	}
	if te.blockIdx+1 >= len(te.fr.blocks) {
		te.ended = true
		return nil, nil
	}
	if err := te.loadBlock(te.blockIdx + 1); err != nil {
		return nil, err
	}
	te.idx = 0
	return te.block[0].term, nil
}

func (te *termsEnum) SeekCeil(target []byte) (codec.SeekStatus, error) {
	blocks := te.fr.blocks
	b := sort.Search(len(blocks), func(i int) bool { return bytes.Compare(blocks[i].firstTerm, target) > 0 }) - 1
	if b < 0 {
		if err := te.loadBlock(0); err != nil {
			return codec.SeekEnd, err
		}
		te.idx = 0
		return codec.SeekNotFound, nil
	}
	if err := te.loadBlock(b); err != nil {
		return codec.SeekEnd, err
	}
	for i, m := range te.block {
		switch c := bytes.Compare(m.term, target); {
		case c == 0:
			te.idx = i
			return codec.SeekFound, nil
		case c > 0:
			te.idx = i
			return codec.SeekNotFound, nil
		}
	}
	if b+1 >= len(blocks) {
		te.ended = true
		return codec.SeekEnd, nil
	}
	if err := te.loadBlock(b + 1); err != nil {
		return codec.SeekEnd, err
	}
	te.idx = 0
	return codec.SeekNotFound, nil
}

func (te *termsEnum) SeekExact(term []byte) (bool, error) {
	if te.fr.bloom != nil && !te.fr.bloom.Test(term) {
		te.reset()
		return false, nil
	}
	status, err := te.SeekCeil(term)
	return status == codec.SeekFound, err
}

func (te *termsEnum) SeekExactOrd(ord int64) error {
	if ord < 0 || ord >= te.fr.meta.numTerms {
		return fmt.Errorf("%w: ord %d out of range [0, %d)", codec.ErrIllegalArgument, ord, te.fr.meta.numTerms)
	}
	b := int(ord / termsPerBlock)
	if err := te.loadBlock(b); err != nil {
		return err
	}
	te.idx = int(ord % termsPerBlock)
	return nil
}

func (te *termsEnum) current() *termMeta {
	if !te.positioned() {
		return nil
	}
	return &te.block[te.idx]
}

func (te *termsEnum) Term() []byte {
	if m := te.current(); m != nil {
		return m.term
	}
	return nil
}

func (te *termsEnum) Ord() int64 {
	if !te.positioned() {
		return -1
	}
	return int64(te.blockIdx)*termsPerBlock + int64(te.idx)
}

func (te *termsEnum) DocFreq() int {
	if m := te.current(); m != nil {
		return m.docFreq
	}
	return 0
}

func (te *termsEnum) TotalTermFreq() int64 {
	if m := te.current(); m != nil {
		return m.totalTermFreq
	}
	return -1
}

func (te *termsEnum) Docs(liveDocs codec.Bits, reuse codec.DocsEnum, flags int) (codec.DocsEnum, error) {
	m := te.current()
	if m == nil {
		return nil, fmt.Errorf("%w: terms enum is not positioned", codec.ErrIllegalArgument)
	}
	pe, ok := reuse.(*postingsEnum)
	if !ok || pe.fr != te.fr || pe.withPositions {
		pe = &postingsEnum{fr: te.fr, docIn: te.fr.r.docIn.Clone()}
	}
	if err := pe.reset(*m, liveDocs, false); err != nil {
		return nil, err
	}
	return pe, nil
}

func (te *termsEnum) DocsAndPositions(liveDocs codec.Bits, reuse codec.DocsAndPositionsEnum, flags int) (codec.DocsAndPositionsEnum, error) {
	if !te.fr.hasPos {
		return nil, fmt.Errorf("%w: field %q", codec.ErrNoPositions, te.fr.info.Name)
	}
	m := te.current()
	if m == nil {
		return nil, fmt.Errorf("%w: terms enum is not positioned", codec.ErrIllegalArgument)
	}
	pe, ok := reuse.(*postingsEnum)
	if !ok || pe.fr != te.fr || !pe.withPositions {
		pe = &postingsEnum{fr: te.fr, docIn: te.fr.r.docIn.Clone(), posIn: te.fr.r.posIn.Clone(), withPositions: true}
	}
	if err := pe.reset(*m, liveDocs, true); err != nil {
		return nil, err
	}
	return pe, nil
}

// postingsEnum decodes the docs, and optionally positions, of one term.
type postingsEnum struct {
	fr            *fieldReader
	docIn, posIn  store.IndexInput
	doc, pos      *store.Decoder
	withPositions bool

	meta     termMeta
	liveDocs codec.Bits

	docID   int
	accum   int
	count   int
	freq    int
	posLeft int

	position    int
	startOffset int
	endOffset   int
	payload     []byte

	skips     []skipEntry
	skipsRead bool
}

var _ codec.DocsAndPositionsEnum = (*postingsEnum)(nil)

func (pe *postingsEnum) reset(m termMeta, liveDocs codec.Bits, withPositions bool) error {
	pe.meta = m
	pe.liveDocs = liveDocs
	pe.withPositions = withPositions
	pe.docID = -1
	pe.accum = 0
	pe.count = 0
	pe.freq = 0
	pe.posLeft = 0
	pe.position = 0
	pe.startOffset, pe.endOffset = -1, -1
	pe.payload = nil
	pe.skips = pe.skips[:0]
	pe.skipsRead = false
	if err := pe.docIn.SeekTo(m.docFP); err != nil {
		return err
	}
	pe.doc = store.NewDecoder(pe.docIn)
	if withPositions {
		if err := pe.posIn.SeekTo(m.posFP); err != nil {
			return err
		}
		pe.pos = store.NewDecoder(pe.posIn)
	}
	return nil
}

func (pe *postingsEnum) DocID() int  { return pe.docID }
func (pe *postingsEnum) Freq() int   { return pe.freq }
func (pe *postingsEnum) Cost() int64 { return int64(pe.meta.docFreq) }

func (pe *postingsEnum) NextDoc() (int, error) {
	for {
		if err := pe.skipPositions(); err != nil {
			return pe.docID, err
		}
		if pe.count >= pe.meta.docFreq {
			pe.docID = codec.NoMoreDocs
			return pe.docID, nil
		}
		code := pe.doc.Uvarint()
		if pe.fr.hasFreqs {
			if code&1 != 0 {
				pe.freq = 1
			} else {
				pe.freq = pe.doc.Int()
			}
			code >>= 1
		} else {
			pe.freq = 1
		}
		if err := pe.doc.Err(); err != nil {
			return pe.docID, err
		}
		pe.accum += int(code)
		pe.count++
		if pe.withPositions {
			pe.posLeft = pe.freq
			pe.position = 0
			pe.startOffset, pe.endOffset = 0, 0
			pe.payload = nil
		}
		if codec.IsLive(pe.liveDocs, pe.accum) {
			pe.docID = pe.accum
			return pe.docID, nil
		}
	}
}

func (pe *postingsEnum) Advance(target int) (int, error) {
	if pe.fr.skip && pe.meta.skipOffset > 0 && target > pe.accum {
		if err := pe.readSkips(); err != nil {
			return pe.docID, err
		}
		jump := -1
		for i, e := range pe.skips {
			if e.doc >= target {
				break
			}
			if (i+1)*skipInterval > pe.count {
				jump = i
			}
		}
		if jump >= 0 {
			e := pe.skips[jump]
			if err := pe.docIn.SeekTo(e.docFP); err != nil {
				return pe.docID, err
			}
			pe.doc = store.NewDecoder(pe.docIn)
			if pe.withPositions {
				if err := pe.posIn.SeekTo(e.posFP); err != nil {
					return pe.docID, err
				}
				pe.pos = store.NewDecoder(pe.posIn)
			}
			pe.accum = e.doc
			pe.count = (jump + 1) * skipInterval
			pe.posLeft = 0
		}
	}
	for {
		doc, err := pe.NextDoc()
		if err != nil || doc >= target {
			return doc, err
		}
	}
}

func (pe *postingsEnum) readSkips() error {
	if pe.skipsRead {
		return nil
	}
	in := pe.docIn.Clone()
	if err := in.SeekTo(pe.meta.docFP + pe.meta.skipOffset); err != nil {
		return err
	}
	d := store.NewDecoder(in)
	n := d.Int()
	prev := skipEntry{docFP: pe.meta.docFP, posFP: pe.meta.posFP}
	for i := 0; i < n && d.Err() == nil; i++ {
		e := skipEntry{
			doc:   prev.doc + d.Int(),
			docFP: prev.docFP + int64(d.Uvarint()),
			posFP: prev.posFP + int64(d.Uvarint()),
		}
		pe.skips = append(pe.skips, e)
		prev = e
	}
	if err := d.Err(); err != nil {
		return err
	}
	pe.skipsRead = true
	return nil
}

func (pe *postingsEnum) NextPosition() (int, error) {
	if !pe.withPositions {
		return -1, fmt.Errorf("%w: field %q", codec.ErrNoPositions, pe.fr.info.Name)
	}
	if pe.posLeft <= 0 {
		return -1, fmt.Errorf("%w: read past the last position of doc %d", codec.ErrIllegalArgument, pe.docID)
	}
	pe.position += pe.pos.Int()
	if pe.fr.hasPayloads {
		pe.payload = pe.pos.ByteSlice()
		if len(pe.payload) == 0 {
			pe.payload = nil
		}
	}
	if pe.fr.hasOffsets {
		pe.startOffset += pe.pos.Int()
		pe.endOffset = pe.startOffset + pe.pos.Int()
	}
	pe.posLeft--
	return pe.position, pe.pos.Err()
}

func (pe *postingsEnum) skipPositions() error {
	for pe.withPositions && pe.posLeft > 0 {
		if _, err := pe.NextPosition(); err != nil {
			return err
		}
	}
	return nil
}

func (pe *postingsEnum) StartOffset() int {
	if !pe.fr.hasOffsets {
		return -1
	}
	return pe.startOffset
}

func (pe *postingsEnum) EndOffset() int {
	if !pe.fr.hasOffsets {
		return -1
	}
	return pe.endOffset
}

func (pe *postingsEnum) Payload() []byte { return pe.payload }
