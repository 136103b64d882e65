package standard

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// Numeric encodings.
const (
	numericDelta byte = 0
	numericTable byte = 1
)

const maxTableSize = 256

type docValuesFormat struct {
	c     *Codec
	norms bool
}

type normsFormat struct{ dv docValuesFormat }

func (f normsFormat) NormsConsumer(state *codec.SegmentWriteState) (codec.DocValuesConsumer, error) {
	return f.dv.DocValuesConsumer(state)
}

func (f normsFormat) NormsProducer(state *codec.SegmentReadState) (codec.DocValuesProducer, error) {
	return f.dv.DocValuesProducer(state)
}

func (f docValuesFormat) files() (data, meta, format string) {
	if f.norms {
		return normsDataExt, normsMetaExt, normsCodec
	}
	return docValuesDataExt, docValuesMetaExt, docValuesCodec
}

// DocValuesConsumer writes doc values. Update generations (a non-empty
// segment suffix) are accepted by read-only codecs as well.
func (f docValuesFormat) DocValuesConsumer(state *codec.SegmentWriteState) (codec.DocValuesConsumer, error) {
	if state.SegmentSuffix == "" || f.norms {
		if err := f.c.checkWritable(); err != nil {
			return nil, err
		}
	}
	dataExt, metaExt, format := f.files()
	seg, suffix := state.SegmentInfo.Name, state.SegmentSuffix
	dataOut, err := createOutput(state.Directory, codec.SegmentFileName(seg, suffix, dataExt), format+"Data", f.c.version)
	if err != nil {
		return nil, err
	}
	metaOut, err := createOutput(state.Directory, codec.SegmentFileName(seg, suffix, metaExt), format+"Meta", f.c.version)
	if err != nil {
		_ = dataOut.Close()
		return nil, err
	}
	return &docValuesWriter{maxDoc: state.SegmentInfo.MaxDoc, dataOut: dataOut, metaOut: metaOut, data: store.NewEncoder(dataOut)}, nil
}

func (f docValuesFormat) DocValuesProducer(state *codec.SegmentReadState) (codec.DocValuesProducer, error) {
	dataExt, metaExt, format := f.files()
	seg, suffix := state.SegmentInfo.Name, state.SegmentSuffix
	metaIn, err := openInput(state.Directory, codec.SegmentFileName(seg, suffix, metaExt), format+"Meta", f.c.version)
	if err != nil {
		return nil, err
	}
	defer metaIn.Close()

	r := &docValuesReader{maxDoc: state.SegmentInfo.MaxDoc, entries: make(map[int]dvEntry), loaded: make(map[int]*codec.DocValues)}
	d := store.NewDecoder(metaIn)
	n := d.Int()
	for i := 0; i < n && d.Err() == nil; i++ {
		e := dvEntry{number: d.Int(), typ: document.DocValuesType(d.Byte()), fp: int64(d.Uvarint()), length: int64(d.Uvarint())}
		r.entries[e.number] = e
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if _, err := store.CheckFooter(metaIn); err != nil {
		return nil, err
	}
	if r.dataIn, err = openInput(state.Directory, codec.SegmentFileName(seg, suffix, dataExt), format+"Data", f.c.version); err != nil {
		return nil, err
	}
	return r, nil
}

type dvEntry struct {
	number int
	typ    document.DocValuesType
	fp     int64
	length int64
}

// docValuesWriter writes each field's column to the data file and its
// location to the meta file.
type docValuesWriter struct {
	maxDoc  int
	dataOut store.IndexOutput
	metaOut store.IndexOutput
	data    *store.Encoder
	entries []dvEntry
}

func (w *docValuesWriter) AddField(info *codec.FieldInfo, dv *codec.DocValues) error {
	if dv.MaxDoc != w.maxDoc {
		return fmt.Errorf("%w: doc values of %q cover %d docs, segment has %d", codec.ErrIllegalArgument, info.Name, dv.MaxDoc, w.maxDoc)
	}
	start := w.dataOut.Pos()
	e := w.data
	docs, err := dv.DocsWithField.ToBytes()
	if err != nil {
		return err
	}
	e.ByteSlice(docs)

	switch dv.Type {
	case document.DocValuesNumeric:
		values := make([]int64, w.maxDoc)
		for doc := range values {
			values[doc] = dv.Numeric(doc)
		}
		writeNumeric(e, values)
	case document.DocValuesBinary:
		for doc := 0; doc < w.maxDoc; doc++ {
			e.ByteSlice(dv.Binary(doc))
		}
	case document.DocValuesSorted:
		writeTerms(e, dv)
		for doc := 0; doc < w.maxDoc; doc++ {
			e.Varint(int64(dv.SortedOrd(doc)))
		}
	case document.DocValuesSortedSet:
		writeTerms(e, dv)
		for doc := 0; doc < w.maxDoc; doc++ {
			ords := dv.SortedSetOrds(doc)
			e.Uvarint(uint64(len(ords)))
			var last int32
			for _, o := range ords {
				e.Uvarint(uint64(o - last))
				last = o
			}
		}
	case document.DocValuesSortedNumeric:
		for doc := 0; doc < w.maxDoc; doc++ {
			vals := dv.SortedNumeric(doc)
			e.Uvarint(uint64(len(vals)))
			for _, v := range vals {
				e.Varint(v)
			}
		}
	default:
		return fmt.Errorf("%w: field %q has no doc values", codec.ErrIllegalArgument, info.Name)
	}
	w.entries = append(w.entries, dvEntry{number: info.Number, typ: dv.Type, fp: start, length: w.dataOut.Pos() - start})
	return e.Err()
}

func writeTerms(e *store.Encoder, dv *codec.DocValues) {
	e.Uvarint(uint64(dv.ValueCount()))
	var prev []byte
	for ord := 0; ord < dv.ValueCount(); ord++ {
		term := dv.LookupOrd(ord)
		prefix := commonPrefix(prev, term)
		e.Uvarint(uint64(prefix))
		e.ByteSlice(term[prefix:])
		prev = term
	}
}

// writeNumeric uses a table of unique values when there are few of them,
// e.g. for norms, and deltas from the minimum otherwise.
func writeNumeric(e *store.Encoder, values []int64) {
	unique := make(map[int64]int)
	for _, v := range values {
		if _, ok := unique[v]; !ok {
			if len(unique) == maxTableSize {
				unique = nil
				break
			}
			unique[v] = len(unique)
		}
	}
	if unique != nil {
		table := make([]int64, len(unique))
		for v, i := range unique {
			table[i] = v
		}
		e.Byte(numericTable)
		e.Uvarint(uint64(len(table)))
		for _, v := range table {
			e.Varint(v)
		}
		for _, v := range values {
			e.Byte(byte(unique[v]))
		}
		return
	}
	minValue := values[0]
	for _, v := range values {
		minValue = min(minValue, v)
	}
	e.Byte(numericDelta)
	e.Varint(minValue)
	for _, v := range values {
		e.Uvarint(uint64(v) - uint64(minValue))
	}
}

func (w *docValuesWriter) Close() error {
	m := store.NewEncoder(w.metaOut)
	m.Uvarint(uint64(len(w.entries)))
	for _, e := range w.entries {
		m.Uvarint(uint64(e.number))
		m.Byte(byte(e.typ))
		m.Uvarint(uint64(e.fp))
		m.Uvarint(uint64(e.length))
	}
	if err := m.Err(); err != nil {
		_ = closeAll(w.dataOut, w.metaOut)
		return err
	}
	err := finishOutput(w.dataOut)
	if ferr := finishOutput(w.metaOut); err == nil {
		err = ferr
	}
	return err
}

// docValuesReader loads a column on first use and keeps it.
type docValuesReader struct {
	maxDoc  int
	dataIn  store.IndexInput
	entries map[int]dvEntry

	mu     sync.Mutex
	loaded map[int]*codec.DocValues
}

func (r *docValuesReader) Values(info *codec.FieldInfo) (*codec.DocValues, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dv, ok := r.loaded[info.Number]; ok {
		return dv, nil
	}
	e, ok := r.entries[info.Number]
	if !ok {
		return nil, fmt.Errorf("%w: no doc values for field %q", codec.ErrIllegalArgument, info.Name)
	}
	dv, err := r.load(e)
	if err != nil {
		return nil, err
	}
	r.loaded[info.Number] = dv
	return dv, nil
}

func (r *docValuesReader) load(e dvEntry) (*codec.DocValues, error) {
	in, err := r.dataIn.Slice(fmt.Sprintf("field %d", e.number), e.fp, e.length)
	if err != nil {
		return nil, err
	}
	d := store.NewDecoder(in)
	docs := roaring.New()
	if raw := d.ByteSlice(); d.Err() == nil {
		if err := docs.UnmarshalBinary(raw); err != nil {
			return nil, &store.CorruptIndexError{Resource: r.dataIn.Name(), Msg: "docs with field", Err: err}
		}
	}

	var dv *codec.DocValues
	switch e.typ {
	case document.DocValuesNumeric:
		dv = codec.NewNumericDocValues(readNumeric(d, r.maxDoc), docs)
	case document.DocValuesBinary:
		values := make([][]byte, r.maxDoc)
		for doc := range values {
			if v := d.ByteSlice(); docs.Contains(uint32(doc)) {
				values[doc] = v
			}
		}
		dv = codec.NewBinaryDocValues(values, docs)
	case document.DocValuesSorted:
		terms := readTerms(d)
		ords := make([]int32, r.maxDoc)
		for doc := range ords {
			ords[doc] = int32(d.Varint())
			if int(ords[doc]) >= len(terms) {
				d.Fail(store.Corruptf(r.dataIn.Name(), "ord %d out of range for doc %d", ords[doc], doc))
			}
		}
		dv = codec.NewSortedDocValues(terms, ords)
	case document.DocValuesSortedSet:
		terms := readTerms(d)
		ords := make([][]int32, r.maxDoc)
		for doc := range ords {
			n := d.Int()
			var last int32
			for i := 0; i < n && d.Err() == nil; i++ {
				last += int32(d.Int())
				if int(last) >= len(terms) {
					d.Fail(store.Corruptf(r.dataIn.Name(), "ord %d out of range for doc %d", last, doc))
				}
				ords[doc] = append(ords[doc], last)
			}
		}
		dv = codec.NewSortedSetDocValues(terms, ords)
	case document.DocValuesSortedNumeric:
		values := make([][]int64, r.maxDoc)
		for doc := range values {
			n := d.Int()
			for i := 0; i < n && d.Err() == nil; i++ {
				values[doc] = append(values[doc], d.Varint())
			}
		}
		dv = codec.NewSortedNumericDocValues(values)
	default:
		return nil, store.Corruptf(r.dataIn.Name(), "unknown doc values type %d", e.typ)
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return dv, nil
}

func readTerms(d *store.Decoder) [][]byte {
	n := d.Int()
	terms := make([][]byte, 0, n)
	var prev []byte
	for i := 0; i < n && d.Err() == nil; i++ {
		prefix := d.Int()
		suffix := d.ByteSlice()
		if prefix > len(prev) {
			d.Fail(store.Corruptf(d.Input().Name(), "term prefix %d exceeds previous term length %d", prefix, len(prev)))
			break
		}
		term := append(append(make([]byte, 0, prefix+len(suffix)), prev[:prefix]...), suffix...)
		terms = append(terms, term)
		prev = term
	}
	return terms
}

func readNumeric(d *store.Decoder, maxDoc int) []int64 {
	values := make([]int64, maxDoc)
	switch mode := d.Byte(); mode {
	case numericTable:
		table := make([]int64, d.Int())
		for i := range table {
			table[i] = d.Varint()
		}
		for doc := range values {
			i := int(d.Byte())
			if i >= len(table) {
				d.Fail(store.Corruptf(d.Input().Name(), "table index %d out of range", i))
				break
			}
			values[doc] = table[i]
		}
	case numericDelta:
		minValue := d.Varint()
		for doc := range values {
			values[doc] = int64(uint64(minValue) + d.Uvarint())
		}
	default:
		d.Fail(store.Corruptf(d.Input().Name(), "unknown numeric encoding %d", mode))
	}
	return values
}

func (r *docValuesReader) CheckIntegrity() error { return verifyAll(r.dataIn) }

func (r *docValuesReader) Close() error { return closeAll(r.dataIn) }
