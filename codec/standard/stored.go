package standard

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/internal/cache"
	"github.com/hupe1980/invgo/store"
)

type storedFieldsFormat struct{ c *Codec }

func (f storedFieldsFormat) StoredFieldsWriter(dir store.Directory, si *codec.SegmentInfo) (codec.StoredFieldsWriter, error) {
	if err := f.c.checkWritable(); err != nil {
		return nil, err
	}
	return newStoredFieldsWriter(f.c, dir, si)
}

func (f storedFieldsFormat) StoredFieldsReader(dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos) (codec.StoredFieldsReader, error) {
	return newStoredFieldsReader(f.c, dir, si)
}

type chunkIndexEntry struct {
	docBase int
	fp      int64
}

// storedFieldsWriter writes msgpack-encoded documents. The current codec
// groups documents into compressed chunks indexed by their first doc; the
// legacy codec writes one raw record per document and indexes each.
type storedFieldsWriter struct {
	c      *Codec
	si     *codec.SegmentInfo
	fdtOut store.IndexOutput
	fdxOut store.IndexOutput
	fdt    *store.Encoder

	current []codec.StoredField
	numDocs int

	// chunk state
	chunkDocs [][]byte
	chunkSize int
	docBase   int
	index     []chunkIndexEntry
}

func newStoredFieldsWriter(c *Codec, dir store.Directory, si *codec.SegmentInfo) (_ *storedFieldsWriter, err error) {
	w := &storedFieldsWriter{c: c, si: si}
	if w.fdtOut, err = createOutput(dir, codec.SegmentFileName(si.Name, "", storedDataExt), storedDataCodec, c.version); err != nil {
		return nil, err
	}
	if w.fdxOut, err = createOutput(dir, codec.SegmentFileName(si.Name, "", storedIndexExt), storedIndexCodec, c.version); err != nil {
		_ = w.fdtOut.Close()
		return nil, err
	}
	w.fdt = store.NewEncoder(w.fdtOut)
	if !c.legacy() {
		w.fdt.Byte(byte(c.opts.compression))
	}
	return w, w.fdt.Err()
}

func (w *storedFieldsWriter) StartDocument() error {
	w.current = w.current[:0]
	return nil
}

func (w *storedFieldsWriter) WriteField(info *codec.FieldInfo, value codec.StoredField) error {
	value.Number = info.Number
	w.current = append(w.current, value)
	return nil
}

func (w *storedFieldsWriter) FinishDocument() error {
	data, err := msgpack.Marshal(w.current)
	if err != nil {
		return err
	}
	if w.c.legacy() {
		w.index = append(w.index, chunkIndexEntry{docBase: w.numDocs, fp: w.fdtOut.Pos()})
		w.fdt.ByteSlice(data)
		w.numDocs++
		return w.fdt.Err()
	}
	w.chunkDocs = append(w.chunkDocs, data)
	w.chunkSize += len(data)
	w.numDocs++
	if w.chunkSize >= chunkMaxBytes || len(w.chunkDocs) >= chunkMaxDocs {
		return w.flushChunk()
	}
	return nil
}

func (w *storedFieldsWriter) flushChunk() error {
	if len(w.chunkDocs) == 0 {
		return nil
	}
	w.index = append(w.index, chunkIndexEntry{docBase: w.docBase, fp: w.fdtOut.Pos()})
	w.fdt.Uvarint(uint64(w.docBase))
	w.fdt.Uvarint(uint64(len(w.chunkDocs)))
	raw := make([]byte, 0, w.chunkSize)
	for _, d := range w.chunkDocs {
		w.fdt.Uvarint(uint64(len(d)))
		raw = append(raw, d...)
	}
	frame, err := compressChunk(raw, w.c.opts.compression)
	if err != nil {
		return err
	}
	w.fdt.Raw(frame)
	w.docBase += len(w.chunkDocs)
	w.chunkDocs = w.chunkDocs[:0]
	w.chunkSize = 0
	return w.fdt.Err()
}

func (w *storedFieldsWriter) Finish(numDocs int) error {
	if err := w.flushChunk(); err != nil {
		return err
	}
	if w.numDocs != numDocs {
		return fmt.Errorf("stored fields: wrote %d docs but segment has %d", w.numDocs, numDocs)
	}
	fdx := store.NewEncoder(w.fdxOut)
	fdx.Uvarint(uint64(numDocs))
	fdx.Uvarint(uint64(len(w.index)))
	for _, e := range w.index {
		fdx.Uvarint(uint64(e.docBase))
		fdx.Uvarint(uint64(e.fp))
	}
	return fdx.Err()
}

func (w *storedFieldsWriter) Close() error {
	err := finishOutput(w.fdtOut)
	if ferr := finishOutput(w.fdxOut); err == nil {
		err = ferr
	}
	return err
}

func (w *storedFieldsWriter) Abort() {
	_ = closeAll(w.fdtOut, w.fdxOut)
}

// storedFieldsReader loads the chunk index at open and decodes chunks on
// demand through the block cache.
type storedFieldsReader struct {
	c       *Codec
	cacheID string
	fdtIn   store.IndexInput
	fdxIn   store.IndexInput
	mode    CompressionMode
	maxDoc  int
	index   []chunkIndexEntry
}

func newStoredFieldsReader(c *Codec, dir store.Directory, si *codec.SegmentInfo) (_ *storedFieldsReader, err error) {
	r := &storedFieldsReader{c: c, cacheID: si.ID.String()}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	if r.fdtIn, err = openInput(dir, codec.SegmentFileName(si.Name, "", storedDataExt), storedDataCodec, c.version); err != nil {
		return nil, err
	}
	if r.fdxIn, err = openInput(dir, codec.SegmentFileName(si.Name, "", storedIndexExt), storedIndexCodec, c.version); err != nil {
		return nil, err
	}
	if !c.legacy() {
		d := store.NewDecoder(r.fdtIn.Clone())
		r.mode = CompressionMode(d.Byte())
		if err := d.Err(); err != nil {
			return nil, err
		}
		if r.mode > CompressionHigh {
			return nil, store.Corruptf(r.fdtIn.Name(), "unknown compression mode %d", r.mode)
		}
	}

	d := store.NewDecoder(r.fdxIn.Clone())
	r.maxDoc = d.Int()
	n := d.Int()
	if d.Err() == nil && r.maxDoc != si.MaxDoc {
		return nil, store.Corruptf(r.fdxIn.Name(), "doc count mismatch: stored=%d segment=%d", r.maxDoc, si.MaxDoc)
	}
	r.index = make([]chunkIndexEntry, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		r.index = append(r.index, chunkIndexEntry{docBase: d.Int(), fp: int64(d.Uvarint())})
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *storedFieldsReader) Document(docID int) ([]codec.StoredField, error) {
	if docID < 0 || docID >= r.maxDoc {
		return nil, fmt.Errorf("%w: doc %d out of bounds [0, %d)", codec.ErrIllegalArgument, docID, r.maxDoc)
	}
	i := sort.Search(len(r.index), func(i int) bool { return r.index[i].docBase > docID }) - 1
	if i < 0 {
		return nil, store.Corruptf(r.fdxIn.Name(), "no chunk for doc %d", docID)
	}
	in := r.fdtIn.Clone()
	if err := in.SeekTo(r.index[i].fp); err != nil {
		return nil, err
	}
	d := store.NewDecoder(in)

	var data []byte
	if r.c.legacy() {
		data = d.ByteSlice()
		if err := d.Err(); err != nil {
			return nil, err
		}
	} else {
		var err error
		if data, err = r.readFromChunk(d, r.index[i], docID); err != nil {
			return nil, err
		}
	}

	var fields []codec.StoredField
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return nil, &store.CorruptIndexError{Resource: r.fdtIn.Name(), Msg: fmt.Sprintf("doc %d", docID), Err: err}
	}
	return fields, nil
}

func (r *storedFieldsReader) readFromChunk(d *store.Decoder, chunk chunkIndexEntry, docID int) ([]byte, error) {
	in := d.Input()
	docBase := d.Int()
	numDocs := d.Int()
	if d.Err() == nil && (docBase != chunk.docBase || docID >= docBase+numDocs) {
		return nil, store.Corruptf(in.Name(), "chunk at %d holds docs [%d, %d), want %d", chunk.fp, docBase, docBase+numDocs, docID)
	}
	lengths := make([]int, numDocs)
	for i := range lengths {
		lengths[i] = d.Int()
	}
	if err := d.Err(); err != nil {
		return nil, err
	}

	key := cache.Key{Segment: r.cacheID, File: r.fdtIn.Name(), Offset: chunk.fp}
	raw, ok := r.cached(key)
	if !ok {
		var header [chunkHeaderSize]byte
		d.ReadInto(header[:])
		if err := d.Err(); err != nil {
			return nil, err
		}
		frame := make([]byte, chunkFrameSize(header[:]))
		copy(frame, header[:])
		d.ReadInto(frame[chunkHeaderSize:])
		if err := d.Err(); err != nil {
			return nil, err
		}
		var err error
		if raw, err = decompressChunk(frame, r.mode); err != nil {
			return nil, &store.CorruptIndexError{Resource: in.Name(), Msg: fmt.Sprintf("chunk at %d", chunk.fp), Err: err}
		}
		if r.c.opts.cache != nil {
			r.c.opts.cache.Set(key, raw)
		}
	}

	start := 0
	for i := 0; i < docID-docBase; i++ {
		start += lengths[i]
	}
	end := start + lengths[docID-docBase]
	if end > len(raw) {
		return nil, store.Corruptf(in.Name(), "doc %d exceeds chunk at %d", docID, chunk.fp)
	}
	return raw[start:end], nil
}

func (r *storedFieldsReader) cached(key cache.Key) ([]byte, bool) {
	if r.c.opts.cache == nil {
		return nil, false
	}
	return r.c.opts.cache.Get(key)
}

func (r *storedFieldsReader) CheckIntegrity() error {
	return verifyAll(r.fdtIn, r.fdxIn)
}

func (r *storedFieldsReader) Close() error {
	if r.c.opts.cache != nil {
		id := r.cacheID
		r.c.opts.cache.Invalidate(func(k cache.Key) bool { return k.Segment == id })
	}
	return closeAll(r.fdtIn, r.fdxIn)
}
