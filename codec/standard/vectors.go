package standard

import (
	"fmt"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

type termVectorsFormat struct{ c *Codec }

func (f termVectorsFormat) TermVectorsWriter(dir store.Directory, si *codec.SegmentInfo) (codec.TermVectorsWriter, error) {
	if err := f.c.checkWritable(); err != nil {
		return nil, err
	}
	return newTermVectorsWriter(f.c, dir, si)
}

func (f termVectorsFormat) TermVectorsReader(dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos) (codec.TermVectorsReader, error) {
	return newTermVectorsReader(f.c, dir, si)
}

const (
	vectorHasPositions = 1 << iota
	vectorHasOffsets
	vectorHasPayloads
)

// termVectorsWriter writes one record per document to .tvd and the record
// pointers to .tvx.
type termVectorsWriter struct {
	tvdOut store.IndexOutput
	tvxOut store.IndexOutput
	tvd    *store.Encoder
	fps    []int64
}

func newTermVectorsWriter(c *Codec, dir store.Directory, si *codec.SegmentInfo) (*termVectorsWriter, error) {
	tvdOut, err := createOutput(dir, codec.SegmentFileName(si.Name, "", vectorsDataExt), vectorsDataCodec, c.version)
	if err != nil {
		return nil, err
	}
	tvxOut, err := createOutput(dir, codec.SegmentFileName(si.Name, "", vectorsIndexExt), vectorsIndexCodec, c.version)
	if err != nil {
		_ = tvdOut.Close()
		return nil, err
	}
	return &termVectorsWriter{tvdOut: tvdOut, tvxOut: tvxOut, tvd: store.NewEncoder(tvdOut)}, nil
}

func (w *termVectorsWriter) AddDocument(fields []codec.FieldVector) error {
	w.fps = append(w.fps, w.tvdOut.Pos())
	e := w.tvd
	e.Uvarint(uint64(len(fields)))
	for _, f := range fields {
		var flags byte
		if f.HasPositions {
			flags |= vectorHasPositions
		}
		if f.HasOffsets {
			flags |= vectorHasOffsets
		}
		if f.HasPayloads {
			flags |= vectorHasPayloads
		}
		e.Uvarint(uint64(f.Number))
		e.Byte(flags)
		e.Uvarint(uint64(len(f.Terms)))
		var prev []byte
		for _, t := range f.Terms {
			prefix := commonPrefix(prev, t.Term)
			e.Uvarint(uint64(prefix))
			e.ByteSlice(t.Term[prefix:])
			e.Uvarint(uint64(t.Freq))
			if f.HasPositions {
				last := 0
				for _, p := range t.Positions {
					e.Uvarint(uint64(p - last))
					last = p
				}
				if f.HasPayloads {
					for i := 0; i < t.Freq; i++ {
						var payload []byte
						if i < len(t.Payloads) {
							payload = t.Payloads[i]
						}
						e.ByteSlice(payload)
					}
				}
			}
			if f.HasOffsets {
				last := 0
				for i, start := range t.StartOffsets {
					e.Uvarint(uint64(start - last))
					e.Uvarint(uint64(t.EndOffsets[i] - start))
					last = start
				}
			}
			prev = t.Term
		}
	}
	return e.Err()
}

func (w *termVectorsWriter) Finish(numDocs int) error {
	if len(w.fps) != numDocs {
		return fmt.Errorf("term vectors: wrote %d docs but segment has %d", len(w.fps), numDocs)
	}
	e := store.NewEncoder(w.tvxOut)
	e.Uvarint(uint64(numDocs))
	for _, fp := range w.fps {
		e.Uvarint(uint64(fp))
	}
	return e.Err()
}

func (w *termVectorsWriter) Close() error {
	err := finishOutput(w.tvdOut)
	if ferr := finishOutput(w.tvxOut); err == nil {
		err = ferr
	}
	return err
}

func (w *termVectorsWriter) Abort() {
	_ = closeAll(w.tvdOut, w.tvxOut)
}

type termVectorsReader struct {
	tvdIn store.IndexInput
	tvxIn store.IndexInput
	fps   []int64
}

func newTermVectorsReader(c *Codec, dir store.Directory, si *codec.SegmentInfo) (_ *termVectorsReader, err error) {
	r := &termVectorsReader{}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()
	if r.tvdIn, err = openInput(dir, codec.SegmentFileName(si.Name, "", vectorsDataExt), vectorsDataCodec, c.version); err != nil {
		return nil, err
	}
	if r.tvxIn, err = openInput(dir, codec.SegmentFileName(si.Name, "", vectorsIndexExt), vectorsIndexCodec, c.version); err != nil {
		return nil, err
	}
	d := store.NewDecoder(r.tvxIn.Clone())
	n := d.Int()
	if d.Err() == nil && n != si.MaxDoc {
		return nil, store.Corruptf(r.tvxIn.Name(), "doc count mismatch: vectors=%d segment=%d", n, si.MaxDoc)
	}
	r.fps = make([]int64, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		r.fps = append(r.fps, int64(d.Uvarint()))
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *termVectorsReader) Get(docID int) ([]codec.FieldVector, error) {
	if docID < 0 || docID >= len(r.fps) {
		return nil, fmt.Errorf("%w: doc %d out of bounds [0, %d)", codec.ErrIllegalArgument, docID, len(r.fps))
	}
	in := r.tvdIn.Clone()
	if err := in.SeekTo(r.fps[docID]); err != nil {
		return nil, err
	}
	d := store.NewDecoder(in)
	numFields := d.Int()
	if d.Err() != nil || numFields == 0 {
		return nil, d.Err()
	}
	fields := make([]codec.FieldVector, 0, numFields)
	for i := 0; i < numFields && d.Err() == nil; i++ {
		f := codec.FieldVector{Number: d.Int()}
		flags := d.Byte()
		f.HasPositions = flags&vectorHasPositions != 0
		f.HasOffsets = flags&vectorHasOffsets != 0
		f.HasPayloads = flags&vectorHasPayloads != 0
		numTerms := d.Int()
		var prev []byte
		for j := 0; j < numTerms && d.Err() == nil; j++ {
			prefix := d.Int()
			suffix := d.ByteSlice()
			if prefix > len(prev) {
				return nil, store.Corruptf(in.Name(), "term prefix %d exceeds previous term length %d", prefix, len(prev))
			}
			t := codec.TermVector{Term: append(append(make([]byte, 0, prefix+len(suffix)), prev[:prefix]...), suffix...)}
			t.Freq = d.Int()
			if f.HasPositions {
				t.Positions = make([]int, t.Freq)
				last := 0
				for k := range t.Positions {
					last += d.Int()
					t.Positions[k] = last
				}
				if f.HasPayloads {
					t.Payloads = make([][]byte, t.Freq)
					for k := range t.Payloads {
						if p := d.ByteSlice(); len(p) > 0 {
							t.Payloads[k] = p
						}
					}
				}
			}
			if f.HasOffsets {
				t.StartOffsets = make([]int, t.Freq)
				t.EndOffsets = make([]int, t.Freq)
				last := 0
				for k := range t.StartOffsets {
					last += d.Int()
					t.StartOffsets[k] = last
					t.EndOffsets[k] = last + d.Int()
				}
			}
			f.Terms = append(f.Terms, t)
			prev = t.Term
		}
		fields = append(fields, f)
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return fields, nil
}

func (r *termVectorsReader) CheckIntegrity() error { return verifyAll(r.tvdIn, r.tvxIn) }

func (r *termVectorsReader) Close() error { return closeAll(r.tvdIn, r.tvxIn) }
