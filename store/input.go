package store

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// DataInput is the byte source decoders read from.
type DataInput interface {
	io.Reader
	io.ByteReader
}

// IndexInput is a positional, seekable reader over one file or a slice of it.
type IndexInput interface {
	DataInput
	// Name describes the resource, used in error messages.
	Name() string
	Pos() int64
	SeekTo(pos int64) error
	Len() int64
	// Clone returns an independent handle positioned at the same offset.
	// Clones need not be closed and are invalid after the original closes.
	Clone() IndexInput
	// Slice returns an independent handle over [offset, offset+length).
	Slice(desc string, offset, length int64) (IndexInput, error)
	Close() error
}

// ReadFull reads exactly len(p) bytes or fails with ErrReadPastEOF.
func ReadFull(in IndexInput, p []byte) error {
	if remaining := in.Len() - in.Pos(); int64(len(p)) > remaining {
		return readPastEOF(in.Name(), in.Pos()+int64(len(p)), in.Len())
	}
	_, err := io.ReadFull(in, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return readPastEOF(in.Name(), in.Pos(), in.Len())
	}
	return err
}

// bytesInput reads from an in-memory or memory-mapped byte slice.
type bytesInput struct {
	name    string
	data    []byte
	pos     int
	closed  *atomic.Bool
	owner   bool
	release func() error
}

func newBytesInput(name string, data []byte, release func() error) *bytesInput {
	return &bytesInput{name: name, data: data, closed: new(atomic.Bool), owner: true, release: release}
}

func (in *bytesInput) Name() string { return in.name }
func (in *bytesInput) Pos() int64   { return int64(in.pos) }
func (in *bytesInput) Len() int64   { return int64(len(in.data)) }

func (in *bytesInput) SeekTo(pos int64) error {
	if in.closed.Load() {
		return ErrAlreadyClosed
	}
	if pos < 0 || pos > int64(len(in.data)) {
		return readPastEOF(in.name, pos, int64(len(in.data)))
	}
	in.pos = int(pos)
	return nil
}

func (in *bytesInput) ReadByte() (byte, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if in.pos >= len(in.data) {
		return 0, readPastEOF(in.name, int64(in.pos), int64(len(in.data)))
	}
	b := in.data[in.pos]
	in.pos++
	return b, nil
}

func (in *bytesInput) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if in.pos >= len(in.data) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, in.data[in.pos:])
	in.pos += n
	return n, nil
}

func (in *bytesInput) Clone() IndexInput {
	c := *in
	c.owner = false
	c.release = nil
	return &c
}

func (in *bytesInput) Slice(desc string, offset, length int64) (IndexInput, error) {
	if in.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	if offset < 0 || length < 0 || offset+length > int64(len(in.data)) {
		return nil, fmt.Errorf("%w: slice %s [%d,+%d) out of bounds of %s (length=%d)",
			ErrReadPastEOF, desc, offset, length, in.name, len(in.data))
	}
	return &bytesInput{
		name:   desc + " [slice=" + in.name + "]",
		data:   in.data[offset : offset+length : offset+length],
		closed: in.closed,
	}, nil
}

func (in *bytesInput) Close() error {
	if !in.owner {
		return nil
	}
	if in.closed.Swap(true) {
		return nil
	}
	if in.release != nil {
		return in.release()
	}
	return nil
}

// readerAtInput buffers reads over an io.ReaderAt, e.g. an open file.
type readerAtInput struct {
	name   string
	src    io.ReaderAt
	base   int64
	length int64
	pos    int64

	buf      []byte
	bufStart int64
	bufLen   int

	closed  *atomic.Bool
	owner   bool
	release func() error
}

const inputBufferSize = 4096

func newReaderAtInput(name string, src io.ReaderAt, length int64, release func() error) *readerAtInput {
	return &readerAtInput{
		name:    name,
		src:     src,
		length:  length,
		closed:  new(atomic.Bool),
		owner:   true,
		release: release,
	}
}

func (in *readerAtInput) Name() string { return in.name }
func (in *readerAtInput) Pos() int64   { return in.pos }
func (in *readerAtInput) Len() int64   { return in.length }

func (in *readerAtInput) SeekTo(pos int64) error {
	if in.closed.Load() {
		return ErrAlreadyClosed
	}
	if pos < 0 || pos > in.length {
		return readPastEOF(in.name, pos, in.length)
	}
	in.pos = pos
	return nil
}

func (in *readerAtInput) fill() error {
	if in.buf == nil {
		in.buf = make([]byte, inputBufferSize)
	}
	n := int64(len(in.buf))
	if remaining := in.length - in.pos; remaining < n {
		n = remaining
	}
	if n <= 0 {
		return readPastEOF(in.name, in.pos, in.length)
	}
	read, err := in.src.ReadAt(in.buf[:n], in.base+in.pos)
	if int64(read) < n {
		if err == nil || errors.Is(err, io.EOF) {
			return readPastEOF(in.name, in.pos+int64(read), in.length)
		}
		return err
	}
	in.bufStart = in.pos
	in.bufLen = read
	return nil
}

func (in *readerAtInput) buffered() bool {
	return in.bufLen > 0 && in.pos >= in.bufStart && in.pos < in.bufStart+int64(in.bufLen)
}

func (in *readerAtInput) ReadByte() (byte, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if !in.buffered() {
		if err := in.fill(); err != nil {
			return 0, err
		}
	}
	b := in.buf[in.pos-in.bufStart]
	in.pos++
	return b, nil
}

func (in *readerAtInput) Read(p []byte) (int, error) {
	if in.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if in.pos >= in.length {
		return 0, io.EOF
	}
	if remaining := in.length - in.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) >= inputBufferSize {
		n, err := in.src.ReadAt(p, in.base+in.pos)
		in.pos += int64(n)
		if n == len(p) {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			err = readPastEOF(in.name, in.pos, in.length)
		}
		return n, err
	}
	if !in.buffered() {
		if err := in.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, in.buf[in.pos-in.bufStart:in.bufLen])
	in.pos += int64(n)
	return n, nil
}

func (in *readerAtInput) Clone() IndexInput {
	c := *in
	c.buf = nil
	c.bufLen = 0
	c.owner = false
	c.release = nil
	return &c
}

func (in *readerAtInput) Slice(desc string, offset, length int64) (IndexInput, error) {
	if in.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	if offset < 0 || length < 0 || offset+length > in.length {
		return nil, fmt.Errorf("%w: slice %s [%d,+%d) out of bounds of %s (length=%d)",
			ErrReadPastEOF, desc, offset, length, in.name, in.length)
	}
	return &readerAtInput{
		name:   desc + " [slice=" + in.name + "]",
		src:    in.src,
		base:   in.base + offset,
		length: length,
		closed: in.closed,
	}, nil
}

func (in *readerAtInput) Close() error {
	if !in.owner {
		return nil
	}
	if in.closed.Swap(true) {
		return nil
	}
	if in.release != nil {
		return in.release()
	}
	return nil
}
