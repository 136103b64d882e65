package store

import (
	"bufio"
	"hash"
	"io"

	ihash "github.com/hupe1980/invgo/internal/hash"
)

// DataOutput is the byte sink encoders write to.
type DataOutput interface {
	io.Writer
	io.ByteWriter
}

// IndexOutput is an append-only writer for one file.
type IndexOutput interface {
	DataOutput
	Name() string
	// Pos returns the number of bytes written so far.
	Pos() int64
	// Checksum returns the CRC32-C of all bytes written so far.
	Checksum() uint32
	Close() error
}

// checksumOutput buffers writes to an underlying sink and keeps a running
// checksum.
type checksumOutput struct {
	name    string
	w       *bufio.Writer
	crc     hash.Hash32
	pos     int64
	closed  bool
	onClose func(flushErr error) error
	mapErr  func(error) error
}

const outputBufferSize = 8192

func newChecksumOutput(name string, sink io.Writer, onClose func(error) error, mapErr func(error) error) *checksumOutput {
	return &checksumOutput{
		name:    name,
		w:       bufio.NewWriterSize(sink, outputBufferSize),
		crc:     ihash.NewCRC32C(),
		onClose: onClose,
		mapErr:  mapErr,
	}
}

func (o *checksumOutput) Name() string     { return o.name }
func (o *checksumOutput) Pos() int64       { return o.pos }
func (o *checksumOutput) Checksum() uint32 { return o.crc.Sum32() }

func (o *checksumOutput) wrap(err error) error {
	if err != nil && o.mapErr != nil {
		return o.mapErr(err)
	}
	return err
}

func (o *checksumOutput) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrAlreadyClosed
	}
	n, err := o.w.Write(p)
	_, _ = o.crc.Write(p[:n])
	o.pos += int64(n)
	return n, o.wrap(err)
}

func (o *checksumOutput) WriteByte(b byte) error {
	if o.closed {
		return ErrAlreadyClosed
	}
	if err := o.w.WriteByte(b); err != nil {
		return o.wrap(err)
	}
	_, _ = o.crc.Write([]byte{b})
	o.pos++
	return nil
}

func (o *checksumOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	flushErr := o.wrap(o.w.Flush())
	if o.onClose != nil {
		if err := o.onClose(flushErr); err != nil {
			return o.wrap(err)
		}
	}
	return flushErr
}

// crcWriter checksums what passes through it.
type crcWriter struct {
	w   io.Writer
	sum uint32
}

func newCRCWriter(w io.Writer) *crcWriter { return &crcWriter{w: w} }

func (c *crcWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.sum = ihash.UpdateCRC32C(c.sum, p[:n])
	return n, err
}
