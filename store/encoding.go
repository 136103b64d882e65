package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Encoder writes the primitive encodings shared by all index files onto a
// DataOutput. The first error sticks; later writes are no-ops and Err
// reports it.
type Encoder struct {
	out     DataOutput
	err     error
	scratch [binary.MaxVarintLen64]byte
}

// NewEncoder creates an Encoder.
func NewEncoder(out DataOutput) *Encoder {
	return &Encoder{out: out}
}

// Err returns the first write error.
func (e *Encoder) Err() error { return e.err }

// Byte writes one byte.
func (e *Encoder) Byte(b byte) {
	if e.err != nil {
		return
	}
	e.err = e.out.WriteByte(b)
}

// Bool writes a boolean as one byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.Byte(1)
	} else {
		e.Byte(0)
	}
}

// Raw writes p without a length prefix.
func (e *Encoder) Raw(p []byte) {
	if e.err != nil || len(p) == 0 {
		return
	}
	_, e.err = e.out.Write(p)
}

// Uvarint writes v as a variable-length unsigned integer.
func (e *Encoder) Uvarint(v uint64) {
	n := binary.PutUvarint(e.scratch[:], v)
	e.Raw(e.scratch[:n])
}

// Varint writes v zig-zag encoded.
func (e *Encoder) Varint(v int64) {
	n := binary.PutVarint(e.scratch[:], v)
	e.Raw(e.scratch[:n])
}

// Int writes a non-negative int as a Uvarint.
func (e *Encoder) Int(v int) {
	e.Uvarint(uint64(v))
}

// Uint32 writes v as 4 big-endian bytes.
func (e *Encoder) Uint32(v uint32) {
	binary.BigEndian.PutUint32(e.scratch[:4], v)
	e.Raw(e.scratch[:4])
}

// Uint64 writes v as 8 big-endian bytes.
func (e *Encoder) Uint64(v uint64) {
	binary.BigEndian.PutUint64(e.scratch[:8], v)
	e.Raw(e.scratch[:8])
}

// Int64 writes v as 8 big-endian bytes.
func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

// Float64 writes the IEEE-754 bits of v.
func (e *Encoder) Float64(v float64) { e.Uint64(math.Float64bits(v)) }

// ByteSlice writes a length-prefixed byte slice.
func (e *Encoder) ByteSlice(b []byte) {
	e.Int(len(b))
	e.Raw(b)
}

// String writes a length-prefixed string.
func (e *Encoder) String(s string) {
	e.Int(len(s))
	if e.err != nil || len(s) == 0 {
		return
	}
	_, e.err = e.out.Write([]byte(s))
}

// StringMap writes a map with keys in sorted order.
func (e *Encoder) StringMap(m map[string]string) {
	e.Int(len(m))
	for _, k := range sortedKeys(m) {
		e.String(k)
		e.String(m[k])
	}
}

// StringSet writes a set of strings in sorted order.
func (e *Encoder) StringSet(set []string) {
	sorted := append([]string(nil), set...)
	sort.Strings(sorted)
	e.Int(len(sorted))
	for _, s := range sorted {
		e.String(s)
	}
}

// Decoder reads the encodings written by Encoder from an IndexInput.
// Like Encoder, the first error sticks.
type Decoder struct {
	in  IndexInput
	err error
	buf [8]byte
}

// NewDecoder creates a Decoder.
func NewDecoder(in IndexInput) *Decoder {
	return &Decoder{in: in}
}

// Err returns the first read error.
func (d *Decoder) Err() error { return d.err }

// Input returns the underlying input.
func (d *Decoder) Input() IndexInput { return d.in }

// Fail records err if no error was recorded yet.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	b, err := d.in.ReadByte()
	if err != nil {
		d.err = err
		return 0
	}
	return b
}

// Bool reads a boolean.
func (d *Decoder) Bool() bool {
	switch b := d.Byte(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		d.Fail(Corruptf(d.in.Name(), "invalid boolean byte %d", b))
		return false
	}
}

// ReadInto fills p.
func (d *Decoder) ReadInto(p []byte) {
	if d.err != nil {
		return
	}
	d.err = ReadFull(d.in, p)
}

// Uvarint reads a variable-length unsigned integer.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.in)
	if err != nil {
		d.err = d.mapVarintErr(err)
		return 0
	}
	return v
}

// Varint reads a zig-zag encoded integer.
func (d *Decoder) Varint() int64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadVarint(d.in)
	if err != nil {
		d.err = d.mapVarintErr(err)
		return 0
	}
	return v
}

func (d *Decoder) mapVarintErr(err error) error {
	if errors.Is(err, ErrReadPastEOF) || errors.Is(err, ErrAlreadyClosed) {
		return err
	}
	return &CorruptIndexError{Resource: d.in.Name(), Msg: fmt.Sprintf("bad varint at pos %d", d.in.Pos()), Err: err}
}

// Int reads a Uvarint that must fit a non-negative int.
func (d *Decoder) Int() int {
	v := d.Uvarint()
	if v > math.MaxInt32 {
		d.Fail(Corruptf(d.in.Name(), "int out of range: %d", v))
		return 0
	}
	return int(v)
}

// Len reads a length and checks it against the bytes left in the input.
func (d *Decoder) Len() int {
	n := d.Int()
	if d.err == nil && int64(n) > d.in.Len()-d.in.Pos() {
		d.Fail(Corruptf(d.in.Name(), "length %d exceeds remaining %d bytes", n, d.in.Len()-d.in.Pos()))
		return 0
	}
	return n
}

// Uint32 reads 4 big-endian bytes.
func (d *Decoder) Uint32() uint32 {
	d.ReadInto(d.buf[:4])
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(d.buf[:4])
}

// Uint64 reads 8 big-endian bytes.
func (d *Decoder) Uint64() uint64 {
	d.ReadInto(d.buf[:8])
	if d.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(d.buf[:8])
}

// Int64 reads 8 big-endian bytes.
func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

// Float64 reads IEEE-754 bits.
func (d *Decoder) Float64() float64 { return math.Float64frombits(d.Uint64()) }

// ByteSlice reads a length-prefixed byte slice.
func (d *Decoder) ByteSlice() []byte {
	n := d.Len()
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	d.ReadInto(b)
	if d.err != nil {
		return nil
	}
	return b
}

// String reads a length-prefixed string.
func (d *Decoder) String() string {
	return string(d.ByteSlice())
}

// StringMap reads a map written by Encoder.StringMap.
func (d *Decoder) StringMap() map[string]string {
	n := d.Len()
	m := make(map[string]string, n)
	for i := 0; i < n && d.err == nil; i++ {
		k := d.String()
		m[k] = d.String()
	}
	return m
}

// StringSet reads a set written by Encoder.StringSet.
func (d *Decoder) StringSet() []string {
	n := d.Len()
	set := make([]string, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		set = append(set, d.String())
	}
	return set
}
