package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderDecoder(t *testing.T) {
	dir := NewRAMDirectory()
	out, err := dir.CreateOutput("enc")
	require.NoError(t, err)

	e := NewEncoder(out)
	e.Byte(7)
	e.Bool(true)
	e.Uvarint(math.MaxUint64)
	e.Varint(-12345)
	e.Int(42)
	e.Uint32(0xdeadbeef)
	e.Int64(-1)
	e.Float64(3.25)
	e.ByteSlice([]byte("payload"))
	e.String("content")
	e.StringMap(map[string]string{"b": "2", "a": "1"})
	e.StringSet([]string{"_0.tim", "_0.doc"})
	require.NoError(t, e.Err())
	require.NoError(t, out.Close())

	in, err := dir.OpenInput("enc")
	require.NoError(t, err)
	defer in.Close()

	d := NewDecoder(in)
	assert.Equal(t, byte(7), d.Byte())
	assert.True(t, d.Bool())
	assert.Equal(t, uint64(math.MaxUint64), d.Uvarint())
	assert.Equal(t, int64(-12345), d.Varint())
	assert.Equal(t, 42, d.Int())
	assert.Equal(t, uint32(0xdeadbeef), d.Uint32())
	assert.Equal(t, int64(-1), d.Int64())
	assert.Equal(t, 3.25, d.Float64())
	assert.Equal(t, []byte("payload"), d.ByteSlice())
	assert.Equal(t, "content", d.String())
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, d.StringMap())
	assert.ElementsMatch(t, []string{"_0.doc", "_0.tim"}, d.StringSet())
	require.NoError(t, d.Err())

	d.Byte()
	assert.ErrorIs(t, d.Err(), ErrReadPastEOF)
	// sticky
	d.Int()
	assert.ErrorIs(t, d.Err(), ErrReadPastEOF)
}

func TestDecoderRejectsOversizedLength(t *testing.T) {
	dir := NewRAMDirectory()
	out, err := dir.CreateOutput("bad")
	require.NoError(t, err)
	e := NewEncoder(out)
	e.Uvarint(1 << 40)
	require.NoError(t, out.Close())

	in, err := dir.OpenInput("bad")
	require.NoError(t, err)
	d := NewDecoder(in)
	_ = d.ByteSlice()
	assert.Error(t, d.Err())
}
