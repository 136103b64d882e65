package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSealed(t *testing.T, dir Directory, name, format string, version int32, body []byte) {
	t.Helper()
	out, err := dir.CreateOutput(name)
	require.NoError(t, err)
	require.NoError(t, WriteHeader(out, format, version))
	_, err = out.Write(body)
	require.NoError(t, err)
	require.NoError(t, WriteFooter(out))
	require.NoError(t, out.Close())
}

func TestHeaderFooterRoundTrip(t *testing.T) {
	dir := NewRAMDirectory()
	writeSealed(t, dir, "_0.tim", "InvgoTerms", 3, []byte("terms"))

	in, err := dir.OpenInput("_0.tim")
	require.NoError(t, err)
	defer in.Close()

	v, err := CheckHeader(in, "InvgoTerms", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
	assert.Equal(t, HeaderLength("InvgoTerms"), in.Pos())

	sum, err := ChecksumEntireFile(in)
	require.NoError(t, err)
	stored, err := RetrieveChecksum(in)
	require.NoError(t, err)
	assert.Equal(t, sum, stored)

	require.NoError(t, in.SeekTo(in.Len()-FooterLength))
	_, err = CheckFooter(in)
	require.NoError(t, err)
}

func TestCheckHeaderVersionWindow(t *testing.T) {
	dir := NewRAMDirectory()
	writeSealed(t, dir, "_0.si", "InvgoSegmentInfo", 1, nil)

	in, err := dir.OpenInput("_0.si")
	require.NoError(t, err)
	_, err = CheckHeader(in, "InvgoSegmentInfo", 2, 3)
	var tooOld *IndexFormatTooOldError
	require.ErrorAs(t, err, &tooOld)
	assert.ErrorIs(t, err, ErrFormatTooOld)
	assert.Contains(t, err.Error(), "_0.si")

	require.NoError(t, in.SeekTo(0))
	_, err = CheckHeader(in, "InvgoSegmentInfo", 0, 0)
	assert.ErrorIs(t, err, ErrFormatTooNew)
	assert.Contains(t, err.Error(), "_0.si")

	require.NoError(t, in.SeekTo(0))
	_, err = CheckHeader(in, "InvgoPostings", 0, 5)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestChecksumDetectsCorruption(t *testing.T) {
	dir := NewRAMDirectory()
	writeSealed(t, dir, "f", "InvgoTest", 0, []byte("some bytes to flip"))
	b, err := ReadFile(dir, "f")
	require.NoError(t, err)
	b[HeaderLength("InvgoTest")+2] ^= 0xff
	require.NoError(t, WriteFile(dir, "g", b))

	in, err := dir.OpenInput("g")
	require.NoError(t, err)
	_, err = ChecksumEntireFile(in)
	assert.True(t, errors.Is(err, ErrCorruptIndex))

	require.NoError(t, WriteFile(dir, "short", []byte{1, 2}))
	in, err = dir.OpenInput("short")
	require.NoError(t, err)
	_, err = ChecksumEntireFile(in)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestDiskFullErrorMessage(t *testing.T) {
	err := &DiskFullError{Resource: "_0.fdt"}
	assert.ErrorIs(t, err, ErrDiskFull)
	assert.Regexp(t, "^disk full", err.Error())
}
