package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentNameHelpers(t *testing.T) {
	assert.Equal(t, "_3", ParseSegmentName("_3.cfs"))
	assert.Equal(t, "_3", ParseSegmentName("_3_2.liv"))
	assert.Equal(t, ".tim", StripSegmentName("_3.tim"))
	assert.Equal(t, "_Invgo10_0.doc", StripSegmentName("_a_Invgo10_0.doc"))
	assert.Equal(t, "segments", StripSegmentName("segments"))
}

func TestCompoundRoundTrip(t *testing.T) {
	for name, dir := range newDirectories(t) {
		t.Run(name, func(t *testing.T) {
			defer dir.Close()
			w := NewCompoundWriter(dir, "_0.cfs", "_0.cfe")
			for i := 0; i < 5; i++ {
				out, err := w.CreateOutput(fmt.Sprintf("_0.f%d", i))
				require.NoError(t, err)
				for j := 0; j <= i*1000; j++ {
					require.NoError(t, out.WriteByte(byte(i+j)))
				}
				require.NoError(t, out.Close())
			}
			require.NoError(t, w.Close())

			r, err := OpenCompound(dir, "_0.cfs", "_0.cfe")
			require.NoError(t, err)
			defer r.Close()

			names, err := r.ListAll()
			require.NoError(t, err)
			assert.Equal(t, []string{"_0.f0", "_0.f1", "_0.f2", "_0.f3", "_0.f4"}, names)

			for i := 0; i < 5; i++ {
				in, err := r.OpenInput(fmt.Sprintf("_0.f%d", i))
				require.NoError(t, err)
				assert.Equal(t, int64(i*1000+1), in.Len())
				require.NoError(t, in.SeekTo(in.Len()-1))
				b, err := in.ReadByte()
				require.NoError(t, err)
				assert.Equal(t, byte(i+i*1000), b)
				_, err = in.ReadByte()
				assert.ErrorIs(t, err, ErrReadPastEOF)
				require.NoError(t, in.Close())
			}
			_, err = r.OpenInput("_0.missing")
			assert.ErrorIs(t, err, ErrFileNotFound)
			_, err = r.CreateOutput("_0.x")
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestCompoundConcurrentOutputsAreStaged(t *testing.T) {
	dir := NewRAMDirectory()
	w := NewCompoundWriter(dir, "_1.cfs", "_1.cfe")

	first, err := w.CreateOutput("_1.a")
	require.NoError(t, err)
	second, err := w.CreateOutput("_1.b")
	require.NoError(t, err)
	_, err = second.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, second.Close())
	_, err = first.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// appending after entries exist keeps working
	third, err := w.CreateOutput("_1.c")
	require.NoError(t, err)
	_, err = third.Write([]byte("third"))
	require.NoError(t, err)
	require.NoError(t, third.Close())

	_, err = w.CreateOutput("_1.a")
	assert.ErrorIs(t, err, ErrFileExists)
	require.NoError(t, w.Close())

	names, err := dir.ListAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"_1.cfe", "_1.cfs"}, names)

	r, err := OpenCompound(dir, "_1.cfs", "_1.cfe")
	require.NoError(t, err)
	defer r.Close()
	for entry, want := range map[string]string{"_1.a": "first", "_1.b": "second", "_1.c": "third"} {
		in, err := r.OpenInput(entry)
		require.NoError(t, err)
		got := make([]byte, in.Len())
		require.NoError(t, ReadFull(in, got))
		assert.Equal(t, want, string(got))
	}
}

func TestCompoundCopyFromAndNesting(t *testing.T) {
	dir := NewRAMDirectory()
	writeSealed(t, dir, "_2.tim", "InvgoTerms", 0, []byte("terms"))
	writeSealed(t, dir, "_2.doc", "InvgoDocs", 0, []byte("docs"))

	inner := NewCompoundWriter(dir, "_2_inner.cfs", "_2_inner.cfe")
	require.NoError(t, inner.CopyFrom(dir, "_2.tim"))
	require.NoError(t, inner.Close())

	outer := NewCompoundWriter(dir, "_2.cfs", "_2.cfe")
	require.NoError(t, outer.CopyFrom(dir, "_2.doc"))
	require.NoError(t, outer.CopyFrom(dir, "_2_inner.cfs"))
	require.NoError(t, outer.CopyFrom(dir, "_2_inner.cfe"))
	require.NoError(t, outer.Close())

	r, err := OpenCompound(dir, "_2.cfs", "_2.cfe")
	require.NoError(t, err)
	defer r.Close()

	nested, err := OpenCompound(r, "_2_inner.cfs", "_2_inner.cfe")
	require.NoError(t, err)
	defer nested.Close()

	in, err := nested.OpenInput("_2.tim")
	require.NoError(t, err)
	_, err = CheckHeader(in, "InvgoTerms", 0, 0)
	require.NoError(t, err)
	_, err = ChecksumEntireFile(in)
	require.NoError(t, err)

	in, err = r.OpenInput("_2.doc")
	require.NoError(t, err)
	_, err = ChecksumEntireFile(in)
	require.NoError(t, err)
}

func TestCompoundEntryChecksumMatchesStandaloneFile(t *testing.T) {
	dir := NewRAMDirectory()
	w := NewCompoundWriter(dir, "_3.cfs", "_3.cfe")
	out, err := w.CreateOutput("_3.fnm")
	require.NoError(t, err)
	require.NoError(t, WriteHeader(out, "InvgoFieldInfos", 0))
	_, err = out.Write([]byte("fields"))
	require.NoError(t, err)
	require.NoError(t, WriteFooter(out))
	require.NoError(t, out.Close())
	require.NoError(t, w.Close())

	r, err := OpenCompound(dir, "_3.cfs", "_3.cfe")
	require.NoError(t, err)
	defer r.Close()
	in, err := r.OpenInput("_3.fnm")
	require.NoError(t, err)
	_, err = ChecksumEntireFile(in)
	require.NoError(t, err)
}
