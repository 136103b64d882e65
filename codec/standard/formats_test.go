package standard

import (
	"fmt"
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/internal/cache"
)

func TestStoredFieldsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec *Codec
	}{
		{"fast", New()},
		{"high", New(WithCompression(CompressionHigh))},
		{"none", New(WithCompression(CompressionNone))},
		{"legacy", NewLegacy(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const numDocs = 300
			idField := &codec.FieldInfo{Name: "id", Number: 0, DocValuesGen: -1}
			bodyField := &codec.FieldInfo{Name: "body", Number: 1, DocValuesGen: -1}
			dir, si, fis := newTestSegment(t, numDocs, idField, bodyField)

			w, err := tt.codec.StoredFieldsFormat().StoredFieldsWriter(dir, si)
			require.NoError(t, err)
			for doc := 0; doc < numDocs; doc++ {
				require.NoError(t, w.StartDocument())
				require.NoError(t, w.WriteField(idField, codec.NewStoredField(0, document.NewStoredField("id", fmt.Sprint(doc)))))
				require.NoError(t, w.WriteField(bodyField, codec.NewStoredField(0, document.NewStoredField("body", strings.Repeat("lorem ipsum ", doc%20)))))
				if doc%2 == 0 {
					require.NoError(t, w.WriteField(bodyField, codec.NewStoredField(0, document.NewStoredIntField("body", int64(doc)))))
				}
				require.NoError(t, w.FinishDocument())
			}
			require.NoError(t, w.Finish(numDocs))
			require.NoError(t, w.Close())

			r, err := tt.codec.StoredFieldsFormat().StoredFieldsReader(dir, si, fis)
			require.NoError(t, err)
			defer r.Close()
			require.NoError(t, r.CheckIntegrity())

			for _, doc := range []int{0, 1, 127, 128, 200, numDocs - 1} {
				fields, err := r.Document(doc)
				require.NoError(t, err)
				d := codec.ToDocument(fields, fis)
				assert.Equal(t, fmt.Sprint(doc), d.Get("id"))
				values := d.GetAll("body")
				assert.Equal(t, strings.Repeat("lorem ipsum ", doc%20), values[0])
				if doc%2 == 0 {
					require.Len(t, values, 2)
					f := d.Fields()[2]
					assert.Equal(t, document.ValueInt, f.Kind())
					assert.Equal(t, int64(doc), f.IntValue())
				}
			}
			_, err = r.Document(numDocs)
			require.ErrorIs(t, err, codec.ErrIllegalArgument)
		})
	}
}

func TestStoredFieldsUseBlockCache(t *testing.T) {
	lru := cache.NewLRU(1<<20, nil)
	c := New(WithBlockCache(lru))
	f := &codec.FieldInfo{Name: "f", Number: 0, DocValuesGen: -1}
	dir, si, fis := newTestSegment(t, 10, f)

	w, err := c.StoredFieldsFormat().StoredFieldsWriter(dir, si)
	require.NoError(t, err)
	for doc := 0; doc < 10; doc++ {
		require.NoError(t, w.StartDocument())
		require.NoError(t, w.WriteField(f, codec.NewStoredField(0, document.NewStoredField("f", "value"))))
		require.NoError(t, w.FinishDocument())
	}
	require.NoError(t, w.Finish(10))
	require.NoError(t, w.Close())

	r, err := c.StoredFieldsFormat().StoredFieldsReader(dir, si, fis)
	require.NoError(t, err)
	for doc := 0; doc < 10; doc++ {
		_, err := r.Document(doc)
		require.NoError(t, err)
	}
	hits, misses := lru.Stats()
	assert.Equal(t, int64(9), hits)
	assert.Equal(t, int64(1), misses)

	require.NoError(t, r.Close())
	assert.Zero(t, lru.Size())
}

func TestTermVectorsRoundTrip(t *testing.T) {
	dir, si, fis := newTestSegment(t, 3, &codec.FieldInfo{Name: "body", IndexOptions: document.DocsAndFreqsAndPositions, StoreTermVectors: true, DocValuesGen: -1})
	c := New()
	w, err := c.TermVectorsFormat().TermVectorsWriter(dir, si)
	require.NoError(t, err)
	vec := codec.FieldVector{Number: 0, HasPositions: true, HasOffsets: true, HasPayloads: true, Terms: []codec.TermVector{
		{Term: []byte("apple"), Freq: 2, Positions: []int{0, 4}, StartOffsets: []int{0, 20}, EndOffsets: []int{5, 25}, Payloads: [][]byte{[]byte("x"), nil}},
		{Term: []byte("apricot"), Freq: 1, Positions: []int{2}, StartOffsets: []int{10}, EndOffsets: []int{17}, Payloads: [][]byte{nil}},
	}}
	require.NoError(t, w.AddDocument(nil))
	require.NoError(t, w.AddDocument([]codec.FieldVector{vec}))
	require.NoError(t, w.AddDocument(nil))
	require.NoError(t, w.Finish(3))
	require.NoError(t, w.Close())

	r, err := c.TermVectorsFormat().TermVectorsReader(dir, si, fis)
	require.NoError(t, err)
	defer r.Close()

	empty, err := r.Get(0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	got, err := r.Get(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, vec, got[0])
	assert.NotNil(t, codec.FindFieldVector(got, 0))
}

func TestDocValuesRoundTrip(t *testing.T) {
	const maxDoc = 600
	numeric := &codec.FieldInfo{Name: "n", Number: 0, DocValuesType: document.DocValuesNumeric, DocValuesGen: -1}
	table := &codec.FieldInfo{Name: "t", Number: 1, DocValuesType: document.DocValuesNumeric, DocValuesGen: -1}
	binary := &codec.FieldInfo{Name: "b", Number: 2, DocValuesType: document.DocValuesBinary, DocValuesGen: -1}
	sorted := &codec.FieldInfo{Name: "s", Number: 3, DocValuesType: document.DocValuesSorted, DocValuesGen: -1}
	set := &codec.FieldInfo{Name: "ss", Number: 4, DocValuesType: document.DocValuesSortedSet, DocValuesGen: -1}
	multi := &codec.FieldInfo{Name: "sn", Number: 5, DocValuesType: document.DocValuesSortedNumeric, DocValuesGen: -1}
	dir, si, fis := newTestSegment(t, maxDoc, numeric, table, binary, sorted, set, multi)

	builders := map[*codec.FieldInfo]*codec.DocValuesBuilder{}
	for _, fi := range fis.All() {
		builders[fi] = codec.NewDocValuesBuilder(fi.DocValuesType)
	}
	for doc := 0; doc < maxDoc; doc++ {
		if doc%5 == 0 {
			continue
		}
		require.NoError(t, builders[numeric].AddNumeric(doc, int64(doc)*1_000_003-7))
		require.NoError(t, builders[table].AddNumeric(doc, int64(doc%3)))
		require.NoError(t, builders[binary].AddBinary(doc, []byte(fmt.Sprint("b", doc))))
		require.NoError(t, builders[sorted].AddBinary(doc, []byte(fmt.Sprint("s", doc%17))))
		builders[set].AddSortedSet(doc, []byte(fmt.Sprint("x", doc%4)))
		builders[set].AddSortedSet(doc, []byte("common"))
		builders[multi].AddSortedNumeric(doc, int64(-doc))
		builders[multi].AddSortedNumeric(doc, int64(doc))
	}

	c := New()
	state := &codec.SegmentWriteState{Directory: dir, SegmentInfo: si, FieldInfos: fis}
	w, err := c.DocValuesFormat().DocValuesConsumer(state)
	require.NoError(t, err)
	want := map[int]*codec.DocValues{}
	for _, fi := range fis.All() {
		want[fi.Number] = builders[fi].Build(maxDoc)
		require.NoError(t, w.AddField(fi, want[fi.Number]))
	}
	require.NoError(t, w.Close())

	r, err := c.DocValuesFormat().DocValuesProducer(&codec.SegmentReadState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.CheckIntegrity())

	for _, fi := range fis.All() {
		got, err := r.Values(fi)
		require.NoError(t, err)
		assert.Equal(t, want[fi.Number].DocsWithField.ToArray(), got.DocsWithField.ToArray(), fi.Name)
		for doc := 0; doc < maxDoc; doc++ {
			exp := want[fi.Number]
			switch fi.DocValuesType {
			case document.DocValuesNumeric:
				require.Equal(t, exp.Numeric(doc), got.Numeric(doc))
			case document.DocValuesBinary, document.DocValuesSorted:
				require.Equal(t, exp.Binary(doc), got.Binary(doc))
			case document.DocValuesSortedSet:
				require.Equal(t, exp.SortedSetValues(doc), got.SortedSetValues(doc))
			case document.DocValuesSortedNumeric:
				require.Equal(t, exp.SortedNumeric(doc), got.SortedNumeric(doc))
			}
		}
	}
	again, err := r.Values(sorted)
	require.NoError(t, err)
	assert.Equal(t, 17, again.ValueCount())
}

func TestNormsUseSeparateFiles(t *testing.T) {
	body := &codec.FieldInfo{Name: "body", IndexOptions: document.DocsAndFreqs, DocValuesGen: -1}
	dir, si, fis := newTestSegment(t, 4, body)
	c := New()
	w, err := c.NormsFormat().NormsConsumer(&codec.SegmentWriteState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)
	require.NoError(t, w.AddField(body, codec.NewNumericDocValues([]int64{3, 1, 4, 1}, roaringOf(0, 1, 2, 3))))
	require.NoError(t, w.Close())

	files, err := dir.ListAll()
	require.NoError(t, err)
	assert.Contains(t, files, "_0.nvd")
	assert.Contains(t, files, "_0.nvm")

	r, err := c.NormsFormat().NormsProducer(&codec.SegmentReadState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)
	defer r.Close()
	norms, err := r.Values(body)
	require.NoError(t, err)
	assert.Equal(t, int64(4), norms.Numeric(2))
}

func TestFieldInfosAndSegmentInfoRoundTrip(t *testing.T) {
	c := New()
	body, id := bodyAndIDFields()
	body.Attributes = map[string]string{"k": "v"}
	dv := &codec.FieldInfo{Name: "price", Number: 2, DocValuesType: document.DocValuesNumeric, DocValuesGen: 3, OmitNorms: true}
	dir, si, fis := newTestSegment(t, 7, body, id, dv)

	name, err := c.FieldInfosFormat().Write(dir, si.Name, -1, fis)
	require.NoError(t, err)
	assert.Equal(t, "_0.fnm", name)
	genName, err := c.FieldInfosFormat().Write(dir, si.Name, 3, fis)
	require.NoError(t, err)
	assert.Equal(t, "_0_3.fnm", genName)

	got, err := c.FieldInfosFormat().Read(dir, si.Name, 3)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, body, got.ByName("body"))
	assert.Equal(t, dv, got.ByName("price"))
	assert.True(t, got.HasPayloads)

	si.UseCompoundFile = true
	si.Diagnostics[codec.DiagSource] = codec.DiagSourceFlush
	si.SetFiles([]string{"_0.fnm", "_0.tim"})
	require.NoError(t, c.SegmentInfoFormat().Write(dir, si))

	read, err := c.SegmentInfoFormat().Read(dir, si.Name)
	require.NoError(t, err)
	assert.Equal(t, si.ID, read.ID)
	assert.Equal(t, 7, read.MaxDoc)
	assert.True(t, read.UseCompoundFile)
	assert.Equal(t, Name, read.Codec)
	assert.Equal(t, codec.DiagSourceFlush, read.Diagnostics[codec.DiagSource])
	assert.Equal(t, []string{"_0.fnm", "_0.si", "_0.tim"}, read.Files())
}

func TestLiveDocsRoundTrip(t *testing.T) {
	c := NewLegacy(false)
	dir, si, _ := newTestSegment(t, 10)

	live := codec.NewLiveDocs(10)
	live.Delete(7)
	live.Delete(2)
	name, err := c.LiveDocsFormat().Write(dir, si, 1, live)
	require.NoError(t, err, "read-only codecs still write deletions")
	assert.Equal(t, "_0_1.liv", name)

	got, err := c.LiveDocsFormat().Read(dir, si, 1, 2)
	require.NoError(t, err)
	assert.False(t, got.Get(7))
	assert.True(t, got.Get(3))

	_, err = c.LiveDocsFormat().Read(dir, si, 1, 3)
	require.ErrorIs(t, err, codec.ErrCorruptIndex)

	other := codec.NewSegmentInfo(dir, "_0", 10, LegacyName)
	_, err = c.LiveDocsFormat().Read(dir, other, 1, 2)
	require.ErrorIs(t, err, codec.ErrCorruptIndex)
}

func TestLegacyCodecIsReadOnlyByDefault(t *testing.T) {
	c := NewLegacy(false)
	dir, si, fis := newTestSegment(t, 1)

	_, err := c.PostingsFormat().FieldsConsumer(&codec.SegmentWriteState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.ErrorIs(t, err, codec.ErrReadOnly)
	_, err = c.StoredFieldsFormat().StoredFieldsWriter(dir, si)
	require.ErrorIs(t, err, codec.ErrReadOnly)
	require.ErrorIs(t, c.SegmentInfoFormat().Write(dir, si), codec.ErrReadOnly)

	registered, err := codec.Lookup(LegacyName)
	require.NoError(t, err)
	assert.False(t, registered.(*Codec).Writable())
	assert.True(t, NewLegacy(true).Writable())

	_, err = codec.Lookup("Invgo08")
	require.ErrorIs(t, err, codec.ErrUnknownCodec)
	assert.Contains(t, codec.Names(), Name)
}

func TestCodecVersionMismatchIsReported(t *testing.T) {
	legacy := NewLegacy(true)
	dir, si, fis := newTestSegment(t, 1, &codec.FieldInfo{Name: "f", DocValuesGen: -1})
	_, err := legacy.FieldInfosFormat().Write(dir, si.Name, -1, fis)
	require.NoError(t, err)

	_, err = New().FieldInfosFormat().Read(dir, si.Name, -1)
	var tooOld *codec.IndexFormatTooOldError
	require.ErrorAs(t, err, &tooOld)
	assert.Contains(t, err.Error(), "_0.fnm")

	dir2, si2, fis2 := newTestSegment(t, 1, &codec.FieldInfo{Name: "f", DocValuesGen: -1})
	_, err = New().FieldInfosFormat().Write(dir2, si2.Name, -1, fis2)
	require.NoError(t, err)
	_, err = legacy.FieldInfosFormat().Read(dir2, si2.Name, -1)
	require.ErrorIs(t, err, codec.ErrFormatTooNew)
}

func TestCompressChunk(t *testing.T) {
	data := []byte(strings.Repeat("compressible ", 100))
	for _, mode := range []CompressionMode{CompressionNone, CompressionFast, CompressionHigh} {
		frame, err := compressChunk(data, mode)
		require.NoError(t, err)
		assert.Equal(t, len(frame), chunkFrameSize(frame))
		if mode != CompressionNone {
			assert.Less(t, len(frame), len(data), mode.String())
		}
		got, err := decompressChunk(frame, mode)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
	_, err := decompressChunk([]byte{1, 2}, CompressionFast)
	require.Error(t, err)
}


func roaringOf(docs ...uint32) *roaring.Bitmap { return roaring.BitmapOf(docs...) }
