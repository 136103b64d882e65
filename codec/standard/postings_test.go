package standard

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

type testPosting struct {
	doc       int
	positions []int
	payloads  [][]byte
}

type testField struct {
	info  *codec.FieldInfo
	terms map[string][]testPosting
}

func newTestSegment(t *testing.T, maxDoc int, fields ...*codec.FieldInfo) (store.Directory, *codec.SegmentInfo, *codec.FieldInfos) {
	t.Helper()
	dir := store.NewRAMDirectory()
	si := codec.NewSegmentInfo(dir, "_0", maxDoc, Name)
	fis, err := codec.NewFieldInfos(fields)
	require.NoError(t, err)
	return dir, si, fis
}

func writeTestPostings(t *testing.T, c *Codec, dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos, fields []testField) {
	t.Helper()
	fc, err := c.PostingsFormat().FieldsConsumer(&codec.SegmentWriteState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)

	sort.Slice(fields, func(i, j int) bool { return fields[i].info.Name < fields[j].info.Name })
	for _, f := range fields {
		tc, err := fc.AddField(f.info)
		require.NoError(t, err)

		terms := make([]string, 0, len(f.terms))
		for term := range f.terms {
			terms = append(terms, term)
		}
		sort.Strings(terms)

		var sumTTF, sumDF int64
		docs := map[int]struct{}{}
		for _, term := range terms {
			pc, err := tc.StartTerm([]byte(term))
			require.NoError(t, err)
			var ttf int64
			for _, p := range f.terms[term] {
				freq := max(len(p.positions), 1)
				require.NoError(t, pc.StartDoc(p.doc, freq))
				for i, pos := range p.positions {
					var payload []byte
					if i < len(p.payloads) {
						payload = p.payloads[i]
					}
					require.NoError(t, pc.AddPosition(pos, payload, pos*10, pos*10+5))
				}
				require.NoError(t, pc.FinishDoc())
				ttf += int64(freq)
				docs[p.doc] = struct{}{}
			}
			require.NoError(t, tc.FinishTerm([]byte(term), codec.TermStats{DocFreq: len(f.terms[term]), TotalTermFreq: ttf}))
			sumTTF += ttf
			sumDF += int64(len(f.terms[term]))
		}
		require.NoError(t, tc.Finish(sumTTF, sumDF, len(docs)))
	}
	require.NoError(t, fc.Close())
}

func openTestPostings(t *testing.T, c *Codec, dir store.Directory, si *codec.SegmentInfo, fis *codec.FieldInfos) codec.FieldsProducer {
	t.Helper()
	fp, err := c.PostingsFormat().FieldsProducer(&codec.SegmentReadState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fp.Close() })
	return fp
}

func bodyAndIDFields() (*codec.FieldInfo, *codec.FieldInfo) {
	body := &codec.FieldInfo{Name: "body", Number: 0, IndexOptions: document.DocsAndFreqsAndPositionsAndOffsets, StorePayloads: true, DocValuesGen: -1}
	id := &codec.FieldInfo{Name: "id", Number: 1, IndexOptions: document.DocsOnly, OmitNorms: true, DocValuesGen: -1}
	return body, id
}

func TestPostingsRoundTrip(t *testing.T) {
	for _, c := range []*Codec{New(), NewLegacy(true)} {
		t.Run(c.Name(), func(t *testing.T) {
			body, id := bodyAndIDFields()
			dir, si, fis := newTestSegment(t, 4, body, id)
			writeTestPostings(t, c, dir, si, fis, []testField{
				{info: body, terms: map[string][]testPosting{
					"aaa": {{doc: 0, positions: []int{0, 3}, payloads: [][]byte{[]byte("p0"), nil}}, {doc: 2, positions: []int{1}}},
					"bbb": {{doc: 1, positions: []int{2}}},
				}},
				{info: id, terms: map[string][]testPosting{
					"0": {{doc: 0}}, "1": {{doc: 1}}, "2": {{doc: 2}}, "3": {{doc: 3}},
				}},
			})

			fp := openTestPostings(t, c, dir, si, fis)
			require.NoError(t, fp.CheckIntegrity())
			assert.Equal(t, []string{"body", "id"}, fp.Fields())

			terms, err := fp.Terms("body")
			require.NoError(t, err)
			assert.Equal(t, int64(2), terms.Size())
			assert.Equal(t, int64(4), terms.SumTotalTermFreq())
			assert.Equal(t, int64(3), terms.SumDocFreq())
			assert.Equal(t, 3, terms.DocCount())
			assert.True(t, terms.HasPayloads())

			te, err := terms.Iterator(nil)
			require.NoError(t, err)
			found, err := te.SeekExact([]byte("aaa"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 2, te.DocFreq())
			assert.Equal(t, int64(3), te.TotalTermFreq())

			dp, err := te.DocsAndPositions(nil, nil, codec.FlagOffsets|codec.FlagPayloads)
			require.NoError(t, err)
			doc, err := dp.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, 0, doc)
			assert.Equal(t, 2, dp.Freq())
			pos, err := dp.NextPosition()
			require.NoError(t, err)
			assert.Equal(t, 0, pos)
			assert.Equal(t, []byte("p0"), dp.Payload())
			assert.Equal(t, 0, dp.StartOffset())
			assert.Equal(t, 5, dp.EndOffset())
			pos, err = dp.NextPosition()
			require.NoError(t, err)
			assert.Equal(t, 3, pos)
			assert.Nil(t, dp.Payload())
			assert.Equal(t, 30, dp.StartOffset())

			doc, err = dp.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, 2, doc)
			doc, err = dp.NextDoc()
			require.NoError(t, err)
			assert.Equal(t, codec.NoMoreDocs, doc)

			ids, err := fp.Terms("id")
			require.NoError(t, err)
			assert.Equal(t, int64(-1), ids.SumTotalTermFreq())
			ite, err := ids.Iterator(nil)
			require.NoError(t, err)
			ok, err := ite.SeekExact([]byte("2"))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, int64(-1), ite.TotalTermFreq())
			_, err = ite.DocsAndPositions(nil, nil, 0)
			require.ErrorIs(t, err, codec.ErrNoPositions)

			missing, err := fp.Terms("nope")
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func manyTerms(n int) map[string][]testPosting {
	terms := make(map[string][]testPosting, n)
	for i := 0; i < n; i++ {
		terms[fmt.Sprintf("t%04d", i*2)] = []testPosting{{doc: i % 10}}
	}
	return terms
}

func TestTermsEnumSeek(t *testing.T) {
	for _, c := range []*Codec{New(), NewLegacy(true)} {
		t.Run(c.Name(), func(t *testing.T) {
			f := &codec.FieldInfo{Name: "f", IndexOptions: document.DocsOnly, DocValuesGen: -1}
			dir, si, fis := newTestSegment(t, 10, f)
			writeTestPostings(t, c, dir, si, fis, []testField{{info: f, terms: manyTerms(100)}})

			terms, err := openTestPostings(t, c, dir, si, fis).Terms("f")
			require.NoError(t, err)
			te, err := terms.Iterator(nil)
			require.NoError(t, err)

			var all []string
			for {
				term, err := te.Next()
				require.NoError(t, err)
				if term == nil {
					break
				}
				all = append(all, string(term))
			}
			require.Len(t, all, 100)
			assert.Equal(t, "t0000", all[0])
			assert.Equal(t, "t0198", all[99])

			status, err := te.SeekCeil([]byte("t0067"))
			require.NoError(t, err)
			assert.Equal(t, codec.SeekNotFound, status)
			assert.Equal(t, "t0068", string(te.Term()))
			assert.Equal(t, int64(34), te.Ord())

			status, err = te.SeekCeil([]byte("t0064"))
			require.NoError(t, err)
			assert.Equal(t, codec.SeekFound, status)

			status, err = te.SeekCeil([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, codec.SeekNotFound, status)
			assert.Equal(t, "t0000", string(te.Term()))

			status, err = te.SeekCeil([]byte("u"))
			require.NoError(t, err)
			assert.Equal(t, codec.SeekEnd, status)
			next, err := te.Next()
			require.NoError(t, err)
			assert.Nil(t, next)

			require.NoError(t, te.SeekExactOrd(65))
			assert.Equal(t, "t0130", string(te.Term()))
			next, err = te.Next()
			require.NoError(t, err)
			assert.Equal(t, "t0132", string(next))

			ok, err := te.SeekExact([]byte("t0131"))
			require.NoError(t, err)
			assert.False(t, ok)
			require.Error(t, te.SeekExactOrd(100))
		})
	}
}

func TestPostingsEnumReuseRewinds(t *testing.T) {
	body, id := bodyAndIDFields()
	dir, si, fis := newTestSegment(t, 300, body, id)
	var postings []testPosting
	for doc := 0; doc < 300; doc += 2 {
		postings = append(postings, testPosting{doc: doc, positions: []int{doc % 7, doc%7 + 1}})
	}
	c := New()
	writeTestPostings(t, c, dir, si, fis, []testField{{info: body, terms: map[string][]testPosting{"x": postings}}})
	terms, err := openTestPostings(t, c, dir, si, fis).Terms("body")
	require.NoError(t, err)

	var te codec.TermsEnum
	var dp codec.DocsAndPositionsEnum
	run := func() []int {
		te, err = terms.Iterator(te)
		require.NoError(t, err)
		ok, err := te.SeekExact([]byte("x"))
		require.NoError(t, err)
		require.True(t, ok)
		dp, err = te.DocsAndPositions(nil, dp, 0)
		require.NoError(t, err)
		var seen []int
		for {
			doc, err := dp.NextDoc()
			require.NoError(t, err)
			if doc == codec.NoMoreDocs {
				return seen
			}
			// read only the first position so the enum has to skip the rest
			pos, err := dp.NextPosition()
			require.NoError(t, err)
			seen = append(seen, doc, pos)
		}
	}
	first := run()
	second := run()
	assert.Len(t, first, 300)
	assert.Equal(t, first, second)
}

func TestDocsEnumAdvanceAndLiveDocs(t *testing.T) {
	for _, c := range []*Codec{New(), NewLegacy(true)} {
		t.Run(c.Name(), func(t *testing.T) {
			body, id := bodyAndIDFields()
			dir, si, fis := newTestSegment(t, 3000, body, id)
			var postings []testPosting
			for doc := 0; doc < 3000; doc += 3 {
				postings = append(postings, testPosting{doc: doc, positions: []int{1, 4}})
			}
			writeTestPostings(t, c, dir, si, fis, []testField{{info: body, terms: map[string][]testPosting{"x": postings}}})
			terms, err := openTestPostings(t, c, dir, si, fis).Terms("body")
			require.NoError(t, err)
			te, err := terms.Iterator(nil)
			require.NoError(t, err)
			ok, err := te.SeekExact([]byte("x"))
			require.NoError(t, err)
			require.True(t, ok)

			live := codec.NewLiveDocs(3000)
			live.Delete(1500)

			dp, err := te.DocsAndPositions(live, nil, 0)
			require.NoError(t, err)
			for _, tc := range []struct{ target, want int }{
				{1, 3}, {10, 12}, {1000, 1002}, {1500, 1503}, {2000, 2001}, {2998, codec.NoMoreDocs},
			} {
				doc, err := dp.Advance(tc.target)
				require.NoError(t, err)
				assert.Equal(t, tc.want, doc, "advance(%d)", tc.target)
				if doc != codec.NoMoreDocs {
					pos, err := dp.NextPosition()
					require.NoError(t, err)
					assert.Equal(t, 1, pos)
				}
			}

			docs, err := te.Docs(nil, nil, codec.FlagFreqs)
			require.NoError(t, err)
			doc, err := docs.Advance(1500)
			require.NoError(t, err)
			assert.Equal(t, 1500, doc, "deleted docs are visible without live docs")
			assert.Equal(t, 2, docs.Freq())
			assert.Equal(t, int64(1000), docs.Cost())
		})
	}
}

func TestPostingsRejectOutOfOrderInput(t *testing.T) {
	body, _ := bodyAndIDFields()
	dir, si, fis := newTestSegment(t, 10, body)
	fc, err := New().PostingsFormat().FieldsConsumer(&codec.SegmentWriteState{Directory: dir, SegmentInfo: si, FieldInfos: fis})
	require.NoError(t, err)
	tc, err := fc.AddField(body)
	require.NoError(t, err)
	pc, err := tc.StartTerm([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, pc.StartDoc(5, 1))
	require.NoError(t, pc.AddPosition(0, nil, 0, 1))
	require.NoError(t, pc.FinishDoc())
	require.ErrorIs(t, pc.StartDoc(5, 1), codec.ErrIllegalArgument)
	require.NoError(t, tc.FinishTerm([]byte("b"), codec.TermStats{DocFreq: 1, TotalTermFreq: 1}))
	_, err = tc.StartTerm([]byte("a"))
	require.ErrorIs(t, err, codec.ErrIllegalArgument)
}
