package index

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// abortCheckInterval is how many documents or terms a merge copies between
// two abort checks.
const abortCheckInterval = 1024

// segmentMerger writes the live documents of several segments as one new
// segment. Doc ids keep their relative order: the documents of the first
// reader come first.
type segmentMerger struct {
	readers    []*SegmentReader
	dir        store.Directory
	codec      codec.Codec
	numbers    *codec.FieldNumbers
	checkAbort func() error
	logger     *slog.Logger

	si      *codec.SegmentInfo
	fis     *codec.FieldInfos
	docMaps [][]int
	// fieldMaps map the field numbers of each reader to the merged ones.
	fieldMaps []map[int]int
}

func newSegmentMerger(readers []*SegmentReader, dir store.Directory, c codec.Codec, numbers *codec.FieldNumbers, checkAbort func() error, logger *slog.Logger) *segmentMerger {
	if checkAbort == nil {
		checkAbort = func() error { return nil }
	}
	return &segmentMerger{
		readers:    readers,
		dir:        dir,
		codec:      c,
		numbers:    numbers,
		checkAbort: checkAbort,
		logger:     logger,
	}
}

// merge writes segment name and returns its info and schema. The files of
// the new segment are recorded on the info.
func (m *segmentMerger) merge(ctx context.Context, name string) (*codec.SegmentInfo, *codec.FieldInfos, error) {
	maxDoc := m.buildDocMaps()
	m.si = codec.NewSegmentInfo(m.dir, name, maxDoc, m.codec.Name())
	if err := m.mergeFieldInfos(); err != nil {
		return nil, nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.mergeStoredFields(ctx); err != nil {
			return err
		}
		if m.fis.HasVectors {
			return m.mergeVectors(ctx)
		}
		return nil
	})
	g.Go(func() error { return m.mergePostings(ctx) })
	g.Go(func() error {
		if m.fis.HasNorms {
			if err := m.mergeNorms(); err != nil {
				return err
			}
		}
		if m.fis.HasDocValues {
			return m.mergeDocValues()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if _, err := m.codec.FieldInfosFormat().Write(m.dir, name, -1, m.fis); err != nil {
		return nil, nil, err
	}
	return m.si, m.fis, nil
}

// buildDocMaps numbers the live documents of all readers consecutively and
// returns their count.
func (m *segmentMerger) buildDocMaps() int {
	m.docMaps = make([][]int, len(m.readers))
	next := 0
	for i, r := range m.readers {
		live := r.LiveDocs()
		dm := make([]int, r.MaxDoc())
		for doc := range dm {
			if codec.IsLive(live, doc) {
				dm[doc] = next
				next++
			} else {
				dm[doc] = -1
			}
		}
		m.docMaps[i] = dm
	}
	return next
}

func (m *segmentMerger) mergeFieldInfos() error {
	b := codec.NewFieldInfosBuilder(m.numbers)
	for _, r := range m.readers {
		for _, fi := range r.FieldInfos().All() {
			if _, err := b.Add(fi); err != nil {
				return err
			}
		}
	}
	fis, err := b.Finish()
	if err != nil {
		return err
	}
	m.fis = fis
	m.fieldMaps = make([]map[int]int, len(m.readers))
	for i, r := range m.readers {
		fm := make(map[int]int, r.FieldInfos().Len())
		for _, fi := range r.FieldInfos().All() {
			fm[fi.Number] = fis.ByName(fi.Name).Number
		}
		m.fieldMaps[i] = fm
	}
	return nil
}

func (m *segmentMerger) checkAbortEvery(n int) error {
	if n%abortCheckInterval == 0 {
		return m.checkAbort()
	}
	return nil
}

func (m *segmentMerger) mergeStoredFields(ctx context.Context) error {
	w, err := m.codec.StoredFieldsFormat().StoredFieldsWriter(m.dir, m.si)
	if err != nil {
		return err
	}
	n := 0
	for i, r := range m.readers {
		for doc, newDoc := range m.docMaps[i] {
			if newDoc < 0 {
				continue
			}
			if err := m.copyStoredDocument(ctx, w, i, r, doc, n); err != nil {
				w.Abort()
				return err
			}
			n++
		}
	}
	if err := w.Finish(n); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

func (m *segmentMerger) copyStoredDocument(ctx context.Context, w codec.StoredFieldsWriter, i int, r *SegmentReader, doc, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.checkAbortEvery(n); err != nil {
		return err
	}
	fields, err := r.core.stored.Document(doc)
	if err != nil {
		return err
	}
	if err := w.StartDocument(); err != nil {
		return err
	}
	for _, sf := range fields {
		num, ok := m.fieldMaps[i][sf.Number]
		if !ok {
			continue
		}
		sf.Number = num
		if err := w.WriteField(m.fis.ByNumber(num), sf); err != nil {
			return err
		}
	}
	return w.FinishDocument()
}

func (m *segmentMerger) mergeVectors(ctx context.Context) error {
	w, err := m.codec.TermVectorsFormat().TermVectorsWriter(m.dir, m.si)
	if err != nil {
		return err
	}
	n := 0
	for i, r := range m.readers {
		for doc, newDoc := range m.docMaps[i] {
			if newDoc < 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				w.Abort()
				return err
			}
			vecs, err := r.TermVectors(doc)
			if err != nil {
				w.Abort()
				return err
			}
			out := make([]codec.FieldVector, 0, len(vecs))
			for _, fv := range vecs {
				if num, ok := m.fieldMaps[i][fv.Number]; ok {
					fv.Number = num
					out = append(out, fv)
				}
			}
			sort.Slice(out, func(a, b int) bool { return out[a].Number < out[b].Number })
			if err := w.AddDocument(out); err != nil {
				w.Abort()
				return err
			}
			n++
		}
	}
	if err := w.Finish(n); err != nil {
		w.Abort()
		return err
	}
	return w.Close()
}

// termSub is the terms enum of one reader in the k-way term merge.
type termSub struct {
	reader int
	te     codec.TermsEnum
	terms  codec.Terms
	term   []byte
	docs   codec.DocsEnum
	pos    codec.DocsAndPositionsEnum
}

func (m *segmentMerger) mergePostings(ctx context.Context) (err error) {
	state := &codec.SegmentWriteState{Directory: m.dir, SegmentInfo: m.si, FieldInfos: m.fis}
	fc, err := m.codec.PostingsFormat().FieldsConsumer(state)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fc.Close(); err == nil {
			err = cerr
		}
	}()

	names := make([]string, 0, m.fis.Len())
	for _, fi := range m.fis.All() {
		if fi.IsIndexed() {
			names = append(names, fi.Name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := m.mergeField(ctx, fc, m.fis.ByName(name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *segmentMerger) mergeField(ctx context.Context, fc codec.FieldsConsumer, fi *codec.FieldInfo) error {
	var subs []*termSub
	for i, r := range m.readers {
		terms, err := r.core.fields.Terms(fi.Name)
		if err != nil {
			return err
		}
		if terms == nil {
			continue
		}
		te, err := terms.Iterator(nil)
		if err != nil {
			return err
		}
		sub := &termSub{reader: i, te: te, terms: terms}
		if sub.term, err = te.Next(); err != nil {
			return err
		}
		if sub.term != nil {
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		return nil
	}

	tc, err := fc.AddField(fi)
	if err != nil {
		return err
	}
	docsWithField := roaring.New()
	var sumTTF, sumDF int64
	var matching []*termSub
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.checkAbortEvery(n); err != nil {
			return err
		}
		matching = matching[:0]
		var smallest []byte
		for _, s := range subs {
			if s.term == nil {
				continue
			}
			switch c := compareTerm(s.term, smallest); {
			case c < 0:
				smallest = s.term
				matching = append(matching[:0], s)
			case c == 0:
				matching = append(matching, s)
			}
		}
		if smallest == nil {
			break
		}
		term := bytes.Clone(smallest)
		stats, err := m.mergeTerm(tc, fi, term, matching, docsWithField)
		if err != nil {
			return err
		}
		if err := tc.FinishTerm(term, stats); err != nil {
			return err
		}
		if stats.DocFreq > 0 {
			sumDF += int64(stats.DocFreq)
			sumTTF += stats.TotalTermFreq
		}
		for _, s := range matching {
			if s.term, err = s.te.Next(); err != nil {
				return err
			}
		}
	}
	if !fi.IndexOptions.HasFreqs() {
		sumTTF = -1
	}
	return tc.Finish(sumTTF, sumDF, int(docsWithField.GetCardinality()))
}

// compareTerm orders a against the smallest term so far, nil meaning none.
func compareTerm(a, b []byte) int {
	if b == nil {
		return -1
	}
	return bytes.Compare(a, b)
}

// mergeTerm copies the postings of term from every matching sub, dropping
// deleted documents and renumbering the rest.
func (m *segmentMerger) mergeTerm(tc codec.TermsConsumer, fi *codec.FieldInfo, term []byte, subs []*termSub, docsWithField *roaring.Bitmap) (codec.TermStats, error) {
	pc, err := tc.StartTerm(term)
	if err != nil {
		return codec.TermStats{}, err
	}
	opts := fi.IndexOptions
	var stats codec.TermStats
	for _, s := range subs {
		docMap := m.docMaps[s.reader]
		var de codec.DocsEnum
		if opts.HasPositions() {
			flags := codec.FlagFreqs
			if opts.HasOffsets() {
				flags |= codec.FlagOffsets
			}
			if fi.StorePayloads {
				flags |= codec.FlagPayloads
			}
			if s.pos, err = s.te.DocsAndPositions(nil, s.pos, flags); err != nil {
				return stats, err
			}
			de = s.pos
		} else {
			flags := 0
			if opts.HasFreqs() {
				flags = codec.FlagFreqs
			}
			if s.docs, err = s.te.Docs(nil, s.docs, flags); err != nil {
				return stats, err
			}
			de = s.docs
		}
		for {
			doc, err := de.NextDoc()
			if err != nil {
				return stats, err
			}
			if doc == codec.NoMoreDocs {
				break
			}
			newDoc := docMap[doc]
			if newDoc < 0 {
				continue
			}
			freq := 1
			if opts.HasFreqs() {
				freq = de.Freq()
			}
			if err := pc.StartDoc(newDoc, freq); err != nil {
				return stats, err
			}
			if opts.HasPositions() {
				if err := copyPositions(pc, s.pos, freq, opts, fi.StorePayloads); err != nil {
					return stats, err
				}
			}
			if err := pc.FinishDoc(); err != nil {
				return stats, err
			}
			docsWithField.Add(uint32(newDoc))
			stats.DocFreq++
			stats.TotalTermFreq += int64(freq)
		}
	}
	if !opts.HasFreqs() {
		stats.TotalTermFreq = -1
	}
	return stats, nil
}

func copyPositions(pc codec.PostingsConsumer, pe codec.DocsAndPositionsEnum, freq int, opts document.IndexOptions, payloads bool) error {
	for i := 0; i < freq; i++ {
		pos, err := pe.NextPosition()
		if err != nil {
			return err
		}
		start, end := -1, -1
		if opts.HasOffsets() {
			start, end = pe.StartOffset(), pe.EndOffset()
		}
		var payload []byte
		if payloads {
			payload = pe.Payload()
		}
		if err := pc.AddPosition(pos, payload, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (m *segmentMerger) mergeNorms() (err error) {
	nc, err := m.codec.NormsFormat().NormsConsumer(&codec.SegmentWriteState{Directory: m.dir, SegmentInfo: m.si, FieldInfos: m.fis})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := nc.Close(); err == nil {
			err = cerr
		}
	}()
	for _, fi := range m.fis.All() {
		if !fi.HasNorms() {
			continue
		}
		inputs := make([]*codec.DocValues, len(m.readers))
		for i, r := range m.readers {
			if inputs[i], err = r.Norms(fi.Name); err != nil {
				return err
			}
		}
		merged, err := codec.MergeDocValues(document.DocValuesNumeric, inputs, m.docMaps, m.si.MaxDoc)
		if err != nil {
			return err
		}
		if err := nc.AddField(fi, merged); err != nil {
			return err
		}
	}
	return nil
}

func (m *segmentMerger) mergeDocValues() (err error) {
	dc, err := m.codec.DocValuesFormat().DocValuesConsumer(&codec.SegmentWriteState{Directory: m.dir, SegmentInfo: m.si, FieldInfos: m.fis})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dc.Close(); err == nil {
			err = cerr
		}
	}()
	for _, fi := range m.fis.All() {
		if !fi.HasDocValues() {
			continue
		}
		inputs := make([]*codec.DocValues, len(m.readers))
		for i, r := range m.readers {
			if inputs[i], err = r.DocValues(fi.Name); err != nil {
				return err
			}
		}
		merged, err := codec.MergeDocValues(fi.DocValuesType, inputs, m.docMaps, m.si.MaxDoc)
		if err != nil {
			return err
		}
		if err := dc.AddField(fi, merged); err != nil {
			return err
		}
	}
	return nil
}
