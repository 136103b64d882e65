package index

import (
	"maps"
	"slices"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// readersAndUpdates tracks the pending deletes and doc values updates of
// one segment of the writer's segment list. It is guarded by Writer.mu.
type readersAndUpdates struct {
	info  *SegmentCommitInfo
	codec codec.Codec

	// reader is opened lazily and owned by the pool
	reader *SegmentReader

	// liveDocs includes pending deletes, nil while nothing is deleted.
	liveDocs *codec.LiveDocs
	// liveShared is set once liveDocs was handed to a reader; the next
	// delete copies it.
	liveShared         bool
	pendingDeleteCount int

	numericUpdates map[string]map[int]int64
	binaryUpdates  map[string]map[int][]byte

	// resolvedSeq is the last op sequence number applied to the segment.
	resolvedSeq int64

	// state of a running merge that reads this segment
	merging       bool
	mergeLiveDocs *codec.LiveDocs
	mergeNumeric  map[string]map[int]int64
	mergeBinary   map[string]map[int][]byte
}

func newReadersAndUpdates(info *SegmentCommitInfo, c codec.Codec, resolvedSeq int64) *readersAndUpdates {
	return &readersAndUpdates{
		info:           info,
		codec:          c,
		numericUpdates: make(map[string]map[int]int64),
		binaryUpdates:  make(map[string]map[int][]byte),
		resolvedSeq:    resolvedSeq,
	}
}

// segmentReader returns the pool's reader, opening it if needed. The caller
// does not get a reference of its own.
func (rld *readersAndUpdates) segmentReader() (*SegmentReader, error) {
	if rld.reader != nil {
		return rld.reader, nil
	}
	r, err := openSegmentReader(rld.codec, rld.info)
	if err != nil {
		return nil, err
	}
	rld.reader = r
	if rld.liveDocs == nil && r.liveDocs != nil {
		rld.liveDocs = r.liveDocs
		rld.liveShared = true
	}
	return r, nil
}

// initLiveDocs loads the committed deletes before the first new one.
func (rld *readersAndUpdates) initLiveDocs() error {
	if rld.liveDocs != nil || !rld.info.HasDeletions() {
		return nil
	}
	_, err := rld.segmentReader()
	return err
}

// delete marks doc deleted and reports whether it was live.
func (rld *readersAndUpdates) delete(doc int) (bool, error) {
	if err := rld.initLiveDocs(); err != nil {
		return false, err
	}
	switch {
	case rld.liveDocs == nil:
		rld.liveDocs = codec.NewLiveDocs(rld.info.MaxDoc())
		rld.liveShared = false
	case rld.liveShared:
		rld.liveDocs = rld.liveDocs.Clone()
		rld.liveShared = false
	}
	if !rld.liveDocs.Delete(doc) {
		return false, nil
	}
	rld.pendingDeleteCount++
	return true, nil
}

func (rld *readersAndUpdates) isLive(doc int) bool {
	return rld.liveDocs == nil || rld.liveDocs.Get(doc)
}

// numDocs counts the live documents including pending deletes.
func (rld *readersAndUpdates) numDocs() int {
	return rld.info.NumDocs() - rld.pendingDeleteCount
}

func (rld *readersAndUpdates) delCount() int {
	return rld.info.DelCount + rld.pendingDeleteCount
}

func (rld *readersAndUpdates) addNumericUpdate(field string, doc int, v int64) {
	addUpdate(rld.numericUpdates, field, doc, v)
	if rld.merging {
		addUpdate(rld.mergeNumeric, field, doc, v)
	}
}

func (rld *readersAndUpdates) addBinaryUpdate(field string, doc int, v []byte) {
	addUpdate(rld.binaryUpdates, field, doc, v)
	if rld.merging {
		addUpdate(rld.mergeBinary, field, doc, v)
	}
}

func addUpdate[V any](m map[string]map[int]V, field string, doc int, v V) {
	docs := m[field]
	if docs == nil {
		docs = make(map[int]V)
		m[field] = docs
	}
	docs[doc] = v
}

func (rld *readersAndUpdates) hasFieldUpdates() bool {
	return len(rld.numericUpdates) > 0 || len(rld.binaryUpdates) > 0
}

func (rld *readersAndUpdates) hasPendingChanges() bool {
	return rld.pendingDeleteCount > 0 || rld.hasFieldUpdates()
}

// writeLiveDocs writes the pending deletes as the next deletions
// generation. It reports whether a file was written.
func (rld *readersAndUpdates) writeLiveDocs(dir store.Directory) (bool, error) {
	if rld.pendingDeleteCount == 0 {
		return false, nil
	}
	gen := rld.info.nextWriteDelGen
	if _, err := rld.codec.LiveDocsFormat().Write(dir, rld.info.Info, gen, rld.liveDocs); err != nil {
		rld.info.advanceNextWriteDelGen()
		_ = dir.DeleteFile(codec.FileNameFromGeneration(rld.info.Name(), codec.LiveDocsExtension, gen))
		return false, err
	}
	rld.info.advanceDelGen()
	rld.info.DelCount += rld.pendingDeleteCount
	rld.pendingDeleteCount = 0
	return true, rld.refreshReader()
}

// writeFieldUpdates writes the full columns of every updated field as the
// next doc values generation together with a new field infos generation.
func (rld *readersAndUpdates) writeFieldUpdates(dir store.Directory, numbers *codec.FieldNumbers) (_ bool, err error) {
	if !rld.hasFieldUpdates() {
		return false, nil
	}
	r, err := rld.segmentReader()
	if err != nil {
		return false, err
	}
	gen := max(rld.info.nextWriteDocValuesGen, rld.info.nextWriteFieldInfosGen)
	tdir := store.NewTrackingDirectory(dir)
	defer func() {
		if err != nil {
			for _, f := range tdir.CreatedFiles() {
				_ = dir.DeleteFile(f)
			}
			rld.info.nextWriteDocValuesGen = gen + 1
			rld.info.nextWriteFieldInfosGen = gen + 1
		}
	}()

	byName := make(map[string]*codec.FieldInfo)
	used := make(map[int]bool)
	maxNumber := -1
	var infos []*codec.FieldInfo
	for _, fi := range r.FieldInfos().All() {
		c := fi.Clone()
		byName[c.Name] = c
		used[c.Number] = true
		maxNumber = max(maxNumber, c.Number)
		infos = append(infos, c)
	}
	updated := make(map[string]document.DocValuesType)
	for f := range rld.numericUpdates {
		updated[f] = document.DocValuesNumeric
	}
	for f := range rld.binaryUpdates {
		updated[f] = document.DocValuesBinary
	}
	fields := slices.Sorted(maps.Keys(updated))
	for _, name := range fields {
		fi, ok := byName[name]
		if !ok {
			num, err := numbers.AddOrGet(name, -1, updated[name])
			if err != nil {
				return false, err
			}
			// imported segments may use the global number for another field
			if used[num] {
				num = maxNumber + 1
			}
			used[num] = true
			maxNumber = max(maxNumber, num)
			fi = &codec.FieldInfo{Name: name, Number: num, OmitNorms: true, DocValuesType: updated[name]}
			byName[name] = fi
			infos = append(infos, fi)
		}
		fi.DocValuesGen = gen
	}
	fis, err := codec.NewFieldInfos(infos)
	if err != nil {
		return false, err
	}

	dc, err := rld.codec.DocValuesFormat().DocValuesConsumer(&codec.SegmentWriteState{
		Directory:     tdir,
		SegmentInfo:   rld.info.Info,
		FieldInfos:    fis,
		SegmentSuffix: strconv.FormatInt(gen, 36),
	})
	if err != nil {
		return false, err
	}
	for _, name := range fields {
		base, err := r.DocValues(name)
		if err != nil {
			_ = dc.Close()
			return false, err
		}
		if base == nil {
			base = codec.EmptyDocValues(updated[name], rld.info.MaxDoc())
		}
		if u, ok := rld.numericUpdates[name]; ok {
			base = base.WithNumericUpdates(u)
		}
		if u, ok := rld.binaryUpdates[name]; ok {
			base = base.WithBinaryUpdates(u)
		}
		if err := dc.AddField(fis.ByName(name), base); err != nil {
			_ = dc.Close()
			return false, err
		}
	}
	if err := dc.Close(); err != nil {
		return false, err
	}
	dvFiles := tdir.CreatedFiles()
	fnm, err := rld.codec.FieldInfosFormat().Write(tdir, rld.info.Name(), gen, fis)
	if err != nil {
		return false, err
	}

	for _, name := range fields {
		rld.info.DocValuesUpdatesFiles[fis.ByName(name).Number] = dvFiles
	}
	rld.info.FieldInfosFiles = []string{fnm}
	rld.info.setUpdateGen(gen)
	clear(rld.numericUpdates)
	clear(rld.binaryUpdates)
	return true, rld.refreshReader()
}

// refreshReader replaces the pool's reader after a new generation was
// written, sharing the core.
func (rld *readersAndUpdates) refreshReader() error {
	if rld.reader == nil {
		return nil
	}
	nr, err := newSegmentReader(rld.reader.core, rld.info, rld.liveDocs, rld.numDocs())
	if err != nil {
		return err
	}
	rld.liveShared = rld.liveDocs != nil
	old := rld.reader
	rld.reader = nr
	return old.DecRef()
}

// readOnlyClone returns a reader reflecting pending deletes. Pending doc
// values updates must be written first. The caller owns the returned
// reference.
func (rld *readersAndUpdates) readOnlyClone() (*SegmentReader, error) {
	r, err := rld.segmentReader()
	if err != nil {
		return nil, err
	}
	if rld.pendingDeleteCount == 0 {
		if err := r.IncRef(); err != nil {
			return nil, err
		}
		return r, nil
	}
	rld.liveShared = true
	return newSegmentReader(r.core, rld.info, rld.liveDocs, rld.numDocs())
}

// startMerge snapshots the live docs a merge sees and starts collecting
// updates that arrive while it runs.
func (rld *readersAndUpdates) startMerge() error {
	if err := rld.initLiveDocs(); err != nil {
		return err
	}
	rld.merging = true
	rld.mergeLiveDocs = nil
	if rld.liveDocs != nil {
		rld.mergeLiveDocs = rld.liveDocs.Clone()
	}
	rld.mergeNumeric = make(map[string]map[int]int64)
	rld.mergeBinary = make(map[string]map[int][]byte)
	return nil
}

func (rld *readersAndUpdates) endMerge() {
	rld.merging = false
	rld.mergeLiveDocs = nil
	rld.mergeNumeric = nil
	rld.mergeBinary = nil
}

// mergeReader returns a reader over the live docs captured by startMerge.
func (rld *readersAndUpdates) mergeReader() (*SegmentReader, error) {
	r, err := rld.segmentReader()
	if err != nil {
		return nil, err
	}
	numDocs := rld.info.MaxDoc()
	if rld.mergeLiveDocs != nil {
		numDocs -= rld.mergeLiveDocs.DeletedCount()
	}
	return newSegmentReader(r.core, rld.info, rld.mergeLiveDocs, numDocs)
}

func (rld *readersAndUpdates) dropReader() error {
	if rld.reader == nil {
		return nil
	}
	r := rld.reader
	rld.reader = nil
	return r.DecRef()
}

// readerPool holds the readersAndUpdates of every segment of the writer's
// segment list, keyed by segment name. It is guarded by Writer.mu.
type readerPool struct {
	m map[string]*readersAndUpdates
	// pooling keeps readers open between NRT reopens.
	pooling bool
}

func newReaderPool() *readerPool {
	return &readerPool{m: make(map[string]*readersAndUpdates)}
}

func (p *readerPool) add(rld *readersAndUpdates) { p.m[rld.info.Name()] = rld }

func (p *readerPool) get(name string) *readersAndUpdates { return p.m[name] }

// drop releases the segment's reader and forgets it.
func (p *readerPool) drop(name string) error {
	rld, ok := p.m[name]
	if !ok {
		return nil
	}
	delete(p.m, name)
	return rld.dropReader()
}

// releaseUnpooled closes the readers that were only opened to apply deletes
// when no NRT reader is in use.
func (p *readerPool) releaseUnpooled() error {
	if p.pooling {
		return nil
	}
	var result *multierror.Error
	for _, rld := range p.m {
		if rld.merging || rld.hasPendingChanges() {
			continue
		}
		if err := rld.dropReader(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// minResolvedSeq is the smallest resolved sequence number of all segments.
func (p *readerPool) minResolvedSeq() int64 {
	smallest := int64(noResolvedSeq)
	for _, rld := range p.m {
		if rld.resolvedSeq < smallest {
			smallest = rld.resolvedSeq
		}
	}
	return smallest
}

func (p *readerPool) hasPendingChanges() bool {
	for _, rld := range p.m {
		if rld.hasPendingChanges() {
			return true
		}
	}
	return false
}

func (p *readerPool) close() error {
	var result *multierror.Error
	for name := range p.m {
		if err := p.drop(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
