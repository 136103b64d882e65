package index

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// segmentCore holds the parts of a segment that never change after it was
// written. Readers of different delete or update generations share one
// core; it is closed when the last of them is released.
type segmentCore struct {
	refs atomic.Int32

	codec codec.Codec
	info  *codec.SegmentInfo
	// dir is the compound reader or the segment's directory.
	dir store.Directory
	cfs *store.CompoundReader

	fieldInfos *codec.FieldInfos
	fields     codec.FieldsProducer
	stored     codec.StoredFieldsReader
	vectors    codec.TermVectorsReader
	norms      codec.DocValuesProducer
	docValues  codec.DocValuesProducer
}

func openSegmentCore(c codec.Codec, si *codec.SegmentInfo) (_ *segmentCore, err error) {
	core := &segmentCore{codec: c, info: si, dir: si.Dir}
	core.refs.Store(1)
	defer func() {
		if err != nil {
			_ = core.close()
		}
	}()

	if si.UseCompoundFile {
		core.cfs, err = store.OpenCompound(si.Dir,
			codec.SegmentFileName(si.Name, "", codec.CompoundExtension),
			codec.SegmentFileName(si.Name, "", codec.CompoundEntriesExtension))
		if err != nil {
			return nil, err
		}
		core.dir = core.cfs
	}
	if core.fieldInfos, err = c.FieldInfosFormat().Read(core.dir, si.Name, -1); err != nil {
		return nil, err
	}
	state := &codec.SegmentReadState{Directory: core.dir, SegmentInfo: si, FieldInfos: core.fieldInfos}
	if core.fields, err = c.PostingsFormat().FieldsProducer(state); err != nil {
		return nil, err
	}
	if core.stored, err = c.StoredFieldsFormat().StoredFieldsReader(core.dir, si, core.fieldInfos); err != nil {
		return nil, err
	}
	if core.fieldInfos.HasVectors {
		if core.vectors, err = c.TermVectorsFormat().TermVectorsReader(core.dir, si, core.fieldInfos); err != nil {
			return nil, err
		}
	}
	if core.fieldInfos.HasNorms {
		if core.norms, err = c.NormsFormat().NormsProducer(state); err != nil {
			return nil, err
		}
	}
	if hasBaseDocValues(core.fieldInfos) {
		if core.docValues, err = c.DocValuesFormat().DocValuesProducer(state); err != nil {
			return nil, err
		}
	}
	return core, nil
}

func hasBaseDocValues(fis *codec.FieldInfos) bool {
	for _, fi := range fis.All() {
		if fi.HasDocValues() && fi.DocValuesGen == -1 {
			return true
		}
	}
	return false
}

func (c *segmentCore) incRef() { c.refs.Add(1) }

func (c *segmentCore) decRef() error {
	if c.refs.Add(-1) == 0 {
		return c.close()
	}
	return nil
}

func (c *segmentCore) close() error {
	var closers []interface{ Close() error }
	for _, p := range []interface{ Close() error }{c.fields, c.stored, c.vectors, c.norms, c.docValues} {
		if p != nil {
			closers = append(closers, p)
		}
	}
	if c.cfs != nil {
		closers = append(closers, c.cfs)
	}
	var result *multierror.Error
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// SegmentReader reads one segment as of one delete and doc values update
// generation. It is reference counted: the opener holds one reference and
// must Close or DecRef it exactly once.
type SegmentReader struct {
	core *segmentCore
	info *SegmentCommitInfo

	liveDocs   *codec.LiveDocs
	numDocs    int
	fieldInfos *codec.FieldInfos

	// producers of doc values update generations, by generation
	dvGens map[int64]codec.DocValuesProducer

	refs    atomic.Int32
	closeMu sync.Mutex
	closed  bool
	onClose []func()
}

// OpenSegmentReader opens a single segment of a commit outside of a
// DirectoryReader, resolving its codec by name. Tools use it to inspect
// segments one at a time.
func OpenSegmentReader(sci *SegmentCommitInfo) (*SegmentReader, error) {
	c, err := codec.Lookup(sci.Info.Codec)
	if err != nil {
		return nil, err
	}
	return openSegmentReader(c, sci)
}

// openSegmentReader opens the segment described by sci from scratch.
func openSegmentReader(c codec.Codec, sci *SegmentCommitInfo) (*SegmentReader, error) {
	core, err := openSegmentCore(c, sci.Info)
	if err != nil {
		return nil, err
	}
	var live *codec.LiveDocs
	if sci.HasDeletions() {
		live, err = c.LiveDocsFormat().Read(sci.Info.Dir, sci.Info, sci.DelGen, sci.DelCount)
		if err != nil {
			_ = core.decRef()
			return nil, err
		}
	}
	r, err := newSegmentReader(core, sci, live, sci.NumDocs())
	_ = core.decRef() // newSegmentReader took its own reference
	if err != nil {
		return nil, err
	}
	return r, nil
}

// newSegmentReader shares core. live may be nil when nothing is deleted.
func newSegmentReader(core *segmentCore, sci *SegmentCommitInfo, live *codec.LiveDocs, numDocs int) (_ *SegmentReader, err error) {
	core.incRef()
	r := &SegmentReader{
		core:     core,
		info:     sci.Clone(),
		liveDocs: live,
		numDocs:  numDocs,
		dvGens:   make(map[int64]codec.DocValuesProducer),
	}
	r.refs.Store(1)
	defer func() {
		if err != nil {
			_ = r.doClose()
		}
	}()

	if sci.FieldInfosGen == -1 {
		r.fieldInfos = core.fieldInfos
	} else {
		r.fieldInfos, err = core.codec.FieldInfosFormat().Read(sci.Info.Dir, sci.Name(), sci.FieldInfosGen)
		if err != nil {
			return nil, err
		}
	}
	for _, fi := range r.fieldInfos.All() {
		if !fi.HasDocValues() || fi.DocValuesGen == -1 {
			continue
		}
		if _, ok := r.dvGens[fi.DocValuesGen]; ok {
			continue
		}
		p, err := core.codec.DocValuesFormat().DocValuesProducer(&codec.SegmentReadState{
			Directory:     sci.Info.Dir,
			SegmentInfo:   sci.Info,
			FieldInfos:    r.fieldInfos,
			SegmentSuffix: strconv.FormatInt(fi.DocValuesGen, 36),
		})
		if err != nil {
			return nil, err
		}
		r.dvGens[fi.DocValuesGen] = p
	}
	return r, nil
}

// SegmentName is the name of the segment.
func (r *SegmentReader) SegmentName() string { return r.info.Name() }

// CommitInfo returns the generations the reader was opened at.
func (r *SegmentReader) CommitInfo() *SegmentCommitInfo { return r.info }

// MaxDoc includes deleted documents.
func (r *SegmentReader) MaxDoc() int { return r.info.MaxDoc() }

// NumDocs is the number of live documents.
func (r *SegmentReader) NumDocs() int { return r.numDocs }

// HasDeletions reports whether any document is deleted.
func (r *SegmentReader) HasDeletions() bool { return r.numDocs < r.info.MaxDoc() }

// LiveDocs returns the live documents, nil if none is deleted.
func (r *SegmentReader) LiveDocs() codec.Bits {
	if r.liveDocs == nil {
		return nil
	}
	return r.liveDocs
}

// FieldInfos is the schema including doc values updates.
func (r *SegmentReader) FieldInfos() *codec.FieldInfos { return r.fieldInfos }

// Fields returns the postings of the segment.
func (r *SegmentReader) Fields() codec.FieldsProducer { return r.core.fields }

// Terms returns the terms of field, nil if the field has no postings.
func (r *SegmentReader) Terms(field string) (codec.Terms, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.core.fields.Terms(field)
}

// Document returns the stored fields of doc.
func (r *SegmentReader) Document(doc int) (*document.Document, error) {
	if err := r.checkDoc(doc); err != nil {
		return nil, err
	}
	fields, err := r.core.stored.Document(doc)
	if err != nil {
		return nil, err
	}
	return codec.ToDocument(fields, r.fieldInfos), nil
}

// TermVectors returns the term vectors of doc, nil if the segment has none.
func (r *SegmentReader) TermVectors(doc int) ([]codec.FieldVector, error) {
	if err := r.checkDoc(doc); err != nil {
		return nil, err
	}
	if r.core.vectors == nil {
		return nil, nil
	}
	return r.core.vectors.Get(doc)
}

// DocValues returns the column of field, nil if it has no doc values.
func (r *SegmentReader) DocValues(field string) (*codec.DocValues, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	fi := r.fieldInfos.ByName(field)
	if fi == nil || !fi.HasDocValues() {
		return nil, nil
	}
	p := r.core.docValues
	if fi.DocValuesGen != -1 {
		p = r.dvGens[fi.DocValuesGen]
	}
	if p == nil {
		return codec.EmptyDocValues(fi.DocValuesType, r.MaxDoc()), nil
	}
	return p.Values(fi)
}

// Norms returns the length norms of field, nil if it has none.
func (r *SegmentReader) Norms(field string) (*codec.DocValues, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	fi := r.core.fieldInfos.ByName(field)
	if fi == nil || !fi.HasNorms() || r.core.norms == nil {
		return nil, nil
	}
	return r.core.norms.Values(fi)
}

// DocFreq counts the documents containing term, deleted ones included.
func (r *SegmentReader) DocFreq(term Term) (int, error) {
	te, err := r.seek(term)
	if err != nil || te == nil {
		return 0, err
	}
	return te.DocFreq(), nil
}

// Postings returns the live documents containing term, nil if there are
// none.
func (r *SegmentReader) Postings(term Term, flags int) (codec.DocsEnum, error) {
	te, err := r.seek(term)
	if err != nil || te == nil {
		return nil, err
	}
	return te.Docs(r.LiveDocs(), nil, flags)
}

// PostingsWithPositions is like Postings with positions. It fails with
// ErrNoPositions when the field was indexed without positions, even if the
// term does not exist.
func (r *SegmentReader) PostingsWithPositions(term Term, flags int) (codec.DocsAndPositionsEnum, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	fi := r.fieldInfos.ByName(term.Field)
	if fi != nil && fi.IsIndexed() && !fi.IndexOptions.HasPositions() {
		return nil, fmt.Errorf("%w: field %q was indexed with %s", ErrNoPositions, term.Field, fi.IndexOptions)
	}
	if fi != nil && flags&codec.FlagOffsets != 0 && fi.IsIndexed() && !fi.IndexOptions.HasOffsets() {
		return nil, fmt.Errorf("%w: field %q was indexed without offsets", ErrNoPositions, term.Field)
	}
	te, err := r.seek(term)
	if err != nil || te == nil {
		return nil, err
	}
	return te.DocsAndPositions(r.LiveDocs(), nil, flags)
}

func (r *SegmentReader) seek(term Term) (codec.TermsEnum, error) {
	terms, err := r.Terms(term.Field)
	if err != nil || terms == nil {
		return nil, err
	}
	te, err := terms.Iterator(nil)
	if err != nil {
		return nil, err
	}
	ok, err := te.SeekExact(term.Bytes())
	if err != nil || !ok {
		return nil, err
	}
	return te, nil
}

// CheckIntegrity verifies the checksums of every file of the segment.
func (r *SegmentReader) CheckIntegrity() error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	checks := []func() error{r.core.fields.CheckIntegrity, r.core.stored.CheckIntegrity}
	if r.core.vectors != nil {
		checks = append(checks, r.core.vectors.CheckIntegrity)
	}
	if r.core.norms != nil {
		checks = append(checks, r.core.norms.CheckIntegrity)
	}
	if r.core.docValues != nil {
		checks = append(checks, r.core.docValues.CheckIntegrity)
	}
	for _, p := range r.dvGens {
		checks = append(checks, p.CheckIntegrity)
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("segment %s: %w", r.info.Name(), err)
		}
	}
	return nil
}

func (r *SegmentReader) checkDoc(doc int) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if doc < 0 || doc >= r.MaxDoc() {
		return fmt.Errorf("%w: doc %d out of bounds [0, %d)", ErrIllegalArgument, doc, r.MaxDoc())
	}
	return nil
}

func (r *SegmentReader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// IncRef adds a reference. It fails once the reader was closed.
func (r *SegmentReader) IncRef() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return ErrAlreadyClosed
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// tryIncRef is IncRef reporting success.
func (r *SegmentReader) tryIncRef() bool { return r.IncRef() == nil }

// DecRef releases a reference and closes the reader with the last one.
func (r *SegmentReader) DecRef() error {
	n := r.refs.Add(-1)
	switch {
	case n == 0:
		return r.doClose()
	case n < 0:
		r.refs.Add(1)
		return ErrAlreadyClosed
	}
	return nil
}

// Close releases the opener's reference.
func (r *SegmentReader) Close() error { return r.DecRef() }

// RefCount is the number of references held.
func (r *SegmentReader) RefCount() int { return int(r.refs.Load()) }

func (r *SegmentReader) addCloseHook(fn func()) { r.onClose = append(r.onClose, fn) }

func (r *SegmentReader) doClose() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	for _, p := range r.dvGens {
		if err := p.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.core.decRef(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, fn := range r.onClose {
		fn()
	}
	return result.ErrorOrNil()
}

func (r *SegmentReader) String() string {
	return fmt.Sprintf("SegmentReader(%s)", r.info)
}
