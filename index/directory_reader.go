package index

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/store"
)

// Leaf is one segment of a DirectoryReader. DocBase maps the segment's doc
// ids into the reader's doc id space.
type Leaf struct {
	Reader  *SegmentReader
	DocBase int
	Ord     int
}

// DirectoryReader is a point-in-time view over the segments of a commit or
// of a writer's current state. It is reference counted: the opener holds
// one reference and must Close it once. A reader stays usable until it is
// released, whatever the writer does in the meantime.
type DirectoryReader struct {
	dir    store.Directory
	sis    *SegmentInfos
	leaves []Leaf

	maxDoc  int
	numDocs int

	// writer is set for readers obtained from Writer.GetReader.
	writer          *Writer
	applyAllDeletes bool

	refs    atomic.Int32
	closeMu sync.Mutex
	closed  bool
	onClose []func()
}

// OpenReader opens the newest commit of dir.
func OpenReader(dir store.Directory) (*DirectoryReader, error) {
	return findSegmentsFile(dir, func(name string) (*DirectoryReader, error) {
		sis, err := ReadSegmentInfos(dir, name)
		if err != nil {
			return nil, err
		}
		return openFromInfos(dir, sis, nil)
	})
}

// OpenReaderCommit opens a specific commit, e.g. one listed by ListCommits.
func OpenReaderCommit(commit IndexCommit) (*DirectoryReader, error) {
	sis, err := ReadSegmentInfos(commit.Directory(), commit.SegmentsFileName())
	if err != nil {
		return nil, err
	}
	return openFromInfos(commit.Directory(), sis, nil)
}

// OpenIfChanged returns a new reader if the index changed since old was
// opened, or nil if it did not. Unchanged segments are shared with old.
// For readers obtained from a writer the writer's current state is used.
func OpenIfChanged(old *DirectoryReader) (*DirectoryReader, error) {
	if err := old.ensureOpen(); err != nil {
		return nil, err
	}
	if old.writer != nil {
		return old.writer.openIfChanged(old)
	}
	return openIfCommitChanged(old)
}

// openIfCommitChanged reopens old on the newest commit of its directory.
func openIfCommitChanged(old *DirectoryReader) (*DirectoryReader, error) {
	return findSegmentsFile(old.dir, func(name string) (*DirectoryReader, error) {
		sis, err := ReadSegmentInfos(old.dir, name)
		if err != nil {
			return nil, err
		}
		if sis.Generation() == old.sis.Generation() && sis.Version == old.sis.Version {
			return nil, nil
		}
		return openFromInfos(old.dir, sis, old)
	})
}

// openFromInfos opens a reader on sis, sharing the segment readers of old
// that still match.
func openFromInfos(dir store.Directory, sis *SegmentInfos, old *DirectoryReader) (_ *DirectoryReader, err error) {
	oldByName := make(map[string]*SegmentReader)
	if old != nil {
		for _, l := range old.leaves {
			oldByName[l.Reader.SegmentName()] = l.Reader
		}
	}
	readers := make([]*SegmentReader, 0, sis.Len())
	defer func() {
		if err != nil {
			for _, r := range readers {
				_ = r.DecRef()
			}
		}
	}()
	for _, sci := range sis.Segments {
		r, err := reopenSegment(sci, oldByName[sci.Name()])
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}
	return newDirectoryReader(dir, sis.Clone(), readers), nil
}

// reopenSegment shares old when nothing changed and its core when only
// deletes or updates changed.
func reopenSegment(sci *SegmentCommitInfo, old *SegmentReader) (*SegmentReader, error) {
	if old == nil || old.core.info.ID != sci.Info.ID {
		c, err := codec.Lookup(sci.Info.Codec)
		if err != nil {
			return nil, err
		}
		return openSegmentReader(c, sci)
	}
	if old.info.DelGen == sci.DelGen && old.info.FieldInfosGen == sci.FieldInfosGen {
		if err := old.IncRef(); err != nil {
			return nil, err
		}
		return old, nil
	}
	var live *codec.LiveDocs
	if sci.HasDeletions() {
		var err error
		if live, err = old.core.codec.LiveDocsFormat().Read(sci.Info.Dir, sci.Info, sci.DelGen, sci.DelCount); err != nil {
			return nil, err
		}
	}
	return newSegmentReader(old.core, sci, live, sci.NumDocs())
}

// newDirectoryReader takes ownership of one reference of every reader.
func newDirectoryReader(dir store.Directory, sis *SegmentInfos, readers []*SegmentReader) *DirectoryReader {
	r := &DirectoryReader{dir: dir, sis: sis, leaves: make([]Leaf, len(readers))}
	for i, sr := range readers {
		r.leaves[i] = Leaf{Reader: sr, DocBase: r.maxDoc, Ord: i}
		r.maxDoc += sr.MaxDoc()
		r.numDocs += sr.NumDocs()
	}
	r.refs.Store(1)
	return r
}

// Directory is the directory the reader reads from.
func (r *DirectoryReader) Directory() store.Directory { return r.dir }

// Leaves returns the segments in index order.
func (r *DirectoryReader) Leaves() []Leaf { return r.leaves }

// MaxDoc includes deleted documents.
func (r *DirectoryReader) MaxDoc() int { return r.maxDoc }

// NumDocs is the number of live documents.
func (r *DirectoryReader) NumDocs() int { return r.numDocs }

// HasDeletions reports whether any segment has deleted documents.
func (r *DirectoryReader) HasDeletions() bool { return r.numDocs < r.maxDoc }

// Version increases with every change of the segment list. A newer reader
// of the same index always has a larger version.
func (r *DirectoryReader) Version() int64 { return r.sis.Version }

// SegmentInfos returns a copy of the segment list the reader was opened on.
func (r *DirectoryReader) SegmentInfos() *SegmentInfos { return r.sis.Clone() }

// IndexCommit describes the segments of the reader. For readers obtained
// from a writer the descriptor name is that of the writer's last commit.
func (r *DirectoryReader) IndexCommit() (IndexCommit, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return newCommitPoint(r.dir, r.sis), nil
}

// IsCurrent reports whether the reader reflects the newest state: the
// newest commit, or for readers from a writer everything the writer holds.
func (r *DirectoryReader) IsCurrent() (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	if r.writer != nil {
		return r.writer.isCurrent(r)
	}
	return isCommitCurrent(r)
}

// isCommitCurrent reports whether r reflects the newest commit.
func isCommitCurrent(r *DirectoryReader) (bool, error) {
	sis, err := ReadLatestSegmentInfos(r.dir)
	if err != nil {
		return false, err
	}
	return sis.Generation() == r.sis.Generation() && sis.Version == r.sis.Version, nil
}

// leaf returns the leaf holding doc.
func (r *DirectoryReader) leaf(doc int) (Leaf, int, error) {
	if doc < 0 || doc >= r.maxDoc {
		return Leaf{}, 0, fmt.Errorf("%w: doc %d out of bounds [0, %d)", ErrIllegalArgument, doc, r.maxDoc)
	}
	i := sort.Search(len(r.leaves), func(i int) bool { return r.leaves[i].DocBase > doc }) - 1
	l := r.leaves[i]
	return l, doc - l.DocBase, nil
}

// Document returns the stored fields of doc.
func (r *DirectoryReader) Document(doc int) (*document.Document, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	l, local, err := r.leaf(doc)
	if err != nil {
		return nil, err
	}
	return l.Reader.Document(local)
}

// TermVectors returns the term vectors of doc.
func (r *DirectoryReader) TermVectors(doc int) ([]codec.FieldVector, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	l, local, err := r.leaf(doc)
	if err != nil {
		return nil, err
	}
	return l.Reader.TermVectors(local)
}

// IsLive reports whether doc is not deleted.
func (r *DirectoryReader) IsLive(doc int) (bool, error) {
	l, local, err := r.leaf(doc)
	if err != nil {
		return false, err
	}
	return codec.IsLive(l.Reader.LiveDocs(), local), nil
}

// DocFreq sums the document frequency of term over all segments, deleted
// documents included.
func (r *DirectoryReader) DocFreq(term Term) (int, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	n := 0
	for _, l := range r.leaves {
		df, err := l.Reader.DocFreq(term)
		if err != nil {
			return 0, err
		}
		n += df
	}
	return n, nil
}

// DocsWithTerm returns the live documents containing term in ascending
// order.
func (r *DirectoryReader) DocsWithTerm(term Term) ([]int, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	var out []int
	for _, l := range r.leaves {
		de, err := l.Reader.Postings(term, 0)
		if err != nil {
			return nil, err
		}
		if de == nil {
			continue
		}
		for {
			doc, err := de.NextDoc()
			if err != nil {
				return nil, err
			}
			if doc == codec.NoMoreDocs {
				break
			}
			out = append(out, l.DocBase+doc)
		}
	}
	return out, nil
}

// CheckIntegrity verifies the checksums of every segment.
func (r *DirectoryReader) CheckIntegrity() error {
	for _, l := range r.leaves {
		if err := l.Reader.CheckIntegrity(); err != nil {
			return err
		}
	}
	return nil
}

func (r *DirectoryReader) ensureOpen() error {
	if r.refs.Load() <= 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// IncRef adds a reference. It fails once the reader was closed.
func (r *DirectoryReader) IncRef() error {
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

// DecRef releases a reference and closes the reader with the last one.
func (r *DirectoryReader) DecRef() error {
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
func (r *DirectoryReader) Close() error { return r.DecRef() }

// RefCount is the number of references held.
func (r *DirectoryReader) RefCount() int { return int(r.refs.Load()) }

func (r *DirectoryReader) doClose() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var result *multierror.Error
	for _, l := range r.leaves {
		if err := l.Reader.DecRef(); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			result = multierror.Append(result, err)
		}
	}
	for _, fn := range r.onClose {
		fn()
	}
	return result.ErrorOrNil()
}

func (r *DirectoryReader) String() string {
	parts := make([]string, len(r.leaves))
	for i, l := range r.leaves {
		parts[i] = l.Reader.info.String()
	}
	nrt := ""
	if r.writer != nil {
		nrt = ":nrt"
	}
	return fmt.Sprintf("DirectoryReader(%s:v%d%s [%s])", r.sis.SegmentsFileName(), r.sis.Version, nrt, strings.Join(parts, " "))
}
