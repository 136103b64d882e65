package merge

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Trigger tells a policy why it is asked for merges.
type Trigger int

const (
	TriggerSegmentFlush Trigger = iota
	TriggerFullFlush
	TriggerExplicit
	TriggerMergeFinished
	TriggerClosing
)

func (t Trigger) String() string {
	switch t {
	case TriggerSegmentFlush:
		return "segment-flush"
	case TriggerFullFlush:
		return "full-flush"
	case TriggerExplicit:
		return "explicit"
	case TriggerMergeFinished:
		return "merge-finished"
	case TriggerClosing:
		return "closing"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// Segment is what a policy knows about a segment.
type Segment struct {
	Name      string
	SizeBytes int64
	MaxDoc    int
	DelCount  int
	Codec     string
	Compound  bool
}

// NumDocs is the number of live documents.
func (s Segment) NumDocs() int { return s.MaxDoc - s.DelCount }

// DeletesRatio is the fraction of deleted documents.
func (s Segment) DeletesRatio() float64 {
	if s.MaxDoc == 0 {
		return 0
	}
	return float64(s.DelCount) / float64(s.MaxDoc)
}

// LiveBytes is the size pro-rated by live documents.
func (s Segment) LiveBytes() int64 {
	return int64(float64(s.SizeBytes) * (1 - s.DeletesRatio()))
}

// OneMerge is a single merge: the segments it consumes and its runtime
// state. The writer fills the result fields while it executes the merge.
type OneMerge struct {
	Segments []Segment

	// MaxNumSegments is set for forced merges, -1 otherwise.
	MaxNumSegments int

	aborted atomic.Bool

	mu     sync.Mutex
	err    error
	done   chan struct{}
	closed bool

	// Payload is owned by the executor, e.g. the writer's bookkeeping.
	Payload any
}

// NewOneMerge returns a merge of segs.
func NewOneMerge(segs ...Segment) *OneMerge {
	return &OneMerge{Segments: segs, MaxNumSegments: -1, done: make(chan struct{})}
}

// Names returns the names of the merged segments.
func (m *OneMerge) Names() []string {
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names
}

// TotalMaxDoc sums MaxDoc over the inputs.
func (m *OneMerge) TotalMaxDoc() int {
	n := 0
	for _, s := range m.Segments {
		n += s.MaxDoc
	}
	return n
}

// EstimatedBytes sums the live bytes of the inputs.
func (m *OneMerge) EstimatedBytes() int64 {
	var n int64
	for _, s := range m.Segments {
		n += s.LiveBytes()
	}
	return n
}

// Abort asks the merge to stop. Executors poll IsAborted.
func (m *OneMerge) Abort() { m.aborted.Store(true) }

// IsAborted reports whether Abort was called.
func (m *OneMerge) IsAborted() bool { return m.aborted.Load() }

// CheckAborted returns ErrAborted once the merge was aborted.
func (m *OneMerge) CheckAborted() error {
	if m.IsAborted() {
		return fmt.Errorf("%w: %s", ErrAborted, m)
	}
	return nil
}

// Finish records the outcome and wakes Wait. Only the first call counts.
func (m *OneMerge) Finish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.err = err
	m.closed = true
	close(m.done)
}

// Done is closed once the merge finished.
func (m *OneMerge) Done() <-chan struct{} { return m.done }

// Err is the outcome, valid after Done.
func (m *OneMerge) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *OneMerge) String() string {
	var b strings.Builder
	for i, s := range m.Segments {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%d", s.Name, s.MaxDoc)
		if s.DelCount > 0 {
			fmt.Fprintf(&b, "/%d", s.DelCount)
		}
	}
	if m.MaxNumSegments != -1 {
		fmt.Fprintf(&b, " [maxNumSegments=%d]", m.MaxNumSegments)
	}
	return b.String()
}

// Spec is the set of merges a policy proposes.
type Spec struct {
	Merges []*OneMerge
}

func (s *Spec) add(m *OneMerge) { s.Merges = append(s.Merges, m) }

// Empty reports whether s proposes nothing.
func (s *Spec) Empty() bool { return s == nil || len(s.Merges) == 0 }

func (s *Spec) orNil() *Spec {
	if s.Empty() {
		return nil
	}
	return s
}

// Policy selects merges. Segments are passed in index order. merging holds
// the names of segments already registered in a running or pending merge;
// policies must not select them again.
type Policy interface {
	// FindMerges is called after flushes and finished merges.
	FindMerges(trigger Trigger, segments []Segment, merging map[string]bool) *Spec

	// FindForcedMerges proposes merges reducing the segments in toMerge to
	// at most maxSegmentCount.
	FindForcedMerges(segments []Segment, maxSegmentCount int, toMerge, merging map[string]bool) *Spec

	// FindForcedDeletesMerges proposes merges reclaiming deleted documents.
	FindForcedDeletesMerges(segments []Segment, merging map[string]bool) *Spec

	// UseCompoundFile reports whether newSegment is packed into a compound
	// file.
	UseCompoundFile(segments []Segment, newSegment Segment) bool
}

// Compound decides compound file packing by size. A new segment is packed
// when it is at most NoCFSRatio of the total index size and smaller than
// MaxCFSSegmentBytes.
type Compound struct {
	NoCFSRatio         float64
	MaxCFSSegmentBytes int64
}

// DefaultCompound packs segments up to 10% of the index.
var DefaultCompound = Compound{NoCFSRatio: 0.1, MaxCFSSegmentBytes: 1<<63 - 1}

func (c Compound) UseCompoundFile(segments []Segment, newSegment Segment) bool {
	if c.NoCFSRatio <= 0 {
		return false
	}
	if c.MaxCFSSegmentBytes > 0 && newSegment.SizeBytes > c.MaxCFSSegmentBytes {
		return false
	}
	if c.NoCFSRatio >= 1 {
		return true
	}
	var total int64
	for _, s := range segments {
		total += s.SizeBytes
	}
	return float64(newSegment.SizeBytes) <= c.NoCFSRatio*float64(total)
}

// isMerged reports whether the segments in toMerge already satisfy a forced
// merge to maxSegmentCount.
func isMerged(segments []Segment, maxSegmentCount int, toMerge map[string]bool) bool {
	n := 0
	var last Segment
	for _, s := range segments {
		if toMerge[s.Name] {
			n++
			last = s
		}
	}
	return n <= maxSegmentCount && (n != 1 || last.DelCount == 0)
}

func eligible(segments []Segment, merging map[string]bool) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if !merging[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// NoMerge never merges. Its compound decision is fixed.
type NoMerge struct {
	Compound bool
}

func (NoMerge) FindMerges(Trigger, []Segment, map[string]bool) *Spec { return nil }

func (NoMerge) FindForcedMerges([]Segment, int, map[string]bool, map[string]bool) *Spec {
	return nil
}

func (NoMerge) FindForcedDeletesMerges([]Segment, map[string]bool) *Spec { return nil }

func (p NoMerge) UseCompoundFile([]Segment, Segment) bool { return p.Compound }
