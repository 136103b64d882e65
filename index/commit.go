package index

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

// IndexCommit is a durable point-in-time view of an index: one segments_N
// file and the segment files it references.
type IndexCommit interface {
	// SegmentsFileName is the segments_N file of the commit.
	SegmentsFileName() string
	// FileNames lists every file of the commit including SegmentsFileName.
	FileNames() []string
	Directory() store.Directory
	// Delete asks for the commit to be removed. Only deletion policies may
	// call it, from OnInit or OnCommit.
	Delete()
	IsDeleted() bool
	SegmentCount() int
	Generation() int64
	UserData() map[string]string
	// Timestamp is when the commit was written, zero for old descriptors.
	Timestamp() time.Time
}

type commitPoint struct {
	segmentsFileName string
	files            []string
	dir              store.Directory
	generation       int64
	segmentCount     int
	userData         map[string]string
	timestamp        time.Time

	deleted atomic.Bool
	// released is set once the deleter dropped the commit's references.
	released bool
}

var _ IndexCommit = (*commitPoint)(nil)

func newCommitPoint(dir store.Directory, sis *SegmentInfos) *commitPoint {
	return &commitPoint{
		segmentsFileName: sis.SegmentsFileName(),
		files:            sis.Files(true),
		dir:              dir,
		generation:       sis.LastGeneration(),
		segmentCount:     sis.Len(),
		userData:         maps.Clone(sis.UserData),
		timestamp:        sis.Timestamp,
	}
}

func (c *commitPoint) SegmentsFileName() string    { return c.segmentsFileName }
func (c *commitPoint) FileNames() []string         { return slices.Clone(c.files) }
func (c *commitPoint) Directory() store.Directory  { return c.dir }
func (c *commitPoint) Delete()                     { c.deleted.Store(true) }
func (c *commitPoint) IsDeleted() bool             { return c.deleted.Load() }
func (c *commitPoint) SegmentCount() int           { return c.segmentCount }
func (c *commitPoint) Generation() int64           { return c.generation }
func (c *commitPoint) UserData() map[string]string { return maps.Clone(c.userData) }
func (c *commitPoint) Timestamp() time.Time        { return c.timestamp }

func (c *commitPoint) String() string {
	return fmt.Sprintf("IndexCommit(%s)", c.segmentsFileName)
}

// ListCommits returns the commits of dir ordered by generation. Commits
// removed while listing are skipped.
func ListCommits(dir store.Directory) ([]IndexCommit, error) {
	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if _, ok := codec.GenerationFromSegmentsFileName(f); ok {
			names = append(names, f)
		}
	}
	sortSegmentsByGeneration(names)

	commits := make([]IndexCommit, 0, len(names))
	for _, name := range names {
		sis, err := ReadSegmentInfos(dir, name)
		if errors.Is(err, store.ErrFileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		commits = append(commits, newCommitPoint(dir, sis))
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrNoCommits, dir)
	}
	return commits, nil
}

func sortCommits(commits []*commitPoint) {
	slices.SortFunc(commits, func(a, b *commitPoint) int {
		switch {
		case a.generation < b.generation:
			return -1
		case a.generation > b.generation:
			return 1
		default:
			return 0
		}
	})
}

func asIndexCommits(commits []*commitPoint) []IndexCommit {
	out := make([]IndexCommit, len(commits))
	for i, c := range commits {
		out[i] = c
	}
	return out
}
