package index

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

// fileDeleter reference counts the files of every live commit and of the
// writer's in-memory segment list, and removes a file once nothing
// references it. The deletion policy decides which commits stay live.
type fileDeleter struct {
	mu     sync.Mutex
	dir    store.Directory
	policy DeletionPolicy
	logger *slog.Logger

	refCounts map[string]int
	commits   []*commitPoint
	lastFiles []string

	// deletable holds files whose deletion failed; they are retried on the
	// next checkpoint.
	deletable map[string]struct{}

	startingCommitDeleted bool
	lastSegmentInfos      *SegmentInfos
}

// newFileDeleter loads every commit of dir, removes unreferenced files and
// runs the policy's OnInit. The caller holds the write lock.
func newFileDeleter(dir store.Directory, policy DeletionPolicy, sis *SegmentInfos, logger *slog.Logger, initialIndexExists bool) (*fileDeleter, error) {
	fd := &fileDeleter{
		dir:       dir,
		policy:    policy,
		logger:    logger.With("component", "deleter"),
		refCounts: make(map[string]int),
		deletable: make(map[string]struct{}),
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()

	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}

	currentSegmentsFile := sis.SegmentsFileName()
	var current *commitPoint
	for _, name := range files {
		if !isDeletableIndexFile(name) {
			continue
		}
		fd.refCounts[name] += 0
		gen, ok := codec.GenerationFromSegmentsFileName(name)
		if !ok {
			continue
		}
		commitSIS, err := ReadSegmentInfos(dir, name)
		if err != nil {
			if errors.Is(err, store.ErrFileNotFound) {
				fd.logger.Debug("init: commit vanished while loading", "file", name)
				continue
			}
			if gen <= sis.LastGeneration() {
				if n, lerr := dir.FileLength(name); lerr == nil && n > 0 {
					return nil, err
				}
			}
			// an aborted future commit
			fd.logger.Debug("init: skipping unreadable commit", "file", name, "error", err)
			continue
		}
		cp := newCommitPoint(dir, commitSIS)
		if name == currentSegmentsFile {
			current = cp
		}
		fd.commits = append(fd.commits, cp)
		fd.incRefLocked(commitSIS.Files(true))
		if fd.lastSegmentInfos == nil || commitSIS.LastGeneration() > fd.lastSegmentInfos.LastGeneration() {
			fd.lastSegmentInfos = commitSIS
		}
	}

	if current == nil && currentSegmentsFile != "" && initialIndexExists {
		commitSIS, err := ReadSegmentInfos(dir, currentSegmentsFile)
		if err != nil {
			return nil, err
		}
		current = newCommitPoint(dir, commitSIS)
		fd.commits = append(fd.commits, current)
		fd.incRefLocked(commitSIS.Files(true))
	}

	sortCommits(fd.commits)

	for name, rc := range fd.refCounts {
		if rc == 0 {
			fd.logger.Debug("init: removing unreferenced file", "file", name)
			delete(fd.refCounts, name)
			fd.deleteFileLocked(name)
		}
	}

	if err := fd.policy.OnInit(asIndexCommits(fd.commits)); err != nil {
		return nil, err
	}

	if err := fd.checkpointLocked(sis, false); err != nil {
		return nil, err
	}
	fd.startingCommitDeleted = current != nil && current.IsDeleted()
	fd.deleteCommitsLocked()
	return fd, nil
}

func isDeletableIndexFile(name string) bool {
	if name == codec.WriteLockName || name == codec.SegmentsGenName {
		return false
	}
	return codec.IsIndexFile(name)
}

// checkpoint records a consistent change of sis. The files of sis are
// referenced and the files of the previous non-commit checkpoint released.
// For commits the policy's OnCommit runs.
func (fd *fileDeleter) checkpoint(sis *SegmentInfos, isCommit bool) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.checkpointLocked(sis, isCommit)
}

func (fd *fileDeleter) checkpointLocked(sis *SegmentInfos, isCommit bool) error {
	fd.deletePendingLocked()
	fd.incRefLocked(sis.Files(isCommit))
	if isCommit {
		fd.commits = append(fd.commits, newCommitPoint(fd.dir, sis))
		if err := fd.policy.OnCommit(asIndexCommits(fd.commits)); err != nil {
			return err
		}
		fd.deleteCommitsLocked()
		return nil
	}
	old := fd.lastFiles
	fd.lastFiles = sis.Files(false)
	fd.decRefLocked(old)
	return nil
}

// revisitPolicy runs OnCommit again, e.g. after snapshots were released.
func (fd *fileDeleter) revisitPolicy() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.commits) == 0 {
		return nil
	}
	if err := fd.policy.OnCommit(asIndexCommits(fd.commits)); err != nil {
		return err
	}
	fd.deleteCommitsLocked()
	return nil
}

func (fd *fileDeleter) deleteCommitsLocked() {
	kept := fd.commits[:0]
	for _, c := range fd.commits {
		if !c.IsDeleted() {
			kept = append(kept, c)
			continue
		}
		if !c.released {
			c.released = true
			fd.logger.Debug("deleting commit", "file", c.segmentsFileName)
			fd.decRefLocked(c.files)
		}
	}
	clear(fd.commits[len(kept):])
	fd.commits = kept
}

// incRef pins files, e.g. for a reader opened from the writer.
func (fd *fileDeleter) incRef(files []string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.incRefLocked(files)
}

// decRef releases files pinned by incRef.
func (fd *fileDeleter) decRef(files []string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.decRefLocked(files)
}

func (fd *fileDeleter) incRefLocked(files []string) {
	for _, f := range files {
		fd.refCounts[f]++
	}
}

func (fd *fileDeleter) decRefLocked(files []string) {
	for _, f := range files {
		rc, ok := fd.refCounts[f]
		if !ok || rc <= 0 {
			fd.logger.Warn("decRef of unreferenced file", "file", f)
			continue
		}
		if rc == 1 {
			delete(fd.refCounts, f)
			fd.deleteFileLocked(f)
			continue
		}
		fd.refCounts[f] = rc - 1
	}
}

func (fd *fileDeleter) exists(name string) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.refCounts[name] > 0
}

// deleteNewFiles removes files that were written but never checkpointed,
// e.g. the output of an aborted flush or merge.
func (fd *fileDeleter) deleteNewFiles(files []string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, f := range files {
		if fd.refCounts[f] == 0 {
			fd.deleteFileLocked(f)
		}
	}
}

// refresh removes unreferenced index files. With a non-empty segment only
// that segment's files are considered.
func (fd *fileDeleter) refresh(segment string) error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	files, err := fd.dir.ListAll()
	if err != nil {
		return err
	}
	for _, name := range files {
		if !isDeletableIndexFile(name) || fd.refCounts[name] > 0 {
			continue
		}
		if _, ok := codec.GenerationFromSegmentsFileName(name); ok {
			continue
		}
		if segment != "" && !belongsToSegment(name, segment) {
			continue
		}
		fd.deleteFileLocked(name)
	}
	return nil
}

func belongsToSegment(name, segment string) bool {
	return strings.HasPrefix(name, segment+".") || strings.HasPrefix(name, segment+"_")
}

func (fd *fileDeleter) deleteFileLocked(name string) {
	if err := fd.dir.DeleteFile(name); err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			delete(fd.deletable, name)
			return
		}
		fd.logger.Debug("delete failed, will retry", "file", name, "error", err)
		fd.deletable[name] = struct{}{}
		return
	}
	delete(fd.deletable, name)
}

func (fd *fileDeleter) deletePendingLocked() {
	if len(fd.deletable) == 0 {
		return
	}
	pending := make([]string, 0, len(fd.deletable))
	for name := range fd.deletable {
		pending = append(pending, name)
	}
	slices.Sort(pending)
	for _, name := range pending {
		if fd.refCounts[name] > 0 {
			delete(fd.deletable, name)
			continue
		}
		fd.deleteFileLocked(name)
	}
}

// pendingDeletes returns the files whose deletion is being retried.
func (fd *fileDeleter) pendingDeletes() []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	out := make([]string, 0, len(fd.deletable))
	for name := range fd.deletable {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// close releases the last checkpoint and retries pending deletes. The
// remaining failures are returned together.
func (fd *fileDeleter) close() error {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.lastFiles) > 0 {
		fd.decRefLocked(fd.lastFiles)
		fd.lastFiles = nil
	}
	fd.deletePendingLocked()

	var result *multierror.Error
	for name := range fd.deletable {
		if err := fd.dir.DeleteFile(name); err != nil && !errors.Is(err, store.ErrFileNotFound) {
			result = multierror.Append(result, err)
		}
	}
	clear(fd.deletable)
	return result.ErrorOrNil()
}
