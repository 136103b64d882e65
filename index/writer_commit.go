package index

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/merge"
)

// PrepareCommit runs the first phase of a two-phase commit: it flushes,
// applies deletes and writes the next commit descriptor without making it
// visible. Commit finishes it, Rollback discards it.
func (w *Writer) PrepareCommit() (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	return w.prepareCommitInternal()
}

// Commit makes every change durable and visible to newly opened readers.
// It returns the sequence number the commit covers. Errors of background
// merges are reported here.
func (w *Writer) Commit() (int64, error) {
	if w.closed.Load() {
		return 0, ErrAlreadyClosed
	}
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	start := time.Now()
	if w.pendingCommit == nil {
		seq, err := w.prepareCommitInternal()
		if err != nil {
			return 0, err
		}
		if w.pendingCommit == nil {
			return seq, nil
		}
	}
	seq := w.pendingCommitSeq
	return seq, w.finishCommit(start)
}

func (w *Writer) prepareCommitInternal() (int64, error) {
	if w.pendingCommit != nil {
		return 0, errorf(ErrIllegalState, "prepareCommit was already called with no corresponding call to commit")
	}
	if err := w.takeMergeErrors(); err != nil {
		return 0, fmt.Errorf("background merge failed: %w", err)
	}

	flushed, seq, err := w.flushAllBuffers()
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	if err := w.applyOpsLocked(); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	if err := w.writePendingChangesLocked(); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	if w.changeCount == w.lastCommitChangeCount {
		w.mu.Unlock()
		w.logger.Debug("commit skipped, nothing changed")
		return seq, nil
	}
	toCommit := w.segmentInfos.Clone()
	changeCount := w.changeCount
	files := toCommit.Files(false)
	w.deleter.incRef(files)
	w.mu.Unlock()

	if err := w.writeCommit(toCommit, files); err != nil {
		w.deleter.decRef(files)
		return 0, err
	}
	w.pendingCommit = toCommit
	w.pendingCommitSeq = seq
	w.pendingCommitChangeCount = changeCount

	if flushed {
		w.maybeMerge(merge.TriggerFullFlush)
	}
	return seq, nil
}

// writePendingChangesLocked writes pending deletes and doc values updates
// of every segment as new generations.
func (w *Writer) writePendingChangesLocked() error {
	written := false
	for _, sci := range w.segmentInfos.Segments {
		rld := w.pool.get(sci.Name())
		ok, err := rld.writeLiveDocs(w.dir)
		if err != nil {
			return err
		}
		written = written || ok
		if ok, err = rld.writeFieldUpdates(w.dir, w.numbers); err != nil {
			return err
		}
		written = written || ok
	}
	if !written {
		return nil
	}
	w.changedLocked()
	return w.deleter.checkpoint(w.segmentInfos, false)
}

// writeCommit syncs the files of sis and writes its pending descriptor.
func (w *Writer) writeCommit(sis *SegmentInfos, files []string) error {
	if err := w.dir.Sync(files); err != nil {
		return fmt.Errorf("sync commit files: %w", err)
	}
	err := sis.write(w.dir, w.cfg.Clock())

	w.mu.Lock()
	w.segmentInfos.updateGeneration(sis)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write commit descriptor: %w", err)
	}
	if err := w.dir.Sync([]string{sis.pendingFile}); err != nil {
		sis.rollbackCommit(w.dir)
		return fmt.Errorf("sync commit descriptor: %w", err)
	}
	return nil
}

// finishCommit publishes the pending commit. The caller holds commitMu.
func (w *Writer) finishCommit(start time.Time) error {
	pc := w.pendingCommit
	w.pendingCommit = nil
	files := pc.Files(false)

	name, err := pc.finishCommit(w.dir)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.segmentInfos.updateGeneration(pc)
	if err != nil {
		w.deleter.decRef(files)
		return fmt.Errorf("publish commit: %w", err)
	}

	w.lastCommitChangeCount = w.pendingCommitChangeCount
	w.rollbackSegments = pc.Clone()

	var result *multierror.Error
	if err := w.deleter.checkpoint(pc, true); err != nil {
		result = multierror.Append(result, err)
	}
	w.deleter.decRef(files)
	if err := w.pool.releaseUnpooled(); err != nil {
		result = multierror.Append(result, err)
	}

	took := time.Since(start)
	w.metrics.OnCommit(pc.LastGeneration(), took)
	w.logger.Info("committed",
		"file", name,
		"segments", pc.Len(),
		"docs", pc.TotalMaxDoc(),
		"took", took,
	)
	return result.ErrorOrNil()
}
