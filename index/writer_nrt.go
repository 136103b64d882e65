package index

import (
	"time"

	"github.com/hupe1980/invgo/merge"
)

// GetReader returns a near real-time reader over everything added so far,
// without committing. Buffered documents are flushed first. With
// applyAllDeletes the buffered deletes are resolved too; otherwise the
// reader may still show documents deleted since the last flush.
//
// The reader pins its files until it is closed. Reopen it with
// OpenIfChanged.
func (w *Writer) GetReader(applyAllDeletes bool) (*DirectoryReader, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	w.mu.Lock()
	w.pool.pooling = true
	w.mu.Unlock()

	flushed, _, err := w.flushAllBuffers()
	if err != nil {
		return nil, err
	}
	r, err := w.openNRTReader(applyAllDeletes)
	if err != nil {
		return nil, err
	}
	if flushed {
		w.maybeMerge(merge.TriggerFullFlush)
	}
	w.logger.Debug("opened near real-time reader",
		"version", r.Version(),
		"segments", len(r.Leaves()),
		"applyAllDeletes", applyAllDeletes,
		"took", time.Since(start),
	)
	return r, nil
}

func (w *Writer) openNRTReader(applyAllDeletes bool) (_ *DirectoryReader, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing.Load() {
		return nil, ErrAlreadyClosed
	}
	if applyAllDeletes {
		if err := w.applyOpsLocked(); err != nil {
			return nil, err
		}
	}

	// readers need doc values updates on disk
	written := false
	for _, sci := range w.segmentInfos.Segments {
		ok, err := w.pool.get(sci.Name()).writeFieldUpdates(w.dir, w.numbers)
		if err != nil {
			return nil, err
		}
		written = written || ok
	}
	if written {
		w.changedLocked()
		if err := w.deleter.checkpoint(w.segmentInfos, false); err != nil {
			return nil, err
		}
	}

	readers := make([]*SegmentReader, 0, w.segmentInfos.Len())
	defer func() {
		if err != nil {
			for _, r := range readers {
				_ = r.DecRef()
			}
		}
	}()
	for _, sci := range w.segmentInfos.Segments {
		r, err := w.pool.get(sci.Name()).readOnlyClone()
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}

	sis := w.segmentInfos.Clone()
	r := newDirectoryReader(w.dir, sis, readers)
	r.writer = w
	r.applyAllDeletes = applyAllDeletes

	files := sis.Files(false)
	w.deleter.incRef(files)
	r.onClose = append(r.onClose, func() {
		if !w.closed.Load() {
			w.deleter.decRef(files)
		}
	})
	return r, nil
}

// isCurrent reports whether r shows every change of the writer. Once the
// writer is closed the newest commit is compared instead.
func (w *Writer) isCurrent(r *DirectoryReader) (bool, error) {
	if w.closing.Load() || w.closed.Load() {
		return isCommitCurrent(r)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return r.sis.Version == w.segmentInfos.Version &&
		w.control.NetBytes() == 0 &&
		!w.ops.hasOpsAfter(w.pool.minResolvedSeq()), nil
}

func (w *Writer) openIfChanged(old *DirectoryReader) (*DirectoryReader, error) {
	if w.closing.Load() || w.closed.Load() {
		return openIfCommitChanged(old)
	}
	current, err := w.isCurrent(old)
	if err != nil || current {
		return nil, err
	}
	return w.GetReader(old.applyAllDeletes)
}
