package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// mergeState is the writer's bookkeeping of a running merge, stored in
// OneMerge.Payload.
type mergeState struct {
	name    string
	rlds    []*readersAndUpdates
	readers []*SegmentReader
	merger  *segmentMerger
	info    *codec.SegmentInfo
}

var _ merge.Source = (*Writer)(nil)

// NextMerge hands the oldest pending merge to the scheduler.
func (w *Writer) NextMerge() *merge.OneMerge {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pendingMerges) == 0 {
		return nil
	}
	m := w.pendingMerges[0]
	w.pendingMerges = w.pendingMerges[1:]
	w.runningMerges[m] = struct{}{}
	w.notifyMergesLocked()
	return m
}

// HasPendingMerges reports whether a registered merge waits for a goroutine.
func (w *Writer) HasPendingMerges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pendingMerges) > 0
}

func (w *Writer) notifyMergesLocked() {
	close(w.mergesChanged)
	w.mergesChanged = make(chan struct{})
}

// policySegmentsLocked describes the segment list to the merge policy.
func (w *Writer) policySegmentsLocked() []merge.Segment {
	out := make([]merge.Segment, 0, w.segmentInfos.Len())
	for _, sci := range w.segmentInfos.Segments {
		size, err := sci.SizeInBytes()
		if err != nil {
			w.logger.Warn("segment size unknown", "segment", sci.Name(), "error", err)
		}
		delCount := sci.DelCount
		if rld := w.pool.get(sci.Name()); rld != nil {
			delCount = rld.delCount()
		}
		out = append(out, merge.Segment{
			Name:      sci.Name(),
			SizeBytes: size,
			MaxDoc:    sci.MaxDoc(),
			DelCount:  delCount,
			Codec:     sci.Info.Codec,
			Compound:  sci.Info.UseCompoundFile,
		})
	}
	return out
}

// registerSpecLocked registers the proposed merges whose segments are all
// present and not merging yet.
func (w *Writer) registerSpecLocked(spec *merge.Spec, maxNumSegments int) int {
	if spec.Empty() {
		return 0
	}
	n := 0
	for _, m := range spec.Merges {
		m.MaxNumSegments = maxNumSegments
		if w.registerMergeLocked(m) {
			n++
		}
	}
	return n
}

func (w *Writer) registerMergeLocked(m *merge.OneMerge) bool {
	if w.stopMerges || w.closing.Load() || len(m.Segments) == 0 {
		m.Abort()
		m.Finish(m.CheckAborted())
		return false
	}
	for _, s := range m.Segments {
		if w.mergingSegments[s.Name] || w.segmentInfos.IndexOf(s.Name) < 0 {
			m.Finish(nil)
			return false
		}
	}
	for _, s := range m.Segments {
		w.mergingSegments[s.Name] = true
	}
	w.pendingMerges = append(w.pendingMerges, m)
	w.logger.Debug("registered merge", "merge", m.String())
	w.notifyMergesLocked()
	return true
}

// updatePendingMergesLocked asks the merge policy for natural merges.
func (w *Writer) updatePendingMergesLocked(trigger merge.Trigger) {
	if w.stopMerges || w.closing.Load() {
		return
	}
	spec := w.cfg.MergePolicy.FindMerges(trigger, w.policySegmentsLocked(), w.mergingSegments)
	w.registerSpecLocked(spec, -1)
}

// maybeMerge registers natural merges and hands them to the scheduler.
// Failures of merges are recorded and reported by the next commit.
func (w *Writer) maybeMerge(trigger merge.Trigger) {
	w.mu.Lock()
	w.updatePendingMergesLocked(trigger)
	pending := len(w.pendingMerges) > 0
	w.mu.Unlock()
	if !pending {
		return
	}
	if err := w.scheduler.Merge(context.Background(), w, trigger); err != nil && !errors.Is(err, merge.ErrSchedulerClosed) {
		w.logger.Debug("merge scheduling failed", "trigger", trigger, "error", err)
	}
}

// MaybeMerge asks the merge policy for merges and runs them through the
// scheduler.
func (w *Writer) MaybeMerge(ctx context.Context) error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.mu.Lock()
	w.updatePendingMergesLocked(merge.TriggerExplicit)
	w.mu.Unlock()
	return w.scheduler.Merge(ctx, w, merge.TriggerExplicit)
}

// ForceMerge merges until at most maxNumSegments segments are left and
// waits for it. Buffered documents are flushed first.
func (w *Writer) ForceMerge(ctx context.Context, maxNumSegments int) error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if maxNumSegments < 1 {
		return errorf(ErrIllegalArgument, "maxNumSegments must be >= 1, got %d", maxNumSegments)
	}
	w.logger.Info("force merge", "maxNumSegments", maxNumSegments)
	if err := w.flushAndApply(); err != nil {
		return err
	}

	w.mu.Lock()
	clear(w.segmentsToMerge)
	for _, sci := range w.segmentInfos.Segments {
		w.segmentsToMerge[sci.Name()] = true
	}
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		clear(w.segmentsToMerge)
		w.mu.Unlock()
	}()

	return w.runForcedMerges(ctx, func() int {
		spec := w.cfg.MergePolicy.FindForcedMerges(w.policySegmentsLocked(), maxNumSegments, w.segmentsToMerge, w.mergingSegments)
		return w.registerSpecLocked(spec, maxNumSegments)
	})
}

// ForceMergeDeletes merges away the segments holding deleted documents, as
// far as the merge policy allows, and waits for it.
func (w *Writer) ForceMergeDeletes(ctx context.Context) error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.logger.Info("force merge deletes")
	if err := w.flushAndApply(); err != nil {
		return err
	}
	return w.runForcedMerges(ctx, func() int {
		spec := w.cfg.MergePolicy.FindForcedDeletesMerges(w.policySegmentsLocked(), w.mergingSegments)
		return w.registerSpecLocked(spec, -1)
	})
}

func (w *Writer) flushAndApply() error {
	if _, _, err := w.flushAllBuffers(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.applyOpsLocked()
}

// runForcedMerges registers merges with find until it proposes nothing and
// no merge is running any more.
func (w *Writer) runForcedMerges(ctx context.Context, find func() int) error {
	for {
		if err := w.takeMergeErrors(); err != nil {
			return fmt.Errorf("background merge failed: %w", err)
		}
		w.mu.Lock()
		if w.closing.Load() || w.stopMerges {
			w.mu.Unlock()
			return fmt.Errorf("%w: writer is closing", ErrMergeAborted)
		}
		find()
		busy := len(w.pendingMerges) > 0 || len(w.runningMerges) > 0
		changed := w.mergesChanged
		w.mu.Unlock()
		if !busy {
			return nil
		}
		if err := w.scheduler.Merge(ctx, w, merge.TriggerExplicit); err != nil && !errors.Is(err, merge.ErrSchedulerClosed) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForMerges waits until no merge is pending or running and returns the
// errors of merges that failed in the background.
func (w *Writer) WaitForMerges(ctx context.Context) error {
	if w.closed.Load() {
		return ErrAlreadyClosed
	}
	for {
		w.mu.Lock()
		pending, running := len(w.pendingMerges), len(w.runningMerges)
		changed := w.mergesChanged
		w.mu.Unlock()
		if pending == 0 && running == 0 {
			break
		}
		if pending > 0 && running == 0 {
			if err := w.scheduler.Merge(ctx, w, merge.TriggerExplicit); err != nil && !errors.Is(err, merge.ErrSchedulerClosed) {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
			}
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.takeMergeErrors()
}

func (w *Writer) takeMergeErrors() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.mergeErrs.ErrorOrNil()
	w.mergeErrs = nil
	return err
}

// abortMerges drops pending merges, asks running ones to stop and rejects
// new ones until stopMerges is reset.
func (w *Writer) abortMerges() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopMerges = true
	for _, m := range w.pendingMerges {
		for _, s := range m.Segments {
			delete(w.mergingSegments, s.Name)
		}
		m.Abort()
		m.Finish(m.CheckAborted())
	}
	w.pendingMerges = nil
	for m := range w.runningMerges {
		m.Abort()
	}
	w.notifyMergesLocked()
}

func (w *Writer) waitForRunningMerges() {
	w.mu.Lock()
	for len(w.runningMerges) > 0 {
		changed := w.mergesChanged
		w.mu.Unlock()
		<-changed
		w.mu.Lock()
	}
	w.mu.Unlock()
}

// Merge executes m. It implements merge.Source and is called by the
// scheduler.
func (w *Writer) Merge(ctx context.Context, m *merge.OneMerge) (err error) {
	start := time.Now()
	var st *mergeState
	defer func() {
		w.mu.Lock()
		w.mergeFinishLocked(m, st)
		switch {
		case err == nil:
			if m.MaxNumSegments == -1 {
				w.updatePendingMergesLocked(merge.TriggerMergeFinished)
			}
		case isAborted(err):
			w.logger.Info("merge aborted", "merge", m.String())
		default:
			w.mergeErrs = multierror.Append(w.mergeErrs, err)
			w.logger.Error("merge failed", "merge", m.String(), "error", err)
		}
		w.mu.Unlock()
		m.Finish(err)
		w.metrics.OnMerge(len(m.Segments), m.TotalMaxDoc(), time.Since(start), err)
	}()

	if st, err = w.mergeInit(m); err != nil {
		return err
	}
	if err = w.mergeMiddle(ctx, m, st); err != nil {
		return err
	}
	if err = w.commitMerge(m, st); err != nil {
		return err
	}
	w.logger.Info("merged segments",
		"merge", m.String(),
		"into", st.name,
		"docs", st.info.MaxDoc,
		"took", time.Since(start),
	)
	return nil
}

// mergeInit resolves pending ops on the inputs, writes their doc values
// updates and opens the readers the merge consumes.
func (w *Writer) mergeInit(m *merge.OneMerge) (*mergeState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing.Load() || w.stopMerges {
		m.Abort()
	}
	if err := m.CheckAborted(); err != nil {
		return nil, err
	}

	st := &mergeState{}
	m.Payload = st
	for _, s := range m.Segments {
		rld := w.pool.get(s.Name)
		if rld == nil {
			return st, errorf(ErrIllegalState, "segment %s of merge %s is not in the index", s.Name, m)
		}
		st.rlds = append(st.rlds, rld)
	}

	written := false
	for _, rld := range st.rlds {
		if _, err := w.resolveOpsLocked(rld); err != nil {
			return st, err
		}
		ok, err := rld.writeFieldUpdates(w.dir, w.numbers)
		if err != nil {
			return st, err
		}
		written = written || ok
	}
	if written {
		w.changedLocked()
		if err := w.deleter.checkpoint(w.segmentInfos, false); err != nil {
			return st, err
		}
	}
	w.ops.prune(w.pool.minResolvedSeq())

	for _, rld := range st.rlds {
		if err := rld.startMerge(); err != nil {
			return st, err
		}
		r, err := rld.mergeReader()
		if err != nil {
			return st, err
		}
		st.readers = append(st.readers, r)
	}
	st.name = w.newSegmentNameLocked()
	return st, nil
}

// mergeMiddle writes the merged segment. It runs without the writer lock.
func (w *Writer) mergeMiddle(ctx context.Context, m *merge.OneMerge, st *mergeState) (err error) {
	if w.cfg.CheckIntegrityAtMerge {
		for _, r := range st.readers {
			if err := r.CheckIntegrity(); err != nil {
				return fmt.Errorf("merge input %s: %w", r.SegmentName(), err)
			}
		}
	}

	var dir store.Directory = w.dir
	if t, ok := w.scheduler.(merge.Throttled); ok && t.Controller() != nil {
		dir = store.NewRateLimitedDirectory(ctx, dir, t.Controller())
	}
	tdir := store.NewTrackingDirectory(dir)
	defer func() {
		if err != nil {
			w.deleter.deleteNewFiles(tdir.CreatedFiles())
		}
	}()

	st.merger = newSegmentMerger(st.readers, tdir, w.cfg.Codec, w.numbers, m.CheckAborted, w.logger)
	si, _, err := st.merger.merge(ctx, st.name)
	if err != nil {
		return err
	}
	si.SetFiles(tdir.CreatedFiles())
	si.Dir = w.dir
	st.info = si
	setDiagnostics(si, codec.DiagSourceMerge, map[string]string{
		codec.DiagMergeFactor: strconv.Itoa(len(m.Segments)),
		codec.DiagMergeMaxNum: strconv.Itoa(m.MaxNumSegments),
	})
	if si.MaxDoc == 0 {
		return nil
	}
	if err := m.CheckAborted(); err != nil {
		return err
	}

	size, err := NewSegmentCommitInfo(si, 0, -1, -1, -1).SizeInBytes()
	if err != nil {
		return err
	}
	w.mu.Lock()
	segs := w.policySegmentsLocked()
	w.mu.Unlock()
	compound := w.cfg.MergePolicy.UseCompoundFile(segs, merge.Segment{
		Name:      si.Name,
		SizeBytes: size,
		MaxDoc:    si.MaxDoc,
		Codec:     si.Codec,
	})
	if err := w.sealSegment(si, w.cfg.Codec, compound); err != nil {
		w.deleter.deleteNewFiles(si.Files())
		return err
	}
	return nil
}

// commitMerge replaces the inputs with the merged segment. Deletes and doc
// values updates that reached the inputs while the merge ran are carried
// over to the new doc ids.
func (w *Writer) commitMerge(m *merge.OneMerge, st *mergeState) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing.Load() || w.stopMerges {
		m.Abort()
	}
	if err := m.CheckAborted(); err != nil {
		w.deleter.deleteNewFiles(st.info.Files())
		return err
	}

	resolved := int64(noResolvedSeq)
	for _, rld := range st.rlds {
		if _, err := w.resolveOpsLocked(rld); err != nil {
			w.deleter.deleteNewFiles(st.info.Files())
			return err
		}
		resolved = min(resolved, rld.resolvedSeq)
	}

	sci := NewSegmentCommitInfo(st.info, 0, -1, -1, -1)
	merged := newReadersAndUpdates(sci, w.cfg.Codec, resolved)
	carried := 0
	for i, rld := range st.rlds {
		docMap := st.merger.docMaps[i]
		for doc, newDoc := range docMap {
			if newDoc < 0 || rld.isLive(doc) {
				continue
			}
			if _, err := merged.delete(newDoc); err != nil {
				w.deleter.deleteNewFiles(st.info.Files())
				return err
			}
			carried++
		}
		for field, updates := range rld.mergeNumeric {
			for doc, v := range updates {
				if newDoc := docMap[doc]; newDoc >= 0 {
					merged.addNumericUpdate(field, newDoc, v)
				}
			}
		}
		for field, updates := range rld.mergeBinary {
			for doc, v := range updates {
				if newDoc := docMap[doc]; newDoc >= 0 {
					merged.addBinaryUpdate(field, newDoc, v)
				}
			}
		}
	}

	drop := st.info.MaxDoc == 0 || merged.numDocs() == 0
	inputs := make(map[string]bool, len(st.rlds))
	forced := false
	for _, rld := range st.rlds {
		inputs[rld.info.Name()] = true
		forced = forced || w.segmentsToMerge[rld.info.Name()]
	}
	segs := make([]*SegmentCommitInfo, 0, w.segmentInfos.Len())
	inserted := false
	for _, s := range w.segmentInfos.Segments {
		if !inputs[s.Name()] {
			segs = append(segs, s)
			continue
		}
		if !inserted && !drop {
			segs = append(segs, sci)
			inserted = true
		}
	}
	w.segmentInfos.Segments = segs

	var result *multierror.Error
	for _, rld := range st.rlds {
		rld.endMerge()
		delete(w.segmentsToMerge, rld.info.Name())
		if err := w.pool.drop(rld.info.Name()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	newMaxDoc := 0
	if drop {
		w.deleter.deleteNewFiles(st.info.Files())
	} else {
		newMaxDoc = st.info.MaxDoc
		w.pool.add(merged)
		if forced {
			w.segmentsToMerge[sci.Name()] = true
		}
	}
	w.pendingNumDocs.Add(-int64(m.TotalMaxDoc() - newMaxDoc))
	w.changedLocked()
	if err := w.deleter.checkpoint(w.segmentInfos, false); err != nil {
		result = multierror.Append(result, err)
	}
	if carried > 0 {
		w.logger.Debug("carried deletes into merged segment", "segment", sci.Name(), "deleted", carried)
	}
	return result.ErrorOrNil()
}

// mergeFinishLocked releases everything the merge held, whatever its
// outcome.
func (w *Writer) mergeFinishLocked(m *merge.OneMerge, st *mergeState) {
	for _, s := range m.Segments {
		delete(w.mergingSegments, s.Name)
	}
	delete(w.runningMerges, m)
	if st != nil {
		for _, r := range st.readers {
			if err := r.DecRef(); err != nil {
				w.logger.Warn("release merge reader", "segment", r.SegmentName(), "error", err)
			}
		}
		st.readers = nil
		for _, rld := range st.rlds {
			rld.endMerge()
		}
	}
	w.notifyMergesLocked()
}
