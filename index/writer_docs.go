package index

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// flushTicket tracks one checked out buffer until its segment is published
// or dropped.
type flushTicket struct {
	buf  *documentsBuffer
	done chan struct{}
	err  error
}

// AddDocument adds doc and returns its sequence number.
func (w *Writer) AddDocument(doc *document.Document) (int64, error) {
	return w.updateDocuments(nil, []*document.Document{doc})
}

// AddDocuments adds a block of documents with consecutive doc ids. If one
// of them fails, none of them becomes visible.
func (w *Writer) AddDocuments(docs ...*document.Document) (int64, error) {
	return w.updateDocuments(nil, docs)
}

// UpdateDocument deletes the documents containing term and adds doc as one
// atomic operation.
func (w *Writer) UpdateDocument(term Term, doc *document.Document) (int64, error) {
	return w.updateDocuments(&bufferedOp{kind: opDeleteTerm, term: term}, []*document.Document{doc})
}

// UpdateDocuments is the block version of UpdateDocument.
func (w *Writer) UpdateDocuments(term Term, docs ...*document.Document) (int64, error) {
	return w.updateDocuments(&bufferedOp{kind: opDeleteTerm, term: term}, docs)
}

func (w *Writer) updateDocuments(del *bufferedOp, docs []*document.Document) (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if err := w.reserveDocs(len(docs)); err != nil {
		return 0, err
	}
	if err := w.control.WaitIfStalled(context.Background()); err != nil {
		w.pendingNumDocs.Add(-int64(len(docs)))
		return 0, err
	}

	t, seq, err := w.bufferDocuments(del, docs)
	if err != nil {
		if t != nil {
			// the buffer was checked out anyway
			_ = w.postUpdate(t)
		}
		return 0, err
	}
	if err := w.postUpdate(t); err != nil {
		return seq, err
	}
	return seq, nil
}

// bufferDocuments inverts docs into the calling goroutine's buffer. A
// document that fails keeps its doc id and is deleted on flush.
func (w *Writer) bufferDocuments(del *bufferedOp, docs []*document.Document) (_ *flushTicket, _ int64, err error) {
	w.docsMu.RLock()
	defer w.docsMu.RUnlock()
	if err := w.ensureOpen(); err != nil {
		w.pendingNumDocs.Add(-int64(len(docs)))
		return nil, 0, err
	}

	ts := w.threads.Obtain()
	defer w.threads.Release(ts)
	buf, _ := ts.Buffer().(*documentsBuffer)
	if buf == nil {
		buf = newDocumentsBuffer(w.dir, w.cfg.Codec, w.cfg.Analyzer, w.numbers, w.logger)
		ts.SetBuffer(buf)
	}

	first := buf.numDocs
	if len(docs) == 1 {
		err = buf.addDocument(docs[0])
	} else {
		err = buf.addDocuments(docs)
	}
	added := buf.numDocs - first
	if missing := len(docs) - added; missing > 0 {
		w.pendingNumDocs.Add(-int64(missing))
	}

	var seq int64
	if err == nil && del != nil {
		seq = w.ops.addUpdate(buf, added, *del)
	} else {
		seq = w.ops.nextDocSeqs(buf, added)
	}
	buf.setDocSeqs(first, seq)

	var t *flushTicket
	if fb := w.control.DoAfterDocument(ts, del != nil); fb != nil {
		t = w.newTicket(fb.(*documentsBuffer))
	}
	return t, seq, err
}

// DeleteDocuments deletes every document containing any of terms.
func (w *Writer) DeleteDocuments(terms ...Term) (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	ops := make([]bufferedOp, len(terms))
	for i, t := range terms {
		ops[i] = bufferedOp{kind: opDeleteTerm, term: t}
	}
	seq := w.ops.add(ops...)
	w.afterDelete()
	return seq, w.postUpdate(nil)
}

// UpdateNumericDocValue sets the numeric doc values field of every document
// containing term. The field must exist as a numeric doc values field.
func (w *Writer) UpdateNumericDocValue(term Term, field string, value int64) (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if !w.numbers.Contains(field, document.DocValuesNumeric) {
		return 0, errorf(ErrIllegalArgument, "can only update existing numeric doc values field %q", field)
	}
	seq := w.ops.add(bufferedOp{kind: opNumericUpdate, term: term, field: field, num: value})
	w.afterDelete()
	return seq, w.postUpdate(nil)
}

// UpdateBinaryDocValue sets the binary doc values field of every document
// containing term. The field must exist as a binary doc values field.
func (w *Writer) UpdateBinaryDocValue(term Term, field string, value []byte) (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	if !w.numbers.Contains(field, document.DocValuesBinary) {
		return 0, errorf(ErrIllegalArgument, "can only update existing binary doc values field %q", field)
	}
	v := append([]byte(nil), value...)
	seq := w.ops.add(bufferedOp{kind: opBinaryUpdate, term: term, field: field, bin: v})
	w.afterDelete()
	return seq, w.postUpdate(nil)
}

func (w *Writer) afterDelete() {
	ts := w.threads.Obtain()
	w.control.DoAfterDelete(ts)
	w.threads.Release(ts)
}

// DeleteAll drops every document and segment. Running merges are aborted.
// The change becomes durable with the next commit.
func (w *Writer) DeleteAll() (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	w.abortMerges()
	w.waitForRunningMerges()

	w.fullFlushMu.Lock()
	defer w.fullFlushMu.Unlock()
	w.docsMu.Lock()
	defer w.docsMu.Unlock()
	w.abortBuffersLocked()

	w.mu.Lock()
	defer w.mu.Unlock()
	pooling := w.pool.pooling
	if err := w.pool.close(); err != nil {
		return 0, err
	}
	w.pool = newReaderPool()
	w.pool.pooling = pooling
	w.segmentInfos.Segments = nil
	clear(w.segmentsToMerge)
	w.ops.clear()
	w.numbers.Clear()
	w.pendingNumDocs.Store(0)
	w.stopMerges = false
	w.changedLocked()
	if err := w.deleter.checkpoint(w.segmentInfos, false); err != nil {
		return 0, err
	}
	w.logger.Info("deleted all documents")
	return w.ops.next(), nil
}

// Flush writes every buffered document as new segments and applies the
// buffered deletes, without committing.
func (w *Writer) Flush() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	flushed, _, err := w.flushAllBuffers()
	if err != nil {
		return err
	}
	w.mu.Lock()
	err = w.applyOpsLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if flushed {
		w.maybeMerge(merge.TriggerFullFlush)
	}
	return nil
}

// postUpdate runs t and the flushes other goroutines left pending, then
// applies deletes if the flush policy asked for it.
func (w *Writer) postUpdate(t *flushTicket) error {
	flushed := false
	for {
		if t == nil {
			if t = w.nextPendingTicket(); t == nil {
				break
			}
		}
		seq, ops := w.ops.freeze()
		if err := w.runTicket(t, seq, ops); err != nil {
			return err
		}
		flushed = true
		t = nil
	}
	if w.control.GetAndResetApplyAllDeletes() {
		w.mu.Lock()
		var err error
		if !w.closing.Load() {
			err = w.applyOpsLocked()
		}
		w.mu.Unlock()
		if err != nil {
			return err
		}
	}
	if flushed {
		w.maybeMerge(merge.TriggerSegmentFlush)
	}
	return nil
}

func (w *Writer) nextPendingTicket() *flushTicket {
	w.docsMu.RLock()
	defer w.docsMu.RUnlock()
	if w.closing.Load() {
		return nil
	}
	buf := w.control.NextPendingFlush()
	if buf == nil {
		return nil
	}
	return w.newTicket(buf.(*documentsBuffer))
}

// newTicket registers a checked out buffer. The caller holds docsMu.
func (w *Writer) newTicket(buf *documentsBuffer) *flushTicket {
	t := &flushTicket{buf: buf, done: make(chan struct{})}
	w.ticketsMu.Lock()
	w.tickets[t] = struct{}{}
	w.ticketsMu.Unlock()
	return t
}

func (w *Writer) finishTicket(t *flushTicket, err error) {
	t.err = err
	w.ticketsMu.Lock()
	delete(w.tickets, t)
	w.ticketsMu.Unlock()
	close(t.done)
}

// inflightTickets snapshots the running flushes. The caller holds docsMu
// exclusively.
func (w *Writer) inflightTickets() []*flushTicket {
	w.ticketsMu.Lock()
	defer w.ticketsMu.Unlock()
	out := make([]*flushTicket, 0, len(w.tickets))
	for t := range w.tickets {
		out = append(out, t)
	}
	return out
}

// runTicket flushes the buffer of t and publishes the new segment. ops are
// the buffered ops up to sequence number frozen.
func (w *Writer) runTicket(t *flushTicket, frozen int64, ops []bufferedOp) (err error) {
	buf := t.buf
	start := time.Now()
	defer func() {
		w.ops.releaseBuffer(buf)
		w.control.DoAfterFlush(buf)
		if err != nil {
			w.pendingNumDocs.Add(-int64(buf.numDocs))
		}
		w.finishTicket(t, err)
	}()

	w.mu.Lock()
	name := w.newSegmentNameLocked()
	w.mu.Unlock()

	seg, err := buf.flush(name, frozen, ops)
	if err != nil {
		return fmt.Errorf("flush segment %s: %w", name, err)
	}
	if seg.delCount == seg.info.MaxDoc {
		w.deleter.deleteNewFiles(seg.info.Files())
		w.pendingNumDocs.Add(-int64(seg.info.MaxDoc))
		w.logger.Debug("dropped fully deleted segment", "segment", name)
		return nil
	}

	setDiagnostics(seg.info, codec.DiagSourceFlush, nil)
	if err := w.sealSegment(seg.info, w.cfg.Codec, w.cfg.UseCompoundFile); err != nil {
		w.deleter.deleteNewFiles(seg.info.Files())
		return fmt.Errorf("seal segment %s: %w", name, err)
	}

	w.mu.Lock()
	err = w.publishFlushedLocked(seg)
	w.mu.Unlock()
	if err != nil {
		w.deleter.deleteNewFiles(seg.info.Files())
		return err
	}

	size, _ := NewSegmentCommitInfo(seg.info, 0, -1, -1, -1).SizeInBytes()
	w.metrics.OnFlush(seg.info.MaxDoc, size, time.Since(start))
	w.logger.Info("flushed segment",
		"segment", name,
		"docs", seg.info.MaxDoc,
		"deleted", seg.delCount,
		"compound", seg.info.UseCompoundFile,
		"took", time.Since(start),
	)
	return nil
}

// sealSegment packs the files of si into a compound file if requested and
// writes the segment descriptor.
func (w *Writer) sealSegment(si *codec.SegmentInfo, c codec.Codec, compound bool) (err error) {
	var created []string
	defer func() {
		if err != nil {
			w.deleter.deleteNewFiles(created)
		}
	}()
	if compound {
		cfs := codec.SegmentFileName(si.Name, "", codec.CompoundExtension)
		cfe := codec.SegmentFileName(si.Name, "", codec.CompoundEntriesExtension)
		created = append(created, cfs, cfe)
		cw := store.NewCompoundWriter(w.dir, cfs, cfe)
		for _, f := range si.Files() {
			if err := cw.CopyFrom(w.dir, f); err != nil {
				_ = cw.Close()
				return err
			}
		}
		if err := cw.Close(); err != nil {
			return err
		}
		originals := si.Files()
		si.SetFiles([]string{cfs, cfe})
		si.UseCompoundFile = true
		w.deleter.deleteNewFiles(originals)
	}
	created = append(created, codec.SegmentFileName(si.Name, "", codec.SegmentInfoExtension))
	return c.SegmentInfoFormat().Write(w.dir, si)
}

// publishFlushedLocked appends a flushed segment to the segment list.
// Deletes resolved at flush time stay pending until the next commit.
func (w *Writer) publishFlushedLocked(seg *flushedSegment) error {
	if w.closing.Load() {
		return ErrAlreadyClosed
	}
	sci := NewSegmentCommitInfo(seg.info, 0, -1, -1, -1)
	rld := newReadersAndUpdates(sci, w.cfg.Codec, seg.resolvedSeq)
	if seg.liveDocs != nil {
		rld.liveDocs = seg.liveDocs
		rld.pendingDeleteCount = seg.delCount
	}
	w.pool.add(rld)
	w.segmentInfos.Segments = append(w.segmentInfos.Segments, sci)
	w.changedLocked()
	return w.deleter.checkpoint(w.segmentInfos, false)
}

// flushAllBuffers flushes every buffer that holds documents and waits for
// flushes other goroutines started before. It returns the sequence number
// every flushed document is covered by.
func (w *Writer) flushAllBuffers() (bool, int64, error) {
	w.fullFlushMu.Lock()
	defer w.fullFlushMu.Unlock()

	w.docsMu.Lock()
	others := w.inflightTickets()
	var mine []*flushTicket
	for _, b := range w.control.MarkForFullFlush() {
		mine = append(mine, w.newTicket(b.(*documentsBuffer)))
	}
	frozen, ops := w.ops.freeze()
	w.docsMu.Unlock()
	defer w.control.FinishFullFlush()

	var g errgroup.Group
	for _, t := range mine {
		g.Go(func() error { return w.runTicket(t, frozen, ops) })
	}
	err := g.Wait()
	for _, t := range others {
		<-t.done
	}
	if len(mine) > 0 {
		w.logger.Debug("full flush", "buffers", len(mine), "seq", frozen)
	}
	return len(mine) > 0, frozen, err
}

// applyOpsLocked resolves the buffered ops against every segment.
func (w *Writer) applyOpsLocked() error {
	deleted := 0
	for _, sci := range w.segmentInfos.Segments {
		n, err := w.resolveOpsLocked(w.pool.get(sci.Name()))
		if err != nil {
			return err
		}
		deleted += n
	}
	w.ops.prune(w.pool.minResolvedSeq())
	if deleted > 0 {
		w.metrics.OnDeletesApplied(deleted)
		w.logger.Debug("applied deletes", "deleted", deleted)
	}
	return nil
}

// resolveOpsLocked applies the ops the segment did not see yet and
// returns the number of newly deleted documents.
func (w *Writer) resolveOpsLocked(rld *readersAndUpdates) (int, error) {
	seq, ops := w.ops.since(rld.resolvedSeq)
	if len(ops) == 0 {
		rld.resolvedSeq = seq
		return 0, nil
	}
	r, err := rld.segmentReader()
	if err != nil {
		return 0, err
	}
	deleted, updated := 0, false
	for i := range ops {
		op := &ops[i]
		docs, err := termDocs(r, op.term)
		if err != nil {
			return deleted, err
		}
		for _, doc := range docs {
			switch op.kind {
			case opDeleteTerm:
				ok, err := rld.delete(doc)
				if err != nil {
					return deleted, err
				}
				if ok {
					deleted++
				}
			case opNumericUpdate:
				if rld.isLive(doc) {
					rld.addNumericUpdate(op.field, doc, op.num)
					updated = true
				}
			case opBinaryUpdate:
				if rld.isLive(doc) {
					rld.addBinaryUpdate(op.field, doc, op.bin)
					updated = true
				}
			}
		}
	}
	rld.resolvedSeq = seq
	if deleted > 0 || updated {
		w.changedLocked()
	}
	return deleted, nil
}

// termDocs lists every document of r containing term, deleted ones
// included.
func termDocs(r *SegmentReader, term Term) ([]int, error) {
	te, err := r.seek(term)
	if err != nil || te == nil {
		return nil, err
	}
	de, err := te.Docs(nil, nil, 0)
	if err != nil {
		return nil, err
	}
	var docs []int
	for {
		doc, err := de.NextDoc()
		if err != nil {
			return nil, err
		}
		if doc == codec.NoMoreDocs {
			return docs, nil
		}
		docs = append(docs, doc)
	}
}
