package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/internal/flush"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// Writer adds, updates and deletes documents of an index and commits the
// result. A directory has at most one open Writer, guarded by the write
// lock. All methods are safe for concurrent use.
type Writer struct {
	cfg     Config
	dir     store.Directory
	lock    store.Lock
	logger  *slog.Logger
	metrics MetricsCollector

	scheduler merge.Scheduler

	// mu guards the segment list and everything derived from it.
	mu                    sync.Mutex
	segmentInfos          *SegmentInfos
	rollbackSegments      *SegmentInfos
	deleter               *fileDeleter
	pool                  *readerPool
	numbers               *codec.FieldNumbers
	changeCount           int64
	lastCommitChangeCount int64

	pendingMerges   []*merge.OneMerge
	runningMerges   map[*merge.OneMerge]struct{}
	mergingSegments map[string]bool
	segmentsToMerge map[string]bool
	mergesChanged   chan struct{}
	mergeErrs       *multierror.Error
	// stopMerges rejects new merges while DeleteAll or Rollback run.
	stopMerges bool

	// commitMu serializes PrepareCommit, Commit and Rollback and guards
	// the pending commit.
	commitMu                 sync.Mutex
	pendingCommit            *SegmentInfos
	pendingCommitSeq         int64
	pendingCommitChangeCount int64

	// docsMu is held shared while documents are added and exclusively
	// while a full flush freezes the buffers.
	docsMu      sync.RWMutex
	fullFlushMu sync.Mutex
	threads     *flush.Pool
	control     *flush.Control
	ops         *opQueue

	ticketsMu sync.Mutex
	tickets   map[*flushTicket]struct{}

	pendingNumDocs atomic.Int64

	closeMu sync.Mutex
	closing atomic.Bool
	closed  atomic.Bool
}

// Open opens a writer on dir. Depending on the open mode it appends to the
// newest commit (or the configured IndexCommit) or starts an empty index.
func Open(dir store.Directory, opts ...Option) (_ *Writer, err error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MergeScheduler == nil {
		cfg.MergeScheduler = merge.NewConcurrent(merge.WithSchedulerLogger(cfg.Logger))
	}

	lock, err := store.ObtainLockWithTimeout(context.Background(), dir, codec.WriteLockName, cfg.WriteLockTimeout)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Close()
		}
	}()

	w := &Writer{
		cfg:             cfg,
		dir:             dir,
		lock:            lock,
		logger:          cfg.Logger.With("component", "writer"),
		metrics:         cfg.Metrics,
		scheduler:       cfg.MergeScheduler,
		runningMerges:   make(map[*merge.OneMerge]struct{}),
		mergingSegments: make(map[string]bool),
		segmentsToMerge: make(map[string]bool),
		mergesChanged:   make(chan struct{}),
		tickets:         make(map[*flushTicket]struct{}),
	}

	files, err := dir.ListAll()
	if err != nil {
		return nil, err
	}
	latestGen := max(LastCommitGeneration(files), readSegmentsGen(dir))
	indexExists := latestGen != -1
	create := cfg.OpenMode == Create || (cfg.OpenMode == CreateOrAppend && !indexExists)

	var sis *SegmentInfos
	switch {
	case create:
		sis = NewSegmentInfos()
		if indexExists {
			// the empty commit supersedes the existing ones
			if old, err := ReadLatestSegmentInfos(dir); err == nil {
				sis.Counter = old.Counter
				sis.Version = old.Version + 1
			}
			sis.skipGenerations(latestGen)
		}
		w.changeCount++
	case !indexExists:
		return nil, fmt.Errorf("%w in %v: open mode %s requires an existing index", ErrNoCommits, dir, cfg.OpenMode)
	case cfg.IndexCommit != nil:
		if cfg.IndexCommit.Directory() != dir {
			return nil, errorf(ErrIllegalArgument, "index commit %s belongs to another directory", cfg.IndexCommit.SegmentsFileName())
		}
		if sis, err = ReadSegmentInfos(dir, cfg.IndexCommit.SegmentsFileName()); err != nil {
			return nil, err
		}
		sis.skipGenerations(latestGen)
		w.changeCount++
		w.logger.Info("opened on commit", "file", cfg.IndexCommit.SegmentsFileName())
	default:
		if sis, err = ReadLatestSegmentInfos(dir); err != nil {
			return nil, err
		}
	}

	if w.numbers, err = loadFieldNumbers(sis, cfg.Codec); err != nil {
		return nil, err
	}
	w.segmentInfos = sis
	w.rollbackSegments = sis.Clone()

	w.deleter, err = newFileDeleter(dir, cfg.DeletionPolicy, sis, cfg.Logger, indexExists)
	if err != nil {
		return nil, err
	}
	if w.deleter.startingCommitDeleted {
		// the policy removed the commit we started from; make sure the
		// next commit is written
		w.changeCount++
	}

	w.pool = newReaderPool()
	for _, sci := range sis.Segments {
		c, err := codecFor(cfg.Codec, sci.Info.Codec)
		if err != nil {
			_ = w.deleter.close()
			return nil, err
		}
		w.pool.add(newReadersAndUpdates(sci, c, 0))
	}
	w.pendingNumDocs.Store(int64(sis.TotalMaxDoc()))

	w.ops = newOpQueue(0)
	w.threads = flush.NewPool(cfg.MaxThreadStates)
	w.control = flush.NewControl(cfg.flushConfig(), w.threads,
		flush.WithLogger(cfg.Logger),
		flush.WithDeleteStats(w.ops.stats),
		flush.WithStallHook(w.metrics.OnStall),
	)

	w.logger.Info("writer opened",
		"mode", cfg.OpenMode,
		"create", create,
		"segments", sis.Len(),
		"docs", sis.TotalMaxDoc(),
		"generation", sis.LastGeneration(),
		"codec", cfg.Codec.Name(),
	)
	return w, nil
}

// codecFor returns the codec named name, preferring the configured one.
func codecFor(configured codec.Codec, name string) (codec.Codec, error) {
	if configured != nil && configured.Name() == name {
		return configured, nil
	}
	return codec.Lookup(name)
}

// loadFieldNumbers registers the fields of every segment so new segments
// number them consistently.
func loadFieldNumbers(sis *SegmentInfos, configured codec.Codec) (*codec.FieldNumbers, error) {
	numbers := codec.NewFieldNumbers()
	for _, sci := range sis.Segments {
		c, err := codecFor(configured, sci.Info.Codec)
		if err != nil {
			return nil, err
		}
		fis, err := readFieldInfos(c, sci)
		if err != nil {
			return nil, err
		}
		for _, fi := range fis.All() {
			if _, err := numbers.AddOrGet(fi.Name, fi.Number, fi.DocValuesType); err != nil {
				return nil, err
			}
		}
	}
	return numbers, nil
}

// readFieldInfos reads the current schema of a segment without opening it.
func readFieldInfos(c codec.Codec, sci *SegmentCommitInfo) (*codec.FieldInfos, error) {
	if sci.FieldInfosGen != -1 {
		return c.FieldInfosFormat().Read(sci.Info.Dir, sci.Name(), sci.FieldInfosGen)
	}
	if !sci.Info.UseCompoundFile {
		return c.FieldInfosFormat().Read(sci.Info.Dir, sci.Name(), -1)
	}
	cfs, err := store.OpenCompound(sci.Info.Dir,
		codec.SegmentFileName(sci.Name(), "", codec.CompoundExtension),
		codec.SegmentFileName(sci.Name(), "", codec.CompoundEntriesExtension))
	if err != nil {
		return nil, err
	}
	defer cfs.Close()
	return c.FieldInfosFormat().Read(cfs, sci.Name(), -1)
}

func (w *Writer) ensureOpen() error {
	if w.closing.Load() || w.closed.Load() {
		return ErrAlreadyClosed
	}
	return nil
}

// Config returns the writer's configuration.
func (w *Writer) Config() Config { return w.cfg }

// Directory is the directory the writer writes to.
func (w *Writer) Directory() store.Directory { return w.dir }

// newSegmentNameLocked reserves the name of the next segment.
func (w *Writer) newSegmentNameLocked() string {
	name := codec.SegmentName(w.segmentInfos.Counter)
	w.segmentInfos.Counter++
	w.changeCount++
	return name
}

// changedLocked records a change that the next commit must persist.
func (w *Writer) changedLocked() {
	w.changeCount++
	w.segmentInfos.Changed()
}

// setDiagnostics records how and where a segment was written.
func setDiagnostics(si *codec.SegmentInfo, source string, details map[string]string) {
	si.Diagnostics[codec.DiagSource] = source
	si.Diagnostics[codec.DiagVersion] = codec.Version
	si.Diagnostics[codec.DiagOS] = runtime.GOOS
	si.Diagnostics[codec.DiagArch] = runtime.GOARCH
	si.Diagnostics[codec.DiagGoVersion] = runtime.Version()
	si.Diagnostics[codec.DiagTimestamp] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	maps.Copy(si.Diagnostics, details)
}

// reserveDocs accounts n new documents against MaxDocs.
func (w *Writer) reserveDocs(n int) error {
	if total := w.pendingNumDocs.Add(int64(n)); total > MaxDocs {
		w.pendingNumDocs.Add(-int64(n))
		return fmt.Errorf("%w: number of documents in the index cannot exceed %d", ErrTooManyDocs, MaxDocs)
	}
	return nil
}

// MaxDoc counts every document of the writer including buffered and
// deleted ones.
func (w *Writer) MaxDoc() int { return int(w.pendingNumDocs.Load()) }

// NumDocs counts the live documents. Buffered documents count as live and
// buffered deletes that were not applied yet are ignored.
func (w *Writer) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, sci := range w.segmentInfos.Segments {
		if rld := w.pool.get(sci.Name()); rld != nil {
			n += rld.numDocs()
		} else {
			n += sci.NumDocs()
		}
	}
	return n + int(w.pendingNumDocs.Load()) - w.segmentInfos.TotalMaxDoc()
}

// SegmentCount is the number of segments in the writer's segment list.
func (w *Writer) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentInfos.Len()
}

// SegmentInfos returns a copy of the writer's current segment list.
func (w *Writer) SegmentInfos() *SegmentInfos {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentInfos.Clone()
}

// SetCommitData replaces the user data recorded by the next commit.
func (w *Writer) SetCommitData(data map[string]string) error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.segmentInfos.UserData = maps.Clone(data)
	if w.segmentInfos.UserData == nil {
		w.segmentInfos.UserData = make(map[string]string)
	}
	w.changedLocked()
	return nil
}

// CommitData returns the user data the next commit records.
func (w *Writer) CommitData() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.segmentInfos.UserData)
}

// HasUncommittedChanges reports whether a commit would write anything.
func (w *Writer) HasUncommittedChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changeCount != w.lastCommitChangeCount ||
		w.control.NetBytes() > 0 ||
		w.pool.hasPendingChanges() ||
		w.ops.hasOpsAfter(w.pool.minResolvedSeq())
}

// DeleteUnusedFiles asks the deletion policy again and removes files of
// commits it released, e.g. after a snapshot was released.
func (w *Writer) DeleteUnusedFiles() error {
	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.deleter.revisitPolicy()
}

// Close commits pending changes, waits for running merges and releases
// the write lock. With CommitOnClose disabled it behaves like Rollback.
// Closing a closed writer is a no-op.
func (w *Writer) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed.Load() {
		return nil
	}
	if !w.cfg.CommitOnClose {
		return w.rollbackInternal()
	}

	var result *multierror.Error
	if err := w.WaitForMerges(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := w.Commit(); err != nil {
		result = multierror.Append(result, err)
	}
	if result.ErrorOrNil() != nil {
		w.logger.Warn("close failed, rolling back", "error", result)
		if err := w.rollbackInternal(); err != nil {
			result = multierror.Append(result, err)
		}
		return result.ErrorOrNil()
	}
	return w.shutdown()
}

// shutdown releases every resource after a successful commit.
func (w *Writer) shutdown() error {
	w.closing.Store(true)
	var result *multierror.Error
	if err := w.scheduler.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.control.Close()

	w.mu.Lock()
	if err := w.pool.close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.deleter.close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.mu.Unlock()

	if err := w.lock.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.closed.Store(true)
	w.logger.Info("writer closed")
	return result.ErrorOrNil()
}

// Rollback discards every change since the last commit, aborts running
// merges and closes the writer.
func (w *Writer) Rollback() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed.Load() {
		return nil
	}
	return w.rollbackInternal()
}

func (w *Writer) rollbackInternal() error {
	w.logger.Info("rollback")
	w.closing.Store(true)

	var result *multierror.Error
	w.abortMerges()
	if err := w.scheduler.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.waitForRunningMerges()
	w.docsMu.Lock()
	w.abortBuffersLocked()
	w.docsMu.Unlock()

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	w.mu.Lock()
	if pc := w.pendingCommit; pc != nil {
		pc.rollbackCommit(w.dir)
		w.deleter.decRef(pc.Files(false))
		w.pendingCommit = nil
	}
	w.ops.clear()
	if err := w.pool.close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.segmentInfos.replaceFrom(w.rollbackSegments)
	w.pendingNumDocs.Store(int64(w.segmentInfos.TotalMaxDoc()))
	if err := w.deleter.checkpoint(w.segmentInfos, false); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.deleter.refresh(""); err != nil {
		result = multierror.Append(result, err)
	}
	if err := w.deleter.close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.mu.Unlock()

	w.control.Close()
	if err := w.lock.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	w.closed.Store(true)
	return result.ErrorOrNil()
}

// abortBuffersLocked drops every buffered document and waits for running
// flushes. The caller holds docsMu exclusively.
func (w *Writer) abortBuffersLocked() {
	for _, ts := range w.threads.States() {
		ts.Lock()
		if buf, ok := ts.Buffer().(*documentsBuffer); ok && buf != nil {
			w.ops.releaseBuffer(buf)
			w.pendingNumDocs.Add(-int64(buf.numDocs))
		}
		w.control.DoOnAbort(ts)
		ts.Unlock()
	}
	for _, t := range w.inflightTickets() {
		<-t.done
	}
}

func (w *Writer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return fmt.Sprintf("Writer(%v %s)", w.dir, w.segmentInfos)
}

// isAborted reports whether err is the outcome of an aborted merge.
func isAborted(err error) bool { return errors.Is(err, merge.ErrAborted) }
