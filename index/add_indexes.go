package index

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/merge"
	"github.com/hupe1980/invgo/store"
)

// AddIndexes imports every segment of the newest commit of each dir. The
// segment files are copied under new names; segments written by a codec
// that can no longer write are rewritten with the configured codec
// instead. The source directories are locked while they are read and must
// not be the writer's own directory.
//
// Deletes and updates issued before AddIndexes do not touch the imported
// documents. The change becomes durable with the next commit.
func (w *Writer) AddIndexes(dirs ...store.Directory) (int64, error) {
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	start := time.Now()

	for _, d := range dirs {
		if d == w.dir {
			return 0, errorf(ErrIllegalArgument, "cannot add the writer's own directory")
		}
		lock, err := store.ObtainLockWithTimeout(context.Background(), d, codec.WriteLockName, w.cfg.WriteLockTimeout)
		if err != nil {
			return 0, fmt.Errorf("lock source index: %w", err)
		}
		defer lock.Close()
	}

	if err := w.flushAndApply(); err != nil {
		return 0, err
	}

	sources := make([]*SegmentInfos, 0, len(dirs))
	reserved := 0
	for _, d := range dirs {
		sis, err := ReadLatestSegmentInfos(d)
		if err != nil {
			return 0, fmt.Errorf("read source index: %w", err)
		}
		sources = append(sources, sis)
		reserved += sis.TotalMaxDoc()
	}
	if err := w.reserveDocs(reserved); err != nil {
		return 0, err
	}

	var (
		added   []*SegmentCommitInfo
		created []string
		kept    int
		success bool
	)
	defer func() {
		if !success {
			w.pendingNumDocs.Add(-int64(reserved))
			w.deleter.deleteNewFiles(created)
		}
	}()

	for i, sis := range sources {
		for _, sci := range sis.Segments {
			w.mu.Lock()
			name := w.newSegmentNameLocked()
			w.mu.Unlock()

			imported, files, err := w.importSegment(dirs[i], sci, name)
			created = append(created, files...)
			if err != nil {
				return 0, fmt.Errorf("import segment %s: %w", sci.Name(), err)
			}
			if imported != nil {
				added = append(added, imported)
				kept += imported.Info.MaxDoc
			}
		}
	}

	for _, sci := range added {
		c, err := codecFor(w.cfg.Codec, sci.Info.Codec)
		if err != nil {
			return 0, err
		}
		fis, err := readFieldInfos(c, sci)
		if err != nil {
			return 0, err
		}
		for _, fi := range fis.All() {
			if _, err := w.numbers.AddOrGet(fi.Name, fi.Number, fi.DocValuesType); err != nil {
				return 0, err
			}
		}
	}

	w.mu.Lock()
	if w.closing.Load() {
		w.mu.Unlock()
		return 0, ErrAlreadyClosed
	}
	resolved := w.ops.maxSeq()
	for _, sci := range added {
		c, err := codecFor(w.cfg.Codec, sci.Info.Codec)
		if err != nil {
			w.mu.Unlock()
			return 0, err
		}
		w.pool.add(newReadersAndUpdates(sci, c, resolved))
		w.segmentInfos.Segments = append(w.segmentInfos.Segments, sci)
	}
	w.changedLocked()
	err := w.deleter.checkpoint(w.segmentInfos, false)
	w.mu.Unlock()
	if err != nil {
		return 0, err
	}
	success = true
	// rewritten segments drop their deleted documents
	w.pendingNumDocs.Add(int64(kept - reserved))

	w.logger.Info("added indexes",
		"sources", len(dirs),
		"segments", len(added),
		"docs", kept,
		"took", time.Since(start),
	)
	w.maybeMerge(merge.TriggerExplicit)
	return w.ops.next(), nil
}

// importSegment copies sci from src as segment name. It returns the files
// it created even on error so the caller can remove them.
func (w *Writer) importSegment(src store.Directory, sci *SegmentCommitInfo, name string) (*SegmentCommitInfo, []string, error) {
	c, err := codecFor(w.cfg.Codec, sci.Info.Codec)
	if err != nil {
		return nil, nil, err
	}

	siFile := codec.SegmentFileName(sci.Name(), "", codec.SegmentInfoExtension)
	rename := func(f string) string { return name + store.StripSegmentName(f) }

	var created []string
	for _, f := range sci.Files() {
		if f == siFile {
			continue
		}
		dst := rename(f)
		created = append(created, dst)
		if err := store.Copy(w.dir, src, f, dst); err != nil {
			return nil, created, err
		}
	}

	info := &codec.SegmentInfo{
		Name:            name,
		ID:              sci.Info.ID,
		MaxDoc:          sci.Info.MaxDoc,
		Codec:           sci.Info.Codec,
		Version:         sci.Info.Version,
		UseCompoundFile: sci.Info.UseCompoundFile,
		Diagnostics:     maps.Clone(sci.Info.Diagnostics),
		Attributes:      maps.Clone(sci.Info.Attributes),
		Dir:             w.dir,
	}
	var files []string
	for _, f := range sci.Info.Files() {
		if f != siFile {
			files = append(files, rename(f))
		}
	}
	info.SetFiles(files)

	created = append(created, codec.SegmentFileName(name, "", codec.SegmentInfoExtension))
	err = c.SegmentInfoFormat().Write(w.dir, info)
	if errors.Is(err, codec.ErrReadOnly) {
		w.deleter.deleteNewFiles(created)
		return w.rewriteSegment(c, sci, name)
	}
	if err != nil {
		return nil, created, err
	}

	imported := NewSegmentCommitInfo(info, sci.DelCount, sci.DelGen, sci.FieldInfosGen, sci.DocValuesGen)
	for _, f := range sci.FieldInfosFiles {
		imported.FieldInfosFiles = append(imported.FieldInfosFiles, rename(f))
	}
	for field, fs := range sci.DocValuesUpdatesFiles {
		for _, f := range fs {
			imported.DocValuesUpdatesFiles[field] = append(imported.DocValuesUpdatesFiles[field], rename(f))
		}
	}
	return imported, created, nil
}

// rewriteSegment writes the live documents of sci as a new segment in the
// configured codec. A segment without live documents is dropped.
func (w *Writer) rewriteSegment(c codec.Codec, sci *SegmentCommitInfo, name string) (*SegmentCommitInfo, []string, error) {
	r, err := openSegmentReader(c, sci)
	if err != nil {
		return nil, nil, err
	}
	defer r.DecRef()

	tdir := store.NewTrackingDirectory(w.dir)
	merger := newSegmentMerger([]*SegmentReader{r}, tdir, w.cfg.Codec, w.numbers, nil, w.logger)
	si, _, err := merger.merge(context.Background(), name)
	if err != nil {
		return nil, tdir.CreatedFiles(), err
	}
	if si.MaxDoc == 0 {
		w.deleter.deleteNewFiles(tdir.CreatedFiles())
		return nil, nil, nil
	}
	si.SetFiles(tdir.CreatedFiles())
	si.Dir = w.dir
	setDiagnostics(si, codec.DiagSourceAdd, map[string]string{"sourceCodec": sci.Info.Codec})
	if err := w.sealSegment(si, w.cfg.Codec, w.cfg.UseCompoundFile); err != nil {
		return nil, nil, err
	}
	w.logger.Debug("rewrote imported segment",
		"segment", name,
		"from", sci.Info.Codec,
		"to", w.cfg.Codec.Name(),
		"docs", si.MaxDoc,
	)
	return NewSegmentCommitInfo(si, 0, -1, -1, -1), si.Files(), nil
}
