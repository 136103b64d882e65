package store

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// CompoundDataExtension is the extension of the compound data blob.
	CompoundDataExtension = "cfs"
	// CompoundEntriesExtension is the extension of the compound entry table.
	CompoundEntriesExtension = "cfe"

	compoundDataCodec    = "InvgoCompoundData"
	compoundEntriesCodec = "InvgoCompoundEntries"
	compoundVersion      = int32(0)
)

type compoundEntry struct {
	offset int64
	length int64
}

// ParseSegmentName returns the segment part of a file name, e.g. "_3" for
// "_3_1.liv" and "_3.cfs".
func ParseSegmentName(name string) string {
	if i := indexOfSegmentName(name); i >= 0 {
		return name[:i]
	}
	return name
}

// StripSegmentName removes the segment part of a file name, e.g. ".tim"
// for "_3.tim".
func StripSegmentName(name string) string {
	if i := indexOfSegmentName(name); i >= 0 {
		return name[i:]
	}
	return name
}

func indexOfSegmentName(name string) int {
	for i := 1; i < len(name); i++ {
		if name[i] == '_' || name[i] == '.' {
			return i
		}
	}
	return -1
}

// CompoundWriter bundles many logical files into a data blob and an entry
// table. It is itself a write-only Directory so compound files nest.
//
// Entries are appended in the order their outputs close. The first open
// output streams straight into the blob; outputs opened while another one
// is streaming are staged in a temporary file of the parent directory.
type CompoundWriter struct {
	dir         Directory
	dataName    string
	entriesName string
	segment     string

	mu       sync.Mutex
	data     IndexOutput
	entries  map[string]compoundEntry
	order    []string
	streamer bool
	staged   []stagedEntry
	seen     map[string]struct{}
	closed   bool
	tmpSeq   int
}

type stagedEntry struct {
	name    string
	tmpName string
}

// NewCompoundWriter returns a writer that produces dataName and
// entriesName in dir when closed.
func NewCompoundWriter(dir Directory, dataName, entriesName string) *CompoundWriter {
	return &CompoundWriter{
		dir:         dir,
		dataName:    dataName,
		entriesName: entriesName,
		segment:     ParseSegmentName(dataName),
		entries:     make(map[string]compoundEntry),
		seen:        make(map[string]struct{}),
	}
}

func (w *CompoundWriter) ensureData() error {
	if w.data != nil {
		return nil
	}
	out, err := w.dir.CreateOutput(w.dataName)
	if err != nil {
		return err
	}
	if err := WriteHeader(out, compoundDataCodec, compoundVersion); err != nil {
		_ = out.Close()
		return err
	}
	w.data = out
	return nil
}

// CreateOutput starts a new entry.
func (w *CompoundWriter) CreateOutput(name string) (IndexOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrAlreadyClosed
	}
	entry := StripSegmentName(name)
	if _, dup := w.seen[entry]; dup {
		return nil, fmt.Errorf("%w: %s in compound file %s", ErrFileExists, entry, w.dataName)
	}
	if err := w.ensureData(); err != nil {
		return nil, err
	}
	w.seen[entry] = struct{}{}

	if !w.streamer {
		w.streamer = true
		return &compoundOutput{w: w, entry: entry, name: name, start: w.data.Pos(), crc: newCRCWriter(w.data)}, nil
	}

	w.tmpSeq++
	tmpName := fmt.Sprintf("%s_%d.cfstmp", w.segment, w.tmpSeq)
	out, err := w.dir.CreateOutput(tmpName)
	if err != nil {
		delete(w.seen, entry)
		return nil, err
	}
	return &stagedOutput{IndexOutput: out, w: w, entry: entry, tmpName: tmpName}, nil
}

// CopyFrom appends src's file srcName as an entry.
func (w *CompoundWriter) CopyFrom(src Directory, srcName string) (err error) {
	in, err := src.OpenInput(srcName)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := w.CreateOutput(srcName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	return CopyBytes(out, in, in.Len())
}

func (w *CompoundWriter) finishStreamed(entry string, start, end int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[entry] = compoundEntry{offset: start, length: end - start}
	w.order = append(w.order, entry)
	w.streamer = false
	return w.drainStaged()
}

func (w *CompoundWriter) finishStaged(entry, tmpName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged = append(w.staged, stagedEntry{name: entry, tmpName: tmpName})
	if w.streamer {
		return nil
	}
	return w.drainStaged()
}

// drainStaged copies finished staged entries into the blob. Callers hold mu
// and no output is streaming.
func (w *CompoundWriter) drainStaged() error {
	var errs []error
	for _, s := range w.staged {
		if err := w.appendFile(s); err != nil {
			errs = append(errs, err)
		}
		if err := w.dir.DeleteFile(s.tmpName); err != nil && !errors.Is(err, ErrFileNotFound) {
			errs = append(errs, err)
		}
	}
	w.staged = w.staged[:0]
	return errors.Join(errs...)
}

func (w *CompoundWriter) appendFile(s stagedEntry) error {
	in, err := w.dir.OpenInput(s.tmpName)
	if err != nil {
		return err
	}
	defer in.Close()
	start := w.data.Pos()
	if err := CopyBytes(w.data, in, in.Len()); err != nil {
		return err
	}
	w.entries[s.name] = compoundEntry{offset: start, length: in.Len()}
	w.order = append(w.order, s.name)
	return nil
}

// ListAll returns the full names of the entries written so far.
func (w *CompoundWriter) ListAll() ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.entries))
	for _, e := range sortedKeys(w.entries) {
		names = append(names, w.segment+e)
	}
	return names, nil
}

func (w *CompoundWriter) FileExists(name string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[StripSegmentName(name)]
	return ok, nil
}

func (w *CompoundWriter) FileLength(name string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[StripSegmentName(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s in compound file %s", ErrFileNotFound, name, w.dataName)
	}
	return e.length, nil
}

func (w *CompoundWriter) DeleteFile(string) error { return ErrUnsupported }

func (w *CompoundWriter) OpenInput(string) (IndexInput, error) { return nil, ErrUnsupported }

func (w *CompoundWriter) Sync([]string) error { return nil }

func (w *CompoundWriter) Rename(string, string) error { return ErrUnsupported }

func (w *CompoundWriter) ObtainLock(string) (Lock, error) { return nil, ErrUnsupported }

// Close seals the blob and writes the entry table. All entry outputs must
// be closed first.
func (w *CompoundWriter) Close() (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if w.streamer {
		return fmt.Errorf("store: compound file %s closed with an open entry", w.dataName)
	}
	w.closed = true

	if err := w.ensureData(); err != nil {
		return err
	}
	if err := WriteFooter(w.data); err != nil {
		_ = w.data.Close()
		return err
	}
	if err := w.data.Close(); err != nil {
		return err
	}

	out, err := w.dir.CreateOutput(w.entriesName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if err := WriteHeader(out, compoundEntriesCodec, compoundVersion); err != nil {
		return err
	}
	e := NewEncoder(out)
	e.Int(len(w.order))
	for _, name := range w.order {
		entry := w.entries[name]
		e.String(name)
		e.Int64(entry.offset)
		e.Int64(entry.length)
	}
	if err := e.Err(); err != nil {
		return err
	}
	return WriteFooter(out)
}

// compoundOutput streams an entry straight into the blob.
type compoundOutput struct {
	w      *CompoundWriter
	entry  string
	name   string
	start  int64
	crc    *crcWriter
	closed bool
}

func (o *compoundOutput) Name() string     { return o.name }
func (o *compoundOutput) Pos() int64       { return o.w.data.Pos() - o.start }
func (o *compoundOutput) Checksum() uint32 { return o.crc.sum }

func (o *compoundOutput) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrAlreadyClosed
	}
	return o.crc.Write(p)
}

func (o *compoundOutput) WriteByte(b byte) error {
	_, err := o.Write([]byte{b})
	return err
}

func (o *compoundOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.w.finishStreamed(o.entry, o.start, o.w.data.Pos())
}

// stagedOutput writes to a temporary file appended on close.
type stagedOutput struct {
	IndexOutput
	w       *CompoundWriter
	entry   string
	tmpName string
	closed  bool
}

func (o *stagedOutput) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.IndexOutput.Close(); err != nil {
		return err
	}
	return o.w.finishStaged(o.entry, o.tmpName)
}

// CompoundReader is a read-only Directory over a compound file.
type CompoundReader struct {
	dataName string
	segment  string
	handle   IndexInput
	entries  map[string]compoundEntry
	closed   bool
	mu       sync.Mutex
}

// OpenCompound opens the compound file made of dataName and entriesName.
func OpenCompound(dir Directory, dataName, entriesName string) (*CompoundReader, error) {
	entries, err := readCompoundEntries(dir, entriesName)
	if err != nil {
		return nil, err
	}
	handle, err := dir.OpenInput(dataName)
	if err != nil {
		return nil, err
	}
	if _, err := CheckHeader(handle, compoundDataCodec, compoundVersion, compoundVersion); err != nil {
		_ = handle.Close()
		return nil, err
	}
	if _, err := RetrieveChecksum(handle); err != nil {
		_ = handle.Close()
		return nil, err
	}
	for name, e := range entries {
		if e.offset < 0 || e.length < 0 || e.offset+e.length > handle.Len()-FooterLength {
			_ = handle.Close()
			return nil, Corruptf(entriesName, "entry %s [%d,+%d) out of bounds of %s", name, e.offset, e.length, dataName)
		}
	}
	return &CompoundReader{
		dataName: dataName,
		segment:  ParseSegmentName(dataName),
		handle:   handle,
		entries:  entries,
	}, nil
}

func readCompoundEntries(dir Directory, entriesName string) (map[string]compoundEntry, error) {
	in, err := dir.OpenInput(entriesName)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	if _, err := ChecksumEntireFile(in); err != nil {
		return nil, err
	}
	if err := in.SeekTo(0); err != nil {
		return nil, err
	}
	if _, err := CheckHeader(in, compoundEntriesCodec, compoundVersion, compoundVersion); err != nil {
		return nil, err
	}
	d := NewDecoder(in)
	n := d.Int()
	entries := make(map[string]compoundEntry, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		name := d.String()
		e := compoundEntry{offset: d.Int64(), length: d.Int64()}
		if _, dup := entries[name]; dup && d.Err() == nil {
			return nil, Corruptf(entriesName, "duplicate entry %s", name)
		}
		entries[name] = e
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *CompoundReader) String() string { return "CompoundReader(" + r.dataName + ")" }

func (r *CompoundReader) ensureOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrAlreadyClosed
	}
	return nil
}

func (r *CompoundReader) ListAll() ([]string, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.entries))
	for _, e := range sortedKeys(r.entries) {
		names = append(names, r.segment+e)
	}
	return names, nil
}

func (r *CompoundReader) FileExists(name string) (bool, error) {
	if err := r.ensureOpen(); err != nil {
		return false, err
	}
	_, ok := r.entries[StripSegmentName(name)]
	return ok, nil
}

func (r *CompoundReader) FileLength(name string) (int64, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	e, ok := r.entries[StripSegmentName(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s in compound file %s", ErrFileNotFound, name, r.dataName)
	}
	return e.length, nil
}

// OpenInput returns an independent handle over one entry.
func (r *CompoundReader) OpenInput(name string) (IndexInput, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	e, ok := r.entries[StripSegmentName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in compound file %s", ErrFileNotFound, name, r.dataName)
	}
	return r.handle.Slice(name, e.offset, e.length)
}

func (r *CompoundReader) DeleteFile(string) error                 { return ErrUnsupported }
func (r *CompoundReader) CreateOutput(string) (IndexOutput, error) { return nil, ErrUnsupported }
func (r *CompoundReader) Sync([]string) error                     { return ErrUnsupported }
func (r *CompoundReader) Rename(string, string) error             { return ErrUnsupported }
func (r *CompoundReader) ObtainLock(string) (Lock, error)         { return nil, ErrUnsupported }

// Close releases the data handle. Entry handles become invalid.
func (r *CompoundReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.handle.Close()
}

var (
	_ Directory = (*CompoundWriter)(nil)
	_ Directory = (*CompoundReader)(nil)
)
