package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hupe1980/invgo/internal/fs"
)

// FSOption configures an FSDirectory.
type FSOption func(*fsOptions)

type fsOptions struct {
	fsys   fs.FileSystem
	logger *slog.Logger
}

// WithFileSystem replaces the local file system, e.g. with a fault-injecting one.
func WithFileSystem(fsys fs.FileSystem) FSOption {
	return func(o *fsOptions) {
		o.fsys = fsys
	}
}

// WithLogger sets the logger used for lock and sync diagnostics.
func WithLogger(l *slog.Logger) FSOption {
	return func(o *fsOptions) {
		o.logger = l
	}
}

// FSDirectory stores files in a local directory and reads them with
// buffered positional reads.
type FSDirectory struct {
	path   string
	fsys   fs.FileSystem
	logger *slog.Logger
	closed atomic.Bool

	mu sync.Mutex
	// files written since their last sync
	stale map[string]struct{}
}

// NewFSDirectory opens (creating if needed) the directory at path.
func NewFSDirectory(path string, opts ...FSOption) (*FSDirectory, error) {
	o := fsOptions{fsys: fs.Default, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := o.fsys.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory %s: %w", abs, err)
	}
	return &FSDirectory{
		path:   abs,
		fsys:   o.fsys,
		logger: o.logger.With("component", "store", "dir", abs),
		stale:  make(map[string]struct{}),
	}, nil
}

// Path returns the absolute directory path.
func (d *FSDirectory) Path() string { return d.path }

func (d *FSDirectory) String() string { return "FSDirectory@" + d.path }

func (d *FSDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrAlreadyClosed
	}
	return nil
}

func (d *FSDirectory) file(name string) string { return filepath.Join(d.path, name) }

func (d *FSDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	entries, err := d.fsys.ReadDir(d.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDirectory) FileExists(name string) (bool, error) {
	if err := d.ensureOpen(); err != nil {
		return false, err
	}
	_, err := d.fsys.Stat(d.file(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (d *FSDirectory) FileLength(name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	fi, err := d.fsys.Stat(d.file(name))
	if err != nil {
		return 0, mapNotFound(name, err)
	}
	return fi.Size(), nil
}

func (d *FSDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := d.fsys.Remove(d.file(name)); err != nil {
		return mapNotFound(name, err)
	}
	d.mu.Lock()
	delete(d.stale, name)
	d.mu.Unlock()
	return nil
}

func (d *FSDirectory) CreateOutput(name string) (IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := d.fsys.OpenFile(d.file(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileExists, name)
		}
		return nil, mapDiskFull(name, err)
	}
	d.mu.Lock()
	d.stale[name] = struct{}{}
	d.mu.Unlock()

	mapErr := func(err error) error { return mapDiskFull(name, err) }
	return newChecksumOutput(name, f, func(flushErr error) error {
		if err := f.Close(); err != nil && flushErr == nil {
			return err
		}
		return nil
	}, mapErr), nil
}

func (d *FSDirectory) OpenInput(name string) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := d.fsys.OpenFile(d.file(name), os.O_RDONLY, 0)
	if err != nil {
		return nil, mapNotFound(name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newReaderAtInput(name, f, fi.Size(), f.Close), nil
}

func (d *FSDirectory) Sync(names []string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	toSync := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := d.stale[name]; ok {
			toSync = append(toSync, name)
		}
	}
	d.mu.Unlock()

	for _, name := range toSync {
		if err := d.fsyncFile(name); err != nil {
			return err
		}
		d.mu.Lock()
		delete(d.stale, name)
		d.mu.Unlock()
	}
	return nil
}

func (d *FSDirectory) fsyncFile(name string) error {
	f, err := d.fsys.OpenFile(d.file(name), os.O_RDWR, 0)
	if err != nil {
		return mapNotFound(name, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return mapDiskFull(name, err)
	}
	return f.Close()
}

func (d *FSDirectory) Rename(source, dest string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	if err := d.fsys.Rename(d.file(source), d.file(dest)); err != nil {
		return mapNotFound(source, err)
	}
	d.mu.Lock()
	if _, ok := d.stale[source]; ok {
		delete(d.stale, source)
		d.stale[dest] = struct{}{}
	}
	d.mu.Unlock()
	return d.fsys.SyncDir(d.path)
}

// ObtainLock takes an exclusive lock backed by an OS file lock. A lock is
// also exclusive within the process.
func (d *FSDirectory) ObtainLock(name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	path := d.file(name)
	if !heldLocks.add(path) {
		return nil, fmt.Errorf("%w: %s: lock held by this process", ErrLockObtainFailed, path)
	}
	closer, err := d.fsys.Lock(path)
	if err != nil {
		heldLocks.remove(path)
		if errors.Is(err, fs.ErrLocked) {
			return nil, fmt.Errorf("%w: %s: lock held by another program", ErrLockObtainFailed, path)
		}
		return nil, err
	}
	d.logger.Debug("lock obtained", "lock", name)
	return &fsLock{path: path, fsys: d.fsys, closer: closer}, nil
}

func (d *FSDirectory) Close() error {
	d.closed.Store(true)
	return nil
}

type fsLock struct {
	path   string
	fsys   fs.FileSystem
	closer io.Closer
	closed atomic.Bool
}

func (l *fsLock) EnsureValid() error {
	if l.closed.Load() {
		return fmt.Errorf("%w: lock instance already released: %s", ErrAlreadyClosed, l.path)
	}
	if !heldLocks.contains(l.path) {
		return fmt.Errorf("store: lock path unexpectedly cleared from map: %s", l.path)
	}
	if _, err := l.fsys.Stat(l.path); err != nil {
		return fmt.Errorf("store: lock file %s is gone: %w", l.path, err)
	}
	return nil
}

func (l *fsLock) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	defer heldLocks.remove(l.path)
	return l.closer.Close()
}

type lockSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

var heldLocks = &lockSet{paths: make(map[string]struct{})}

func (s *lockSet) add(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.paths[path]; ok {
		return false
	}
	s.paths[path] = struct{}{}
	return true
}

func (s *lockSet) remove(path string) {
	s.mu.Lock()
	delete(s.paths, path)
	s.mu.Unlock()
}

func (s *lockSet) contains(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paths[path]
	return ok
}

func mapNotFound(name string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return err
}

func mapDiskFull(name string, err error) error {
	if err == nil {
		return nil
	}
	var dfe *DiskFullError
	if errors.As(err, &dfe) {
		return err
	}
	if errors.Is(err, syscall.ENOSPC) {
		return &DiskFullError{Resource: name, Err: err}
	}
	return err
}
