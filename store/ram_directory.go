package store

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RAMDirectory keeps all files in memory. It is meant for tests and small
// transient indexes.
type RAMDirectory struct {
	mu     sync.RWMutex
	files  map[string]*ramFile
	locks  map[string]struct{}
	closed atomic.Bool
}

type ramFile struct {
	mu   sync.RWMutex
	data []byte
}

func (f *ramFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.data = append(f.data, p...)
	f.mu.Unlock()
	return len(p), nil
}

func (f *ramFile) snapshot() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.data[:len(f.data):len(f.data)]
}

// NewRAMDirectory returns an empty in-memory directory.
func NewRAMDirectory() *RAMDirectory {
	return &RAMDirectory{
		files: make(map[string]*ramFile),
		locks: make(map[string]struct{}),
	}
}

// NewRAMDirectoryFrom copies every file of src into a new RAMDirectory.
func NewRAMDirectoryFrom(src Directory) (*RAMDirectory, error) {
	d := NewRAMDirectory()
	names, err := src.ListAll()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := Copy(d, src, name, name); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *RAMDirectory) String() string { return "RAMDirectory" }

func (d *RAMDirectory) ensureOpen() error {
	if d.closed.Load() {
		return ErrAlreadyClosed
	}
	return nil
}

func (d *RAMDirectory) ListAll() ([]string, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.files), nil
}

func (d *RAMDirectory) FileExists(name string) (bool, error) {
	if err := d.ensureOpen(); err != nil {
		return false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[name]
	return ok, nil
}

func (d *RAMDirectory) lookup(name string) (*ramFile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f, nil
}

func (d *RAMDirectory) FileLength(name string) (int64, error) {
	if err := d.ensureOpen(); err != nil {
		return 0, err
	}
	f, err := d.lookup(name)
	if err != nil {
		return 0, err
	}
	return int64(len(f.snapshot())), nil
}

func (d *RAMDirectory) DeleteFile(name string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	delete(d.files, name)
	return nil
}

func (d *RAMDirectory) CreateOutput(name string) (IndexOutput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	f := &ramFile{}
	d.files[name] = f
	return newChecksumOutput(name, f, nil, nil), nil
}

func (d *RAMDirectory) OpenInput(name string) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	f, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	return newBytesInput(name, f.snapshot(), nil), nil
}

func (d *RAMDirectory) Sync([]string) error { return d.ensureOpen() }

func (d *RAMDirectory) Rename(source, dest string) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[source]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, source)
	}
	delete(d.files, source)
	d.files[dest] = f
	return nil
}

func (d *RAMDirectory) ObtainLock(name string) (Lock, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, held := d.locks[name]; held {
		return nil, fmt.Errorf("%w: %s", ErrLockObtainFailed, name)
	}
	d.locks[name] = struct{}{}
	return &ramLock{dir: d, name: name}, nil
}

func (d *RAMDirectory) Close() error {
	d.closed.Store(true)
	return nil
}

// SizeInBytes returns the summed length of all files.
func (d *RAMDirectory) SizeInBytes() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var n int64
	for _, f := range d.files {
		n += int64(len(f.snapshot()))
	}
	return n
}

type ramLock struct {
	dir    *RAMDirectory
	name   string
	closed atomic.Bool
}

func (l *ramLock) EnsureValid() error {
	if l.closed.Load() {
		return fmt.Errorf("%w: lock instance already released: %s", ErrAlreadyClosed, l.name)
	}
	return nil
}

func (l *ramLock) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.dir.mu.Lock()
	delete(l.dir.locks, l.name)
	l.dir.mu.Unlock()
	return nil
}
