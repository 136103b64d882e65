package fs

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("fs: injected fault")

// Fault describes the failure behaviour for files whose name matches a rule.
type Fault struct {
	FailAfterBytes int64 // fail writes that would grow the file past this size; 0 disables
	FailOnOpen     bool
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyFS wraps a FileSystem and injects failures.
//
// Rules are matched by substring against the file path; the longest
// matching pattern wins. A global byte limit across all files simulates a
// full disk and fails with ENOSPC wrapped in *os.PathError, exactly as the
// kernel reports it.
type FaultyFS struct {
	FS FileSystem

	mu          sync.Mutex
	rules       map[string]Fault
	written     int64
	globalLimit int64
	failRename  bool
	failRemove  bool
}

// NewFaultyFS creates a FaultyFS over fsys (or Default if nil).
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}
	return &FaultyFS{
		FS:          fsys,
		rules:       make(map[string]Fault),
		globalLimit: -1,
	}
}

// AddRule registers a fault for paths containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes all rules and the global limit.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = make(map[string]Fault)
	f.globalLimit = -1
	f.failRename = false
	f.failRemove = false
}

// SetLimit sets the total number of bytes all files may receive before
// writes fail with ENOSPC. A negative limit disables it.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalLimit = limit
}

// SetFailRename makes every Rename fail.
func (f *FaultyFS) SetFailRename(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = fail
}

// SetFailRemove makes every Remove fail.
func (f *FaultyFS) SetFailRemove(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemove = fail
}

// Written returns the bytes written through this FaultyFS.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *FaultyFS) match(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := ""
	var fault Fault
	found := false
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) && len(pattern) >= len(best) {
			best, fault, found = pattern, rule, true
		}
	}
	return fault, found
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	fault, _ := f.match(name)
	if fault.FailOnOpen {
		return nil, &os.PathError{Op: "open", Path: name, Err: fault.err()}
	}
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f, name: name, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error {
	f.mu.Lock()
	fail := f.failRemove
	f.mu.Unlock()
	if fail {
		return &os.PathError{Op: "remove", Path: name, Err: ErrInjected}
	}
	return f.FS.Remove(name)
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	fail := f.failRename
	f.mu.Unlock()
	if fail {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrInjected}
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error)       { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error)   { return f.FS.ReadDir(name) }
func (f *FaultyFS) SyncDir(path string) error                    { return f.FS.SyncDir(path) }
func (f *FaultyFS) Lock(name string) (io.Closer, error)          { return f.FS.Lock(name) }

// reserve accounts n bytes against the global limit.
func (f *FaultyFS) reserve(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.globalLimit >= 0 && f.written+n > f.globalLimit {
		return false
	}
	f.written += n
	return true
}

type faultyFile struct {
	File
	fs      *FaultyFS
	name    string
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailAfterBytes > 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, &os.PathError{Op: "write", Path: ff.name, Err: ff.fault.err()}
	}
	if !ff.fs.reserve(int64(len(p))) {
		return 0, &os.PathError{Op: "write", Path: ff.name, Err: syscall.ENOSPC}
	}
	n, err := ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return &os.PathError{Op: "sync", Path: ff.name, Err: ff.fault.err()}
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return &os.PathError{Op: "close", Path: ff.name, Err: ff.fault.err()}
	}
	return ff.File.Close()
}
