package fs

import (
	"errors"
	"io"
	"os"
)

// ErrLocked is returned by Lock when another holder owns the lock.
var ErrLocked = errors.New("fs: lock held by another owner")

// File represents an open file.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker
	Sync() error
	Stat() (os.FileInfo, error)
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	ReadDir(name string) ([]os.DirEntry, error)
	// SyncDir makes directory entry changes (creates, renames) durable.
	SyncDir(path string) error
	// Lock takes an exclusive, non-blocking lock on the named file,
	// creating it if needed. It returns ErrLocked if the lock is held.
	Lock(name string) (io.Closer, error)
}

// LocalFS implements FileSystem using the os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (LocalFS) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

// SyncDir fsyncs a directory so renames into it survive a crash.
func (LocalFS) SyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isUnsupportedDirSync(err) {
		return err
	}
	return nil
}

// Lock acquires an exclusive advisory lock on name.
func (LocalFS) Lock(name string) (io.Closer, error) {
	return lockFile(name)
}

// Default is the local file system.
var Default FileSystem = LocalFS{}
