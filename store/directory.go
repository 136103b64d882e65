package store

import (
	"io"
	"sort"
)

// Directory is a flat namespace of write-once files.
type Directory interface {
	// ListAll returns the sorted names of all files.
	ListAll() ([]string, error)
	FileExists(name string) (bool, error)
	FileLength(name string) (int64, error)
	DeleteFile(name string) error

	// CreateOutput creates a new file. It fails with ErrFileExists if the
	// file is already present.
	CreateOutput(name string) (IndexOutput, error)
	OpenInput(name string) (IndexInput, error)

	// Sync makes the named files durable.
	Sync(names []string) error

	// Rename atomically replaces dest with source and makes the rename
	// durable.
	Rename(source, dest string) error

	// ObtainLock acquires the named lock without blocking.
	ObtainLock(name string) (Lock, error)

	Close() error
}

// Lock is an exclusive lock on a directory.
type Lock interface {
	io.Closer
	// EnsureValid returns an error if the lock was released or lost.
	EnsureValid() error
}

// Copy copies srcName from src into dst as dstName.
func Copy(dst Directory, src Directory, srcName, dstName string) (err error) {
	in, err := src.OpenInput(srcName)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dst.CreateOutput(dstName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = dst.DeleteFile(dstName)
		}
	}()

	return CopyBytes(out, in, in.Len())
}

// CopyBytes copies n bytes from in to out.
func CopyBytes(out io.Writer, in IndexInput, n int64) error {
	buf := make([]byte, copyBufferSize)
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		if err := ReadFull(in, buf[:chunk]); err != nil {
			return err
		}
		if _, err := out.Write(buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// ReadFile reads a whole file.
func ReadFile(dir Directory, name string) ([]byte, error) {
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	b := make([]byte, in.Len())
	if err := ReadFull(in, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteFile creates name with the given contents.
func WriteFile(dir Directory, name string, data []byte) (err error) {
	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = out.Write(data)
	return err
}

// DirectorySize returns the summed length of all files.
func DirectorySize(dir Directory) (int64, error) {
	names, err := dir.ListAll()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		n, err := dir.FileLength(name)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

const copyBufferSize = 16 << 10

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
