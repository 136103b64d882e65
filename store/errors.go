package store

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyClosed is returned by every operation on a closed directory,
	// input or output.
	ErrAlreadyClosed = errors.New("store: already closed")

	// ErrLockObtainFailed is returned when a lock could not be acquired
	// within the configured timeout.
	ErrLockObtainFailed = errors.New("store: lock obtain timed out")

	// ErrReadPastEOF is returned when a read crosses the end of a file or slice.
	ErrReadPastEOF = errors.New("store: read past EOF")

	// ErrFileNotFound is returned when a named file does not exist.
	ErrFileNotFound = errors.New("store: file not found")

	// ErrFileExists is returned when creating a file that already exists.
	ErrFileExists = errors.New("store: file already exists")

	// ErrDiskFull is matched by every DiskFullError.
	ErrDiskFull = errors.New("disk full")

	// ErrUnsupported is returned by read-only or write-only directories.
	ErrUnsupported = errors.New("store: operation not supported")

	// ErrCorruptIndex is matched by every CorruptIndexError.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrFormatTooOld is matched by IndexFormatTooOldError.
	ErrFormatTooOld = errors.New("index format too old")

	// ErrFormatTooNew is matched by IndexFormatTooNewError.
	ErrFormatTooNew = errors.New("index format too new")
)

// DiskFullError reports that the storage ran out of space while writing
// Resource. The message always starts with "disk full" so callers that
// only see the text can still recognize it.
type DiskFullError struct {
	Resource string
	Err      error
}

func (e *DiskFullError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("disk full while writing %s: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("disk full while writing %s", e.Resource)
}

func (e *DiskFullError) Is(target error) bool { return target == ErrDiskFull }

func (e *DiskFullError) Unwrap() error { return e.Err }

// CorruptIndexError reports a structural problem in an index file.
type CorruptIndexError struct {
	Resource string
	Msg      string
	Err      error
}

func (e *CorruptIndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt index (resource=%s): %s: %v", e.Resource, e.Msg, e.Err)
	}
	return fmt.Sprintf("corrupt index (resource=%s): %s", e.Resource, e.Msg)
}

func (e *CorruptIndexError) Is(target error) bool { return target == ErrCorruptIndex }

func (e *CorruptIndexError) Unwrap() error { return e.Err }

// Corruptf builds a CorruptIndexError for resource.
func Corruptf(resource, format string, args ...any) error {
	return &CorruptIndexError{Resource: resource, Msg: fmt.Sprintf(format, args...)}
}

// IndexFormatTooOldError is returned when a file was written by a format
// version older than this build can read.
type IndexFormatTooOldError struct {
	Resource   string
	Version    int32
	MinVersion int32
	MaxVersion int32
	// Reason replaces the version triple for formats identified by name.
	Reason string
}

func (e *IndexFormatTooOldError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("format version is not supported (resource: %s): %s; this version of invgo only supports indexes created with release 0.9 and later", e.Resource, e.Reason)
	}
	return fmt.Sprintf("format version is not supported (resource: %s): %d (needs to be between %d and %d); this version of invgo only supports indexes created with release 0.9 and later",
		e.Resource, e.Version, e.MinVersion, e.MaxVersion)
}

func (e *IndexFormatTooOldError) Is(target error) bool { return target == ErrFormatTooOld }

// IndexFormatTooNewError is returned when a file was written by a newer
// format version than this build knows.
type IndexFormatTooNewError struct {
	Resource   string
	Version    int32
	MinVersion int32
	MaxVersion int32
}

func (e *IndexFormatTooNewError) Error() string {
	return fmt.Sprintf("format version is not supported (resource: %s): %d (needs to be between %d and %d)",
		e.Resource, e.Version, e.MinVersion, e.MaxVersion)
}

func (e *IndexFormatTooNewError) Is(target error) bool { return target == ErrFormatTooNew }

func readPastEOF(name string, pos, length int64) error {
	return fmt.Errorf("%w: %s (pos=%d, length=%d)", ErrReadPastEOF, name, pos, length)
}
