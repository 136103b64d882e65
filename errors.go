package invgo

import (
	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

// Sentinel errors of the packages behind the facade, checkable with
// errors.Is.
var (
	ErrAlreadyClosed    = index.ErrAlreadyClosed
	ErrIllegalArgument  = index.ErrIllegalArgument
	ErrIllegalState     = index.ErrIllegalState
	ErrMergeAborted     = index.ErrMergeAborted
	ErrTooManyDocs      = index.ErrTooManyDocs
	ErrNoCommits        = index.ErrNoCommits
	ErrNoPositions      = index.ErrNoPositions
	ErrLockObtainFailed = store.ErrLockObtainFailed
	ErrFileNotFound     = store.ErrFileNotFound
	ErrDiskFull         = store.ErrDiskFull
	ErrReadPastEOF      = store.ErrReadPastEOF
	ErrCorruptIndex     = codec.ErrCorruptIndex
	ErrFormatTooOld     = codec.ErrFormatTooOld
	ErrFormatTooNew     = codec.ErrFormatTooNew
	ErrUnknownCodec     = codec.ErrUnknownCodec
)

// Typed errors carrying the failing resource and versions.
type (
	CorruptIndexError      = codec.CorruptIndexError
	IndexFormatTooOldError = codec.IndexFormatTooOldError
	IndexFormatTooNewError = codec.IndexFormatTooNewError
)
