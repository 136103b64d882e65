package index

import (
	"errors"
	"fmt"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/merge"
)

// MaxDocs is the largest number of documents an index may hold.
const MaxDocs = 1<<31 - 1 - 128

var (
	// ErrAlreadyClosed is returned by every call on a closed writer or
	// reader.
	ErrAlreadyClosed = errors.New("index: already closed")

	// ErrIllegalArgument reports invalid input such as a doc values type
	// change. It matches codec.ErrIllegalArgument.
	ErrIllegalArgument = codec.ErrIllegalArgument

	// ErrIllegalState reports a call that is invalid in the current state,
	// e.g. Commit while another PrepareCommit is pending.
	ErrIllegalState = errors.New("index: illegal state")

	// ErrMergeAborted is reported by merges aborted by Rollback or Close.
	ErrMergeAborted = merge.ErrAborted

	// ErrTooManyDocs is returned when an add would exceed MaxDocs.
	ErrTooManyDocs = errors.New("index: too many documents")

	// ErrNoCommits is returned when a directory holds no commit.
	ErrNoCommits = errors.New("index: no segments file found")

	// ErrNoPositions is returned when positions or offsets are requested
	// from a field indexed without them.
	ErrNoPositions = codec.ErrNoPositions
)

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
