package merge

import "errors"

var (
	// ErrAborted is reported by merges that were aborted before they
	// committed, e.g. because the writer was rolled back.
	ErrAborted = errors.New("merge: aborted")

	// ErrSchedulerClosed is returned when merging after Close.
	ErrSchedulerClosed = errors.New("merge: scheduler is closed")
)
