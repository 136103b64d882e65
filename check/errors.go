package check

import "errors"

var (
	// ErrPartialCheck is returned by Exorcise for a status produced by a
	// check restricted to some segments.
	ErrPartialCheck = errors.New("check: cannot exorcise a partial check")

	// ErrNoCommit is returned by Exorcise when the check found no readable
	// commit to rewrite.
	ErrNoCommit = errors.New("check: no readable commit")
)
