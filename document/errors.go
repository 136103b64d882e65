package document

import "errors"

var (
	// ErrInvalidField is returned for a field whose type and value do not fit
	// together, e.g. a stored field without a value.
	ErrInvalidField = errors.New("document: invalid field")
)
