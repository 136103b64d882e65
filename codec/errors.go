package codec

import (
	"errors"

	"github.com/hupe1980/invgo/store"
)

// Format errors live in store (compound files need them) and are
// re-exported here.
type (
	CorruptIndexError      = store.CorruptIndexError
	IndexFormatTooOldError = store.IndexFormatTooOldError
	IndexFormatTooNewError = store.IndexFormatTooNewError
)

var (
	ErrCorruptIndex = store.ErrCorruptIndex
	ErrFormatTooOld = store.ErrFormatTooOld
	ErrFormatTooNew = store.ErrFormatTooNew

	// ErrUnknownCodec is returned when a segment names a codec that is not
	// registered.
	ErrUnknownCodec = errors.New("codec: unknown codec")

	// ErrNoPositions is returned when positions or offsets are requested
	// from a field indexed without them.
	ErrNoPositions = errors.New("codec: field was indexed without positions")

	// ErrReadOnly is returned by codecs that may only read, e.g. a legacy
	// codec whose write support was not enabled.
	ErrReadOnly = errors.New("codec: codec is read-only")

	// ErrIllegalArgument reports an invalid schema change, e.g. changing the
	// doc values type of a field.
	ErrIllegalArgument = errors.New("codec: illegal argument")
)
