package store

import (
	"fmt"
)

// Kind selects a Directory implementation.
type Kind string

const (
	KindFS   Kind = "fs"
	KindMMap Kind = "mmap"
	KindRAM  Kind = "ram"
)

// Open returns a directory of the given kind rooted at path. Path is
// ignored for KindRAM.
func Open(kind Kind, path string, opts ...FSOption) (Directory, error) {
	switch kind {
	case KindFS, "":
		return NewFSDirectory(path, opts...)
	case KindMMap:
		return NewMMapDirectory(path, opts...)
	case KindRAM:
		return NewRAMDirectory(), nil
	default:
		return nil, fmt.Errorf("store: unknown directory implementation %q", kind)
	}
}
