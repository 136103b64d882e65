package store

import (
	"github.com/hupe1980/invgo/internal/mmap"
)

// MMapDirectory is an FSDirectory whose inputs are memory-mapped. Writes,
// syncs, renames and locks behave exactly like FSDirectory.
type MMapDirectory struct {
	*FSDirectory
	pattern mmap.AccessPattern
}

// NewMMapDirectory opens (creating if needed) the directory at path.
func NewMMapDirectory(path string, opts ...FSOption) (*MMapDirectory, error) {
	fsd, err := NewFSDirectory(path, opts...)
	if err != nil {
		return nil, err
	}
	return &MMapDirectory{FSDirectory: fsd, pattern: mmap.AccessRandom}, nil
}

func (d *MMapDirectory) String() string { return "MMapDirectory@" + d.path }

// SetAccessPattern sets the madvise hint applied to newly opened inputs.
func (d *MMapDirectory) SetAccessPattern(p mmap.AccessPattern) { d.pattern = p }

func (d *MMapDirectory) OpenInput(name string) (IndexInput, error) {
	if err := d.ensureOpen(); err != nil {
		return nil, err
	}
	m, err := mmap.Open(d.file(name))
	if err != nil {
		return nil, mapNotFound(name, err)
	}
	if err := m.Advise(d.pattern); err != nil {
		d.logger.Debug("madvise failed", "file", name, "error", err)
	}
	return newBytesInput(name, m.Bytes(), m.Close), nil
}
