package codec

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hupe1980/invgo/store"
)

// Version is the release written into every new segment.
const Version = "1.0.0"

// Diagnostics keys recorded in SegmentInfo.Diagnostics.
const (
	DiagSource      = "source"
	DiagSourceFlush = "flush"
	DiagSourceMerge = "merge"
	DiagSourceAdd   = "addIndexes"
	DiagMergeFactor = "mergeFactor"
	DiagMergeMaxNum = "mergeMaxNumSegments"
	DiagVersion     = "invgo.version"
	DiagOS          = "os"
	DiagArch        = "arch"
	DiagGoVersion   = "go.version"
	DiagTimestamp   = "timestamp"
)

// SegmentInfo describes the immutable part of a segment: its name, unique
// id, document count, the codec that wrote it and its files.
type SegmentInfo struct {
	Name            string
	ID              uuid.UUID
	MaxDoc          int
	Codec           string
	Version         string
	UseCompoundFile bool
	Diagnostics     map[string]string
	Attributes      map[string]string

	// Dir is the directory holding the segment. It is not persisted.
	Dir store.Directory

	files map[string]struct{}
}

// NewSegmentInfo returns a descriptor with a fresh random id.
func NewSegmentInfo(dir store.Directory, name string, maxDoc int, codecName string) *SegmentInfo {
	return &SegmentInfo{
		Name:        name,
		ID:          uuid.New(),
		MaxDoc:      maxDoc,
		Codec:       codecName,
		Version:     Version,
		Diagnostics: make(map[string]string),
		Attributes:  make(map[string]string),
		Dir:         dir,
		files:       make(map[string]struct{}),
	}
}

// SetFiles replaces the file set.
func (si *SegmentInfo) SetFiles(names []string) {
	si.files = make(map[string]struct{}, len(names))
	si.AddFiles(names...)
}

// AddFiles adds files to the set.
func (si *SegmentInfo) AddFiles(names ...string) {
	if si.files == nil {
		si.files = make(map[string]struct{})
	}
	for _, n := range names {
		si.files[n] = struct{}{}
	}
}

// Files returns the sorted file names of the segment. Generation files
// (live docs, doc values updates) are tracked by the commit info.
func (si *SegmentInfo) Files() []string {
	names := make([]string, 0, len(si.files))
	for n := range si.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Attribute returns a codec attribute.
func (si *SegmentInfo) Attribute(key string) string { return si.Attributes[key] }

// SetAttribute records a codec attribute.
func (si *SegmentInfo) SetAttribute(key, value string) {
	if si.Attributes == nil {
		si.Attributes = make(map[string]string)
	}
	si.Attributes[key] = value
}

func (si *SegmentInfo) String() string {
	cfs := "C"
	if !si.UseCompoundFile {
		cfs = "c"
	}
	return fmt.Sprintf("%s(%s):%s%d", si.Name, si.Version, cfs, si.MaxDoc)
}
