package codec

import (
	"regexp"
	"strconv"
	"strings"
)

// Well-known file names and extensions.
const (
	SegmentsPrefix        = "segments"
	SegmentsGenName       = "segments.gen"
	PendingSegmentsPrefix = "pending_segments"
	WriteLockName         = "write.lock"

	CompoundExtension        = "cfs"
	CompoundEntriesExtension = "cfe"
	SegmentInfoExtension     = "si"
	FieldInfosExtension      = "fnm"
	LiveDocsExtension        = "liv"
)

// SegmentFileName builds "<segment>[_<suffix>].<ext>".
func SegmentFileName(segment, suffix, ext string) string {
	var b strings.Builder
	b.WriteString(segment)
	if suffix != "" {
		b.WriteByte('_')
		b.WriteString(suffix)
	}
	if ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return b.String()
}

// FileNameFromGeneration builds "<base>_<gen base36>[.<ext>]". Generation
// -1 means no file and returns "", generation 0 returns "<base>[.<ext>]".
func FileNameFromGeneration(base, ext string, gen int64) string {
	switch {
	case gen < 0:
		return ""
	case gen == 0:
		return SegmentFileName(base, "", ext)
	default:
		return SegmentFileName(base, strconv.FormatInt(gen, 36), ext)
	}
}

// SegmentsFileName returns the commit descriptor name of a generation.
func SegmentsFileName(gen int64) string {
	return FileNameFromGeneration(SegmentsPrefix, "", gen)
}

// ParseGeneration extracts the generation from a file name built by
// FileNameFromGeneration, or returns 0.
func ParseGeneration(name string) int64 {
	stem := name
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return 0
	}
	if strings.HasPrefix(name, SegmentsPrefix+"_") || strings.HasPrefix(name, PendingSegmentsPrefix+"_") {
		gen, err := strconv.ParseInt(parts[len(parts)-1], 36, 64)
		if err != nil {
			return 0
		}
		return gen
	}
	// "_<seg>_<gen>.<ext>": parts[0] is empty, parts[1] is the segment
	if len(parts) < 3 {
		return 0
	}
	gen, err := strconv.ParseInt(parts[2], 36, 64)
	if err != nil {
		return 0
	}
	return gen
}

// GenerationFromSegmentsFileName parses "segments_N".
func GenerationFromSegmentsFileName(name string) (int64, bool) {
	if name == SegmentsPrefix {
		return 0, true
	}
	if !strings.HasPrefix(name, SegmentsPrefix+"_") || name == SegmentsGenName {
		return 0, false
	}
	gen, err := strconv.ParseInt(name[len(SegmentsPrefix)+1:], 36, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// MatchesExtension reports whether name ends with "."+ext.
func MatchesExtension(name, ext string) bool {
	return strings.HasSuffix(name, "."+ext)
}

var indexFilePattern = regexp.MustCompile(`^_[a-z0-9]+(_[a-zA-Z0-9]+)*\.[a-z0-9]+$`)

// IsIndexFile reports whether name looks like a file this library writes.
func IsIndexFile(name string) bool {
	if name == SegmentsGenName || strings.HasPrefix(name, SegmentsPrefix+"_") || strings.HasPrefix(name, PendingSegmentsPrefix+"_") {
		return true
	}
	return indexFilePattern.MatchString(name)
}

// SegmentName returns the name of the n-th segment, "_" plus base36.
func SegmentName(counter int64) string {
	return "_" + strconv.FormatInt(counter, 36)
}
