package index

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/store"
)

// Commit descriptor formats.
const (
	SegmentsCodec = "segments"

	// SegmentsFormat09 is the descriptor of release 0.9. It has no commit
	// timestamp.
	SegmentsFormat09 int32 = 1
	// SegmentsFormatCurrent adds the commit timestamp.
	SegmentsFormatCurrent int32 = 2

	segmentsGenCodec   = "segmentsgen"
	segmentsGenVersion = 1
)

// SegmentCommitInfo is a segment as listed by one commit: the immutable
// SegmentInfo plus the generations of its deletes and doc values updates.
type SegmentCommitInfo struct {
	Info *codec.SegmentInfo

	// DelCount is the number of deleted documents.
	DelCount int
	// DelGen is the generation of the live docs file, -1 if the segment
	// has no deletions.
	DelGen int64
	// FieldInfosGen is the generation of the field infos update, -1 if
	// the schema was never updated.
	FieldInfosGen int64
	// DocValuesGen is the last doc values update generation, -1 if none.
	DocValuesGen int64

	// FieldInfosFiles are the files of the current field infos update.
	FieldInfosFiles []string
	// DocValuesUpdatesFiles maps field numbers to the files holding their
	// latest doc values update.
	DocValuesUpdatesFiles map[int][]string

	nextWriteDelGen        int64
	nextWriteFieldInfosGen int64
	nextWriteDocValuesGen  int64

	sizeInBytes int64
}

// NewSegmentCommitInfo wraps info.
func NewSegmentCommitInfo(info *codec.SegmentInfo, delCount int, delGen, fieldInfosGen, docValuesGen int64) *SegmentCommitInfo {
	return &SegmentCommitInfo{
		Info:                   info,
		DelCount:               delCount,
		DelGen:                 delGen,
		FieldInfosGen:          fieldInfosGen,
		DocValuesGen:           docValuesGen,
		DocValuesUpdatesFiles:  make(map[int][]string),
		nextWriteDelGen:        nextGen(delGen),
		nextWriteFieldInfosGen: nextGen(fieldInfosGen),
		nextWriteDocValuesGen:  nextGen(docValuesGen),
		sizeInBytes:            -1,
	}
}

func nextGen(gen int64) int64 {
	if gen == -1 {
		return 1
	}
	return gen + 1
}

// Name is the segment name.
func (sci *SegmentCommitInfo) Name() string { return sci.Info.Name }

// MaxDoc includes deleted documents.
func (sci *SegmentCommitInfo) MaxDoc() int { return sci.Info.MaxDoc }

// NumDocs is the number of live documents.
func (sci *SegmentCommitInfo) NumDocs() int { return sci.Info.MaxDoc - sci.DelCount }

// HasDeletions reports whether a live docs file exists.
func (sci *SegmentCommitInfo) HasDeletions() bool { return sci.DelGen != -1 }

// HasFieldUpdates reports whether doc values were updated.
func (sci *SegmentCommitInfo) HasFieldUpdates() bool { return sci.FieldInfosGen != -1 }

func (sci *SegmentCommitInfo) advanceDelGen() {
	sci.DelGen = sci.nextWriteDelGen
	sci.nextWriteDelGen = sci.DelGen + 1
	sci.sizeInBytes = -1
}

// advanceNextWriteDelGen skips a generation whose write failed, so the
// retry never reuses a partially written file name.
func (sci *SegmentCommitInfo) advanceNextWriteDelGen() { sci.nextWriteDelGen++ }

// setUpdateGen records a written doc values update generation, which is
// also the generation of the field infos written with it.
func (sci *SegmentCommitInfo) setUpdateGen(gen int64) {
	sci.FieldInfosGen = gen
	sci.DocValuesGen = gen
	sci.nextWriteFieldInfosGen = gen + 1
	sci.nextWriteDocValuesGen = gen + 1
	sci.sizeInBytes = -1
}

// Files returns every file of the segment including generation files.
func (sci *SegmentCommitInfo) Files() []string {
	set := make(map[string]struct{})
	for _, f := range sci.Info.Files() {
		set[f] = struct{}{}
	}
	if sci.HasDeletions() {
		set[codec.FileNameFromGeneration(sci.Info.Name, codec.LiveDocsExtension, sci.DelGen)] = struct{}{}
	}
	for _, f := range sci.FieldInfosFiles {
		set[f] = struct{}{}
	}
	for _, files := range sci.DocValuesUpdatesFiles {
		for _, f := range files {
			set[f] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// SizeInBytes sums the lengths of Files.
func (sci *SegmentCommitInfo) SizeInBytes() (int64, error) {
	if sci.sizeInBytes != -1 {
		return sci.sizeInBytes, nil
	}
	var total int64
	for _, f := range sci.Files() {
		n, err := sci.Info.Dir.FileLength(f)
		if err != nil {
			return 0, err
		}
		total += n
	}
	sci.sizeInBytes = total
	return total, nil
}

// Clone copies the mutable generation state. The SegmentInfo is shared.
func (sci *SegmentCommitInfo) Clone() *SegmentCommitInfo {
	c := *sci
	c.FieldInfosFiles = slices.Clone(sci.FieldInfosFiles)
	c.DocValuesUpdatesFiles = make(map[int][]string, len(sci.DocValuesUpdatesFiles))
	for k, v := range sci.DocValuesUpdatesFiles {
		c.DocValuesUpdatesFiles[k] = slices.Clone(v)
	}
	return &c
}

func (sci *SegmentCommitInfo) String() string {
	var b strings.Builder
	b.WriteString(sci.Info.String())
	if sci.DelCount > 0 {
		fmt.Fprintf(&b, "/%d", sci.DelCount)
	}
	if sci.DelGen != -1 {
		fmt.Fprintf(&b, ":delGen=%d", sci.DelGen)
	}
	if sci.FieldInfosGen != -1 {
		fmt.Fprintf(&b, ":fieldInfosGen=%d", sci.FieldInfosGen)
	}
	if sci.DocValuesGen != -1 {
		fmt.Fprintf(&b, ":dvGen=%d", sci.DocValuesGen)
	}
	return b.String()
}

// SegmentInfos is the ordered segment list of one commit or of the writer's
// in-memory state.
type SegmentInfos struct {
	Segments []*SegmentCommitInfo

	// Counter names the next new segment.
	Counter int64
	// Version is bumped on every change and orders NRT readers.
	Version int64
	// UserData is opaque commit metadata.
	UserData map[string]string
	// Timestamp is the commit time, zero for descriptors without one.
	Timestamp time.Time

	// FormatVersion is the descriptor format read from disk.
	FormatVersion int32

	generation     int64
	lastGeneration int64

	pendingFile string
}

// NewSegmentInfos returns an empty list that was never committed.
func NewSegmentInfos() *SegmentInfos {
	return &SegmentInfos{
		UserData:       make(map[string]string),
		FormatVersion:  SegmentsFormatCurrent,
		generation:     -1,
		lastGeneration: -1,
	}
}

// Generation of the last commit written or read.
func (sis *SegmentInfos) Generation() int64 { return sis.generation }

// LastGeneration is the generation of the last successful commit.
func (sis *SegmentInfos) LastGeneration() int64 { return sis.lastGeneration }

// SegmentsFileName is the descriptor name of the last commit, "" if never
// committed.
func (sis *SegmentInfos) SegmentsFileName() string {
	return codec.SegmentsFileName(sis.lastGeneration)
}

// Len is the number of segments.
func (sis *SegmentInfos) Len() int { return len(sis.Segments) }

// TotalMaxDoc sums MaxDoc over all segments.
func (sis *SegmentInfos) TotalMaxDoc() int {
	n := 0
	for _, s := range sis.Segments {
		n += s.MaxDoc()
	}
	return n
}

// NumDocs sums the live documents.
func (sis *SegmentInfos) NumDocs() int {
	n := 0
	for _, s := range sis.Segments {
		n += s.NumDocs()
	}
	return n
}

// Changed bumps the version.
func (sis *SegmentInfos) Changed() { sis.Version++ }

// Files returns the files of every segment and, with includeSegmentsFile,
// the descriptor itself.
func (sis *SegmentInfos) Files(includeSegmentsFile bool) []string {
	set := make(map[string]struct{})
	if includeSegmentsFile {
		if name := sis.SegmentsFileName(); name != "" {
			set[name] = struct{}{}
		}
	}
	for _, s := range sis.Segments {
		for _, f := range s.Files() {
			set[f] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}

// Clone deep copies the commit infos so the clone can be changed without
// affecting sis.
func (sis *SegmentInfos) Clone() *SegmentInfos {
	c := *sis
	c.Segments = make([]*SegmentCommitInfo, len(sis.Segments))
	for i, s := range sis.Segments {
		c.Segments[i] = s.Clone()
	}
	c.UserData = maps.Clone(sis.UserData)
	if c.UserData == nil {
		c.UserData = make(map[string]string)
	}
	return &c
}

// IndexOf returns the position of the named segment or -1.
func (sis *SegmentInfos) IndexOf(name string) int {
	for i, s := range sis.Segments {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// Remove drops the named segment.
func (sis *SegmentInfos) Remove(name string) {
	if i := sis.IndexOf(name); i >= 0 {
		sis.Segments = slices.Delete(sis.Segments, i, i+1)
	}
}

// replaceFrom adopts the segments and metadata of other, keeping this
// list's generation counters.
func (sis *SegmentInfos) replaceFrom(other *SegmentInfos) {
	sis.Segments = other.Clone().Segments
	sis.Counter = max(sis.Counter, other.Counter)
	sis.UserData = maps.Clone(other.UserData)
	sis.Version = max(sis.Version, other.Version) + 1
}

// updateGeneration copies the commit generations of other, e.g. after
// other was written as the next commit.
func (sis *SegmentInfos) updateGeneration(other *SegmentInfos) {
	sis.generation = max(sis.generation, other.generation)
	sis.lastGeneration = other.lastGeneration
}

// skipGenerations makes the next commit use a generation above gen.
func (sis *SegmentInfos) skipGenerations(gen int64) {
	sis.generation = max(sis.generation, gen)
}

func (sis *SegmentInfos) String() string {
	parts := make([]string, len(sis.Segments))
	for i, s := range sis.Segments {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s[%s]", sis.SegmentsFileName(), strings.Join(parts, " "))
}

// ReadSegmentInfos reads the descriptor name from dir. Descriptors older
// than release 0.9 fail with codec.IndexFormatTooOldError naming the file.
func ReadSegmentInfos(dir store.Directory, name string) (*SegmentInfos, error) {
	gen, ok := codec.GenerationFromSegmentsFileName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a segments file", ErrIllegalArgument, name)
	}
	in, err := dir.OpenInput(name)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	version, err := store.CheckHeader(in, SegmentsCodec, SegmentsFormat09, SegmentsFormatCurrent)
	if err != nil {
		return nil, err
	}
	if _, err := store.ChecksumEntireFile(in.Clone()); err != nil {
		return nil, err
	}

	sis := NewSegmentInfos()
	sis.FormatVersion = version
	sis.generation = gen
	sis.lastGeneration = gen

	d := store.NewDecoder(in)
	sis.Version = d.Int64()
	sis.Counter = int64(d.Uvarint())
	n := d.Int()
	type entry struct {
		name, codec          string
		id                   uuid.UUID
		delGen, fiGen, dvGen int64
		delCount             int
		fiFiles              []string
		dvFiles              map[int][]string
	}
	entries := make([]entry, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		var e entry
		e.name = d.String()
		d.ReadInto(e.id[:])
		e.codec = d.String()
		e.delGen = d.Varint()
		e.delCount = d.Int()
		e.fiGen = d.Varint()
		e.dvGen = d.Varint()
		e.fiFiles = d.StringSet()
		numDV := d.Int()
		e.dvFiles = make(map[int][]string, numDV)
		for j := 0; j < numDV && d.Err() == nil; j++ {
			field := d.Int()
			e.dvFiles[field] = d.StringSet()
		}
		entries = append(entries, e)
	}
	sis.UserData = d.StringMap()
	if sis.UserData == nil {
		sis.UserData = make(map[string]string)
	}
	if version >= SegmentsFormatCurrent {
		if ms := d.Int64(); ms > 0 {
			sis.Timestamp = time.UnixMilli(ms)
		}
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if _, err := store.CheckFooter(in); err != nil {
		return nil, err
	}

	for _, e := range entries {
		c, err := codec.Lookup(e.codec)
		if err != nil {
			return nil, &codec.CorruptIndexError{Resource: name, Msg: "segment " + e.name, Err: err}
		}
		info, err := c.SegmentInfoFormat().Read(dir, e.name)
		if err != nil {
			return nil, err
		}
		if info.ID != e.id {
			return nil, store.Corruptf(name, "segment %s: id mismatch: descriptor=%s segment=%s", e.name, e.id, info.ID)
		}
		info.Codec = e.codec
		if e.delCount < 0 || e.delCount > info.MaxDoc {
			return nil, store.Corruptf(name, "segment %s: invalid deletion count %d (maxDoc=%d)", e.name, e.delCount, info.MaxDoc)
		}
		sci := NewSegmentCommitInfo(info, e.delCount, e.delGen, e.fiGen, e.dvGen)
		sci.FieldInfosFiles = e.fiFiles
		sci.DocValuesUpdatesFiles = e.dvFiles
		sis.Segments = append(sis.Segments, sci)
	}
	return sis, nil
}

// ReadLatestSegmentInfos reads the newest commit of dir.
func ReadLatestSegmentInfos(dir store.Directory) (*SegmentInfos, error) {
	return findSegmentsFile(dir, func(name string) (*SegmentInfos, error) {
		return ReadSegmentInfos(dir, name)
	})
}

func (sis *SegmentInfos) nextPendingGeneration() int64 {
	if sis.generation == -1 {
		return 1
	}
	return sis.generation + 1
}

// write writes pending_segments_N for the next generation. The commit
// becomes visible with finishCommit.
func (sis *SegmentInfos) write(dir store.Directory, now time.Time) (err error) {
	gen := sis.nextPendingGeneration()
	name := codec.FileNameFromGeneration(codec.PendingSegmentsPrefix, "", gen)
	sis.generation = gen

	defer func() {
		if err != nil {
			_ = dir.DeleteFile(name)
		}
	}()

	out, err := dir.CreateOutput(name)
	if err != nil {
		return err
	}
	if err := store.WriteHeader(out, SegmentsCodec, SegmentsFormatCurrent); err != nil {
		_ = out.Close()
		return err
	}
	e := store.NewEncoder(out)
	e.Int64(sis.Version)
	e.Uvarint(uint64(sis.Counter))
	e.Uvarint(uint64(len(sis.Segments)))
	for _, s := range sis.Segments {
		e.String(s.Name())
		e.Raw(s.Info.ID[:])
		e.String(s.Info.Codec)
		e.Varint(s.DelGen)
		e.Uvarint(uint64(s.DelCount))
		e.Varint(s.FieldInfosGen)
		e.Varint(s.DocValuesGen)
		e.StringSet(s.FieldInfosFiles)
		fields := slices.Sorted(maps.Keys(s.DocValuesUpdatesFiles))
		e.Uvarint(uint64(len(fields)))
		for _, f := range fields {
			e.Uvarint(uint64(f))
			e.StringSet(s.DocValuesUpdatesFiles[f])
		}
	}
	e.StringMap(sis.UserData)
	sis.Timestamp = now
	e.Int64(now.UnixMilli())
	if err := e.Err(); err != nil {
		_ = out.Close()
		return err
	}
	if err := store.WriteFooter(out); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	sis.pendingFile = name
	sis.FormatVersion = SegmentsFormatCurrent
	return nil
}

// Commit writes sis as the next generation of dir without a writer. The
// files of every segment are synced first. The caller must hold the write
// lock of dir.
func (sis *SegmentInfos) Commit(dir store.Directory, now time.Time) (string, error) {
	if err := dir.Sync(sis.Files(false)); err != nil {
		return "", fmt.Errorf("sync commit files: %w", err)
	}
	if err := sis.write(dir, now); err != nil {
		return "", fmt.Errorf("write commit descriptor: %w", err)
	}
	if err := dir.Sync([]string{sis.pendingFile}); err != nil {
		sis.rollbackCommit(dir)
		return "", fmt.Errorf("sync commit descriptor: %w", err)
	}
	return sis.finishCommit(dir)
}

// rollbackCommit removes a pending descriptor written by write.
func (sis *SegmentInfos) rollbackCommit(dir store.Directory) {
	if sis.pendingFile != "" {
		_ = dir.DeleteFile(sis.pendingFile)
		sis.pendingFile = ""
	}
}

// finishCommit publishes the pending descriptor as segments_N and updates
// segments.gen. It returns the name of the new descriptor.
func (sis *SegmentInfos) finishCommit(dir store.Directory) (string, error) {
	if sis.pendingFile == "" {
		return "", fmt.Errorf("%w: prepareCommit was not called", ErrIllegalState)
	}
	dest := codec.SegmentsFileName(sis.generation)
	if err := dir.Rename(sis.pendingFile, dest); err != nil {
		sis.rollbackCommit(dir)
		return "", err
	}
	sis.pendingFile = ""
	sis.lastGeneration = sis.generation
	writeSegmentsGen(dir, sis.generation)
	return dest, nil
}

// writeSegmentsGen rewrites the generation pointer. Failures are ignored:
// readers fall back to listing the directory.
func writeSegmentsGen(dir store.Directory, gen int64) {
	_ = dir.DeleteFile(codec.SegmentsGenName)
	out, err := dir.CreateOutput(codec.SegmentsGenName)
	if err != nil {
		return
	}
	e := store.NewEncoder(out)
	if err := store.WriteHeader(out, segmentsGenCodec, segmentsGenVersion); err != nil {
		_ = out.Close()
		_ = dir.DeleteFile(codec.SegmentsGenName)
		return
	}
	e.Int64(gen)
	e.Int64(gen)
	if e.Err() != nil || store.WriteFooter(out) != nil {
		_ = out.Close()
		_ = dir.DeleteFile(codec.SegmentsGenName)
		return
	}
	if out.Close() != nil {
		_ = dir.DeleteFile(codec.SegmentsGenName)
		return
	}
	_ = dir.Sync([]string{codec.SegmentsGenName})
}

// readSegmentsGen returns the generation recorded in segments.gen or -1.
func readSegmentsGen(dir store.Directory) int64 {
	in, err := dir.OpenInput(codec.SegmentsGenName)
	if err != nil {
		return -1
	}
	defer in.Close()
	if _, err := store.CheckHeader(in, segmentsGenCodec, segmentsGenVersion, segmentsGenVersion); err != nil {
		return -1
	}
	d := store.NewDecoder(in)
	gen0, gen1 := d.Int64(), d.Int64()
	if d.Err() != nil || gen0 != gen1 {
		return -1
	}
	if _, err := store.CheckFooter(in); err != nil {
		return -1
	}
	return gen0
}

// LastCommitGeneration returns the highest segments_N generation among
// files, -1 if there is none.
func LastCommitGeneration(files []string) int64 {
	var last int64 = -1
	for _, f := range files {
		if gen, ok := codec.GenerationFromSegmentsFileName(f); ok && f != codec.SegmentsGenName {
			last = max(last, gen)
		}
	}
	return last
}

const findSegmentsRetries = 10

// findSegmentsFile runs fn on the newest descriptor. The newest generation
// is the larger of the directory listing and segments.gen; when fn fails
// because a concurrent commit removed the file, the lookup is retried and
// finally falls back to the previous generation.
func findSegmentsFile[T any](dir store.Directory, fn func(name string) (T, error)) (T, error) {
	var zero T
	var lastErr error
	lastGen := int64(-1)
	for retry := 0; retry < findSegmentsRetries; retry++ {
		files, err := dir.ListAll()
		if err != nil {
			return zero, err
		}
		gen := max(LastCommitGeneration(files), readSegmentsGen(dir))
		if gen == -1 {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, fmt.Errorf("%w in %v: files: %v", ErrNoCommits, dir, files)
		}
		if gen == lastGen && lastErr != nil {
			// no progress: try the previous commit once before giving up
			if gen > 1 {
				if v, err := fn(codec.SegmentsFileName(gen - 1)); err == nil {
					return v, nil
				}
			}
			return zero, lastErr
		}
		lastGen = gen
		v, err := fn(codec.SegmentsFileName(gen))
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, store.ErrFileNotFound) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

// sortSegmentsByGeneration orders descriptor names by generation.
func sortSegmentsByGeneration(names []string) {
	sort.Slice(names, func(i, j int) bool {
		gi, _ := codec.GenerationFromSegmentsFileName(names[i])
		gj, _ := codec.GenerationFromSegmentsFileName(names[j])
		return gi < gj
	})
}
