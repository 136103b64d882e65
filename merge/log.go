package merge

import (
	"log/slog"
	"math"
)

// levelLogSpan is the width of a level in log(mergeFactor) units.
const levelLogSpan = 0.75

// Log merges MergeFactor adjacent segments of the same size level. Size is
// measured by Size, in bytes for LogByteSize and in documents for LogDoc.
type Log struct {
	Compound

	// MergeFactor is the number of segments merged at once. Default 10.
	MergeFactor int
	// MinMergeSize puts all smaller segments into one level.
	MinMergeSize int64
	// MaxMergeSize excludes larger segments from natural merges.
	MaxMergeSize int64
	// MaxMergeSizeForForcedMerge excludes larger segments from forced
	// merges.
	MaxMergeSizeForForcedMerge int64
	// MaxMergeDocs excludes segments with more documents.
	MaxMergeDocs int
	// CalibrateSizeByDeletes pro-rates sizes by deletions.
	CalibrateSizeByDeletes bool

	// Size measures a segment.
	Size func(s Segment, calibrate bool) int64

	Logger *slog.Logger
}

func byteSize(s Segment, calibrate bool) int64 {
	if calibrate {
		return s.LiveBytes()
	}
	return s.SizeBytes
}

func docSize(s Segment, calibrate bool) int64 {
	if calibrate {
		return int64(s.NumDocs())
	}
	return int64(s.MaxDoc)
}

// NewLogByteSize returns a log policy measuring bytes. Segments below
// 1.6 MB share the lowest level and segments above 2 GB are not merged
// naturally.
func NewLogByteSize() *Log {
	return &Log{
		Compound:                   DefaultCompound,
		MergeFactor:                10,
		MinMergeSize:               16 * (1 << 20) / 10,
		MaxMergeSize:               2 << 30,
		MaxMergeSizeForForcedMerge: math.MaxInt64,
		MaxMergeDocs:               math.MaxInt32,
		CalibrateSizeByDeletes:     true,
		Size:                       byteSize,
	}
}

// NewLogDoc returns a log policy measuring document counts.
func NewLogDoc() *Log {
	return &Log{
		Compound:                   DefaultCompound,
		MergeFactor:                10,
		MinMergeSize:               1000,
		MaxMergeSize:               math.MaxInt64,
		MaxMergeSizeForForcedMerge: math.MaxInt64,
		MaxMergeDocs:               math.MaxInt32,
		CalibrateSizeByDeletes:     true,
		Size:                       docSize,
	}
}

func (p *Log) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger.With("component", "merge", "policy", "log")
}

func (p *Log) size(s Segment) int64 { return p.Size(s, p.CalibrateSizeByDeletes) }

func (p *Log) level(size int64) float64 {
	return math.Log(float64(max(size, 1))) / math.Log(float64(p.MergeFactor))
}

// FindMerges assigns every segment a level from its size and merges runs of
// MergeFactor segments from the top level down.
func (p *Log) FindMerges(trigger Trigger, segments []Segment, merging map[string]bool) *Spec {
	n := len(segments)
	if n == 0 {
		return nil
	}
	levels := make([]float64, n)
	for i, s := range segments {
		levels[i] = p.level(p.size(s))
	}
	levelFloor := 0.0
	if p.MinMergeSize > 0 {
		levelFloor = p.level(p.MinMergeSize)
	}

	spec := &Spec{}
	start := 0
	for start < n {
		maxLevel := levels[start]
		for _, l := range levels[start+1:] {
			maxLevel = max(maxLevel, l)
		}
		var levelBottom float64
		if maxLevel <= levelFloor {
			levelBottom = -1
		} else {
			levelBottom = maxLevel - levelLogSpan
			if levelBottom < levelFloor && maxLevel >= levelFloor {
				levelBottom = levelFloor
			}
		}

		upto := n - 1
		for upto >= start && levels[upto] < levelBottom {
			upto--
		}

		end := start + p.MergeFactor
		for end <= upto+1 {
			anyTooLarge, anyMerging := false, false
			for _, s := range segments[start:end] {
				anyTooLarge = anyTooLarge || p.size(s) >= p.MaxMergeSize || s.MaxDoc >= p.MaxMergeDocs
				anyMerging = anyMerging || merging[s.Name]
			}
			if !anyMerging && !anyTooLarge {
				m := NewOneMerge(segments[start:end]...)
				spec.add(m)
				p.logger().Debug("found merge", "trigger", trigger, "merge", m.String(), "level", maxLevel)
			}
			start = end
			end = start + p.MergeFactor
		}
		start = upto + 1
	}
	return spec.orNil()
}

// FindForcedMerges merges the last segments in groups of MergeFactor until
// at most maxSegmentCount remain. Segments larger than
// MaxMergeSizeForForcedMerge are left alone.
func (p *Log) FindForcedMerges(segments []Segment, maxSegmentCount int, toMerge, merging map[string]bool) *Spec {
	if isMerged(segments, maxSegmentCount, toMerge) {
		return nil
	}
	var candidates []Segment
	for _, s := range segments {
		if !toMerge[s.Name] || merging[s.Name] {
			continue
		}
		if p.size(s) > p.MaxMergeSizeForForcedMerge {
			continue
		}
		candidates = append(candidates, s)
	}
	return forcedMerges(candidates, maxSegmentCount, p.MergeFactor).orNil()
}

// FindForcedDeletesMerges merges adjacent runs of segments with deletions.
func (p *Log) FindForcedDeletesMerges(segments []Segment, merging map[string]bool) *Spec {
	spec := &Spec{}
	var run []Segment
	flush := func() {
		for _, m := range groupMerges(run, p.MergeFactor).Merges {
			spec.add(m)
		}
		run = nil
	}
	for _, s := range segments {
		if s.DelCount > 0 && !merging[s.Name] {
			run = append(run, s)
			continue
		}
		flush()
	}
	flush()
	return spec.orNil()
}
