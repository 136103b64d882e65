package merge

import (
	"log/slog"
	"math"
	"sort"
)

// Tiered merges segments of roughly equal size and allows SegmentsPerTier
// segments per size tier. Segment sizes are pro-rated by their deletions
// and segments below FloorSegmentBytes count as that size.
type Tiered struct {
	Compound

	// MaxMergeAtOnce bounds natural merges. Default 10.
	MaxMergeAtOnce int
	// MaxMergeAtOnceExplicit bounds forced merges. Default 30.
	MaxMergeAtOnceExplicit int
	// MaxMergedSegmentBytes bounds the estimated output of natural merges.
	// Default 5 GB.
	MaxMergedSegmentBytes int64
	// FloorSegmentBytes rounds small segments up. Default 2 MB.
	FloorSegmentBytes int64
	// SegmentsPerTier is the allowed number of segments per tier. Default 10.
	SegmentsPerTier float64
	// ForceMergeDeletesPctAllowed is the percentage of deletions a segment
	// may keep during FindForcedDeletesMerges. Default 10.
	ForceMergeDeletesPctAllowed float64
	// ReclaimDeletesWeight favors merges reclaiming deletions. Default 2.
	ReclaimDeletesWeight float64

	Logger *slog.Logger
}

// NewTiered returns a tiered policy with the defaults.
func NewTiered() *Tiered {
	return &Tiered{
		Compound:                    DefaultCompound,
		MaxMergeAtOnce:              10,
		MaxMergeAtOnceExplicit:      30,
		MaxMergedSegmentBytes:       5 << 30,
		FloorSegmentBytes:           2 << 20,
		SegmentsPerTier:             10,
		ForceMergeDeletesPctAllowed: 10,
		ReclaimDeletesWeight:        2,
	}
}

func (p *Tiered) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger.With("component", "merge", "policy", "tiered")
}

func (p *Tiered) floor(size int64) int64 { return max(size, p.FloorSegmentBytes) }

// FindMerges picks the lowest scoring merges while the index holds more
// segments than the tiers allow.
func (p *Tiered) FindMerges(trigger Trigger, segments []Segment, merging map[string]bool) *Spec {
	if len(segments) == 0 {
		return nil
	}
	log := p.logger()

	sorted := append([]Segment(nil), segments...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LiveBytes() > sorted[j].LiveBytes() })

	var (
		totalBytes   int64
		minSegBytes  = int64(math.MaxInt64)
		mergingBytes int64
	)
	tooBigCount := 0
	for _, s := range sorted {
		size := s.LiveBytes()
		if merging[s.Name] {
			mergingBytes += size
			continue
		}
		if size >= p.MaxMergedSegmentBytes/2 {
			tooBigCount++
			continue
		}
		totalBytes += size
		minSegBytes = min(minSegBytes, size)
	}
	if minSegBytes == math.MaxInt64 {
		return nil
	}

	// allowed segment count over all tiers
	levelSize := max(p.floor(minSegBytes), 1)
	remaining := totalBytes
	allowed := 0.0
	for {
		segCountLevel := float64(remaining) / float64(levelSize)
		if segCountLevel < p.SegmentsPerTier {
			allowed += math.Ceil(segCountLevel)
			break
		}
		allowed += p.SegmentsPerTier
		remaining -= int64(p.SegmentsPerTier * float64(levelSize))
		levelSize *= int64(p.MaxMergeAtOnce)
	}
	allowedCount := max(int(allowed), int(p.SegmentsPerTier))

	candidates := make([]Segment, 0, len(sorted))
	for _, s := range sorted {
		if !merging[s.Name] && s.LiveBytes() < p.MaxMergedSegmentBytes/2 {
			candidates = append(candidates, s)
		}
	}

	spec := &Spec{}
	for len(candidates) > allowedCount {
		best, bestScore, bestTooLarge := p.bestMerge(candidates, mergingBytes)
		if best == nil {
			break
		}
		// a merge that hits the max size is only worthwhile with enough inputs
		if bestTooLarge && len(best) < 2 {
			break
		}
		m := NewOneMerge(best...)
		spec.add(m)
		log.Debug("found merge", "trigger", trigger, "merge", m.String(), "score", bestScore, "tooLarge", bestTooLarge)

		taken := make(map[string]bool, len(best))
		for _, s := range best {
			taken[s.Name] = true
		}
		rest := candidates[:0]
		for _, s := range candidates {
			if !taken[s.Name] {
				rest = append(rest, s)
			}
		}
		candidates = rest
		mergingBytes += m.EstimatedBytes()
	}
	return spec.orNil()
}

// bestMerge scans windows over segments sorted by decreasing size and
// returns the window with the lowest score. Lower is better: balanced
// merges of small segments reclaiming deletions win.
func (p *Tiered) bestMerge(sorted []Segment, mergingBytes int64) ([]Segment, float64, bool) {
	var (
		best         []Segment
		bestScore    float64
		bestTooLarge bool
	)
	for start := 0; start <= len(sorted)-p.MaxMergeAtOnce || (start == 0 && len(sorted) >= 2); start++ {
		var (
			candidate    []Segment
			totalSize    int64
			floored      int64
			hitTooLarge  bool
			totalMaxDoc  int
			totalLiveDoc int
		)
		for idx := start; idx < len(sorted) && len(candidate) < p.MaxMergeAtOnce; idx++ {
			s := sorted[idx]
			size := s.LiveBytes()
			if totalSize+size > p.MaxMergedSegmentBytes {
				hitTooLarge = true
				continue
			}
			candidate = append(candidate, s)
			totalSize += size
			floored += p.floor(size)
			totalMaxDoc += s.MaxDoc
			totalLiveDoc += s.NumDocs()
		}
		if len(candidate) == 0 {
			continue
		}

		var skew float64
		if hitTooLarge {
			skew = 1.0 / float64(p.MaxMergeAtOnce)
		} else {
			skew = float64(p.floor(candidate[0].LiveBytes())) / float64(floored)
		}
		score := skew * math.Pow(float64(max(totalSize, 1)), 0.05)
		if totalMaxDoc > 0 {
			nonDelRatio := float64(totalLiveDoc) / float64(totalMaxDoc)
			score *= math.Pow(nonDelRatio, p.ReclaimDeletesWeight)
		}
		if len(candidate) < 2 {
			continue
		}
		if best == nil || score < bestScore {
			best, bestScore, bestTooLarge = candidate, score, hitTooLarge
		}
	}
	return best, bestScore, bestTooLarge
}

// FindForcedMerges merges the smallest eligible segments in groups of at
// most MaxMergeAtOnceExplicit until maxSegmentCount would be reached.
func (p *Tiered) FindForcedMerges(segments []Segment, maxSegmentCount int, toMerge, merging map[string]bool) *Spec {
	if isMerged(segments, maxSegmentCount, toMerge) {
		return nil
	}
	var candidates []Segment
	for _, s := range segments {
		if toMerge[s.Name] && !merging[s.Name] {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].LiveBytes() > candidates[j].LiveBytes() })
	spec := forcedMerges(candidates, maxSegmentCount, p.MaxMergeAtOnceExplicit)
	p.logger().Debug("forced merges", "maxSegmentCount", maxSegmentCount, "merges", len(spec.Merges))
	return spec.orNil()
}

// forcedMerges takes groups from the tail of segments (the smallest when
// sorted by decreasing size) until at most maxSegmentCount would remain.
// A lone segment with deletions is rewritten when maxSegmentCount is 1.
func forcedMerges(segments []Segment, maxSegmentCount, maxAtOnce int) *Spec {
	spec := &Spec{}
	count := len(segments)
	if count == 1 && maxSegmentCount == 1 {
		if segments[0].DelCount > 0 {
			m := NewOneMerge(segments[0])
			m.MaxNumSegments = maxSegmentCount
			spec.add(m)
		}
		return spec
	}
	rest := segments
	for count > maxSegmentCount && len(rest) >= 2 {
		k := min(maxAtOnce, count-maxSegmentCount+1, len(rest))
		m := NewOneMerge(rest[len(rest)-k:]...)
		m.MaxNumSegments = maxSegmentCount
		spec.add(m)
		rest = rest[:len(rest)-k]
		count -= k - 1
	}
	return spec
}

// FindForcedDeletesMerges merges every segment whose deletions exceed
// ForceMergeDeletesPctAllowed.
func (p *Tiered) FindForcedDeletesMerges(segments []Segment, merging map[string]bool) *Spec {
	var candidates []Segment
	for _, s := range eligible(segments, merging) {
		if s.DeletesRatio()*100 > p.ForceMergeDeletesPctAllowed {
			candidates = append(candidates, s)
		}
	}
	return groupMerges(candidates, p.MaxMergeAtOnceExplicit).orNil()
}

// groupMerges splits segments into consecutive groups of at most size.
func groupMerges(segments []Segment, size int) *Spec {
	spec := &Spec{}
	for len(segments) > 0 {
		k := min(size, len(segments))
		spec.add(NewOneMerge(segments[:k]...))
		segments = segments[k:]
	}
	return spec
}
