package merge

import "log/slog"

// Upgrade wraps a policy and, during forced merges, rewrites every segment
// that ShouldUpgrade selects. Natural merges are left to the wrapped policy.
type Upgrade struct {
	Base Policy

	// ShouldUpgrade selects segments written by an outdated codec.
	ShouldUpgrade func(s Segment) bool

	Logger *slog.Logger
}

// NewUpgrade returns an upgrade policy that rewrites segments whose codec
// differs from current.
func NewUpgrade(base Policy, current string) *Upgrade {
	return &Upgrade{
		Base:          base,
		ShouldUpgrade: func(s Segment) bool { return s.Codec != current },
	}
}

func (p *Upgrade) FindMerges(trigger Trigger, segments []Segment, merging map[string]bool) *Spec {
	return p.Base.FindMerges(trigger, segments, merging)
}

// FindForcedMerges lets the base policy merge the outdated segments and
// merges those it left out into one more segment.
func (p *Upgrade) FindForcedMerges(segments []Segment, maxSegmentCount int, toMerge, merging map[string]bool) *Spec {
	old := make(map[string]bool)
	var oldSegs []Segment
	for _, s := range segments {
		if toMerge[s.Name] && p.ShouldUpgrade(s) {
			old[s.Name] = true
			oldSegs = append(oldSegs, s)
		}
	}
	if len(old) == 0 {
		return nil
	}
	if p.Logger != nil {
		p.Logger.Debug("upgrading segments", "component", "merge", "segments", len(old))
	}

	spec := p.Base.FindForcedMerges(segments, maxSegmentCount, old, merging)
	if spec == nil {
		spec = &Spec{}
	}
	for _, m := range spec.Merges {
		for _, s := range m.Segments {
			delete(old, s.Name)
		}
	}
	var rest []Segment
	for _, s := range oldSegs {
		if old[s.Name] && !merging[s.Name] {
			rest = append(rest, s)
		}
	}
	if len(rest) > 0 {
		m := NewOneMerge(rest...)
		m.MaxNumSegments = maxSegmentCount
		spec.add(m)
	}
	return spec.orNil()
}

func (p *Upgrade) FindForcedDeletesMerges(segments []Segment, merging map[string]bool) *Spec {
	return p.Base.FindForcedDeletesMerges(segments, merging)
}

func (p *Upgrade) UseCompoundFile(segments []Segment, newSegment Segment) bool {
	return p.Base.UseCompoundFile(segments, newSegment)
}
