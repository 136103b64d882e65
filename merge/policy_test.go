package merge

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segs(n int, size int64, docs int) []Segment {
	out := make([]Segment, n)
	for i := range out {
		out[i] = Segment{Name: fmt.Sprintf("_%d", i), SizeBytes: size, MaxDoc: docs, Codec: "Invgo10"}
	}
	return out
}

func assertDisjoint(t *testing.T, spec *Spec) map[string]bool {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range spec.Merges {
		for _, name := range m.Names() {
			require.False(t, seen[name], "segment %s selected twice", name)
			seen[name] = true
		}
	}
	return seen
}

func TestTieredFindMerges(t *testing.T) {
	p := NewTiered()
	spec := p.FindMerges(TriggerSegmentFlush, segs(30, 1<<20, 100), nil)
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 2)
	for _, m := range spec.Merges {
		assert.Len(t, m.Segments, 10)
		assert.Equal(t, -1, m.MaxNumSegments)
	}
	assertDisjoint(t, spec)

	assert.Nil(t, p.FindMerges(TriggerSegmentFlush, segs(5, 1<<20, 100), nil))
}

func TestTieredSkipsMergingAndHugeSegments(t *testing.T) {
	p := NewTiered()
	all := segs(12, 1<<20, 100)
	all[0].SizeBytes = p.MaxMergedSegmentBytes
	merging := map[string]bool{"_1": true, "_2": true}

	spec := p.FindMerges(TriggerMergeFinished, all, merging)
	assert.Nil(t, spec, "9 eligible segments fit the tiers")

	all = append(all, segs(20, 1<<20, 100)...)
	for i := 12; i < len(all); i++ {
		all[i].Name = fmt.Sprintf("_x%d", i)
	}
	spec = p.FindMerges(TriggerMergeFinished, all, merging)
	require.NotNil(t, spec)
	seen := assertDisjoint(t, spec)
	assert.False(t, seen["_0"])
	assert.False(t, seen["_1"])
	assert.False(t, seen["_2"])
}

func TestTieredPrefersReclaimingDeletes(t *testing.T) {
	p := NewTiered()
	p.MaxMergeAtOnce = 2
	p.SegmentsPerTier = 2
	all := segs(3, 1<<20, 100)
	all[2].DelCount = 90

	spec := p.FindMerges(TriggerExplicit, all, nil)
	require.NotNil(t, spec)
	assert.Contains(t, spec.Merges[0].Names(), "_2")
}

func TestForcedMerges(t *testing.T) {
	t.Run("groups", func(t *testing.T) {
		p := NewTiered()
		p.MaxMergeAtOnceExplicit = 10
		all := segs(25, 1<<20, 10)
		toMerge := map[string]bool{}
		for _, s := range all {
			toMerge[s.Name] = true
		}
		spec := p.FindForcedMerges(all, 1, toMerge, nil)
		require.NotNil(t, spec)
		require.Len(t, spec.Merges, 3)
		assert.Len(t, spec.Merges[0].Segments, 10)
		assert.Len(t, spec.Merges[2].Segments, 5)
		for _, m := range spec.Merges {
			assert.Equal(t, 1, m.MaxNumSegments)
		}
		assertDisjoint(t, spec)
	})

	t.Run("already merged", func(t *testing.T) {
		p := NewTiered()
		one := segs(1, 100, 10)
		assert.Nil(t, p.FindForcedMerges(one, 1, map[string]bool{"_0": true}, nil))

		one[0].DelCount = 1
		spec := p.FindForcedMerges(one, 1, map[string]bool{"_0": true}, nil)
		require.NotNil(t, spec)
		assert.Equal(t, []string{"_0"}, spec.Merges[0].Names())
	})

	t.Run("log", func(t *testing.T) {
		p := NewLogDoc()
		p.MergeFactor = 3
		all := segs(5, 100, 10)
		toMerge := map[string]bool{}
		for _, s := range all {
			toMerge[s.Name] = true
		}
		spec := p.FindForcedMerges(all, 2, toMerge, nil)
		require.NotNil(t, spec)
		require.Len(t, spec.Merges, 2)
		assert.Equal(t, []string{"_2", "_3", "_4"}, spec.Merges[0].Names())
		assert.Equal(t, []string{"_0", "_1"}, spec.Merges[1].Names())
	})
}

func TestForcedDeletesMerges(t *testing.T) {
	all := segs(4, 100, 100)
	all[1].DelCount = 20
	all[3].DelCount = 5

	spec := NewTiered().FindForcedDeletesMerges(all, nil)
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 1)
	assert.Equal(t, []string{"_1"}, spec.Merges[0].Names())

	spec = NewLogDoc().FindForcedDeletesMerges(all, map[string]bool{"_3": true})
	require.NotNil(t, spec)
	assert.Equal(t, []string{"_1"}, spec.Merges[0].Names())
}

func TestLogDocFindMerges(t *testing.T) {
	p := NewLogDoc()
	p.MergeFactor = 3
	p.MinMergeSize = 10
	all := append(segs(3, 0, 1000), segs(4, 0, 10)...)
	for i := range all {
		all[i].Name = fmt.Sprintf("_%d", i)
	}

	spec := p.FindMerges(TriggerSegmentFlush, all, nil)
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 2)
	assert.Equal(t, []string{"_0", "_1", "_2"}, spec.Merges[0].Names())
	assert.Equal(t, []string{"_3", "_4", "_5"}, spec.Merges[1].Names())

	spec = p.FindMerges(TriggerSegmentFlush, all, map[string]bool{"_1": true})
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 1)
	assert.Equal(t, []string{"_3", "_4", "_5"}, spec.Merges[0].Names())

	p.MaxMergeDocs = 500
	spec = p.FindMerges(TriggerSegmentFlush, all, nil)
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 1)
}

func TestLogByteSizeLevels(t *testing.T) {
	p := NewLogByteSize()
	assert.Equal(t, int64(1677721), p.MinMergeSize)
	assert.Equal(t, int64(2<<30), p.MaxMergeSize)
	p.MergeFactor = 2
	p.MinMergeSize = 1
	all := segs(4, 1<<20, 10)
	spec := p.FindMerges(TriggerSegmentFlush, all, nil)
	require.NotNil(t, spec)
	assert.Len(t, spec.Merges, 2)
	assert.Greater(t, p.level(1<<30), p.level(1<<20))
	assert.Equal(t, 0.0, p.level(0))
}

func TestUpgradeSelectsOldSegments(t *testing.T) {
	all := segs(3, 100, 10)
	all[1].Codec = "Invgo09"
	toMerge := map[string]bool{"_0": true, "_1": true, "_2": true}

	p := NewUpgrade(NewTiered(), "Invgo10")
	spec := p.FindForcedMerges(all, math.MaxInt32, toMerge, nil)
	require.NotNil(t, spec)
	require.Len(t, spec.Merges, 1)
	assert.Equal(t, []string{"_1"}, spec.Merges[0].Names())

	all[2].Codec = "Invgo09"
	spec = p.FindForcedMerges(all, math.MaxInt32, toMerge, nil)
	require.NotNil(t, spec)
	assert.ElementsMatch(t, []string{"_1", "_2"}, spec.Merges[0].Names())

	all[1].Codec, all[2].Codec = "Invgo10", "Invgo10"
	assert.Nil(t, p.FindForcedMerges(all, math.MaxInt32, toMerge, nil))
	assert.Nil(t, p.FindMerges(TriggerSegmentFlush, all, nil))
}

func TestCompound(t *testing.T) {
	all := segs(10, 10, 1)
	c := Compound{NoCFSRatio: 0.1, MaxCFSSegmentBytes: 1 << 40}
	assert.True(t, c.UseCompoundFile(all, Segment{SizeBytes: 10}))
	assert.False(t, c.UseCompoundFile(all, Segment{SizeBytes: 11}))

	c.NoCFSRatio = 1
	assert.True(t, c.UseCompoundFile(all, Segment{SizeBytes: 1000}))
	c.MaxCFSSegmentBytes = 100
	assert.False(t, c.UseCompoundFile(all, Segment{SizeBytes: 1000}))
	c.NoCFSRatio = 0
	assert.False(t, c.UseCompoundFile(all, Segment{SizeBytes: 1}))

	assert.True(t, NoMerge{Compound: true}.UseCompoundFile(nil, Segment{}))
	assert.Nil(t, NoMerge{}.FindMerges(TriggerExplicit, all, nil))
}

func TestOneMergeLifecycle(t *testing.T) {
	m := NewOneMerge(segs(2, 100, 10)...)
	m.Segments[1].DelCount = 5
	assert.Equal(t, 20, m.TotalMaxDoc())
	assert.Equal(t, int64(150), m.EstimatedBytes())
	assert.Equal(t, "_0:10 _1:10/5", m.String())

	require.NoError(t, m.CheckAborted())
	m.Abort()
	require.ErrorIs(t, m.CheckAborted(), ErrAborted)

	m.Finish(ErrAborted)
	m.Finish(nil)
	<-m.Done()
	require.ErrorIs(t, m.Err(), ErrAborted)
}
