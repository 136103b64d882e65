package invgo

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/invgo/index"
)

// MetricsCollector receives writer events. Implement it to integrate with
// monitoring systems, or use PrometheusCollector.
type MetricsCollector = index.MetricsCollector

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) OnFlush(int, int64, time.Duration)      {}
func (NoopMetricsCollector) OnMerge(int, int, time.Duration, error) {}
func (NoopMetricsCollector) OnCommit(int64, time.Duration)          {}
func (NoopMetricsCollector) OnStall()                               {}
func (NoopMetricsCollector) OnDeletesApplied(int)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FlushCount       atomic.Int64
	FlushedDocs      atomic.Int64
	FlushedBytes     atomic.Int64
	FlushTotalNanos  atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergedSegments   atomic.Int64
	MergedDocs       atomic.Int64
	MergeTotalNanos  atomic.Int64
	CommitCount      atomic.Int64
	CommitTotalNanos atomic.Int64
	LastGeneration   atomic.Int64
	StallCount       atomic.Int64
	DeletedDocs      atomic.Int64
}

var _ MetricsCollector = (*BasicMetricsCollector)(nil)

// OnFlush implements MetricsCollector.
func (b *BasicMetricsCollector) OnFlush(docs int, bytes int64, took time.Duration) {
	b.FlushCount.Add(1)
	b.FlushedDocs.Add(int64(docs))
	b.FlushedBytes.Add(bytes)
	b.FlushTotalNanos.Add(took.Nanoseconds())
}

// OnMerge implements MetricsCollector.
func (b *BasicMetricsCollector) OnMerge(segments, docs int, took time.Duration, err error) {
	b.MergeCount.Add(1)
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergedSegments.Add(int64(segments))
	b.MergedDocs.Add(int64(docs))
	b.MergeTotalNanos.Add(took.Nanoseconds())
}

// OnCommit implements MetricsCollector.
func (b *BasicMetricsCollector) OnCommit(generation int64, took time.Duration) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(took.Nanoseconds())
	b.LastGeneration.Store(generation)
}

// OnStall implements MetricsCollector.
func (b *BasicMetricsCollector) OnStall() { b.StallCount.Add(1) }

// OnDeletesApplied implements MetricsCollector.
func (b *BasicMetricsCollector) OnDeletesApplied(deleted int) { b.DeletedDocs.Add(int64(deleted)) }

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FlushCount:     b.FlushCount.Load(),
		FlushedDocs:    b.FlushedDocs.Load(),
		FlushedBytes:   b.FlushedBytes.Load(),
		FlushAvgNanos:  avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		MergeCount:     b.MergeCount.Load(),
		MergeErrors:    b.MergeErrors.Load(),
		MergedSegments: b.MergedSegments.Load(),
		MergedDocs:     b.MergedDocs.Load(),
		MergeAvgNanos:  avg(b.MergeTotalNanos.Load(), b.MergeCount.Load()-b.MergeErrors.Load()),
		CommitCount:    b.CommitCount.Load(),
		CommitAvgNanos: avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		LastGeneration: b.LastGeneration.Load(),
		StallCount:     b.StallCount.Load(),
		DeletedDocs:    b.DeletedDocs.Load(),
	}
}

func avg(total, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FlushCount     int64
	FlushedDocs    int64
	FlushedBytes   int64
	FlushAvgNanos  int64
	MergeCount     int64
	MergeErrors    int64
	MergedSegments int64
	MergedDocs     int64
	MergeAvgNanos  int64
	CommitCount    int64
	CommitAvgNanos int64
	LastGeneration int64
	StallCount     int64
	DeletedDocs    int64
}

// multiCollector fans events out to several collectors.
type multiCollector []MetricsCollector

func (m multiCollector) OnFlush(docs int, bytes int64, took time.Duration) {
	for _, c := range m {
		c.OnFlush(docs, bytes, took)
	}
}

func (m multiCollector) OnMerge(segments, docs int, took time.Duration, err error) {
	for _, c := range m {
		c.OnMerge(segments, docs, took, err)
	}
}

func (m multiCollector) OnCommit(generation int64, took time.Duration) {
	for _, c := range m {
		c.OnCommit(generation, took)
	}
}

func (m multiCollector) OnStall() {
	for _, c := range m {
		c.OnStall()
	}
}

func (m multiCollector) OnDeletesApplied(deleted int) {
	for _, c := range m {
		c.OnDeletesApplied(deleted)
	}
}
