package index

import "time"

// MetricsCollector receives indexing events. Implementations must be safe
// for concurrent use; the writer calls them from indexing and merge
// goroutines.
type MetricsCollector interface {
	// OnFlush is called after a buffer was written as a new segment.
	OnFlush(docs int, bytes int64, took time.Duration)

	// OnMerge is called after a merge finished. err is nil on success.
	OnMerge(segments, docs int, took time.Duration, err error)

	// OnCommit is called after a commit became durable.
	OnCommit(generation int64, took time.Duration)

	// OnStall is called when an indexing goroutine blocks on pending flushes.
	OnStall()

	// OnDeletesApplied is called after buffered deletes were resolved
	// against the segments; deleted counts the newly deleted documents.
	OnDeletesApplied(deleted int)
}

type noopMetrics struct{}

func (noopMetrics) OnFlush(int, int64, time.Duration)      {}
func (noopMetrics) OnMerge(int, int, time.Duration, error) {}
func (noopMetrics) OnCommit(int64, time.Duration)          {}
func (noopMetrics) OnStall()                               {}
func (noopMetrics) OnDeletesApplied(int)                   {}
