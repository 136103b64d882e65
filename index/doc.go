// Package index implements the writer and readers of an inverted index.
//
// An index is a set of immutable segments listed by a commit descriptor
// (segments_N). The Writer buffers added documents in per-goroutine
// buffers, flushes them into new segments, applies deletes and doc values
// updates as generation files, merges segments in the background and
// publishes new commits. Readers see a point-in-time snapshot: a
// DirectoryReader opened from a commit or, near real time, from a Writer.
//
// # Commits
//
// Commit and PrepareCommit write pending_segments_N, sync every referenced
// file and atomically rename it to segments_N. The segments.gen pointer
// records the newest generation. The DeletionPolicy decides which older
// commits survive; their files are reference counted by the file deleter
// and removed once no commit, in-memory segment list or NRT reader needs
// them.
//
// # Concurrency
//
// Writer methods are safe for concurrent use. Indexing goroutines write
// into private buffers; flushes, merges and commits synchronize on the
// writer's segment list. Readers are immutable and reference counted.
package index
