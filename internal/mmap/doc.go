// Package mmap provides read-only memory-mapped file access.
//
// MMapDirectory maps whole index files and serves IndexInput reads and
// clones straight from the mapped region, so every clone is a slice header
// over the same pages.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with madvise(2) hints
//   - Other platforms: the file is read into memory; Advise is a no-op
//
// A Mapping is safe for concurrent readers. Close is idempotent, but callers
// must not touch Bytes() after Close returns.
package mmap
