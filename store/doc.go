// Package store is the storage layer underneath every index file.
//
// A [Directory] is a flat namespace of write-once files. Three
// implementations ship with the package:
//
//   - [FSDirectory]: buffered positional reads over an internal/fs
//     FileSystem (so tests can inject faults)
//   - [MMapDirectory]: FSDirectory whose inputs are served from mmap(2)
//   - [RAMDirectory]: heap-backed, for tests and small transient indexes
//
// Wrappers add behaviour without touching the implementations:
// [TrackingDirectory] records created files (used to clean up aborted
// segments), [RateLimitedDirectory] throttles merge output, and
// [FaultyDirectory] injects failures and simulates a full disk.
//
// # Inputs and outputs
//
// An [IndexInput] is positional. Clone and Slice return handles with their
// own file pointer, so two goroutines can read the same file without
// coordinating; only the handle returned by OpenInput owns the underlying
// resource. An [IndexOutput] is append-only and maintains a running
// CRC32-C over the bytes written, which [WriteFooter] seals into the file.
//
// # Compound files
//
// [CompoundWriter] packs the files of one segment into a data file (.cfs)
// and an entries table (.cfe). [CompoundReader] opens the pair as a
// read-only Directory. Both satisfy Directory, so compound files nest.
//
// # Locking
//
// ObtainLock never blocks. [ObtainLockWithTimeout] retries with backoff and
// fails with [ErrLockObtainFailed] once the timeout elapses.
package store
