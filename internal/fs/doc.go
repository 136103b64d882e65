// Package fs abstracts the local file system underneath FSDirectory.
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: open, remove, rename, stat, list, directory sync and
//     exclusive advisory locks
//
// # Implementations
//
//   - [LocalFS]: the os package plus flock(2) locks on Unix
//   - [FaultyFS]: fault injection for tests (short writes, ENOSPC, failing
//     sync or close) layered over another FileSystem
//
// Tests wire a FaultyFS into store.NewFSDirectory to simulate a full disk:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.SetLimit(64 << 10) // ENOSPC after 64 KiB across all files
//	dir, _ := store.NewFSDirectory(path, store.WithFileSystem(ffs))
//
// Operations take no context.Context: local file system calls are short
// and not interruptible at the syscall level.
package fs
