// Package flush decides when buffered documents become segments.
//
// Every indexing goroutine owns a ThreadState from a Pool while it adds a
// document. After each change the Control folds the buffer's new memory use
// into its aggregate counters and consults a Policy, which may mark a state
// flush pending. Pending states are checked out for flushing by exactly one
// goroutine. When buffered plus flushing memory grows far beyond the RAM
// budget, StallControl blocks new documents until flushes catch up.
package flush
