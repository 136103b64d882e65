// Package resource bounds the shared resources used by background index
// maintenance.
//
// A Controller hands out:
//
//   - merge worker slots (a weighted semaphore), used by the concurrent
//     merge scheduler to cap the number of merges running at once
//   - IO tokens (a token-bucket rate limiter), used to throttle bytes
//     written by merges so they do not starve flushes and readers
//   - tracked memory, used to account decompressed blocks cached by
//     segment readers against an optional global limit
//
// All methods are nil-safe: a nil *Controller imposes no limits.
package resource
