// Package cache holds decompressed stored-field chunks so repeated document
// loads from the same chunk skip decompression.
//
// Entries are keyed by the segment's unique id, the file and the chunk's
// start pointer. Segment files are write-once, so a key never goes stale;
// entries of a dropped segment are removed with Invalidate.
//
// The cache charges its bytes to an optional resource.Controller so that
// all readers of one process share a memory budget.
package cache
