// Package hash provides the checksum used by every index file footer.
//
// All index files end with a CRC32-Castagnoli checksum of everything that
// precedes it. Go's hash/crc32 uses SSE4.2 or the ARM CRC extension when
// available, so checksumming a merged segment is bounded by I/O, not CPU.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming (IndexOutput keeps one of these running while it writes):
//
//	h := hash.NewCRC32C()
//	h.Write(chunk)
//	sum := h.Sum32()
package hash
