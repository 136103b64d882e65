package check

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/hupe1980/invgo/document"
)

// Fingerprint is an order independent 128-bit digest of the live content
// of an index: stored documents and every live posting with its frequency.
// Two indexes holding the same live documents have equal fingerprints
// whatever their segment layout or codec.
type Fingerprint struct {
	Docs     uint64
	Postings uint64
	Hi       uint64
	Lo       uint64
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x%016x (docs=%d postings=%d)", f.Hi, f.Lo, f.Docs, f.Postings)
}

// Equal compares the digests and counters.
func (f Fingerprint) Equal(other Fingerprint) bool { return f == other }

func (f *Fingerprint) add(hi, lo uint64) {
	// addition keeps the digest independent of visiting order
	f.Lo += lo
	if f.Lo < lo {
		f.Hi++
	}
	f.Hi += hi
}

func (f *Fingerprint) merge(other Fingerprint) {
	f.Docs += other.Docs
	f.Postings += other.Postings
	f.add(other.Hi, other.Lo)
}

// hasher builds murmur3 digests of length prefixed values.
type hasher struct {
	h   murmur3.Hash128
	buf [binary.MaxVarintLen64]byte
}

func newHasher() *hasher { return &hasher{h: murmur3.New128()} }

func (h *hasher) reset() { h.h.Reset() }

func (h *hasher) bytes(b []byte) {
	n := binary.PutUvarint(h.buf[:], uint64(len(b)))
	_, _ = h.h.Write(h.buf[:n])
	_, _ = h.h.Write(b)
}

func (h *hasher) string(s string) { h.bytes([]byte(s)) }

func (h *hasher) int(v int64) {
	n := binary.PutVarint(h.buf[:], v)
	_, _ = h.h.Write(h.buf[:n])
}

func (h *hasher) sum() (uint64, uint64) { return h.h.Sum128() }

// addDocument hashes the stored fields of one live document. Fields are
// identified by name so field numbering does not matter.
func (f *Fingerprint) addDocument(h *hasher, doc *document.Document) {
	fields := slices.Clone(doc.Fields())
	slices.SortStableFunc(fields, func(a, b document.Field) int { return strings.Compare(a.Name(), b.Name()) })
	h.reset()
	h.int(0) // document marker
	for _, fld := range fields {
		h.string(fld.Name())
		h.int(int64(fld.Kind()))
		h.string(fld.StringValue())
	}
	f.Docs++
	f.add(h.sum())
}

// addPosting hashes one live posting. freq is -1 for fields indexed
// without frequencies.
func (f *Fingerprint) addPosting(h *hasher, field string, term []byte, freq int) {
	h.reset()
	h.int(1) // posting marker
	h.string(field)
	h.bytes(term)
	h.int(int64(freq))
	f.Postings++
	f.add(h.sum())
}
