package codec

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Bits is a read-only bit set over doc ids.
type Bits interface {
	Get(index int) bool
	Len() int
}

// LiveDocs marks the live documents of a segment. It stores the deleted
// ids in a roaring bitmap, so a segment with few deletes stays small.
type LiveDocs struct {
	maxDoc  int
	deleted *roaring.Bitmap
}

// NewLiveDocs returns a bit set with all maxDoc documents live.
func NewLiveDocs(maxDoc int) *LiveDocs {
	return &LiveDocs{maxDoc: maxDoc, deleted: roaring.New()}
}

// LiveDocsFromDeleted wraps a deleted-id bitmap. The bitmap is not copied.
func LiveDocsFromDeleted(maxDoc int, deleted *roaring.Bitmap) *LiveDocs {
	if deleted == nil {
		deleted = roaring.New()
	}
	return &LiveDocs{maxDoc: maxDoc, deleted: deleted}
}

// Get reports whether doc is live.
func (l *LiveDocs) Get(doc int) bool { return !l.deleted.Contains(uint32(doc)) }

// Len returns maxDoc.
func (l *LiveDocs) Len() int { return l.maxDoc }

// Delete marks doc deleted and reports whether it was live.
func (l *LiveDocs) Delete(doc int) bool { return l.deleted.CheckedAdd(uint32(doc)) }

// DeletedCount returns the number of deleted documents.
func (l *LiveDocs) DeletedCount() int { return int(l.deleted.GetCardinality()) }

// Deleted returns the deleted-id bitmap. Callers must not modify it.
func (l *LiveDocs) Deleted() *roaring.Bitmap { return l.deleted }

// Clone returns an independent copy.
func (l *LiveDocs) Clone() *LiveDocs {
	return &LiveDocs{maxDoc: l.maxDoc, deleted: l.deleted.Clone()}
}

// MatchAllBits reports every document as set.
type MatchAllBits int

func (b MatchAllBits) Get(int) bool { return true }
func (b MatchAllBits) Len() int     { return int(b) }

// IsLive reports whether doc is live in bits, treating nil as all live.
func IsLive(bits Bits, doc int) bool {
	return bits == nil || bits.Get(doc)
}
