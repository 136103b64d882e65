package testutil

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/invgo/document"
)

// Vocabulary is the word list random text is drawn from. Words earlier in
// the list are more frequent.
var Vocabulary = []string{
	"the", "of", "and", "to", "in", "is", "that", "for", "it", "as",
	"was", "with", "be", "by", "on", "not", "he", "this", "are", "or",
	"his", "from", "at", "which", "but", "have", "an", "had", "they", "you",
	"index", "segment", "merge", "commit", "flush", "term", "posting", "field",
	"reader", "writer", "codec", "delete", "update", "thread", "buffer", "policy",
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Int63 returns a non-negative pseudo-random 63-bit integer.
func (r *RNG) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Int63()
}

// Bool returns a pseudo-random boolean.
func (r *RNG) Bool() bool {
	return r.Intn(2) == 1
}

// Zipf returns a Zipfian-distributed value in [0, n).
// P(k) ∝ 1/k^s where s is the skew parameter.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1 // 0-indexed
		}
	}

	return n - 1
}

// Words returns n words drawn Zipf-distributed from Vocabulary.
func (r *RNG) Words(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	words := make([]string, n)
	for i := range words {
		words[i] = Vocabulary[r.zipfLocked(len(Vocabulary), 1.0)]
	}
	return words
}

// Text returns between minWords and maxWords space separated words.
func (r *RNG) Text(minWords, maxWords int) string {
	n := minWords
	if maxWords > minWords {
		n += r.Intn(maxWords - minWords + 1)
	}
	return strings.Join(r.Words(n), " ")
}

// Document returns a document with a stored "id" string field, a stored
// "body" text field with positions and offsets, a "num" numeric doc value
// and a "tag" sorted doc value.
func (r *RNG) Document(id int) *document.Document {
	body, _ := document.NewField("body", r.Text(5, 40), BodyFieldType)
	return document.New(
		document.NewStringField("id", strconv.Itoa(id), true),
		body,
		document.NewNumericDocValuesField("num", r.Int63()%1000),
		document.NewSortedDocValuesField("tag", []byte(Vocabulary[r.Intn(len(Vocabulary))])),
	)
}

// Documents returns n documents with ids start, start+1, ...
func (r *RNG) Documents(start, n int) []*document.Document {
	docs := make([]*document.Document, n)
	for i := range docs {
		docs[i] = r.Document(start + i)
	}
	return docs
}

// BodyFieldType is a stored, tokenized field with term vectors, positions
// and offsets.
var BodyFieldType = document.FieldType{
	Stored:                   true,
	Tokenized:                true,
	IndexOptions:             document.DocsAndFreqsAndPositionsAndOffsets,
	StoreTermVectors:         true,
	StoreTermVectorPositions: true,
	StoreTermVectorOffsets:   true,
}
