package index

import (
	"math"
	"slices"
	"sync"
)

type opKind uint8

const (
	opDeleteTerm opKind = iota
	opNumericUpdate
	opBinaryUpdate
)

func (k opKind) String() string {
	switch k {
	case opNumericUpdate:
		return "numericUpdate"
	case opBinaryUpdate:
		return "binaryUpdate"
	default:
		return "deleteTerm"
	}
}

// bufferedOp is a delete or doc values update by term. It applies to every
// document with a smaller sequence number that contains the term.
type bufferedOp struct {
	kind  opKind
	term  Term
	field string
	num   int64
	bin   []byte
	seq   int64
}

const bufferedOpOverhead = 64

func (op *bufferedOp) bytesUsed() int64 {
	return bufferedOpOverhead + int64(len(op.term.Field)+len(op.term.Text)+len(op.field)+len(op.bin))
}

// appliesTo reports whether the op covers a document with sequence number
// docSeq.
func (op *bufferedOp) appliesTo(docSeq int64) bool { return docSeq < op.seq }

// opQueue hands out sequence numbers and buffers deletes and updates until
// every segment and buffer they may touch has resolved them.
type opQueue struct {
	mu  sync.Mutex
	seq int64
	ops []bufferedOp

	bytes     int64
	deleteOps int

	// minimum document sequence number of every buffer that holds documents
	buffers map[*documentsBuffer]int64
}

func newOpQueue(startSeq int64) *opQueue {
	return &opQueue{seq: startSeq, buffers: make(map[*documentsBuffer]int64)}
}

// nextDocSeqs assigns consecutive sequence numbers to n documents added
// to b and returns the last one.
func (q *opQueue) nextDocSeqs(b *documentsBuffer, n int) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.registerLocked(b, n)
	return q.seq
}

// addUpdate buffers ops and assigns the sequence numbers of the n
// documents replacing their matches. The documents never match their own
// ops.
func (q *opQueue) addUpdate(b *documentsBuffer, n int, ops ...bufferedOp) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.appendLocked(q.seq, ops)
	q.registerLocked(b, n)
	return q.seq
}

func (q *opQueue) registerLocked(b *documentsBuffer, n int) {
	first := q.seq + 1
	q.seq += int64(n)
	if _, ok := q.buffers[b]; !ok && n > 0 {
		q.buffers[b] = first
	}
}

// add buffers ops under a single new sequence number.
func (q *opQueue) add(ops ...bufferedOp) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.appendLocked(q.seq, ops)
	return q.seq
}

func (q *opQueue) appendLocked(seq int64, ops []bufferedOp) {
	for _, op := range ops {
		op.seq = seq
		q.bytes += op.bytesUsed()
		if op.kind == opDeleteTerm {
			q.deleteOps++
		}
		q.ops = append(q.ops, op)
	}
}

// next allocates a sequence number without an op, e.g. for commits.
func (q *opQueue) next() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// maxSeq is the last sequence number handed out.
func (q *opQueue) maxSeq() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// freeze returns the last sequence number and every op buffered so far.
// Ops added later have a larger sequence number.
func (q *opQueue) freeze() (int64, []bufferedOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq, slices.Clone(q.ops)
}

// since returns the ops with a sequence number above seq.
func (q *opQueue) since(seq int64) (int64, []bufferedOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i, _ := slices.BinarySearchFunc(q.ops, seq+1, func(op bufferedOp, s int64) int {
		switch {
		case op.seq < s:
			return -1
		case op.seq > s:
			return 1
		default:
			return 0
		}
	})
	return q.seq, slices.Clone(q.ops[i:])
}

// releaseBuffer forgets b once its documents were published as a segment
// or dropped.
func (q *opQueue) releaseBuffer(b *documentsBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.buffers, b)
}

// prune drops the ops every segment resolved (resolved is the smallest
// resolved sequence number over all segments) and no buffered document
// still needs.
func (q *opQueue) prune(resolved int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	limit := resolved
	for _, minSeq := range q.buffers {
		limit = min(limit, minSeq)
	}
	n := 0
	for n < len(q.ops) && q.ops[n].seq <= limit {
		q.bytes -= q.ops[n].bytesUsed()
		if q.ops[n].kind == opDeleteTerm {
			q.deleteOps--
		}
		n++
	}
	if n > 0 {
		q.ops = slices.Delete(q.ops, 0, n)
	}
}

// clear drops every op, e.g. for DeleteAll.
func (q *opQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.bytes = 0
	q.deleteOps = 0
}

// stats reports the number of buffered delete terms and the bytes of all
// buffered ops.
func (q *opQueue) stats() (int, int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleteOps, q.bytes
}

// hasOpsAfter reports whether an op with a sequence number above seq is
// buffered.
func (q *opQueue) hasOpsAfter(seq int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops) > 0 && q.ops[len(q.ops)-1].seq > seq
}

func (q *opQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// noResolvedSeq marks a segment that resolved every op, used as the
// neutral element when pruning without segments.
const noResolvedSeq = math.MaxInt64
