package flush

// Disabled turns off a count or RAM trigger.
const Disabled = -1

// Policy decides which states to flush. It is called with the Control's
// lock held, by the goroutine that owns ts.
type Policy interface {
	// OnInsert is called after a document was added to ts.
	OnInsert(c *Control, ts *ThreadState)

	// OnDelete is called after a delete was buffered. ts is nil for deletes
	// that do not belong to an update.
	OnDelete(c *Control, ts *ThreadState)
}

// OnUpdate runs both callbacks of p, inserts first.
func OnUpdate(p Policy, c *Control, ts *ThreadState) {
	p.OnInsert(c, ts)
	p.OnDelete(c, ts)
}

// ByRAMOrCounts flushes the owning state once it holds MaxBufferedDocs
// documents, or the largest state once buffered documents and deletes
// together use RAMBufferBytes. Deletes are applied once MaxBufferedDeleteTerms
// terms are buffered or they alone exceed the RAM budget.
type ByRAMOrCounts struct {
	MaxBufferedDocs        int
	MaxBufferedDeleteTerms int
	RAMBufferBytes         int64
}

func (p ByRAMOrCounts) flushOnDocCount() bool   { return p.MaxBufferedDocs != Disabled && p.MaxBufferedDocs > 0 }
func (p ByRAMOrCounts) flushOnDeleteTerms() bool { return p.MaxBufferedDeleteTerms != Disabled && p.MaxBufferedDeleteTerms > 0 }
func (p ByRAMOrCounts) flushOnRAM() bool         { return p.RAMBufferBytes != Disabled && p.RAMBufferBytes > 0 }

func (p ByRAMOrCounts) OnDelete(c *Control, ts *ThreadState) {
	terms, bytes := c.deleteStats()
	if p.flushOnDeleteTerms() && terms >= p.MaxBufferedDeleteTerms {
		c.SetApplyAllDeletes()
	}
	if p.flushOnRAM() && bytes > p.RAMBufferBytes {
		c.SetApplyAllDeletes()
		c.logger.Debug("force apply deletes", "deleteBytes", bytes, "limit", p.RAMBufferBytes)
	}
}

func (p ByRAMOrCounts) OnInsert(c *Control, ts *ThreadState) {
	if p.flushOnDocCount() && ts.docs >= p.MaxBufferedDocs {
		c.SetFlushPending(ts)
		return
	}
	if p.flushOnRAM() {
		_, deleteBytes := c.deleteStats()
		total := c.activeBytes + deleteBytes
		if total >= p.RAMBufferBytes {
			c.logger.Debug("flush on RAM", "activeBytes", c.activeBytes, "deleteBytes", deleteBytes, "limit", p.RAMBufferBytes)
			c.markLargestPending(ts)
		}
	}
}
