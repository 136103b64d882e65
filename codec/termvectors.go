package codec

// FieldVector is the term vector of one field of one document.
type FieldVector struct {
	Number       int
	HasPositions bool
	HasOffsets   bool
	HasPayloads  bool
	// Terms are in ascending byte order.
	Terms []TermVector
}

// TermVector is one term of a FieldVector. Positions, offsets and payloads
// have Freq entries each when present.
type TermVector struct {
	Term         []byte
	Freq         int
	Positions    []int
	StartOffsets []int
	EndOffsets   []int
	Payloads     [][]byte
}

// FindFieldVector returns the vector of field number in fields, or nil.
func FindFieldVector(fields []FieldVector, number int) *FieldVector {
	for i := range fields {
		if fields[i].Number == number {
			return &fields[i]
		}
	}
	return nil
}
