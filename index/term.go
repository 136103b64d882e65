package index

import "fmt"

// Term is a field and a term text. Text holds arbitrary bytes.
type Term struct {
	Field string
	Text  string
}

// NewTerm returns a term of field.
func NewTerm(field, text string) Term { return Term{Field: field, Text: text} }

// NewTermBytes returns a term of field with binary text.
func NewTermBytes(field string, text []byte) Term { return Term{Field: field, Text: string(text)} }

// Bytes returns the term text.
func (t Term) Bytes() []byte { return []byte(t.Text) }

func (t Term) String() string { return fmt.Sprintf("%s:%s", t.Field, t.Text) }
