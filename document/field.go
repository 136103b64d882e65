package document

import (
	"fmt"
	"strconv"
)

// ValueKind identifies which value a Field carries.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueString
	ValueBytes
	ValueInt
	ValueFloat
)

// Field is one named value of a document.
type Field struct {
	name string
	typ  FieldType

	kind   ValueKind
	str    string
	bytes  []byte
	num    int64
	float  float64
	tokens TokenStream
}

// NewField creates a string-valued field of an arbitrary type.
func NewField(name, value string, ft FieldType) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidField)
	}
	if err := ft.Validate(); err != nil {
		return Field{}, err
	}
	return Field{name: name, typ: ft, kind: ValueString, str: value}, nil
}

// NewTokenStreamField creates an indexed field from pre-analyzed tokens.
func NewTokenStreamField(name string, ts TokenStream, ft FieldType) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidField)
	}
	if !ft.Indexed() || ft.Stored {
		return Field{}, fmt.Errorf("%w: token stream fields must be indexed and cannot be stored", ErrInvalidField)
	}
	if err := ft.Validate(); err != nil {
		return Field{}, err
	}
	return Field{name: name, typ: ft, tokens: ts}, nil
}

// NewTextField returns a tokenized field indexed with positions.
func NewTextField(name, value string, stored bool) Field {
	ft := TextType
	ft.Stored = stored
	return Field{name: name, typ: ft, kind: ValueString, str: value}
}

// NewStringField returns a field indexed as a single term, e.g. an id.
func NewStringField(name, value string, stored bool) Field {
	ft := StringType
	ft.Stored = stored
	return Field{name: name, typ: ft, kind: ValueString, str: value}
}

// NewStoredField returns a stored, not indexed, string field.
func NewStoredField(name, value string) Field {
	return Field{name: name, typ: StoredOnlyType, kind: ValueString, str: value}
}

// NewStoredBytesField returns a stored binary field.
func NewStoredBytesField(name string, value []byte) Field {
	return Field{name: name, typ: StoredOnlyType, kind: ValueBytes, bytes: value}
}

// NewStoredIntField returns a stored int64 field.
func NewStoredIntField(name string, value int64) Field {
	return Field{name: name, typ: StoredOnlyType, kind: ValueInt, num: value}
}

// NewStoredFloatField returns a stored float64 field.
func NewStoredFloatField(name string, value float64) Field {
	return Field{name: name, typ: StoredOnlyType, kind: ValueFloat, float: value}
}

// NewNumericDocValuesField returns a numeric doc values field.
func NewNumericDocValuesField(name string, value int64) Field {
	return Field{name: name, typ: FieldType{DocValuesType: DocValuesNumeric}, kind: ValueInt, num: value}
}

// NewBinaryDocValuesField returns a binary doc values field.
func NewBinaryDocValuesField(name string, value []byte) Field {
	return Field{name: name, typ: FieldType{DocValuesType: DocValuesBinary}, kind: ValueBytes, bytes: value}
}

// NewSortedDocValuesField returns a sorted doc values field.
func NewSortedDocValuesField(name string, value []byte) Field {
	return Field{name: name, typ: FieldType{DocValuesType: DocValuesSorted}, kind: ValueBytes, bytes: value}
}

// NewSortedSetDocValuesField adds one value to a sorted set doc values field.
// A document may carry several with the same name.
func NewSortedSetDocValuesField(name string, value []byte) Field {
	return Field{name: name, typ: FieldType{DocValuesType: DocValuesSortedSet}, kind: ValueBytes, bytes: value}
}

// NewSortedNumericDocValuesField adds one value to a sorted numeric doc
// values field.
func NewSortedNumericDocValuesField(name string, value int64) Field {
	return Field{name: name, typ: FieldType{DocValuesType: DocValuesSortedNumeric}, kind: ValueInt, num: value}
}

func (f Field) Name() string             { return f.name }
func (f Field) Type() FieldType          { return f.typ }
func (f Field) Kind() ValueKind          { return f.kind }
func (f Field) BytesValue() []byte       { return f.bytes }
func (f Field) IntValue() int64          { return f.num }
func (f Field) FloatValue() float64      { return f.float }
func (f Field) TokenStream() TokenStream { return f.tokens }

// StringValue returns the value rendered as a string.
func (f Field) StringValue() string {
	switch f.kind {
	case ValueString:
		return f.str
	case ValueBytes:
		return string(f.bytes)
	case ValueInt:
		return strconv.FormatInt(f.num, 10)
	case ValueFloat:
		return strconv.FormatFloat(f.float, 'g', -1, 64)
	default:
		return ""
	}
}

func (f Field) String() string {
	return fmt.Sprintf("%s<%s:%s>", f.typ, f.name, f.StringValue())
}
