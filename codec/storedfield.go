package codec

import (
	"github.com/hupe1980/invgo/document"
)

// StoredField is one stored value as written to the stored fields format.
type StoredField struct {
	Number int                `msgpack:"n"`
	Kind   document.ValueKind `msgpack:"k"`
	S      string             `msgpack:"s,omitempty"`
	B      []byte             `msgpack:"b,omitempty"`
	I      int64              `msgpack:"i,omitempty"`
	F      float64            `msgpack:"f,omitempty"`
}

// NewStoredField captures the stored value of f.
func NewStoredField(number int, f document.Field) StoredField {
	sf := StoredField{Number: number, Kind: f.Kind()}
	switch f.Kind() {
	case document.ValueBytes:
		sf.B = f.BytesValue()
	case document.ValueInt:
		sf.I = f.IntValue()
	case document.ValueFloat:
		sf.F = f.FloatValue()
	default:
		sf.Kind = document.ValueString
		sf.S = f.StringValue()
	}
	return sf
}

// Field converts the value back into a stored document field.
func (sf StoredField) Field(name string) document.Field {
	switch sf.Kind {
	case document.ValueBytes:
		return document.NewStoredBytesField(name, sf.B)
	case document.ValueInt:
		return document.NewStoredIntField(name, sf.I)
	case document.ValueFloat:
		return document.NewStoredFloatField(name, sf.F)
	default:
		return document.NewStoredField(name, sf.S)
	}
}

// ToDocument resolves field numbers through fis. Values of unknown fields
// are dropped.
func ToDocument(fields []StoredField, fis *FieldInfos) *document.Document {
	doc := document.New()
	for _, sf := range fields {
		fi := fis.ByNumber(sf.Number)
		if fi == nil {
			continue
		}
		doc.Add(sf.Field(fi.Name))
	}
	return doc
}
