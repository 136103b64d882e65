package document

// Document is an ordered list of fields. A name may repeat.
type Document struct {
	fields []Field
}

// New creates a document holding fields.
func New(fields ...Field) *Document {
	return &Document{fields: append([]Field(nil), fields...)}
}

// Add appends fields.
func (d *Document) Add(fields ...Field) {
	d.fields = append(d.fields, fields...)
}

// Fields returns the fields in insertion order.
func (d *Document) Fields() []Field { return d.fields }

// Len returns the number of fields.
func (d *Document) Len() int { return len(d.fields) }

// Field returns the first field named name.
func (d *Document) Field(name string) (Field, bool) {
	for _, f := range d.fields {
		if f.name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Get returns the string value of the first field named name, or "".
func (d *Document) Get(name string) string {
	f, _ := d.Field(name)
	return f.StringValue()
}

// GetAll returns the string values of all fields named name.
func (d *Document) GetAll(name string) []string {
	var out []string
	for _, f := range d.fields {
		if f.name == name {
			out = append(out, f.StringValue())
		}
	}
	return out
}

// RemoveFields drops every field named name.
func (d *Document) RemoveFields(name string) {
	kept := d.fields[:0]
	for _, f := range d.fields {
		if f.name != name {
			kept = append(kept, f)
		}
	}
	d.fields = kept
}
