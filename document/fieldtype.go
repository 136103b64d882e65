package document

import (
	"fmt"
	"strings"
)

// FieldType describes how a field is indexed, stored and columnized.
type FieldType struct {
	Stored    bool
	Tokenized bool

	IndexOptions IndexOptions
	OmitNorms    bool

	StoreTermVectors         bool
	StoreTermVectorPositions bool
	StoreTermVectorOffsets   bool
	StoreTermVectorPayloads  bool

	DocValuesType DocValuesType
}

var (
	// TextType is a tokenized field indexed with positions.
	TextType = FieldType{Tokenized: true, IndexOptions: DocsAndFreqsAndPositions}
	// StoredTextType is TextType that is also stored.
	StoredTextType = FieldType{Stored: true, Tokenized: true, IndexOptions: DocsAndFreqsAndPositions}
	// StringType indexes the whole value as one term without frequencies
	// or norms, e.g. an id.
	StringType = FieldType{IndexOptions: DocsOnly, OmitNorms: true}
	// StoredStringType is StringType that is also stored.
	StoredStringType = FieldType{Stored: true, IndexOptions: DocsOnly, OmitNorms: true}
	// StoredOnlyType is stored but not indexed.
	StoredOnlyType = FieldType{Stored: true}
)

// Indexed reports whether the field goes into the inverted index.
func (ft FieldType) Indexed() bool { return ft.IndexOptions.IsIndexed() }

// Validate checks the combination of options.
func (ft FieldType) Validate() error {
	if !ft.Indexed() {
		if ft.StoreTermVectors || ft.StoreTermVectorPositions || ft.StoreTermVectorOffsets || ft.StoreTermVectorPayloads {
			return fmt.Errorf("%w: cannot store term vectors for a field that is not indexed", ErrInvalidField)
		}
		if ft.Tokenized {
			return fmt.Errorf("%w: cannot tokenize a field that is not indexed", ErrInvalidField)
		}
	}
	if !ft.StoreTermVectors && (ft.StoreTermVectorPositions || ft.StoreTermVectorOffsets || ft.StoreTermVectorPayloads) {
		return fmt.Errorf("%w: term vector positions, offsets or payloads require term vectors", ErrInvalidField)
	}
	if ft.StoreTermVectorPayloads && !ft.StoreTermVectorPositions {
		return fmt.Errorf("%w: term vector payloads require term vector positions", ErrInvalidField)
	}
	if !ft.Indexed() && !ft.Stored && ft.DocValuesType == DocValuesNone {
		return fmt.Errorf("%w: field is neither indexed, stored nor has doc values", ErrInvalidField)
	}
	return nil
}

func (ft FieldType) String() string {
	var parts []string
	if ft.Stored {
		parts = append(parts, "stored")
	}
	if ft.Indexed() {
		parts = append(parts, "indexed")
		if ft.Tokenized {
			parts = append(parts, "tokenized")
		}
		if ft.StoreTermVectors {
			parts = append(parts, "termVector")
		}
		if ft.StoreTermVectorOffsets {
			parts = append(parts, "termVectorOffsets")
		}
		if ft.StoreTermVectorPositions {
			parts = append(parts, "termVectorPosition")
		}
		if ft.StoreTermVectorPayloads {
			parts = append(parts, "termVectorPayloads")
		}
		if ft.OmitNorms {
			parts = append(parts, "omitNorms")
		}
		if ft.IndexOptions != DocsAndFreqsAndPositions {
			parts = append(parts, "indexOptions="+ft.IndexOptions.String())
		}
	}
	if ft.DocValuesType != DocValuesNone {
		parts = append(parts, "docValuesType="+ft.DocValuesType.String())
	}
	return strings.Join(parts, ",")
}
