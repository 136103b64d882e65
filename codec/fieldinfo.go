package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/invgo/document"
)

// FieldInfo is the per-segment schema of one field.
type FieldInfo struct {
	Name   string
	Number int

	IndexOptions     document.IndexOptions
	StoreTermVectors bool
	StorePayloads    bool
	OmitNorms        bool

	DocValuesType document.DocValuesType
	// DocValuesGen is the generation of the last doc values update, -1 if
	// the field's doc values were never updated.
	DocValuesGen int64

	Attributes map[string]string
}

// IsIndexed reports whether the field has postings.
func (fi *FieldInfo) IsIndexed() bool { return fi.IndexOptions.IsIndexed() }

// HasNorms reports whether norms are written for the field.
func (fi *FieldInfo) HasNorms() bool { return fi.IsIndexed() && !fi.OmitNorms }

// HasDocValues reports whether the field has doc values.
func (fi *FieldInfo) HasDocValues() bool { return fi.DocValuesType != document.DocValuesNone }

// Clone returns a deep copy.
func (fi *FieldInfo) Clone() *FieldInfo {
	c := *fi
	if fi.Attributes != nil {
		c.Attributes = make(map[string]string, len(fi.Attributes))
		for k, v := range fi.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// update folds the options of one more occurrence of the field in the same
// segment into fi. Index options are never lowered.
func (fi *FieldInfo) update(ft document.FieldType) {
	if ft.IndexOptions > fi.IndexOptions {
		fi.IndexOptions = ft.IndexOptions
	}
	if ft.Indexed() {
		fi.StoreTermVectors = fi.StoreTermVectors || ft.StoreTermVectors
		fi.OmitNorms = fi.OmitNorms && ft.OmitNorms
	}
}

// mergeFrom folds the info of the same field from another segment into fi.
// Index options drop to the strongest level every indexed input supplies;
// the remaining flags are the union of the inputs.
func (fi *FieldInfo) mergeFrom(other *FieldInfo) {
	switch {
	case !fi.IsIndexed():
		fi.IndexOptions = other.IndexOptions
		fi.OmitNorms = other.OmitNorms
	case other.IsIndexed():
		if other.IndexOptions < fi.IndexOptions {
			fi.IndexOptions = other.IndexOptions
		}
		fi.OmitNorms = fi.OmitNorms && other.OmitNorms
	}
	fi.StoreTermVectors = fi.StoreTermVectors || other.StoreTermVectors
	fi.StorePayloads = (fi.StorePayloads || other.StorePayloads) && fi.IndexOptions.HasPositions()
	if fi.DocValuesType == document.DocValuesNone {
		fi.DocValuesType = other.DocValuesType
	}
}

func (fi *FieldInfo) String() string {
	return fmt.Sprintf("%s(number=%d indexOptions=%s vectors=%t payloads=%t norms=%t docValues=%s dvGen=%d)",
		fi.Name, fi.Number, fi.IndexOptions, fi.StoreTermVectors, fi.StorePayloads, fi.HasNorms(), fi.DocValuesType, fi.DocValuesGen)
}

// FieldInfos is the immutable schema of a segment.
type FieldInfos struct {
	byNumber []*FieldInfo
	byName   map[string]*FieldInfo

	HasFreq      bool
	HasProx      bool
	HasPayloads  bool
	HasOffsets   bool
	HasVectors   bool
	HasNorms     bool
	HasDocValues bool
}

// NewFieldInfos validates infos and returns them ordered by number.
func NewFieldInfos(infos []*FieldInfo) (*FieldInfos, error) {
	fis := &FieldInfos{byName: make(map[string]*FieldInfo, len(infos))}
	seen := make(map[int]string, len(infos))
	for _, fi := range infos {
		if fi.Number < 0 {
			return nil, fmt.Errorf("%w: illegal field number %d for field %s", ErrIllegalArgument, fi.Number, fi.Name)
		}
		if prev, ok := seen[fi.Number]; ok {
			return nil, fmt.Errorf("%w: duplicate field numbers: %s and %s have %d", ErrIllegalArgument, prev, fi.Name, fi.Number)
		}
		if _, ok := fis.byName[fi.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate field name %s", ErrIllegalArgument, fi.Name)
		}
		seen[fi.Number] = fi.Name
		fis.byName[fi.Name] = fi
		fis.byNumber = append(fis.byNumber, fi)

		fis.HasFreq = fis.HasFreq || fi.IndexOptions.HasFreqs()
		fis.HasProx = fis.HasProx || fi.IndexOptions.HasPositions()
		fis.HasOffsets = fis.HasOffsets || fi.IndexOptions.HasOffsets()
		fis.HasPayloads = fis.HasPayloads || fi.StorePayloads
		fis.HasVectors = fis.HasVectors || fi.StoreTermVectors
		fis.HasNorms = fis.HasNorms || fi.HasNorms()
		fis.HasDocValues = fis.HasDocValues || fi.HasDocValues()
	}
	sort.Slice(fis.byNumber, func(i, j int) bool { return fis.byNumber[i].Number < fis.byNumber[j].Number })
	return fis, nil
}

// ByName returns the named field or nil.
func (f *FieldInfos) ByName(name string) *FieldInfo { return f.byName[name] }

// ByNumber returns the field with the given number or nil.
func (f *FieldInfos) ByNumber(number int) *FieldInfo {
	i := sort.Search(len(f.byNumber), func(i int) bool { return f.byNumber[i].Number >= number })
	if i < len(f.byNumber) && f.byNumber[i].Number == number {
		return f.byNumber[i]
	}
	return nil
}

// All returns the fields ordered by number.
func (f *FieldInfos) All() []*FieldInfo { return f.byNumber }

// Len returns the number of fields.
func (f *FieldInfos) Len() int { return len(f.byNumber) }

// FieldNumbers assigns index-wide field numbers and pins each field's doc
// values type, so a field keeps its number and type across segments.
type FieldNumbers struct {
	mu           sync.Mutex
	nameToNumber map[string]int
	numberToName map[int]string
	dvTypes      map[string]document.DocValuesType
	lowestFree   int
}

// NewFieldNumbers returns an empty registry.
func NewFieldNumbers() *FieldNumbers {
	return &FieldNumbers{
		nameToNumber: make(map[string]int),
		numberToName: make(map[int]string),
		dvTypes:      make(map[string]document.DocValuesType),
	}
}

// AddOrGet returns the number of name, assigning preferred when it is free
// or the lowest unassigned number otherwise.
func (n *FieldNumbers) AddOrGet(name string, preferred int, dvType document.DocValuesType) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dvType != document.DocValuesNone {
		if cur, ok := n.dvTypes[name]; ok && cur != document.DocValuesNone && cur != dvType {
			return 0, fmt.Errorf("%w: cannot change doc values type from %s to %s for field %q", ErrIllegalArgument, cur, dvType, name)
		}
		n.dvTypes[name] = dvType
	}
	if num, ok := n.nameToNumber[name]; ok {
		return num, nil
	}
	num := preferred
	if _, taken := n.numberToName[num]; num < 0 || taken {
		for {
			if _, taken := n.numberToName[n.lowestFree]; !taken {
				break
			}
			n.lowestFree++
		}
		num = n.lowestFree
	}
	n.nameToNumber[name] = num
	n.numberToName[num] = name
	return num, nil
}

// Contains reports whether name is known with the given doc values type.
func (n *FieldNumbers) Contains(name string, dvType document.DocValuesType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nameToNumber[name]; !ok {
		return false
	}
	return n.dvTypes[name] == dvType
}

// Clear forgets every field, e.g. after DeleteAll.
func (n *FieldNumbers) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nameToNumber = make(map[string]int)
	n.numberToName = make(map[int]string)
	n.dvTypes = make(map[string]document.DocValuesType)
	n.lowestFree = 0
}

// FieldInfosBuilder collects the schema of a segment being written or
// merged.
type FieldInfosBuilder struct {
	global *FieldNumbers
	byName map[string]*FieldInfo
	order  []*FieldInfo
}

// NewFieldInfosBuilder returns a builder numbering fields through global.
func NewFieldInfosBuilder(global *FieldNumbers) *FieldInfosBuilder {
	if global == nil {
		global = NewFieldNumbers()
	}
	return &FieldInfosBuilder{global: global, byName: make(map[string]*FieldInfo)}
}

// AddOrUpdate registers one occurrence of a field in a document.
func (b *FieldInfosBuilder) AddOrUpdate(name string, ft document.FieldType) (*FieldInfo, error) {
	if fi, ok := b.byName[name]; ok {
		if ft.DocValuesType != document.DocValuesNone {
			if fi.DocValuesType != document.DocValuesNone && fi.DocValuesType != ft.DocValuesType {
				return nil, fmt.Errorf("%w: cannot change doc values type from %s to %s for field %q", ErrIllegalArgument, fi.DocValuesType, ft.DocValuesType, name)
			}
			if fi.DocValuesType == document.DocValuesNone {
				if _, err := b.global.AddOrGet(name, fi.Number, ft.DocValuesType); err != nil {
					return nil, err
				}
				fi.DocValuesType = ft.DocValuesType
			}
		}
		fi.update(ft)
		return fi, nil
	}
	num, err := b.global.AddOrGet(name, -1, ft.DocValuesType)
	if err != nil {
		return nil, err
	}
	fi := &FieldInfo{
		Name:             name,
		Number:           num,
		IndexOptions:     ft.IndexOptions,
		StoreTermVectors: ft.Indexed() && ft.StoreTermVectors,
		OmitNorms:        !ft.Indexed() || ft.OmitNorms,
		DocValuesType:    ft.DocValuesType,
		DocValuesGen:     -1,
	}
	b.byName[name] = fi
	b.order = append(b.order, fi)
	return fi, nil
}

// Add folds a field of an existing segment into the builder.
func (b *FieldInfosBuilder) Add(other *FieldInfo) (*FieldInfo, error) {
	if fi, ok := b.byName[other.Name]; ok {
		if fi.DocValuesType != document.DocValuesNone && other.DocValuesType != document.DocValuesNone && fi.DocValuesType != other.DocValuesType {
			return nil, fmt.Errorf("%w: cannot change doc values type from %s to %s for field %q", ErrIllegalArgument, fi.DocValuesType, other.DocValuesType, other.Name)
		}
		fi.mergeFrom(other)
		return fi, nil
	}
	num, err := b.global.AddOrGet(other.Name, other.Number, other.DocValuesType)
	if err != nil {
		return nil, err
	}
	fi := other.Clone()
	fi.Number = num
	fi.DocValuesGen = -1
	b.byName[fi.Name] = fi
	b.order = append(b.order, fi)
	return fi, nil
}

// ByName returns a field added so far.
func (b *FieldInfosBuilder) ByName(name string) *FieldInfo { return b.byName[name] }

// Finish returns the collected schema.
func (b *FieldInfosBuilder) Finish() (*FieldInfos, error) {
	return NewFieldInfos(b.order)
}
