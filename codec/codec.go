package codec

import (
	"fmt"
	"sort"
	"sync"
)

// Codec is a named bundle of the formats that encode one segment. The name
// is recorded in every segment descriptor and resolved through the
// registry when the segment is opened.
type Codec interface {
	Name() string
	PostingsFormat() PostingsFormat
	StoredFieldsFormat() StoredFieldsFormat
	TermVectorsFormat() TermVectorsFormat
	DocValuesFormat() DocValuesFormat
	NormsFormat() NormsFormat
	FieldInfosFormat() FieldInfosFormat
	SegmentInfoFormat() SegmentInfoFormat
	LiveDocsFormat() LiveDocsFormat
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Codec)
)

// Register makes a codec available by name. It panics if the name is
// already taken.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if c == nil {
		panic("codec: Register codec is nil")
	}
	if _, dup := registry[c.Name()]; dup {
		panic("codec: Register called twice for codec " + c.Name())
	}
	registry[c.Name()] = c
}

// Lookup returns the registered codec with the given name.
func Lookup(name string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownCodec, name, namesLocked())
	}
	return c, nil
}

// Names returns the sorted names of the registered codecs.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
