package standard

import (
	"fmt"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/internal/cache"
)

// Codec names.
const (
	Name       = "Invgo10"
	LegacyName = "Invgo09"
)

const (
	versionLegacy  int32 = 0
	versionCurrent int32 = 1
)

const (
	termsPerBlock   = 32
	skipInterval    = 64
	chunkMaxBytes   = 16 << 10
	chunkMaxDocs    = 128
	defaultBloomFPP = 0.01
)

// Option configures a codec.
type Option func(*options)

type options struct {
	compression CompressionMode
	cache       cache.BlockCache
	bloomFPP    float64
}

// WithCompression sets the stored-fields compression of Invgo10.
func WithCompression(mode CompressionMode) Option {
	return func(o *options) { o.compression = mode }
}

// WithBlockCache caches decompressed stored-field chunks.
func WithBlockCache(c cache.BlockCache) Option {
	return func(o *options) { o.cache = c }
}

// WithBloomFalsePositiveRate sets the target false positive rate of the
// per-field term bloom filters.
func WithBloomFalsePositiveRate(p float64) Option {
	return func(o *options) {
		if p > 0 && p < 1 {
			o.bloomFPP = p
		}
	}
}

// Codec is one of the standard codecs.
type Codec struct {
	name     string
	version  int32
	writable bool
	opts     options
}

var _ codec.Codec = (*Codec)(nil)

// New returns the current codec.
func New(opts ...Option) *Codec {
	o := options{compression: CompressionFast, bloomFPP: defaultBloomFPP}
	for _, opt := range opts {
		opt(&o)
	}
	return &Codec{name: Name, version: versionCurrent, writable: true, opts: o}
}

// NewLegacy returns the previous codec. Writes fail with codec.ErrReadOnly
// unless allowWrite is set.
func NewLegacy(allowWrite bool) *Codec {
	return &Codec{name: LegacyName, version: versionLegacy, writable: allowWrite, opts: options{compression: CompressionNone}}
}

func init() {
	codec.Register(New())
	codec.Register(NewLegacy(false))
}

func (c *Codec) Name() string { return c.name }

// Writable reports whether the codec may write new segments.
func (c *Codec) Writable() bool { return c.writable }

func (c *Codec) String() string { return c.name }

func (c *Codec) legacy() bool { return c.version == versionLegacy }

func (c *Codec) checkWritable() error {
	if !c.writable {
		return fmt.Errorf("%w: %s", codec.ErrReadOnly, c.name)
	}
	return nil
}

func (c *Codec) PostingsFormat() codec.PostingsFormat         { return postingsFormat{c} }
func (c *Codec) StoredFieldsFormat() codec.StoredFieldsFormat { return storedFieldsFormat{c} }
func (c *Codec) TermVectorsFormat() codec.TermVectorsFormat   { return termVectorsFormat{c} }
func (c *Codec) DocValuesFormat() codec.DocValuesFormat       { return docValuesFormat{c: c, norms: false} }
func (c *Codec) NormsFormat() codec.NormsFormat               { return normsFormat{docValuesFormat{c: c, norms: true}} }
func (c *Codec) FieldInfosFormat() codec.FieldInfosFormat     { return fieldInfosFormat{c} }
func (c *Codec) SegmentInfoFormat() codec.SegmentInfoFormat   { return segmentInfoFormat{c} }
func (c *Codec) LiveDocsFormat() codec.LiveDocsFormat         { return liveDocsFormat{c} }
