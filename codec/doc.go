// Package codec defines how a segment is encoded: a Codec is a named bundle
// of formats (postings, stored fields, term vectors, doc values, norms,
// field infos, segment info and live docs), each with a write side that a
// segment writer or merger drives and a read side a segment reader opens.
//
// Codecs are looked up by the name recorded in each segment descriptor.
// Implementations register themselves with [Register], usually from an
// init function, the way database/sql drivers do:
//
//	import _ "github.com/hupe1980/invgo/codec/standard"
//
// Postings are consumed through [FieldsConsumer] → [TermsConsumer] →
// [PostingsConsumer] and read back through [FieldsProducer] → [Terms] →
// [TermsEnum] → [DocsEnum] / [DocsAndPositionsEnum]. Enumerators may be
// passed back as the reuse argument; a reused enumerator is fully reset.
package codec
