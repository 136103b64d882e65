// Package standard implements the codecs shipped with invgo.
//
// Invgo10 is the current codec. Its term dictionary is split into blocks of
// prefix-coded terms with an in-memory block index, every field carries a
// bloom filter that short-circuits exact lookups of absent terms, postings
// of frequent terms carry skip data, and stored fields are written in
// compressed chunks.
//
// Invgo09 is the previous codec. It shares the postings encoding without
// skip data or bloom filters and stores fields uncompressed, one record
// per document. It is registered read-only; NewLegacy(true) returns an
// instance that can also write, for building old indexes in tests and
// migration tools.
//
// Importing the package registers both codecs with the codec registry.
package standard
