// Package document defines the documents handed to an index writer: named
// fields, their indexing options, and the token streams an analyzer turns
// field text into.
//
// Analysis is a black box here. The package ships a whitespace and a
// keyword analyzer, plus a canned token stream for callers that bring their
// own tokens (payloads, custom offsets).
package document
