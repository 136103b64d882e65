// Package testutil provides testing utilities for invgo.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic random documents and builders for indexes
// written in old formats.
//
// # Random Documents
//
//	rng := testutil.NewRNG(seed)
//	doc := rng.Document(42)  // id "42", Zipf-distributed body text
//
// # Fixtures
//
//	err := testutil.WriteLegacyIndex(dir)   // 35 docs, doc 7 deleted
//	err := testutil.WriteTooOldIndex(dir)   // descriptor below the minimum
package testutil
