// Package check verifies the consistency of an index.
//
// A Checker opens the newest commit of a directory without failing fast:
// every segment is opened on its own and walked completely (live docs,
// field infos, norms, postings, stored fields, term vectors and doc
// values). Problems are reported in the returned Status instead of as
// errors, so a damaged or unsupported index still yields a report.
//
//	status, err := check.New(dir, check.WithLogger(logger)).Check(ctx)
//	if err != nil {
//		return err
//	}
//	if !status.Clean {
//		// status.Segments[i].Error names what is broken
//	}
//
// Exorcise writes a new commit that drops the broken segments. The
// documents of those segments are lost.
//
// Each checked commit also gets a content Fingerprint. It does not depend
// on document ids or segment layout, so it stays equal across merges and
// upgrades that keep every live document.
package check
