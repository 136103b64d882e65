// Package upgrade rewrites the segments of an index that were written by
// an older codec with the current one.
//
// The upgrade is a forced merge restricted to outdated segments: document
// content and deletions survive, and an index whose segments are all
// current is left untouched.
//
//	u := upgrade.New(dir, upgrade.WithDeletePriorCommits(true))
//	res, err := u.Upgrade(ctx)
package upgrade
