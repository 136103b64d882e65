// Package merge selects and schedules segment merges.
//
// A Policy looks at the current segments and returns a Spec of merges,
// each combining a set of segments into one. Policies never touch files:
// the index writer registers the merges, hands them to a Scheduler and
// executes them when the scheduler asks. Policies also decide whether a new
// segment is packed into a compound file.
//
// Available policies:
//
//   - Tiered: merges segments of roughly equal size, allowing a bounded
//     number of segments per tier (default)
//   - LogByteSize / LogDoc: merges levels of MergeFactor segments by size
//   - NoMerge: never merges
//   - Upgrade: wraps another policy and rewrites segments written by an
//     older codec during forced merges
//
// Schedulers run merges serially in the calling goroutine or on background
// goroutines bounded by a resource.Controller.
package merge
