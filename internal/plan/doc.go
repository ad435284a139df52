// Package plan implements the collection algorithms and the cycle
// controller.
//
// A Plan owns a fixed set of spaces and decides, on every mutator page
// request, whether a collection is required. The Controller serializes
// collection requests into cycles: it stops the mutators, queues the plan's
// work packets on the scheduler, runs the buckets to completion and resumes
// the mutators.
//
// Plans:
//
//	NoGC          bump allocation, never reclaims
//	SemiSpace     two copy spaces, live objects evacuated every cycle
//	MarkSweep     segregated free lists, mark and sweep in place
//	Immix         bump allocation into blocks, whole blocks reclaimed
//	Generational  copying nursery over a mark-sweep mature space
//
// Every plan also carries an immortal space and a large object space.
package plan
