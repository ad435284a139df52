// Package mutator holds the per-thread allocation and write-barrier state
// of an application thread.
//
// A Mutator is owned by one goroutine outside collections. During a
// collection the engine prepares and releases every mutator from worker
// goroutines while the owners are parked.
package mutator
