// Package scheduler runs the work packets of a collection on a fixed pool
// of worker goroutines.
//
// # Buckets
//
// Packets are grouped into buckets that open strictly in order:
//
//	Prepare → RootScan → Closure → Release
//
// A bucket opens only once every packet of the previous buckets, including
// packets they spawned, has completed. A bucket may hold a sentinel packet
// that runs when the bucket would otherwise close; packets it spawns keep
// the bucket open.
//
// # Work Distribution
//
// Each worker owns a bounded ring that only it pushes to. Packets a worker
// spawns for the open bucket go to its ring; when the ring is full they go
// to the bucket's shared queue. An idle worker takes from its ring, then the
// shared queue, then steals half of a random peer's ring, and finally parks.
//
// # Quiescence
//
// An in-flight counter tracks packets of the open bucket that have been
// queued but not finished. It is incremented before a packet becomes visible
// and decremented after its Do returns. The worker that is about to park,
// holding the scheduler lock, and sees the counter at zero opens the next
// bucket or ends the cycle.
package scheduler
