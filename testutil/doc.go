// Package testutil provides a host VM for tests and benchmarks.
//
// The host lays objects out as
//
//	word 0          header: size (low 32 bits) | reference count (high 32 bits)
//	word 1          id
//	word 2..2+n     reference slots
//	...             payload
//
// Roots live in RootTables backed by anonymous mappings outside the Go heap,
// so their slot addresses can be handed to the engine.
//
// # Threads and safepoints
//
//	v := testutil.NewVM()
//	th := v.NewThread()     // attached: counted by StopAllMutators
//	defer th.Detach()
//	th.Safepoint()          // parks while a collection runs
//
// # Graphs
//
//	obj, _ := testutil.NewObject(alloc, id, nrefs)
//	ids := testutil.ReachableIDs(roots...)
package testutil
