// Package vmgc provides a pluggable tracing garbage collector for managed
// language runtimes.
//
// A runtime (the host) implements vm.Binding to describe its object layout,
// its roots and how to stop its threads. vmgc owns the heap: one virtual
// reservation split into spaces, allocated by thread-local mutators and
// reclaimed by a parallel, work-packet based collector.
//
// # Quick Start
//
//	engine, _ := vmgc.New(binding,
//	    vmgc.WithPlan(vmgc.Generational),
//	    vmgc.WithHeapSize(256<<20),
//	)
//	defer engine.Close()
//
//	m, _ := engine.BindMutator(thread)
//	obj, err := m.Alloc(64, 8, model.AllocDefault)
//	if errors.Is(err, vmgc.ErrOutOfMemory) {
//	    // the heap is exhausted even after a full collection
//	}
//	m.WriteRef(obj, slot, target) // stores through the write barrier
//
// # Plans
//
//   - NoGC: bump allocation into an immortal space; never reclaims.
//   - SemiSpace: copying collection between two halves.
//   - MarkSweep: segregated free lists, swept in parallel.
//   - Immix: line-free block allocation, blocks reclaimed when empty.
//   - Generational: a copying nursery over a mark-sweep mature space, with a
//     remembered set maintained by a slot-recording write barrier.
//
// Every plan also has an immortal space (model.AllocImmortal) and a large
// object space; default allocations above the plan's size limit go to the
// large object space.
//
// # Collection Cycle
//
// Allocation polls the plan before acquiring pages. When a collection is
// required the mutator blocks; the controller stops all mutators through the
// host, runs the Prepare, RootScan, Closure and Release buckets on the worker
// pool, and resumes the mutators. Requests that arrive while a cycle is
// pending or running coalesce into one follow-up cycle.
//
// # Diagnostics
//
// DumpHeap and DumpHeapTo run a full collection and write the live object
// graph as a compressed snapshot (see package heapdump).
package vmgc
