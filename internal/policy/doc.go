// Package policy implements spaces: regions of the heap that share one
// allocation and reclamation policy.
//
// # Spaces
//
//   - CopySpace: bump allocated, evacuated wholesale; survivors are forwarded
//     to another space and the extent is reset in bulk.
//   - MarkSweepSpace: segregated size classes in 32 KiB blocks; marked in
//     place, swept per block.
//   - ImmixSpace: bump allocated 32 KiB blocks; marked in place, blocks with
//     no marked object are freed.
//   - LargeObjectSpace: page-granular objects freed individually.
//   - ImmortalSpace: bump allocated, never freed.
//
// # Acquiring Pages
//
// Allocators call Acquire-style methods when their thread-local buffer runs
// dry. For mutators the space first asks its Trigger whether a collection is
// due and returns ErrCollectionRequired if so; the caller then blocks for the
// collection and retries. Collectors acquire without polling.
package policy
