// Package heap owns the managed heap's address space.
//
// # Layout
//
// The heap is a single virtual reservation divided into equally sized,
// chunk-aligned extents, one per space. An address therefore maps to its
// space with one subtraction and one shift, without a lookup table:
//
//	┌──────────┬──────────┬──────────┬──────────┬─────
//	│ extent 0 │ extent 1 │ extent 2 │ extent 3 │ ...
//	│ immortal │   los    │ nursery0 │ nursery1 │
//	└──────────┴──────────┴──────────┴──────────┴─────
//
// Each extent is large enough to hold the whole heap budget, so a space never
// runs out of addresses before the plan runs out of pages.
//
// # Commit
//
// The Mmapper commits memory a chunk (4 MiB) at a time, together with the
// side metadata describing the chunk, and charges both to the resource
// controller. Released pages are returned to the OS and read as zero on
// reuse; the chunk itself stays committed.
//
// # Page Resources
//
//   - MonotonePageResource hands out pages with a bump cursor and is reset in
//     bulk (copy spaces, immortal space).
//   - FreeListPageResource hands out aligned page runs first-fit and frees
//     them individually (mark-sweep, immix, large objects).
//
// Page resources serialize behind a mutex; they are only used on allocation
// slow paths and while preparing or releasing a collection.
package heap
