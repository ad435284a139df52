// Package alloc implements the thread-local allocators used by mutators
// and collectors.
//
// Each allocator belongs to exactly one goroutine at a time and its fast
// path touches no shared state:
//
//   - BumpAllocator: cursor/limit over a region obtained from a space
//   - FreeListAllocator: per-size-class intrusive free lists built from
//     mark-sweep blocks
//   - LargeObjectAllocator: whole pages from the large object space
//
// Memory handed out is zeroed. Allocators do not set any object metadata;
// the owner records the new object with its space.
package alloc
