// Package mmap manages the virtual address space backing the managed heap.
//
// # Overview
//
// A Reservation claims a contiguous range of virtual addresses without
// committing physical memory. Sub-ranges are committed on demand and can be
// decommitted again, which returns the pages to the kernel and makes them
// read as zero on the next access.
//
// # Usage
//
//	r, err := mmap.Reserve(1<<30, 1<<22)
//	if err != nil { ... }
//	defer r.Close()
//
//	// Make the first 4 MiB readable and writable
//	if err := r.Commit(0, 4<<20); err != nil { ... }
//
//	// Hand the pages back; they read as zero afterwards
//	_ = r.Decommit(0, 4<<20)
//
// # Platform Support
//
//   - Linux: mmap(PROT_NONE, MAP_NORESERVE), mprotect(2) to commit,
//     madvise(MADV_DONTNEED) to decommit
//   - macOS: as Linux, but decommitted pages are cleared before MADV_FREE
//     because the kernel does not guarantee zero-fill
//   - Other: a Go-allocated byte slice; commit is a no-op and decommit clears
//
// # Thread Safety
//
// Commit, Decommit and Advise may be called concurrently for disjoint ranges.
// Close is idempotent; callers must ensure no goroutine touches the range
// after Close returns.
package mmap
