// Package sidemeta implements side metadata: per-granularity bit and byte
// tables kept outside the objects they describe.
//
// # Layout
//
// Each Spec maps every 2^LogRegion bytes of heap to one entry of 2^LogBits
// bits. A Table reserves enough address space to describe the whole heap
// reservation and commits metadata pages lazily, as the heap commits the data
// chunks they describe. Entries never straddle a 32-bit word, so every entry
// update is a single atomic word operation.
//
// # Specs in use
//
//	VOBit           1 bit  / 8 B    valid-object bit
//	MarkBit         1 bit  / 8 B    trace mark
//	ForwardingBits  2 bits / 8 B    forwarding state of a moving object
//	BlockState      8 bits / 32 KiB block state (Immix, MarkSweep)
//	BlockSizeClass  8 bits / 32 KiB size class (MarkSweep)
//
// Metadata pages are never returned to the OS while the heap lives; when data
// pages are released the corresponding entries are zeroed instead.
package sidemeta
