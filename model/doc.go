// Package model defines core types used throughout vmgc.
//
// # Address Types
//
//   - Address: a raw machine address inside or outside the managed heap
//   - ObjectReference: an opaque handle to a managed object (its start address)
//   - Slot: an Address of a word that holds an ObjectReference (an edge)
//
// # Allocation Semantics
//
// AllocationSemantics selects which allocator (and therefore which Space)
// serves a request:
//
//	obj, err := m.Alloc(64, 8, model.AllocDefault)
//	big, err := m.Alloc(1<<20, 8, model.AllocLOS)
//
// # Raw Memory Access
//
// Address provides word-sized loads and stores. The engine only ever hands
// out addresses inside memory it mapped itself, never Go heap memory.
package model
