package model

import "fmt"

// AllocationSemantics selects the allocator that serves a request.
type AllocationSemantics uint8

const (
	// AllocDefault allocates into the plan's default space.
	AllocDefault AllocationSemantics = iota
	// AllocImmortal allocates into the immortal space. Objects are never freed.
	AllocImmortal
	// AllocLOS allocates into the large object space.
	AllocLOS

	numSemantics
)

// NumAllocationSemantics is the number of distinct allocation semantics.
const NumAllocationSemantics = int(numSemantics)

func (s AllocationSemantics) String() string {
	switch s {
	case AllocDefault:
		return "default"
	case AllocImmortal:
		return "immortal"
	case AllocLOS:
		return "los"
	default:
		return fmt.Sprintf("semantics(%d)", uint8(s))
	}
}

// Valid reports whether s names a known semantics.
func (s AllocationSemantics) Valid() bool { return s < numSemantics }
