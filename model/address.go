package model

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Address is a raw machine address.
type Address uintptr

// ObjectReference identifies a managed object. Numerically it is the
// object's start address. The zero value is the null reference.
type ObjectReference uintptr

// NullRef is the null object reference.
const NullRef ObjectReference = 0

// Add returns a + bytes.
func (a Address) Add(bytes uintptr) Address { return a + Address(bytes) }

// Sub returns a - bytes.
func (a Address) Sub(bytes uintptr) Address { return a - Address(bytes) }

// Diff returns the distance in bytes from other to a. a must not be below other.
func (a Address) Diff(other Address) uintptr { return uintptr(a - other) }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == 0 }

// AlignUp rounds a up to the next multiple of align (a power of two).
func (a Address) AlignUp(align uintptr) Address {
	mask := Address(align - 1)
	return (a + mask) &^ mask
}

// AlignDown rounds a down to a multiple of align (a power of two).
func (a Address) AlignDown(align uintptr) Address {
	return a &^ Address(align-1)
}

// IsAligned reports whether a is a multiple of align (a power of two).
func (a Address) IsAligned(align uintptr) bool {
	return a&Address(align-1) == 0
}

// Ptr converts a to an unsafe.Pointer.
//
// a must point into memory the engine mapped outside the Go heap.
func (a Address) Ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(a)) //nolint:govet,gosec // off-heap managed memory
}

// LoadWord reads the machine word at a.
func (a Address) LoadWord() uintptr {
	return *(*uintptr)(a.Ptr())
}

// StoreWord writes v to the machine word at a.
func (a Address) StoreWord(v uintptr) {
	*(*uintptr)(a.Ptr()) = v
}

// AtomicLoadWord reads the machine word at a atomically.
func (a Address) AtomicLoadWord() uintptr {
	return atomic.LoadUintptr((*uintptr)(a.Ptr()))
}

// AtomicStoreWord writes v to the machine word at a atomically.
func (a Address) AtomicStoreWord(v uintptr) {
	atomic.StoreUintptr((*uintptr)(a.Ptr()), v)
}

// LoadRef reads the object reference held by the slot at a.
func (a Address) LoadRef() ObjectReference {
	return ObjectReference(a.AtomicLoadWord())
}

// StoreRef writes ref into the slot at a.
func (a Address) StoreRef(ref ObjectReference) {
	a.AtomicStoreWord(uintptr(ref))
}

// LoadUint32 reads a 32-bit value at a.
func (a Address) LoadUint32() uint32 {
	return *(*uint32)(a.Ptr())
}

// StoreUint32 writes a 32-bit value at a.
func (a Address) StoreUint32(v uint32) {
	*(*uint32)(a.Ptr()) = v
}

// Bytes returns a byte slice of length n starting at a.
func (a Address) Bytes(n int) []byte {
	if n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(a.Ptr()), n)
}

// Zero clears n bytes starting at a.
func (a Address) Zero(n int) {
	clear(a.Bytes(n))
}

// Copy copies n bytes from src to a.
func (a Address) Copy(src Address, n int) {
	copy(a.Bytes(n), src.Bytes(n))
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// Address returns the object's start address.
func (o ObjectReference) Address() Address { return Address(o) }

// IsNull reports whether o is the null reference.
func (o ObjectReference) IsNull() bool { return o == NullRef }

func (o ObjectReference) String() string {
	if o.IsNull() {
		return "null"
	}
	return fmt.Sprintf("obj@0x%x", uintptr(o))
}
