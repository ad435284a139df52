package visited

import "github.com/hupe1980/vmgc/model"

// Set tracks visited objects of one address range at word granularity,
// using a bitset and a dirty list for fast reset.
type Set struct {
	base  model.Address
	bits  []uint64
	dirty []uint64
}

// New creates a set for objects at or above base. sizeHint is the expected
// span of the range in bytes; the set grows beyond it on demand.
func New(base model.Address, sizeHint uintptr) *Set {
	words := sizeHint >> model.LogBytesInWord
	return &Set{
		base:  base,
		bits:  make([]uint64, (words+63)/64),
		dirty: make([]uint64, 0, 128),
	}
}

func (s *Set) index(obj model.ObjectReference) uint64 {
	a := obj.Address()
	if a < s.base {
		panic("visited: object below base " + a.String())
	}
	return uint64(a.Diff(s.base) >> model.LogBytesInWord)
}

// Visit marks obj as visited and reports whether it was not visited before.
func (s *Set) Visit(obj model.ObjectReference) bool {
	id := s.index(obj)
	wordIdx := int(id >> 6) //nolint:gosec // bounded by the address range
	bitMask := uint64(1) << (id & 63)

	if wordIdx >= len(s.bits) {
		s.grow(wordIdx + 1)
	}
	if s.bits[wordIdx]&bitMask != 0 {
		return false
	}
	s.bits[wordIdx] |= bitMask
	s.dirty = append(s.dirty, id)
	return true
}

// Visited reports whether obj has been visited.
func (s *Set) Visited(obj model.ObjectReference) bool {
	if obj.Address() < s.base {
		return false
	}
	id := s.index(obj)
	wordIdx := int(id >> 6) //nolint:gosec // bounded by the address range
	if wordIdx >= len(s.bits) {
		return false
	}
	return s.bits[wordIdx]&(uint64(1)<<(id&63)) != 0
}

// Span returns the number of bytes above base the set currently covers.
func (s *Set) Span() uintptr {
	return uintptr(len(s.bits)) * 64 << model.LogBytesInWord
}

// Len returns the number of visited objects.
func (s *Set) Len() int { return len(s.dirty) }

// Reset clears the objects visited since the last reset.
func (s *Set) Reset() {
	for _, id := range s.dirty {
		s.bits[id>>6] &^= uint64(1) << (id & 63)
	}
	s.dirty = s.dirty[:0]
}

func (s *Set) grow(newLen int) {
	newCap := max(len(s.bits)*2, newLen)
	newBits := make([]uint64, newCap)
	copy(newBits, s.bits)
	s.bits = newBits
}
