package testutil

import (
	"github.com/hupe1980/vmgc/model"
)

const headerWords = 2

// ObjectSize returns the size of an object with nrefs reference slots and
// payload extra bytes.
func ObjectSize(nrefs, payload int) int {
	return (headerWords+nrefs)*model.BytesInWord + (payload+model.BytesInWord-1)&^(model.BytesInWord-1)
}

// InitObject writes the header of a freshly allocated object.
func InitObject(obj model.ObjectReference, size, nrefs int, id uint64) {
	a := obj.Address()
	a.StoreWord(uintptr(size) | uintptr(nrefs)<<32)
	a.Add(model.BytesInWord).StoreWord(uintptr(id))
}

// Size returns the size recorded in obj's header.
func Size(obj model.ObjectReference) int {
	return int(uint32(obj.Address().LoadWord()))
}

// NumRefs returns the number of reference slots of obj.
func NumRefs(obj model.ObjectReference) int {
	return int(obj.Address().LoadWord() >> 32)
}

// ID returns the id of obj.
func ID(obj model.ObjectReference) uint64 {
	return uint64(obj.Address().Add(model.BytesInWord).LoadWord())
}

// RefSlot returns the address of obj's i-th reference slot.
func RefSlot(obj model.ObjectReference, i int) model.Address {
	return obj.Address().Add(uintptr(headerWords+i) * model.BytesInWord)
}

// Ref loads obj's i-th reference.
func Ref(obj model.ObjectReference, i int) model.ObjectReference {
	return RefSlot(obj, i).LoadRef()
}

// AllocFunc allocates size zeroed bytes.
type AllocFunc func(size int) (model.ObjectReference, error)

// Writer stores references through a write barrier.
type Writer interface {
	WriteRef(src model.ObjectReference, slot model.Address, target model.ObjectReference)
}

// NewObject allocates and initializes an object with nrefs null slots.
func NewObject(alloc AllocFunc, id uint64, nrefs int) (model.ObjectReference, error) {
	size := ObjectSize(nrefs, 0)
	obj, err := alloc(size)
	if err != nil {
		return model.NullRef, err
	}
	InitObject(obj, size, nrefs, id)
	return obj, nil
}

// SetRef stores target into obj's i-th slot through w.
func SetRef(w Writer, obj model.ObjectReference, i int, target model.ObjectReference) {
	w.WriteRef(obj, RefSlot(obj, i), target)
}

// Walk visits every object reachable from roots once, in breadth-first
// order.
func Walk(fn func(obj model.ObjectReference), roots ...model.ObjectReference) {
	seen := make(map[model.ObjectReference]struct{})
	queue := make([]model.ObjectReference, 0, len(roots))
	for _, r := range roots {
		if r.IsNull() {
			continue
		}
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		obj := queue[0]
		queue = queue[1:]
		fn(obj)
		for i := range NumRefs(obj) {
			c := Ref(obj, i)
			if c.IsNull() {
				continue
			}
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				queue = append(queue, c)
			}
		}
	}
}

// ReachableIDs returns the ids of all objects reachable from roots.
func ReachableIDs(roots ...model.ObjectReference) map[uint64]struct{} {
	ids := make(map[uint64]struct{})
	Walk(func(obj model.ObjectReference) { ids[ID(obj)] = struct{}{} }, roots...)
	return ids
}
