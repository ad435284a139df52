package barrier

import "github.com/hupe1980/vmgc/model"

// BufferCapacity is the number of slots a modification buffer holds before
// it is flushed.
const BufferCapacity = 1024

// Filter selects the stores the barrier records.
type Filter struct {
	// Lo and Hi bound the nursery.
	Lo, Hi model.Address
}

// InNursery reports whether a lies in the nursery.
func (f Filter) InNursery(a model.Address) bool {
	return a >= f.Lo && a < f.Hi
}

// Buffer is a mutator's modification buffer. It is owned by one goroutine.
type Buffer struct {
	slots  []model.Address
	set    *RememberedSet
	filter Filter
}

// NewBuffer creates a buffer flushing into set.
func NewBuffer(set *RememberedSet, filter Filter) *Buffer {
	return &Buffer{
		slots:  make([]model.Address, 0, BufferCapacity),
		set:    set,
		filter: filter,
	}
}

// ObjectReferenceWrite stores target into slot of src and records the slot
// if it creates an old-to-young edge.
func (b *Buffer) ObjectReferenceWrite(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	slot.StoreRef(target)
	b.PostWrite(src, slot, target)
}

// PostWrite records slot after the host stored target into it.
func (b *Buffer) PostWrite(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	if target.IsNull() || !b.filter.InNursery(target.Address()) || b.filter.InNursery(src.Address()) {
		return
	}
	b.slots = append(b.slots, slot)
	if len(b.slots) == BufferCapacity {
		b.Flush()
	}
}

// Flush moves the buffered slots into the remembered set.
func (b *Buffer) Flush() {
	b.set.Add(b.slots...)
	b.slots = b.slots[:0]
}

// Discard drops the buffered slots.
func (b *Buffer) Discard() {
	b.slots = b.slots[:0]
}

// Pending returns the number of buffered slots.
func (b *Buffer) Pending() int { return len(b.slots) }
