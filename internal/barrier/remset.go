package barrier

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vmgc/model"
)

// RememberedSet is a deduplicated set of slots.
type RememberedSet struct {
	mu    sync.Mutex
	slots *roaring64.Bitmap
}

// NewRememberedSet creates an empty set.
func NewRememberedSet() *RememberedSet {
	return &RememberedSet{slots: roaring64.New()}
}

// Add inserts slots into the set.
func (r *RememberedSet) Add(slots ...model.Address) {
	if len(slots) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range slots {
		r.slots.Add(uint64(s))
	}
}

// Contains reports whether slot is in the set.
func (r *RememberedSet) Contains(slot model.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.Contains(uint64(slot))
}

// Len returns the number of slots.
func (r *RememberedSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.slots.GetCardinality()) //nolint:gosec // bounded by heap words
}

// Take empties the set and returns its slots in address order.
func (r *RememberedSet) Take() []model.Address {
	r.mu.Lock()
	old := r.slots
	r.slots = roaring64.New()
	r.mu.Unlock()

	out := make([]model.Address, 0, old.GetCardinality())
	it := old.Iterator()
	for it.HasNext() {
		out = append(out, model.Address(it.Next()))
	}
	return out
}

// Clear empties the set.
func (r *RememberedSet) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots.Clear()
}
