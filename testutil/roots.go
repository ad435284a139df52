package testutil

import (
	"fmt"
	"sync"

	"github.com/hupe1980/vmgc/internal/conv"
	"github.com/hupe1980/vmgc/internal/mmap"
	"github.com/hupe1980/vmgc/model"
)

// DefaultRootCapacity is the number of slots of a root table.
const DefaultRootCapacity = 1 << 16

// RootTable is a stack of root slots in memory outside the Go heap.
type RootTable struct {
	mu   sync.Mutex
	res  *mmap.Reservation
	base model.Address
	cap  int
	n    int
}

// NewRootTable maps a table of capacity slots.
func NewRootTable(capacity int) (*RootTable, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("testutil: root table capacity %d", capacity)
	}
	size := conv.AlignUp(capacity*model.BytesInWord, mmap.PageSize)
	res, err := mmap.Reserve(size, mmap.PageSize)
	if err != nil {
		return nil, err
	}
	if err := res.Commit(0, res.Size()); err != nil {
		_ = res.Close()
		return nil, err
	}
	return &RootTable{res: res, base: model.Address(res.Base()), cap: capacity}, nil
}

// Push appends obj and returns its index.
func (t *RootTable) Push(obj model.ObjectReference) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == t.cap {
		panic(fmt.Sprintf("testutil: root table full (%d slots)", t.cap))
	}
	i := t.n
	t.slot(i).StoreRef(obj)
	t.n++
	return i
}

// Get loads the i-th root.
func (t *RootTable) Get(i int) model.ObjectReference {
	return t.Slot(i).LoadRef()
}

// Set stores obj into the i-th root.
func (t *RootTable) Set(i int, obj model.ObjectReference) {
	t.Slot(i).StoreRef(obj)
}

// Slot returns the address of the i-th root.
func (t *RootTable) Slot(i int) model.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= t.n {
		panic(fmt.Sprintf("testutil: root %d out of range [0,%d)", i, t.n))
	}
	return t.slot(i)
}

func (t *RootTable) slot(i int) model.Address {
	return t.base.Add(uintptr(i) * model.BytesInWord)
}

// Len returns the number of roots.
func (t *RootTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// Truncate drops every root at index n and above.
func (t *RootTable) Truncate(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < t.n {
		t.base.Add(uintptr(n) * model.BytesInWord).Zero((t.n - n) * model.BytesInWord)
		t.n = n
	}
}

// Slots returns the addresses of all roots.
func (t *RootTable) Slots() []model.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Address, t.n)
	for i := range out {
		out[i] = t.slot(i)
	}
	return out
}

// Objects returns the current value of every root.
func (t *RootTable) Objects() []model.ObjectReference {
	slots := t.Slots()
	out := make([]model.ObjectReference, len(slots))
	for i, s := range slots {
		out[i] = s.LoadRef()
	}
	return out
}

// Close unmaps the table.
func (t *RootTable) Close() error {
	return t.res.Close()
}
