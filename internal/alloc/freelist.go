package alloc

import (
	"fmt"

	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/model"
)

// BlockSource hands out mark-sweep blocks with free cells.
type BlockSource interface {
	AcquireBlock(class int, poll bool) (model.Address, error)
	ReturnBlock(class int, b model.Address)
	IsFreeCell(a model.Address) bool
}

// FreeListAllocator serves small objects from size-class free lists. Free
// cells are linked through their first word.
type FreeListAllocator struct {
	source BlockSource
	poll   bool
	free   [policy.NumSizeClasses]model.Address
	// blocks holds the block each non-empty free list was built from.
	blocks [policy.NumSizeClasses]model.Address
}

// NewFreeListAllocator creates a free-list allocator.
func NewFreeListAllocator(source BlockSource, poll bool) *FreeListAllocator {
	return &FreeListAllocator{source: source, poll: poll}
}

// Alloc returns a zeroed cell of at least size bytes aligned to align.
func (a *FreeListAllocator) Alloc(size, align int) (model.Address, error) {
	class, ok := policy.SizeClassFor(size, align)
	if !ok {
		return 0, fmt.Errorf("%w: %d bytes aligned to %d in a size-class space", ErrUnsupportedRequest, size, align)
	}
	if cell := a.free[class]; cell != 0 {
		return a.take(class, cell), nil
	}
	return a.allocSlow(class)
}

func (a *FreeListAllocator) take(class int, cell model.Address) model.Address {
	a.free[class] = model.Address(cell.LoadWord())
	cell.Zero(policy.CellSize(class))
	return cell
}

func (a *FreeListAllocator) allocSlow(class int) (model.Address, error) {
	for {
		b, err := a.source.AcquireBlock(class, a.poll)
		if err != nil {
			return 0, err
		}
		if head := a.buildList(b, class); head != 0 {
			a.blocks[class] = b
			return a.take(class, head), nil
		}
	}
}

// buildList links the free cells of block b in address order.
func (a *FreeListAllocator) buildList(b model.Address, class int) model.Address {
	cell := uintptr(policy.CellSize(class))
	var head model.Address
	for i := policy.CellsPerBlock(class) - 1; i >= 0; i-- {
		c := b.Add(uintptr(i) * cell)
		if a.source.IsFreeCell(c) {
			c.StoreWord(uintptr(head))
			head = c
		}
	}
	return head
}

// Reset drops every free list. Blocks that still have free cells go back to
// the source, so the cells are reused without waiting for a sweep.
func (a *FreeListAllocator) Reset() {
	for class, b := range a.blocks {
		if b != 0 && a.free[class] != 0 {
			a.source.ReturnBlock(class, b)
		}
	}
	clear(a.free[:])
	clear(a.blocks[:])
}
