package alloc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vmgc/model"
)

// ErrUnsupportedRequest is returned for sizes or alignments an allocator
// cannot serve.
var ErrUnsupportedRequest = errors.New("alloc: unsupported request")

// RegionBytes is the size of the buffer a bump allocator takes from its
// space at a time.
const RegionBytes = model.BytesInBlock

// RegionSource hands out zeroed, contiguous page runs.
type RegionSource interface {
	AcquireRegion(pages int, poll bool) (model.Address, error)
}

// BumpAllocator allocates by advancing a cursor through a region.
type BumpAllocator struct {
	cursor model.Address
	limit  model.Address
	source RegionSource
	poll   bool
}

// NewBumpAllocator creates a bump allocator. Mutator allocators poll the
// plan when acquiring regions; collector allocators do not.
func NewBumpAllocator(source RegionSource, poll bool) *BumpAllocator {
	return &BumpAllocator{source: source, poll: poll}
}

// Alloc returns size zeroed bytes aligned to align.
func (a *BumpAllocator) Alloc(size, align int) (model.Address, error) {
	start := a.cursor.AlignUp(uintptr(align))
	end := start.Add(uintptr(size))
	if a.cursor != 0 && end <= a.limit {
		a.cursor = end
		return start, nil
	}
	return a.allocSlow(size, align)
}

func (a *BumpAllocator) allocSlow(size, align int) (model.Address, error) {
	if size <= 0 || align <= 0 || align > model.BytesInPage {
		return 0, fmt.Errorf("%w: %d bytes aligned to %d", ErrUnsupportedRequest, size, align)
	}
	pages := model.BytesToPagesUp(max(RegionBytes, uintptr(size)))
	r, err := a.source.AcquireRegion(pages, a.poll)
	if err != nil {
		return 0, err
	}
	a.cursor = r
	a.limit = r.Add(model.PagesToBytes(pages))

	// Regions are page aligned, so the request fits.
	start := a.cursor.AlignUp(uintptr(align))
	a.cursor = start.Add(uintptr(size))
	return start, nil
}

// Reset drops the current region. The unused tail is left to the space.
func (a *BumpAllocator) Reset() {
	a.cursor = 0
	a.limit = 0
}

// Cursor returns the next free address of the current region.
func (a *BumpAllocator) Cursor() model.Address { return a.cursor }
