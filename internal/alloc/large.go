package alloc

import (
	"fmt"

	"github.com/hupe1980/vmgc/model"
)

// PageSource hands out page-aligned runs for single objects.
type PageSource interface {
	AllocPages(pages int, poll bool) (model.Address, error)
}

// LargeObjectAllocator allocates each object on its own pages.
type LargeObjectAllocator struct {
	source PageSource
	poll   bool
}

// NewLargeObjectAllocator creates a large object allocator.
func NewLargeObjectAllocator(source PageSource, poll bool) *LargeObjectAllocator {
	return &LargeObjectAllocator{source: source, poll: poll}
}

// Alloc returns size zeroed bytes starting at a page boundary.
func (a *LargeObjectAllocator) Alloc(size, align int) (model.Address, error) {
	if size <= 0 || align > model.BytesInPage {
		return 0, fmt.Errorf("%w: %d bytes aligned to %d in the large object space", ErrUnsupportedRequest, size, align)
	}
	return a.source.AllocPages(model.BytesToPagesUp(uintptr(size)), a.poll)
}

// Reset is a no-op: large object allocators hold no thread-local state.
func (a *LargeObjectAllocator) Reset() {}
