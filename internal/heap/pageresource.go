package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vmgc/internal/conv"
	"github.com/hupe1980/vmgc/model"
)

var (
	// ErrExhausted is returned when a page resource has no room left in its extent.
	ErrExhausted = errors.New("heap: extent exhausted")
	// ErrNotAllocated is returned when freeing pages that were not handed out.
	ErrNotAllocated = errors.New("heap: pages not allocated")
)

// PageResource hands out pages of one space extent.
type PageResource interface {
	// ReservedPages returns the number of pages currently handed out.
	ReservedPages() int
}

// MonotonePageResource allocates pages with a bump cursor.
type MonotonePageResource struct {
	mmapper *Mmapper
	start   model.Address
	end     model.Address

	mu       sync.Mutex
	cursor   model.Address
	reserved atomic.Int64
}

// NewMonotonePageResource creates a page resource for [start, end).
func NewMonotonePageResource(start, end model.Address, mmapper *Mmapper) *MonotonePageResource {
	return &MonotonePageResource{
		mmapper: mmapper,
		start:   start,
		end:     end,
		cursor:  start,
	}
}

// GetNewPages returns pages contiguous committed pages.
func (p *MonotonePageResource) GetNewPages(pages int) (model.Address, error) {
	bytes := model.PagesToBytes(pages)

	p.mu.Lock()
	if p.cursor.Add(bytes) > p.end {
		p.mu.Unlock()
		return 0, ErrExhausted
	}
	addr := p.cursor
	p.cursor = p.cursor.Add(bytes)
	p.mu.Unlock()

	if err := p.mmapper.EnsureMapped(addr, bytes); err != nil {
		return 0, err
	}
	p.reserved.Add(int64(pages))
	return addr, nil
}

// Cursor returns the end of the allocated prefix.
func (p *MonotonePageResource) Cursor() model.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Start returns the first address of the extent.
func (p *MonotonePageResource) Start() model.Address { return p.start }

// Reset frees every page and returns their memory to the OS.
func (p *MonotonePageResource) Reset() error {
	p.mu.Lock()
	used := p.cursor.Diff(p.start)
	p.cursor = p.start
	p.mu.Unlock()

	p.reserved.Store(0)
	return p.mmapper.Release(p.start, used)
}

// ReservedPages returns the number of pages handed out since the last Reset.
func (p *MonotonePageResource) ReservedPages() int {
	return int(p.reserved.Load())
}

// FreeListPageResource allocates aligned runs of pages first-fit.
type FreeListPageResource struct {
	mmapper *Mmapper
	start   model.Address
	total   uint

	mu        sync.Mutex
	used      *bitset.BitSet
	runs      map[uint]uint // first page -> run length
	firstFree uint
	top       uint
	reserved  atomic.Int64
}

// NewFreeListPageResource creates a page resource for [start, end).
func NewFreeListPageResource(start, end model.Address, mmapper *Mmapper) *FreeListPageResource {
	total := uint(end.Diff(start) >> model.LogBytesInPage)
	return &FreeListPageResource{
		mmapper: mmapper,
		start:   start,
		total:   total,
		used:    bitset.New(total),
		runs:    make(map[uint]uint),
	}
}

// GetNewPages returns a run of pages whose first page index is a multiple
// of alignPages.
func (p *FreeListPageResource) GetNewPages(pages, alignPages int) (model.Address, error) {
	if pages <= 0 || alignPages <= 0 || !conv.IsPowerOfTwo(alignPages) {
		return 0, fmt.Errorf("heap: invalid page request: %d pages aligned to %d", pages, alignPages)
	}
	n, align := uint(pages), uint(alignPages)

	p.mu.Lock()
	first, ok := p.findRun(n, align)
	if !ok {
		p.mu.Unlock()
		return 0, ErrExhausted
	}
	for i := first; i < first+n; i++ {
		p.used.Set(i)
	}
	p.runs[first] = n
	if first == p.firstFree {
		p.firstFree = first + n
	}
	p.top = max(p.top, first+n)
	p.mu.Unlock()

	addr := p.start.Add(uintptr(first) << model.LogBytesInPage)
	if err := p.mmapper.EnsureMapped(addr, model.PagesToBytes(pages)); err != nil {
		p.mu.Lock()
		p.freeRun(first)
		p.mu.Unlock()
		return 0, err
	}
	p.reserved.Add(int64(pages))
	return addr, nil
}

func (p *FreeListPageResource) findRun(n, align uint) (uint, bool) {
	i := p.firstFree
	for {
		free, ok := p.used.NextClear(i)
		if !ok {
			return 0, false
		}
		free = conv.AlignUp(free, align)
		if free+n > p.total {
			return 0, false
		}
		next, found := p.used.NextSet(free)
		if !found || next >= free+n {
			return free, true
		}
		i = next + 1
	}
}

func (p *FreeListPageResource) freeRun(first uint) uint {
	n := p.runs[first]
	delete(p.runs, first)
	for i := first; i < first+n; i++ {
		p.used.Clear(i)
	}
	p.firstFree = min(p.firstFree, first)
	return n
}

// ReleasePages frees the run starting at addr and returns its memory to
// the OS. It returns the number of pages freed.
func (p *FreeListPageResource) ReleasePages(addr model.Address) (int, error) {
	first := uint(addr.Diff(p.start) >> model.LogBytesInPage)

	p.mu.Lock()
	if _, ok := p.runs[first]; !ok || addr < p.start {
		p.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrNotAllocated, addr)
	}
	n := p.freeRun(first)
	p.mu.Unlock()

	p.reserved.Add(-int64(n))
	return int(n), p.mmapper.Release(addr, uintptr(n)<<model.LogBytesInPage)
}

// Start returns the first address of the extent.
func (p *FreeListPageResource) Start() model.Address { return p.start }

// HighWater returns the address just past the highest page ever handed out.
func (p *FreeListPageResource) HighWater() model.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.start.Add(uintptr(p.top) << model.LogBytesInPage)
}

// ReservedPages returns the number of pages currently handed out.
func (p *FreeListPageResource) ReservedPages() int {
	return int(p.reserved.Load())
}
