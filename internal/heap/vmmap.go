package heap

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vmgc/internal/conv"
	"github.com/hupe1980/vmgc/internal/mmap"
	"github.com/hupe1980/vmgc/model"
)

// ErrNoExtent is returned when all extents of the reservation are taken.
var ErrNoExtent = errors.New("heap: no free extent")

// VMMap maps addresses to the space that owns them.
type VMMap struct {
	res       *mmap.Reservation
	start     model.Address
	extent    uintptr
	logExtent int
	maxSpaces int

	mu    sync.Mutex
	names []string
	count atomic.Int32
}

// NewVMMap reserves maxSpaces extents of at least extentBytes each. The
// extent size is rounded up to a power-of-two number of chunks.
func NewVMMap(extentBytes uintptr, maxSpaces int) (*VMMap, error) {
	if extentBytes == 0 || maxSpaces <= 0 {
		return nil, fmt.Errorf("heap: invalid layout: extent %d bytes, %d spaces", extentBytes, maxSpaces)
	}
	extent := uintptr(model.BytesInChunk)
	for extent < extentBytes {
		extent <<= 1
	}
	size := extent * uintptr(maxSpaces)
	res, err := mmap.Reserve(int(size), model.BytesInChunk)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", size, err)
	}
	return &VMMap{
		res:       res,
		start:     model.Address(res.Base()),
		extent:    extent,
		logExtent: conv.Log2(uint64(extent)),
		maxSpaces: maxSpaces,
	}, nil
}

// Start returns the first address of the heap reservation.
func (m *VMMap) Start() model.Address { return m.start }

// End returns the address just past the heap reservation.
func (m *VMMap) End() model.Address { return m.start.Add(uintptr(m.res.Size())) }

// ExtentBytes returns the size of one space extent.
func (m *VMMap) ExtentBytes() uintptr { return m.extent }

// Reservation returns the underlying reservation.
func (m *VMMap) Reservation() *mmap.Reservation { return m.res }

// AllocateExtent hands out the next free extent to the named space.
func (m *VMMap) AllocateExtent(name string) (index int, start, end model.Address, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index = len(m.names)
	if index >= m.maxSpaces {
		return 0, 0, 0, fmt.Errorf("%w: %s", ErrNoExtent, name)
	}
	m.names = append(m.names, name)
	m.count.Store(int32(len(m.names))) //nolint:gosec // bounded by maxSpaces

	start = m.start.Add(uintptr(index) << m.logExtent)
	return index, start, start.Add(m.extent), nil
}

// SpaceIndex returns the index of the space whose extent contains a, or -1.
func (m *VMMap) SpaceIndex(a model.Address) int {
	if a < m.start {
		return -1
	}
	i := int(a.Diff(m.start) >> m.logExtent)
	if i >= int(m.count.Load()) {
		return -1
	}
	return i
}

// SpaceName returns the name of the space at index.
func (m *VMMap) SpaceName(index int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.names) {
		return ""
	}
	return m.names[index]
}

// InHeap reports whether a lies inside the heap reservation.
func (m *VMMap) InHeap(a model.Address) bool {
	return a >= m.start && a < m.End()
}

// Close releases the reservation.
func (m *VMMap) Close() error {
	return m.res.Close()
}
