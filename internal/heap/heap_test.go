package heap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/model"
)

func newHeap(t *testing.T, spaces int, limit int64) *Heap {
	t.Helper()
	h, err := New(Config{ExtentBytes: 2 * model.BytesInChunk, MaxSpaces: spaces, CommitLimit: limit})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestVMMap_Extents(t *testing.T) {
	h := newHeap(t, 2, 0)
	vm := h.VMMap

	assert.True(t, vm.Start().IsAligned(model.BytesInChunk))
	assert.Equal(t, uintptr(2*model.BytesInChunk), vm.ExtentBytes())

	i0, s0, e0, err := vm.AllocateExtent("a")
	require.NoError(t, err)
	i1, s1, _, err := vm.AllocateExtent("b")
	require.NoError(t, err)
	_, _, _, err = vm.AllocateExtent("c")
	assert.ErrorIs(t, err, ErrNoExtent)

	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, e0, s1)
	assert.Equal(t, 0, vm.SpaceIndex(s0))
	assert.Equal(t, 0, vm.SpaceIndex(e0-1))
	assert.Equal(t, 1, vm.SpaceIndex(s1))
	assert.Equal(t, -1, vm.SpaceIndex(vm.End()))
	assert.Equal(t, -1, vm.SpaceIndex(vm.Start()-1))
	assert.Equal(t, "b", vm.SpaceName(1))
	assert.True(t, vm.InHeap(s1))
	assert.False(t, vm.InHeap(vm.End()))
}

func TestVMMap_UnallocatedExtent(t *testing.T) {
	h := newHeap(t, 3, 0)

	_, _, end, err := h.VMMap.AllocateExtent("only")
	require.NoError(t, err)
	assert.Equal(t, -1, h.VMMap.SpaceIndex(end))
	assert.True(t, h.InHeap(end))
}

func TestMmapper_CommitsDataAndMetadata(t *testing.T) {
	h := newHeap(t, 1, 0)
	_, start, _, err := h.VMMap.AllocateExtent("s")
	require.NoError(t, err)

	assert.False(t, h.Mmapper.IsMapped(start))
	require.NoError(t, h.Mmapper.EnsureMapped(start.Add(100), 8))
	assert.True(t, h.Mmapper.IsMapped(start))
	assert.False(t, h.Mmapper.IsMapped(start.Add(model.BytesInChunk)))
	assert.Equal(t, 1, h.Mmapper.MappedChunks())

	assert.Equal(t, int64(model.BytesInChunk), h.Resource.Usage(resource.Data))
	assert.Positive(t, h.Resource.Usage(resource.Metadata))

	// Memory is usable and metadata for it is addressable.
	start.StoreWord(7)
	h.Meta.VO.Set(start)
	assert.True(t, h.Meta.VO.IsSet(start))

	require.NoError(t, h.Mmapper.Release(start, model.BytesInPage))
	assert.Zero(t, start.LoadWord())
}

func TestMmapper_CommitLimit(t *testing.T) {
	h := newHeap(t, 1, model.BytesInChunk)
	_, start, _, err := h.VMMap.AllocateExtent("s")
	require.NoError(t, err)

	err = h.Mmapper.EnsureMapped(start, model.BytesInChunk)
	assert.ErrorIs(t, err, resource.ErrLimitExceeded)
}

func TestMonotonePageResource(t *testing.T) {
	h := newHeap(t, 1, 0)
	_, start, end, err := h.VMMap.AllocateExtent("copy")
	require.NoError(t, err)

	pr := NewMonotonePageResource(start, end, h.Mmapper)

	a, err := pr.GetNewPages(8)
	require.NoError(t, err)
	b, err := pr.GetNewPages(8)
	require.NoError(t, err)
	assert.Equal(t, start, a)
	assert.Equal(t, a.Add(model.PagesToBytes(8)), b)
	assert.Equal(t, 16, pr.ReservedPages())

	b.StoreWord(99)

	_, err = pr.GetNewPages(model.BytesToPagesUp(end.Diff(start)))
	assert.ErrorIs(t, err, ErrExhausted)

	require.NoError(t, pr.Reset())
	assert.Zero(t, pr.ReservedPages())
	assert.Equal(t, start, pr.Cursor())

	c, err := pr.GetNewPages(16)
	require.NoError(t, err)
	assert.Equal(t, start, c)
	assert.Zero(t, b.LoadWord())
}

func TestFreeListPageResource(t *testing.T) {
	h := newHeap(t, 1, 0)
	_, start, end, err := h.VMMap.AllocateExtent("ms")
	require.NoError(t, err)

	pr := NewFreeListPageResource(start, end, h.Mmapper)

	a, err := pr.GetNewPages(3, 1)
	require.NoError(t, err)
	assert.Equal(t, start, a)

	b, err := pr.GetNewPages(model.PagesInBlock, model.PagesInBlock)
	require.NoError(t, err)
	assert.True(t, b.IsAligned(model.BytesInBlock))
	assert.Equal(t, start.Add(model.BytesInBlock), b)

	// The gap between a and b is reused first-fit.
	c, err := pr.GetNewPages(2, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Add(model.PagesToBytes(3)), c)

	assert.Equal(t, 3+model.PagesInBlock+2, pr.ReservedPages())
	assert.Equal(t, b.Add(model.BytesInBlock), pr.HighWater())

	n, err := pr.ReleasePages(a)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = pr.ReleasePages(a)
	assert.ErrorIs(t, err, ErrNotAllocated)

	d, err := pr.GetNewPages(3, 1)
	require.NoError(t, err)
	assert.Equal(t, a, d)

	_, err = pr.GetNewPages(0, 1)
	assert.Error(t, err)
	_, err = pr.GetNewPages(1, 3)
	assert.Error(t, err)
}

func TestFreeListPageResource_Exhaustion(t *testing.T) {
	h := newHeap(t, 1, 0)
	_, start, end, err := h.VMMap.AllocateExtent("los")
	require.NoError(t, err)

	pr := NewFreeListPageResource(start, end, h.Mmapper)
	total := model.BytesToPagesUp(end.Diff(start))

	_, err = pr.GetNewPages(total, 1)
	require.NoError(t, err)
	_, err = pr.GetNewPages(1, 1)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestFreeListPageResource_Concurrent(t *testing.T) {
	h := newHeap(t, 1, 0)
	_, start, end, err := h.VMMap.AllocateExtent("ms")
	require.NoError(t, err)
	pr := NewFreeListPageResource(start, end, h.Mmapper)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[model.Address]bool)
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				a, err := pr.GetNewPages(model.PagesInBlock, model.PagesInBlock)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[a], "block %s handed out twice", a)
				seen[a] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 64)
}
