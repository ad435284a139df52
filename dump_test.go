package vmgc

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/heapdump"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/testutil"
)

// buildTree roots a binary tree of depth levels and returns its root slot.
func buildTree(h *host, depth int) int {
	h.t.Helper()
	var id uint64
	var build func(d int) model.ObjectReference
	build = func(d int) model.ObjectReference {
		id++
		obj := h.object(id, 2)
		slot := h.th.Roots.Push(obj)
		if d > 0 {
			testutil.SetRef(h.m, h.th.Roots.Get(slot), 0, build(d-1))
			testutil.SetRef(h.m, h.th.Roots.Get(slot), 1, build(d-1))
		}
		obj = h.th.Roots.Get(slot)
		h.th.Roots.Truncate(slot)
		return obj
	}
	return h.th.Roots.Push(build(depth))
}

func TestEngine_DumpHeap(t *testing.T) {
	for _, codec := range []heapdump.Codec{heapdump.CodecNone, heapdump.CodecLZ4, heapdump.CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			h := newHost(t, WithPlan(MarkSweep))
			root := buildTree(h, 9)
			for i := range 500 {
				h.object(uint64(1<<32+i), 0)
			}

			var buf bytes.Buffer
			h.th.Parked(func() {
				require.NoError(t, h.e.DumpHeap(context.Background(), &buf, codec))
			})

			snap, err := heapdump.ReadAll(&buf)
			require.NoError(t, err)

			head := h.th.Roots.Get(root)
			want := testutil.ReachableIDs(head)
			assert.Len(t, snap.Objects, len(want))
			assert.Equal(t, uint64(len(want)), snap.Summary.Objects)
			assert.NotZero(t, snap.Summary.Cycle)
			assert.NotEmpty(t, snap.Spaces)

			require.Len(t, snap.Roots, 1)
			assert.Equal(t, uint64(head), snap.Roots[0].Object)
			assert.Equal(t, uint64(h.th.Roots.Slot(root)), snap.Roots[0].Slot)

			objects := snap.ObjectMap()
			top, ok := objects[uint64(head)]
			require.True(t, ok)
			assert.Equal(t, testutil.ObjectSize(2, 0), top.Size)
			assert.ElementsMatch(t, []uint64{uint64(testutil.Ref(head, 0)), uint64(testutil.Ref(head, 1))}, top.Refs)
			ms := -1
			for _, s := range snap.Spaces {
				if s.Name == "ms" {
					ms = s.Index
				}
			}
			for _, obj := range snap.Objects {
				assert.Equal(t, ms, obj.Space)
			}
			assert.Equal(t, uint64(1), h.e.Stats().FullHeapCollections)
		})
	}
}

func TestEngine_DumpHeapTo(t *testing.T) {
	h := newHost(t, WithPlan(Immix))
	buildTree(h, 4)

	dir := t.TempDir()
	sink, err := heapdump.NewDirSink(dir)
	require.NoError(t, err)

	assert.ErrorIs(t, h.e.DumpHeapTo(context.Background(), nil, "x", heapdump.CodecZstd), ErrInvalidArgument)

	h.th.Parked(func() {
		require.NoError(t, h.e.DumpHeapTo(context.Background(), sink, "heap.vmgc", heapdump.CodecZstd))
	})

	f, err := os.Open(filepath.Join(dir, "heap.vmgc"))
	require.NoError(t, err)
	defer f.Close()

	snap, err := heapdump.ReadAll(f)
	require.NoError(t, err)
	assert.Len(t, snap.Objects, 31)
	assert.Len(t, snap.Roots, 1)
}

func TestEngine_DumpHeapCanceled(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.th.Parked(func() {
		assert.ErrorIs(t, h.e.DumpHeap(ctx, &bytes.Buffer{}, heapdump.CodecNone), context.Canceled)
	})
	assert.Zero(t, h.e.Stats().Collections)
}

func TestEngine_DumpHeapAcrossSpaces(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))
	allocIn := func(sem model.AllocationSemantics) testutil.AllocFunc {
		return func(size int) (model.ObjectReference, error) {
			return h.m.Alloc(size, model.MinAlignment, sem)
		}
	}

	slot := h.th.Roots.Push(h.object(1, 3))
	large, err := testutil.NewObject(allocIn(model.AllocLOS), 2, 1)
	require.NoError(t, err)
	testutil.SetRef(h.m, h.th.Roots.Get(slot), 0, large)
	immortal, err := testutil.NewObject(allocIn(model.AllocImmortal), 3, 0)
	require.NoError(t, err)
	testutil.SetRef(h.m, h.th.Roots.Get(slot), 1, immortal)
	testutil.SetRef(h.m, large, 0, h.th.Roots.Get(slot))

	var buf bytes.Buffer
	h.th.Parked(func() {
		require.NoError(t, h.e.DumpHeap(context.Background(), &buf, heapdump.CodecNone))
	})
	snap, err := heapdump.ReadAll(&buf)
	require.NoError(t, err)
	assert.Len(t, snap.Objects, 3)
	assert.Equal(t, uint64(3), snap.Summary.Objects)

	spaces := map[int]bool{}
	for _, obj := range snap.Objects {
		spaces[obj.Space] = true
	}
	assert.Len(t, spaces, 3)

	walk := newHeapWalk(h.e.plan)
	for _, obj := range []model.ObjectReference{h.th.Roots.Get(slot), large, immortal, large} {
		_, err := walk.visit(obj)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, walk.len())
	require.Len(t, walk.sets, 3)
	for idx, set := range walk.sets {
		var space policy.Space
		for _, s := range h.e.plan.Spaces() {
			if s.Index() == idx {
				space = s
			}
		}
		require.NotNil(t, space)
		start, end := space.Extent()
		limit := max(2*end.Diff(start), model.PagesToBytes(space.ReservedPages())) + 64*model.BytesInWord
		assert.LessOrEqual(t, set.Span(), limit, "space %s", space.Name())
	}
}
