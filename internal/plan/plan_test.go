package plan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/testutil"
)

const testHeap = 16 << 20

type harness struct {
	t    *testing.T
	vm   *testutil.VM
	plan Plan
	ctrl *Controller
	th   *testutil.Thread
	mu   *mutator.Mutator

	mtx    sync.Mutex
	cycles []CycleInfo
	fatals []error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, vm: testutil.NewVM()}
	t.Cleanup(func() { _ = h.vm.Close() })

	p, err := New(Args{Config: cfg, Binding: h.vm, Fatal: h.fatal})
	require.NoError(t, err)
	h.plan = p
	t.Cleanup(func() { _ = p.Close() })

	h.ctrl = NewController(p, h.vm, ControllerOptions{
		Workers:  4,
		Mutators: func() []*mutator.Mutator { return []*mutator.Mutator{h.mu} },
		OnCycle: func(ci CycleInfo) {
			h.mtx.Lock()
			h.cycles = append(h.cycles, ci)
			h.mtx.Unlock()
		},
		Fatal: h.fatal,
	})
	t.Cleanup(func() { _ = h.ctrl.Close() })

	h.th = h.vm.NewThread()
	t.Cleanup(h.th.Detach)
	h.mu = mutator.New(h.th, p.MutatorConfig(), h.ctrl)
	return h
}

func (h *harness) fatal(err error) {
	h.mtx.Lock()
	h.fatals = append(h.fatals, err)
	h.mtx.Unlock()
}

func (h *harness) alloc(size int) (model.ObjectReference, error) {
	return h.mu.Alloc(size, model.MinAlignment, model.AllocDefault)
}

func (h *harness) object(id uint64, nrefs int) model.ObjectReference {
	h.t.Helper()
	obj, err := testutil.NewObject(h.alloc, id, nrefs)
	require.NoError(h.t, err)
	return obj
}

func (h *harness) collect() {
	h.t.Helper()
	require.NoError(h.t, h.ctrl.CollectFrom(h.th))
}

func (h *harness) lastCycle() CycleInfo {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	require.NotEmpty(h.t, h.cycles)
	return h.cycles[len(h.cycles)-1]
}

// buildList builds a rooted linked list of n objects, allocating a garbage
// object after each node, and returns the index of its root.
func (h *harness) buildList(n int, firstID uint64) int {
	h.t.Helper()
	root := h.th.Roots.Push(model.NullRef)
	for i := range n {
		obj := h.object(firstID+uint64(i), 2)
		testutil.SetRef(h.mu, obj, 0, h.th.Roots.Get(root))
		h.th.Roots.Set(root, obj)
		h.object(1<<40+firstID+uint64(i), 0)
	}
	return root
}

func defaultConfig(kind Kind) Config {
	return Config{
		Kind:         kind,
		HeapBytes:    testHeap,
		NurseryBytes: 1 << 20,
		DebugChecks:  true,
	}
}

func TestKind(t *testing.T) {
	for k := NoGC; k <= Generational; k++ {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("refcount")
	assert.Error(t, err)
	assert.False(t, Kind(42).Valid())
	assert.Equal(t, "tracing", Tracing.String())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, defaultConfig(Generational).Validate())

	cfg := defaultConfig(SemiSpace)
	cfg.HeapBytes = model.BytesInPage
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig(Generational)
	cfg.NurseryBytes = testHeap / 2
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig(MarkSweep)
	cfg.SurvivorThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig(Kind(9))
	_, err := New(Args{Config: cfg})
	assert.Error(t, err)
}

func TestPlans_PreserveReachableGraph(t *testing.T) {
	for _, kind := range []Kind{NoGC, SemiSpace, MarkSweep, Immix, Generational} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, defaultConfig(kind))

			root := h.buildList(2000, 1)
			head := h.th.Roots.Get(root)
			want := testutil.ReachableIDs(head)
			require.Len(t, want, 2000)

			for range 3 {
				h.collect()
				head = h.th.Roots.Get(root)
				assert.Equal(t, want, testutil.ReachableIDs(head))
				testutil.Walk(func(obj model.ObjectReference) {
					assert.True(t, h.plan.IsLive(obj))
				}, head)
			}
			assert.Equal(t, uint64(3), h.plan.Stats().Collections)
			assert.Empty(t, h.fatals)
		})
	}
}

func TestPlans_ReclaimGarbage(t *testing.T) {
	for _, kind := range []Kind{SemiSpace, MarkSweep, Immix, Generational} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, defaultConfig(kind))

			var garbage []model.ObjectReference
			for i := range 5000 {
				garbage = append(garbage, h.object(uint64(i), 1))
			}
			keep := h.object(1<<20, 0)
			h.th.Roots.Push(keep)

			h.collect()
			h.collect()

			// A survivor may have been copied onto a dead object's old address.
			kept := h.th.Roots.Get(0)
			for _, obj := range garbage {
				if obj == kept {
					continue
				}
				assert.False(t, h.plan.IsLive(obj), "object %s", obj)
			}
			assert.True(t, h.plan.IsLive(kept))
			assert.Equal(t, uint64(1<<20), testutil.ID(kept))
			assert.Less(t, h.lastCycle().ReservedAfter, h.cycles[0].ReservedBefore)
			assert.Empty(t, h.fatals)
		})
	}
}

func TestPlans_MovingPlansForwardEveryEdge(t *testing.T) {
	for _, kind := range []Kind{SemiSpace, Generational} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, defaultConfig(kind))

			// A diamond: both roots and both parents point at the shared child.
			child := h.object(1, 0)
			a := h.object(2, 1)
			b := h.object(3, 1)
			testutil.SetRef(h.mu, a, 0, child)
			testutil.SetRef(h.mu, b, 0, child)
			ra := h.th.Roots.Push(a)
			rb := h.th.Roots.Push(b)
			rc := h.vm.Globals().Push(child)

			h.collect()

			a, b = h.th.Roots.Get(ra), h.th.Roots.Get(rb)
			moved := h.vm.Globals().Get(rc)
			assert.NotEqual(t, child, moved)
			assert.Equal(t, moved, testutil.Ref(a, 0))
			assert.Equal(t, moved, testutil.Ref(b, 0))
			assert.Equal(t, uint64(1), testutil.ID(moved))
			assert.False(t, h.plan.IsLive(child))
			assert.Equal(t, int64(3), h.vm.Copies.Load())
		})
	}
}

func TestPlans_LargeAndImmortalObjects(t *testing.T) {
	for _, kind := range []Kind{SemiSpace, MarkSweep, Generational} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, defaultConfig(kind))

			big, err := testutil.NewObject(func(size int) (model.ObjectReference, error) {
				return h.mu.Alloc(size+MaxNonLOS, model.MinAlignment, model.AllocDefault)
			}, 1, 1)
			require.NoError(t, err)
			assert.True(t, big.Address().IsAligned(model.BytesInPage))

			imm, err := testutil.NewObject(func(size int) (model.ObjectReference, error) {
				return h.mu.Alloc(size, model.MinAlignment, model.AllocImmortal)
			}, 2, 1)
			require.NoError(t, err)

			deadBig, err := h.mu.Alloc(2*MaxNonLOS, model.MinAlignment, model.AllocLOS)
			require.NoError(t, err)
			testutil.InitObject(deadBig, 2*MaxNonLOS, 0, 3)

			// Both the large and the immortal object keep a young child alive.
			young := h.object(4, 0)
			testutil.SetRef(h.mu, big, 0, young)
			testutil.SetRef(h.mu, imm, 0, h.object(5, 0))
			h.th.Roots.Push(big)
			h.vm.Globals().Push(imm)

			h.collect()
			req := Request{Full: true}
			n, err := h.ctrl.Request(req, nil)
			require.NoError(t, err)
			h.th.Parked(func() { require.NoError(t, h.ctrl.Wait(n)) })

			assert.Equal(t, uint64(4), testutil.ID(testutil.Ref(h.th.Roots.Get(0), 0)))
			assert.Equal(t, uint64(5), testutil.ID(testutil.Ref(h.vm.Globals().Get(0), 0)))
			assert.True(t, h.plan.IsLive(big))
			assert.True(t, h.plan.IsLive(imm))
			assert.False(t, h.plan.IsLive(deadBig))
			assert.Empty(t, h.fatals)
		})
	}
}

func TestPlan_OutOfMemory(t *testing.T) {
	h := newHarness(t, defaultConfig(MarkSweep))

	_, err := h.mu.Alloc(2*testHeap, model.MinAlignment, model.AllocDefault)
	require.ErrorIs(t, err, mutator.ErrOutOfMemory)
	assert.Zero(t, h.plan.Stats().Collections)

	// Fill the heap with reachable objects until allocation fails after a
	// full collection.
	page := func(int) (model.ObjectReference, error) { return h.alloc(4096) }
	for i := 0; ; i++ {
		obj, err := testutil.NewObject(page, uint64(i), 0)
		if err != nil {
			require.ErrorIs(t, err, mutator.ErrOutOfMemory)
			break
		}
		h.th.Roots.Push(obj)
		require.Less(t, i, 2*testHeap/4096, "allocation never failed")
	}
	assert.NotZero(t, h.plan.Stats().Collections)
	assert.Empty(t, h.fatals)
}

func TestNoGC_RunsOutOfMemory(t *testing.T) {
	h := newHarness(t, defaultConfig(NoGC))
	for i := 0; ; i++ {
		_, err := h.alloc(1024)
		if err != nil {
			require.ErrorIs(t, err, mutator.ErrOutOfMemory)
			break
		}
		require.Less(t, i, testHeap/1024, "allocation never failed")
	}
	assert.Equal(t, uint64(1), h.plan.Stats().Collections)
}

func TestPlan_StressFactor(t *testing.T) {
	cfg := defaultConfig(SemiSpace)
	cfg.StressFactor = 64 << 10
	h := newHarness(t, cfg)

	root := h.buildList(5000, 1)

	assert.GreaterOrEqual(t, h.plan.Stats().Collections, uint64(2))
	assert.Len(t, testutil.ReachableIDs(h.th.Roots.Get(root)), 5000)
	assert.Empty(t, h.fatals)
}

func TestPlan_DebugChecksReportDanglingReferences(t *testing.T) {
	h := newHarness(t, defaultConfig(MarkSweep))

	obj := h.object(1, 1)
	// A reference into the middle of an object has no valid-object bit.
	testutil.SetRef(h.mu, obj, 0, model.ObjectReference(obj.Address().Add(model.BytesInWord)))
	h.th.Roots.Push(obj)

	h.collect()

	h.mtx.Lock()
	defer h.mtx.Unlock()
	require.Len(t, h.fatals, 1)
	var ie *gcwork.InvariantError
	require.ErrorAs(t, h.fatals[0], &ie)
	assert.Equal(t, "ms", ie.Space)
	assert.Equal(t, "closure", ie.Phase)
}
