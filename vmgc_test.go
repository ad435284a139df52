package vmgc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/testutil"
)

const testHeap = 16 << 20

type host struct {
	t       *testing.T
	vm      *testutil.VM
	e       *Engine
	th      *testutil.Thread
	m       *Mutator
	metrics *BasicMetricsCollector

	mu     sync.Mutex
	fatals []error
}

func newHost(t *testing.T, opts ...Option) *host {
	t.Helper()
	h := &host{t: t, vm: testutil.NewVM(), metrics: &BasicMetricsCollector{}}
	t.Cleanup(func() { _ = h.vm.Close() })

	opts = append([]Option{
		WithHeapSize(testHeap),
		WithNurserySize(1 << 20),
		WithWorkers(4),
		WithDebugChecks(true),
		WithMetricsCollector(h.metrics),
		WithOnFatal(func(err error) {
			h.mu.Lock()
			h.fatals = append(h.fatals, err)
			h.mu.Unlock()
		}),
	}, opts...)
	e, err := New(h.vm, opts...)
	require.NoError(t, err)
	h.e = e
	t.Cleanup(func() { _ = e.Close() })

	h.th = h.vm.NewThread()
	t.Cleanup(h.th.Detach)
	h.m, err = e.BindMutator(h.th)
	require.NoError(t, err)
	return h
}

func (h *host) alloc(size int) (model.ObjectReference, error) {
	return h.m.Alloc(size, model.MinAlignment, model.AllocDefault)
}

func (h *host) object(id uint64, nrefs int) model.ObjectReference {
	h.t.Helper()
	obj, err := testutil.NewObject(h.alloc, id, nrefs)
	require.NoError(h.t, err)
	return obj
}

func (h *host) collect() {
	h.t.Helper()
	require.NoError(h.t, h.e.HandleUserCollectionRequest(h.th))
}

func (h *host) fatalErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.fatals...)
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	v := testutil.NewVM()
	t.Cleanup(func() { _ = v.Close() })

	_, err = New(v, WithWorkers(0))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(v, WithHeapSize(model.BytesInPage))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = New(v, WithPlan(PlanKind(42)))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParsePlan("reference-counting")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	k, err := ParsePlan("immix")
	require.NoError(t, err)
	assert.Equal(t, Immix, k)
}

func TestEngine_PlansPreserveReachableObjects(t *testing.T) {
	for _, kind := range []PlanKind{NoGC, SemiSpace, MarkSweep, Immix, Generational} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHost(t, WithPlan(kind))

			root := h.th.Roots.Push(model.NullRef)
			for i := range 3000 {
				obj := h.object(uint64(i), 1)
				testutil.SetRef(h.m, obj, 0, h.th.Roots.Get(root))
				h.th.Roots.Set(root, obj)
				h.object(uint64(1<<32+i), 0) // garbage
			}
			want := testutil.ReachableIDs(h.th.Roots.Get(root))

			h.collect()
			h.collect()

			head := h.th.Roots.Get(root)
			assert.Equal(t, want, testutil.ReachableIDs(head))
			testutil.Walk(func(obj model.ObjectReference) {
				assert.True(t, h.e.IsLive(obj))
			}, head)

			st := h.e.Stats()
			assert.Equal(t, kind.String(), st.Plan)
			assert.Equal(t, "idle", st.Phase)
			assert.Equal(t, uint64(2), st.Collections)
			assert.Equal(t, uint64(2), st.UserCollections)
			assert.Equal(t, 1, st.Mutators)
			assert.NotEmpty(t, st.Spaces)
			assert.Equal(t, int64(2), h.metrics.GetStats().Collections)
			assert.Empty(t, h.fatalErrors())
		})
	}
}

func TestEngine_GenerationalCrossGenerationPointers(t *testing.T) {
	h := newHost(t, WithPlan(Generational), WithFullHeapSystemGC(true))

	// Mature objects: promoted by a full-heap user collection.
	const olds = 32
	for i := range olds {
		h.vm.Globals().Push(h.object(uint64(i), 1))
	}
	h.collect()
	require.Equal(t, uint64(1), h.e.Stats().FullHeapCollections)

	// Some mature objects point back into the nursery.
	for i := 0; i < olds; i += 4 {
		testutil.SetRef(h.m, h.vm.Globals().Get(i), 0, h.object(uint64(1000+i), 0))
	}

	// Allocate past the nursery; 30% of the young objects point into the
	// mature space.
	type kept struct {
		root int
		old  model.ObjectReference
	}
	var keep []kept
	for i := 0; h.e.Stats().Collections < 3; i++ {
		require.Less(t, i, 1<<21, "nursery never filled")
		obj := h.object(uint64(10_000+i), 1)
		var old model.ObjectReference
		if i%10 < 3 {
			old = h.vm.Globals().Get(i % olds)
			testutil.SetRef(h.m, obj, 0, old)
		}
		if i%100 == 0 {
			keep = append(keep, kept{root: h.th.Roots.Push(obj), old: old})
		}
	}

	st := h.e.Stats()
	assert.Equal(t, uint64(1), st.FullHeapCollections, "nursery overflow runs minor cycles")
	for _, k := range keep {
		obj := h.th.Roots.Get(k.root)
		assert.True(t, h.e.IsLive(obj))
		assert.Equal(t, k.old, testutil.Ref(obj, 0))
	}
	for i := 0; i < olds; i += 4 {
		young := testutil.Ref(h.vm.Globals().Get(i), 0)
		assert.Equal(t, uint64(1000+i), testutil.ID(young))
		assert.True(t, h.e.IsLive(young))
	}
	assert.GreaterOrEqual(t, h.metrics.GetStats().SlowPaths, int64(2))
	assert.Empty(t, h.fatalErrors())
}

func TestEngine_OutOfMemory(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))

	_, err := h.m.Alloc(2*testHeap, model.MinAlignment, model.AllocDefault)
	require.ErrorIs(t, err, ErrOutOfMemory)
	var oom *OutOfMemoryError
	require.ErrorAs(t, err, &oom)
	assert.Equal(t, 2*testHeap, oom.Requested)
	assert.Equal(t, "los", oom.Space)
	assert.Equal(t, int64(1), h.vm.OOMs.Load())

	size := testutil.ObjectSize(0, 4080)
	for i := 0; ; i++ {
		obj, err := h.alloc(size)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfMemory)
			break
		}
		testutil.InitObject(obj, size, 0, uint64(i))
		h.th.Roots.Push(obj)
		require.Less(t, i, 2*testHeap/size, "allocation never failed")
	}
	assert.Equal(t, int64(2), h.vm.OOMs.Load())
	assert.Equal(t, int64(2), h.metrics.GetStats().OutOfMemory)
	assert.NotZero(t, h.e.Stats().FullHeapCollections)
	assert.Empty(t, h.fatalErrors())
}

func TestMutator_AllocValidation(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))

	for _, tc := range []struct {
		name  string
		size  int
		align int
		sem   model.AllocationSemantics
	}{
		{"zero size", 0, 8, model.AllocDefault},
		{"negative size", -8, 8, model.AllocDefault},
		{"alignment not a power of two", 16, 12, model.AllocDefault},
		{"alignment above a page", 16, 2 * model.BytesInPage, model.AllocDefault},
		{"unknown semantics", 16, 8, model.AllocationSemantics(99)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.m.Alloc(tc.size, tc.align, tc.sem)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	// Small alignments are raised to the word size.
	obj, err := h.m.Alloc(16, 1, model.AllocDefault)
	require.NoError(t, err)
	assert.True(t, obj.Address().IsAligned(model.MinAlignment))

	_, err = h.e.Alloc(nil, 16, 8, model.AllocDefault)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_BindAndDestroyMutators(t *testing.T) {
	h := newHost(t, WithPlan(Immix))

	_, err := h.e.BindMutator(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	th := h.vm.NewThread()
	m, err := h.e.BindMutator(th)
	require.NoError(t, err)
	assert.Same(t, th, m.Thread())
	assert.Equal(t, 2, h.e.Stats().Mutators)

	require.NoError(t, h.e.DestroyMutator(m))
	th.Detach()
	assert.Equal(t, 1, h.e.Stats().Mutators)
	assert.ErrorIs(t, h.e.DestroyMutator(m), ErrInvalidArgument)
	_, err = m.Alloc(16, 8, model.AllocDefault)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_ConcurrentUserRequests(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))
	keep := h.object(1, 0)
	h.vm.Globals().Push(keep)

	const threads = 8
	var wg sync.WaitGroup
	errs := make([]error, threads)
	h.th.Parked(func() {
		for i := range threads {
			wg.Add(1)
			go func() {
				defer wg.Done()
				th := h.vm.NewThread()
				defer th.Detach()
				m, err := h.e.BindMutator(th)
				if err != nil {
					errs[i] = err
					return
				}
				errs[i] = h.e.HandleUserCollectionRequest(th)
				if err := h.e.DestroyMutator(m); err != nil && errs[i] == nil {
					errs[i] = err
				}
			}()
		}
		wg.Wait()
	})

	for _, err := range errs {
		assert.NoError(t, err)
	}
	st := h.e.Stats()
	assert.GreaterOrEqual(t, st.UserCollections, uint64(1))
	assert.LessOrEqual(t, st.UserCollections, uint64(threads))
	assert.True(t, h.e.IsLive(h.vm.Globals().Get(0)))
	assert.Equal(t, Idle, h.e.Phase())
}

func TestEngine_DebugChecksReportInvariantViolations(t *testing.T) {
	h := newHost(t, WithPlan(MarkSweep))

	obj := h.object(1, 1)
	testutil.SetRef(h.m, obj, 0, model.ObjectReference(obj.Address().Add(model.BytesInWord)))
	h.th.Roots.Push(obj)
	h.collect()

	fatals := h.fatalErrors()
	require.Len(t, fatals, 1)
	var v *HeapInvariantViolation
	require.ErrorAs(t, fatals[0], &v)
	assert.Equal(t, "ms", v.Space)
	assert.Equal(t, "closure", v.Phase)
}

func TestEngine_Close(t *testing.T) {
	h := newHost(t, WithPlan(SemiSpace))
	obj := h.object(1, 0)
	assert.True(t, h.e.IsInHeap(obj.Address()))
	assert.False(t, h.e.IsInHeap(model.Address(0x1000)))

	require.NoError(t, h.e.Close())
	require.NoError(t, h.e.Close())

	_, err := h.e.BindMutator(h.th)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.m.Alloc(16, 8, model.AllocDefault)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.e.HandleUserCollectionRequest(h.th), ErrClosed)
}
