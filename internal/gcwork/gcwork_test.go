package gcwork

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/testutil"
)

type markTracer struct {
	space *policy.ImmortalSpace
	h     *heap.Heap
}

func (m *markTracer) TraceObject(c *Collector, obj model.ObjectReference) model.ObjectReference {
	return m.space.TraceObject(c, obj)
}

func (m *markTracer) IsReachable(obj model.ObjectReference) bool {
	return m.h.Meta.Mark.IsSet(obj.Address())
}

func (m *markTracer) GetForwarded(obj model.ObjectReference) model.ObjectReference { return obj }

// countingVM counts how often each object is scanned.
type countingVM struct {
	*testutil.VM
	mu    sync.Mutex
	scans map[model.ObjectReference]int
}

func (v *countingVM) ScanObject(obj model.ObjectReference, visit func(slot model.Address)) {
	v.mu.Lock()
	v.scans[obj]++
	v.mu.Unlock()
	v.VM.ScanObject(obj, visit)
}

type slotLog struct {
	mu    sync.Mutex
	slots map[model.Address]model.ObjectReference
}

func (l *slotLog) RecordSlot(_ *Collector, slot model.Address, target model.ObjectReference) {
	l.mu.Lock()
	l.slots[slot] = target
	l.mu.Unlock()
}

func (l *slotLog) FlushSlots(*Collector) {}

type fixture struct {
	h      *heap.Heap
	space  *policy.ImmortalSpace
	vm     *countingVM
	thread *testutil.Thread
	ctx    *Context
	sched  *scheduler.Scheduler
	alloc  testutil.AllocFunc
	fatal  atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h, err := heap.New(heap.Config{ExtentBytes: 2 * model.BytesInChunk, MaxSpaces: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	space, err := policy.NewImmortalSpace(policy.Args{Name: "immortal", Heap: h})
	require.NoError(t, err)

	f := &fixture{h: h, space: space}
	f.vm = &countingVM{VM: testutil.NewVM(), scans: make(map[model.ObjectReference]int)}
	t.Cleanup(func() { _ = f.vm.Close() })
	f.thread = f.vm.NewThread()
	f.thread.Detach()

	bump := alloc.NewBumpAllocator(space, false)
	f.alloc = func(size int) (model.ObjectReference, error) {
		a, err := bump.Alloc(size, model.MinAlignment)
		if err != nil {
			return model.NullRef, err
		}
		obj := model.ObjectReference(a)
		space.InitializeObject(obj)
		return obj, nil
	}

	f.ctx = &Context{
		Binding: f.vm,
		Heap:    h,
		Tracer:  &markTracer{space: space, h: h},
		Fatal:   func(error) { f.fatal.Add(1) },
	}
	f.sched = scheduler.New(4, func(w *scheduler.Worker) { NewCollector(f.ctx, w) })
	t.Cleanup(func() { _ = f.sched.Close() })
	return f
}

func (f *fixture) object(t *testing.T, id uint64, nrefs int) model.ObjectReference {
	t.Helper()
	obj, err := testutil.NewObject(f.alloc, id, nrefs)
	require.NoError(t, err)
	return obj
}

func (f *fixture) trace(t *testing.T, extra ...scheduler.Packet) {
	t.Helper()
	f.space.Prepare()
	f.sched.AddWork(scheduler.RootScan, &ScanThreadRoots{Thread: f.thread}, ScanVMRoots{})
	f.sched.AddWork(scheduler.RootScan, extra...)
	require.NoError(t, f.sched.Run(nil))
}

type plainWriter struct{}

func (plainWriter) WriteRef(_ model.ObjectReference, slot model.Address, target model.ObjectReference) {
	slot.StoreRef(target)
}

// buildTree builds a tree of the given fan-out and depth with shared back
// edges to the root and returns the root and the node count.
func (f *fixture) buildTree(t *testing.T, fanOut, depth int) (model.ObjectReference, int) {
	t.Helper()
	var id uint64
	var build func(d int, root model.ObjectReference) model.ObjectReference
	build = func(d int, root model.ObjectReference) model.ObjectReference {
		id++
		obj := f.object(t, id, fanOut+1)
		if root.IsNull() {
			root = obj
		}
		testutil.SetRef(plainWriter{}, obj, fanOut, root)
		if d == depth {
			return obj
		}
		for i := range fanOut {
			testutil.SetRef(plainWriter{}, obj, i, build(d+1, root))
		}
		return obj
	}
	root := build(0, model.NullRef)
	return root, int(id)
}

func TestTrace_VisitsReachableObjectsOnce(t *testing.T) {
	f := newFixture(t)

	root, n := f.buildTree(t, 4, 5)
	garbage := f.object(t, 9999, 1)
	testutil.SetRef(plainWriter{}, garbage, 0, root)

	f.thread.Roots.Push(root)
	f.vm.Globals().Push(root)

	f.trace(t)

	assert.Len(t, f.vm.scans, n)
	for obj, scans := range f.vm.scans {
		assert.Equal(t, 1, scans, "object %s", obj)
	}
	testutil.Walk(func(obj model.ObjectReference) {
		assert.True(t, f.h.Meta.Mark.IsSet(obj.Address()))
	}, root)
	assert.False(t, f.h.Meta.Mark.IsSet(garbage.Address()))
	assert.Zero(t, f.fatal.Load())
}

func TestTrace_RepeatedCyclesRemark(t *testing.T) {
	f := newFixture(t)
	root, n := f.buildTree(t, 3, 3)
	f.thread.Roots.Push(root)

	for range 3 {
		clear(f.vm.scans)
		f.trace(t)
		assert.Len(t, f.vm.scans, n)
	}
}

func TestProcessEdges_IgnoresReferencesOutsideTheHeap(t *testing.T) {
	f := newFixture(t)

	outside := model.ObjectReference(0x10000)
	require.False(t, f.h.InHeap(outside.Address()))
	i := f.thread.Roots.Push(outside)
	j := f.thread.Roots.Push(model.NullRef)

	f.trace(t)

	assert.Equal(t, outside, f.thread.Roots.Get(i))
	assert.True(t, f.thread.Roots.Get(j).IsNull())
	assert.Empty(t, f.vm.scans)
}

func TestProcessEdges_RecordsHeapSlotsOnly(t *testing.T) {
	f := newFixture(t)
	log := &slotLog{slots: make(map[model.Address]model.ObjectReference)}
	f.ctx.Recorder = log

	a := f.object(t, 1, 2)
	b := f.object(t, 2, 0)
	testutil.SetRef(plainWriter{}, a, 0, b)
	root := f.thread.Roots.Push(a)

	f.trace(t)

	assert.Equal(t, map[model.Address]model.ObjectReference{testutil.RefSlot(a, 0): b}, log.slots)
	assert.NotContains(t, log.slots, f.thread.Roots.Slot(root))
}

func TestProcessRememberedSet_TracesRememberedSlots(t *testing.T) {
	f := newFixture(t)

	holder := f.object(t, 1, 1)
	target := f.object(t, 2, 0)
	testutil.SetRef(plainWriter{}, holder, 0, target)

	f.trace(t, &ProcessRememberedSet{Slots: []model.Address{testutil.RefSlot(holder, 0)}})

	assert.False(t, f.h.Meta.Mark.IsSet(holder.Address()))
	assert.True(t, f.h.Meta.Mark.IsSet(target.Address()))
}

func TestTrace_ValidatorFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	bad := f.object(t, 1, 0)
	var reported atomic.Pointer[InvariantError]
	f.ctx.Validate = func(obj model.ObjectReference) error {
		if obj == bad {
			return &InvariantError{Space: "immortal", Object: obj, Reason: "no valid-object bit"}
		}
		return nil
	}
	f.ctx.Fatal = func(err error) {
		var ie *InvariantError
		if errors.As(err, &ie) {
			reported.Store(ie)
		}
	}
	f.thread.Roots.Push(bad)

	f.trace(t)

	ie := reported.Load()
	require.NotNil(t, ie)
	assert.Equal(t, "closure", ie.Phase)
	assert.Equal(t, bad, ie.Object)
	assert.False(t, f.h.Meta.Mark.IsSet(bad.Address()))
}

func TestRoots_Recording(t *testing.T) {
	f := newFixture(t)
	obj := f.object(t, 1, 0)
	f.thread.Roots.Push(obj)
	f.vm.Globals().Push(obj)

	f.ctx.RecordRoots(true)
	f.trace(t)
	assert.ElementsMatch(t, []model.Address{f.thread.Roots.Slot(0), f.vm.Globals().Slot(0)}, f.ctx.Roots())

	f.ctx.RecordRoots(false)
	f.trace(t)
	assert.Empty(t, f.ctx.Roots())
}

func TestProcessWeakRefs(t *testing.T) {
	f := newFixture(t)

	live := f.object(t, 1, 0)
	dead := f.object(t, 2, 0)
	f.thread.Roots.Push(live)
	lw := f.vm.Weak().Push(live)
	dw := f.vm.Weak().Push(dead)

	// A dead finalizable object is resurrected together with its children.
	fin := f.object(t, 3, 1)
	child := f.object(t, 4, 0)
	testutil.SetRef(plainWriter{}, fin, 0, child)
	finSlots, err := testutil.NewRootTable(1)
	require.NoError(t, err)
	defer func() { _ = finSlots.Close() }()
	f.vm.RegisterFinalizer(finSlots.Slot(finSlots.Push(fin)))

	f.sched.SetSentinel(scheduler.Closure, &ProcessWeakRefs{Processor: f.vm})
	f.trace(t)

	assert.Equal(t, int64(2), f.vm.WeakRounds.Load())
	assert.Equal(t, live, f.vm.Weak().Get(lw))
	assert.True(t, f.vm.Weak().Get(dw).IsNull())
	assert.Equal(t, []model.ObjectReference{fin}, f.vm.Finalized().Objects())
	assert.True(t, f.h.Meta.Mark.IsSet(child.Address()))
	assert.Equal(t, 1, f.vm.scans[child])
}

type badSizeVM struct {
	*countingVM
	bad model.ObjectReference
}

func (v *badSizeVM) GetObjectSize(obj model.ObjectReference) int {
	if obj == v.bad {
		return -8
	}
	return v.countingVM.GetObjectSize(obj)
}

func TestScanObjects_DebugChecksObjectSize(t *testing.T) {
	f := newFixture(t)
	bad := f.object(t, 1, 0)
	good := f.object(t, 2, 0)
	f.thread.Roots.Push(bad)
	f.thread.Roots.Push(good)

	var got []error
	var mu sync.Mutex
	f.ctx.Binding = &badSizeVM{countingVM: f.vm, bad: bad}
	f.ctx.Debug = true
	f.ctx.Fatal = func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	}

	f.trace(t)

	require.Len(t, got, 1)
	var ce *ContractError
	require.ErrorAs(t, got[0], &ce)
	assert.Equal(t, "GetObjectSize", ce.Call)
	assert.Equal(t, bad, ce.Object)
	assert.Equal(t, 1, f.vm.scans[good])
	assert.NotContains(t, f.vm.scans, bad)
}
