package testutil

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// VM is a host binding over the object layout of this package.
type VM struct {
	world   *World
	globals *RootTable

	mu      sync.Mutex
	threads []*Thread
	weak    *RootTable
	// finalizable objects are retained once when they die and moved to
	// the finalized roots.
	finalizable []model.Address
	finalized   *RootTable

	// Copies counts CopyObject calls.
	Copies atomic.Int64
	// Started and Finished count GC notifications.
	Started  atomic.Int64
	Finished atomic.Int64
	// OOMs counts OutOfMemory notifications.
	OOMs atomic.Int64
	// WeakRounds counts ProcessWeakRefs calls.
	WeakRounds atomic.Int64
}

var (
	_ vm.Binding       = (*VM)(nil)
	_ vm.WeakProcessor = (*VM)(nil)
)

// NewVM creates a host with empty root tables. It panics if the tables
// cannot be mapped.
func NewVM() *VM {
	return &VM{
		world:     NewWorld(),
		globals:   mustRootTable(),
		weak:      mustRootTable(),
		finalized: mustRootTable(),
	}
}

func mustRootTable() *RootTable {
	t, err := NewRootTable(DefaultRootCapacity)
	if err != nil {
		panic(err)
	}
	return t
}

// World returns the host's safepoint coordinator.
func (v *VM) World() *World { return v.world }

// Globals returns the VM-wide roots.
func (v *VM) Globals() *RootTable { return v.globals }

// Weak returns the table of weak references. Slots of dead referents are
// cleared by weak processing.
func (v *VM) Weak() *RootTable { return v.weak }

// Finalized returns the objects resurrected by finalization.
func (v *VM) Finalized() *RootTable { return v.finalized }

// RegisterFinalizer registers obj held in slot for finalization: once obj
// becomes unreachable it is retained and pushed to Finalized.
func (v *VM) RegisterFinalizer(slot model.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finalizable = append(v.finalizable, slot)
}

// NewThread attaches a new mutator thread.
func (v *VM) NewThread() *Thread {
	th := &Thread{vm: v, Roots: mustRootTable()}
	v.world.attach()
	v.mu.Lock()
	v.threads = append(v.threads, th)
	v.mu.Unlock()
	return th
}

// Close unmaps the root tables of the VM and its threads.
func (v *VM) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, th := range v.threads {
		_ = th.Roots.Close()
	}
	_ = v.weak.Close()
	_ = v.finalized.Close()
	return v.globals.Close()
}

// GetObjectSize implements vm.ObjectModel.
func (v *VM) GetObjectSize(obj model.ObjectReference) int {
	return Size(obj)
}

// CopyObject implements vm.ObjectModel.
func (v *VM) CopyObject(obj model.ObjectReference, copier vm.Copier) model.ObjectReference {
	size := Size(obj)
	dst := copier.AllocCopy(obj, size, model.MinAlignment)
	dst.Copy(obj.Address(), size)
	moved := model.ObjectReference(dst)
	copier.PostCopy(moved, size)
	v.Copies.Add(1)
	return moved
}

// ScanObject implements vm.Scanning.
func (v *VM) ScanObject(obj model.ObjectReference, visit func(slot model.Address)) {
	for i := range NumRefs(obj) {
		visit(RefSlot(obj, i))
	}
}

// ScanThreadRoots implements vm.Scanning.
func (v *VM) ScanThreadRoots(thread vm.MutatorThread, sink vm.RootSink) {
	if th, ok := thread.(*Thread); ok {
		sink.ReportSlots(th.Roots.Slots())
	}
}

// ScanVMSpecificRoots implements vm.Scanning.
func (v *VM) ScanVMSpecificRoots(sink vm.RootSink) {
	sink.ReportSlots(v.globals.Slots())
	sink.ReportSlots(v.finalized.Slots())
}

// StopAllMutators implements vm.Collection.
func (v *VM) StopAllMutators() { v.world.Stop() }

// ResumeMutators implements vm.Collection.
func (v *VM) ResumeMutators() { v.world.Resume() }

// BlockForGC implements vm.Collection.
func (v *VM) BlockForGC(vm.MutatorThread) { v.world.park() }

// OutOfMemory implements vm.Collection.
func (v *VM) OutOfMemory(vm.MutatorThread, error) { v.OOMs.Add(1) }

// GCStarted implements vm.Collection.
func (v *VM) GCStarted() { v.Started.Add(1) }

// GCFinished implements vm.Collection.
func (v *VM) GCFinished() { v.Finished.Add(1) }

// ProcessWeakRefs implements vm.WeakProcessor. Dead finalizable objects are
// retained first; weak slots are cleared or updated once nothing more is
// retained.
func (v *VM) ProcessWeakRefs(ctx vm.WeakContext) bool {
	v.WeakRounds.Add(1)

	v.mu.Lock()
	var retained bool
	live := v.finalizable[:0]
	for _, slot := range v.finalizable {
		obj := slot.LoadRef()
		if obj.IsNull() {
			continue
		}
		if ctx.IsLive(obj) {
			slot.StoreRef(ctx.GetForwarded(obj))
			live = append(live, slot)
			continue
		}
		v.finalized.Push(ctx.Retain(obj))
		slot.StoreRef(model.NullRef)
		retained = true
	}
	v.finalizable = live
	v.mu.Unlock()

	if retained {
		return true
	}
	for _, slot := range v.weak.Slots() {
		obj := slot.LoadRef()
		if obj.IsNull() {
			continue
		}
		if ctx.IsLive(obj) {
			slot.StoreRef(ctx.GetForwarded(obj))
		} else {
			slot.StoreRef(model.NullRef)
		}
	}
	return false
}

// Thread is a host mutator thread with its own root stack.
type Thread struct {
	vm    *VM
	Roots *RootTable
	// Mutator is free for the test to attach the engine's mutator to.
	Mutator any
}

// Safepoint parks the thread while a collection runs.
func (th *Thread) Safepoint() { th.vm.world.safepoint() }

// Detach removes the thread from the set StopAllMutators waits for.
func (th *Thread) Detach() { th.vm.world.detach() }

// Parked runs fn with the thread counted as parked, so that fn may wait
// for a collection without being a running mutator.
func (th *Thread) Parked(fn func()) {
	th.vm.world.detach()
	defer th.vm.world.attach()
	fn()
}
