package mutator

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vmgc/internal/barrier"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// ErrOutOfMemory is returned when an allocation cannot be satisfied even
// after a full collection.
var ErrOutOfMemory = errors.New("mutator: out of memory")

// Allocator is a thread-local allocator.
type Allocator interface {
	Alloc(size, align int) (model.Address, error)
	Reset()
}

// Initializer records freshly allocated objects in their space.
type Initializer interface {
	InitializeObject(obj model.ObjectReference)
}

// Handshake blocks a mutator for a collection.
type Handshake interface {
	// BlockForGC requests a collection and waits for it to finish. It
	// reports whether the cycle that ran was a full-heap collection.
	BlockForGC(m *Mutator, emergency bool) (fullHeap bool)
}

// Binding pairs an allocator with the space that owns its objects.
type Binding struct {
	Allocator Allocator
	Space     Initializer
	// SpaceName names the space in errors.
	SpaceName string
}

// Config lays out a mutator for one plan.
type Config struct {
	Bindings [model.NumAllocationSemantics]Binding
	// MaxNonLOS redirects default allocations above this size to the large
	// object space.
	MaxNonLOS int
	// Barrier is nil for plans without a write barrier.
	Barrier *barrier.Buffer
}

// Mutator is the allocation context of one host thread.
type Mutator struct {
	thread    vm.MutatorThread
	bindings  [model.NumAllocationSemantics]Binding
	maxNonLOS int
	barrier   *barrier.Buffer
	handshake Handshake
}

// New creates a mutator for thread.
func New(thread vm.MutatorThread, cfg Config, hs Handshake) *Mutator {
	return &Mutator{
		thread:    thread,
		bindings:  cfg.Bindings,
		maxNonLOS: cfg.MaxNonLOS,
		barrier:   cfg.Barrier,
		handshake: hs,
	}
}

// Thread returns the host thread the mutator belongs to.
func (m *Mutator) Thread() vm.MutatorThread { return m.thread }

// Alloc allocates size bytes aligned to align. When the space asks for a
// collection the mutator blocks for one and retries. It fails with
// ErrOutOfMemory once a full-heap collection did not free enough memory, or
// when the request exceeds the whole heap.
func (m *Mutator) Alloc(size, align int, sem model.AllocationSemantics) (model.ObjectReference, error) {
	if sem == model.AllocDefault && size > m.maxNonLOS {
		sem = model.AllocLOS
	}
	b := &m.bindings[sem]

	lastFull := false
	for attempt := 0; ; attempt++ {
		addr, err := b.Allocator.Alloc(size, align)
		if err == nil {
			obj := model.ObjectReference(addr)
			b.Space.InitializeObject(obj)
			return obj, nil
		}
		if !errors.Is(err, policy.ErrCollectionRequired) || lastFull {
			return model.NullRef, &AllocError{Requested: size, Space: b.SpaceName, Err: err}
		}
		lastFull = m.handshake.BlockForGC(m, attempt > 0)
	}
}

// WriteRef stores target into slot of src through the write barrier.
func (m *Mutator) WriteRef(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	if m.barrier == nil {
		slot.StoreRef(target)
		return
	}
	m.barrier.ObjectReferenceWrite(src, slot, target)
}

// PostWrite runs the write barrier for a store the host already made.
func (m *Mutator) PostWrite(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	if m.barrier != nil {
		m.barrier.PostWrite(src, slot, target)
	}
}

// Prepare is called for every mutator at the start of a collection. The
// buffered barrier slots are flushed into the remembered set, or dropped
// when the collection traces the whole heap.
func (m *Mutator) Prepare(fullHeap bool) {
	m.resetAllocators()
	if m.barrier == nil {
		return
	}
	if fullHeap {
		m.barrier.Discard()
	} else {
		m.barrier.Flush()
	}
}

// Release is called for every mutator at the end of a collection.
func (m *Mutator) Release() {
	m.resetAllocators()
}

// Flush moves buffered barrier slots into the remembered set.
func (m *Mutator) Flush() {
	if m.barrier != nil {
		m.barrier.Flush()
	}
}

func (m *Mutator) resetAllocators() {
	for i := range m.bindings {
		if a := m.bindings[i].Allocator; a != nil {
			a.Reset()
		}
	}
}

// AllocError describes a failed allocation. It matches ErrOutOfMemory
// unless the request itself was malformed.
type AllocError struct {
	Requested int
	Space     string
	Err       error
}

func (e *AllocError) Error() string {
	return fmt.Sprintf("mutator: allocate %d bytes in %s: %v", e.Requested, e.Space, e.Err)
}

func (e *AllocError) Unwrap() error { return e.Err }

// Is reports true for ErrOutOfMemory when the allocation failed for lack of
// memory.
func (e *AllocError) Is(target error) bool {
	return target == ErrOutOfMemory && e.OutOfMemory()
}

// OutOfMemory reports whether the request was well formed but could not be
// satisfied.
func (e *AllocError) OutOfMemory() bool {
	return errors.Is(e.Err, policy.ErrCollectionRequired) ||
		errors.Is(e.Err, policy.ErrHeapTooSmall)
}
