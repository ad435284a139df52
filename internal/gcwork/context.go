package gcwork

import (
	"errors"
	"sync"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

const (
	// EdgesPerPacket bounds the slots of one ProcessEdges packet.
	EdgesPerPacket = 4096
	// ObjectsPerPacket bounds the objects of one ScanObjects packet.
	ObjectsPerPacket = 512
)

// Tracer is implemented by plans.
type Tracer interface {
	// TraceObject marks or forwards obj and returns its current reference.
	// Objects reached for the first time are queued on c.
	TraceObject(c *Collector, obj model.ObjectReference) model.ObjectReference
	// IsReachable reports whether obj has been reached in this cycle.
	IsReachable(obj model.ObjectReference) bool
	// GetForwarded returns obj's current reference without tracing it.
	GetForwarded(obj model.ObjectReference) model.ObjectReference
}

// SlotRecorder is notified of every traced heap slot. The generational plan
// uses it to rebuild the remembered set.
type SlotRecorder interface {
	RecordSlot(c *Collector, slot model.Address, target model.ObjectReference)
	// FlushSlots is called at the end of every ProcessEdges packet.
	FlushSlots(c *Collector)
}

// Validator checks that a traced reference names an allocated object.
type Validator func(obj model.ObjectReference) error

// Context is the engine-wide state shared by all tracing packets.
type Context struct {
	Binding  vm.Binding
	Heap     *heap.Heap
	Tracer   Tracer
	Recorder SlotRecorder
	// Validate is consulted for every traced reference when set.
	Validate Validator
	// Fatal reports an unrecoverable error.
	Fatal func(error)
	// Debug enables checks of host-reported object sizes.
	Debug bool

	mu          sync.Mutex
	recordRoots bool
	roots       []model.Address
}

// RecordRoots enables or disables logging of root slots for the next cycle
// and clears the log.
func (ctx *Context) RecordRoots(enabled bool) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.recordRoots = enabled
	ctx.roots = nil
}

// Roots returns the root slots logged during the last recording cycle.
func (ctx *Context) Roots() []model.Address {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return append([]model.Address(nil), ctx.roots...)
}

func (ctx *Context) logRoots(slots []model.Address) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.recordRoots {
		ctx.roots = append(ctx.roots, slots...)
	}
}

// Collector is the per-worker tracing state.
type Collector struct {
	ctx    *Context
	worker *scheduler.Worker
	nodes  []model.ObjectReference

	// Plan holds the plan's per-worker state, such as copy allocators.
	Plan any
}

// NewCollector binds a collector to w.
func NewCollector(ctx *Context, w *scheduler.Worker) *Collector {
	c := &Collector{ctx: ctx, worker: w}
	w.Local = c
	return c
}

// CollectorOf returns the collector bound to w.
func CollectorOf(w *scheduler.Worker) *Collector {
	return w.Local.(*Collector)
}

// Context returns the shared tracing context.
func (c *Collector) Context() *Context { return c.ctx }

// Worker returns the worker the collector is bound to.
func (c *Collector) Worker() *scheduler.Worker { return c.worker }

// Enqueue queues obj for scanning.
func (c *Collector) Enqueue(obj model.ObjectReference) {
	c.nodes = append(c.nodes, obj)
	if len(c.nodes) >= ObjectsPerPacket {
		c.Flush()
	}
}

// Flush hands the queued objects to a ScanObjects packet.
func (c *Collector) Flush() {
	if len(c.nodes) == 0 {
		return
	}
	c.worker.AddWork(scheduler.Closure, &ScanObjects{Objects: c.nodes})
	c.nodes = nil
}

// Trace traces one reference. Null references and references outside the
// heap are returned unchanged.
func (c *Collector) Trace(obj model.ObjectReference) model.ObjectReference {
	ctx := c.ctx
	if obj.IsNull() || !ctx.Heap.InHeap(obj.Address()) {
		return obj
	}
	if ctx.Validate != nil {
		if err := ctx.Validate(obj); err != nil {
			var ie *InvariantError
			if errors.As(err, &ie) && ie.Phase == "" {
				ie.Phase = c.worker.Scheduler().Stage().String()
			}
			ctx.Fatal(err)
			return obj
		}
	}
	return ctx.Tracer.TraceObject(c, obj)
}
