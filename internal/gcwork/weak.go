package gcwork

import (
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// ProcessWeakRefs runs the host's weak processing when the closure drains.
// It is installed as the Closure bucket sentinel and reinstalls itself for
// as long as the host keeps retaining objects.
type ProcessWeakRefs struct {
	Processor vm.WeakProcessor
}

// Do implements scheduler.Packet.
func (p *ProcessWeakRefs) Do(w *scheduler.Worker) {
	c := CollectorOf(w)
	again := p.Processor.ProcessWeakRefs(weakContext{c: c})
	c.Flush()
	if again {
		w.Scheduler().SetSentinel(scheduler.Closure, p)
	}
}

type weakContext struct {
	c *Collector
}

func (wc weakContext) IsLive(obj model.ObjectReference) bool {
	ctx := wc.c.ctx
	if obj.IsNull() || !ctx.Heap.InHeap(obj.Address()) {
		return true
	}
	return ctx.Tracer.IsReachable(obj)
}

func (wc weakContext) GetForwarded(obj model.ObjectReference) model.ObjectReference {
	ctx := wc.c.ctx
	if obj.IsNull() || !ctx.Heap.InHeap(obj.Address()) {
		return obj
	}
	return ctx.Tracer.GetForwarded(obj)
}

func (wc weakContext) Retain(obj model.ObjectReference) model.ObjectReference {
	return wc.c.Trace(obj)
}

var _ vm.WeakContext = weakContext{}
