package gcwork

import (
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

type rootSink struct {
	ctx *Context
	b   *slotBatcher
}

func (s *rootSink) ReportSlots(slots []model.Address) {
	s.ctx.logRoots(slots)
	s.b.addAll(slots)
}

// ScanThreadRoots asks the host for the roots of one mutator thread.
type ScanThreadRoots struct {
	Thread vm.MutatorThread
}

// Do implements scheduler.Packet.
func (p *ScanThreadRoots) Do(w *scheduler.Worker) {
	c := CollectorOf(w)
	sink := &rootSink{ctx: c.ctx, b: newSlotBatcher(w, true)}
	c.ctx.Binding.ScanThreadRoots(p.Thread, sink)
	sink.b.flush()
}

// ScanVMRoots asks the host for its global roots.
type ScanVMRoots struct{}

// Do implements scheduler.Packet.
func (ScanVMRoots) Do(w *scheduler.Worker) {
	c := CollectorOf(w)
	sink := &rootSink{ctx: c.ctx, b: newSlotBatcher(w, true)}
	c.ctx.Binding.ScanVMSpecificRoots(sink)
	sink.b.flush()
}

// ProcessRememberedSet traces remembered heap slots as extra roots.
type ProcessRememberedSet struct {
	Slots []model.Address
}

// Do implements scheduler.Packet.
func (p *ProcessRememberedSet) Do(w *scheduler.Worker) {
	b := newSlotBatcher(w, false)
	b.addAll(p.Slots)
	b.flush()
}
