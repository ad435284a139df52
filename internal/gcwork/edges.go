package gcwork

import (
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
)

// ProcessEdges traces the objects referenced by a batch of slots and
// updates slots whose object moved.
type ProcessEdges struct {
	Slots []model.Address
	// Roots is set for root slots, which are never remembered.
	Roots bool
}

// Do implements scheduler.Packet.
func (p *ProcessEdges) Do(w *scheduler.Worker) {
	c := CollectorOf(w)
	rec := c.ctx.Recorder
	for _, slot := range p.Slots {
		obj := slot.LoadRef()
		moved := c.Trace(obj)
		if moved != obj {
			slot.StoreRef(moved)
		}
		if rec != nil && !p.Roots && !moved.IsNull() {
			rec.RecordSlot(c, slot, moved)
		}
	}
	if rec != nil {
		rec.FlushSlots(c)
	}
	c.Flush()
}

// ScanObjects enumerates the outgoing slots of reached objects.
type ScanObjects struct {
	Objects []model.ObjectReference
}

// Do implements scheduler.Packet.
func (p *ScanObjects) Do(w *scheduler.Worker) {
	c := CollectorOf(w)
	b := newSlotBatcher(w, false)
	for _, obj := range p.Objects {
		if c.ctx.Debug && !c.checkSize(obj) {
			continue
		}
		c.ctx.Binding.ScanObject(obj, b.add)
	}
	b.flush()
}

// slotBatcher cuts a stream of slots into ProcessEdges packets.
type slotBatcher struct {
	w     *scheduler.Worker
	roots bool
	buf   []model.Address
}

func newSlotBatcher(w *scheduler.Worker, roots bool) *slotBatcher {
	return &slotBatcher{w: w, roots: roots}
}

func (b *slotBatcher) add(slot model.Address) {
	if b.buf == nil {
		b.buf = make([]model.Address, 0, EdgesPerPacket)
	}
	b.buf = append(b.buf, slot)
	if len(b.buf) == EdgesPerPacket {
		b.flush()
	}
}

func (b *slotBatcher) addAll(slots []model.Address) {
	for _, s := range slots {
		b.add(s)
	}
}

func (b *slotBatcher) flush() {
	if len(b.buf) == 0 {
		return
	}
	b.w.AddWork(scheduler.Closure, &ProcessEdges{Slots: b.buf, Roots: b.roots})
	b.buf = nil
}

func (c *Collector) checkSize(obj model.ObjectReference) bool {
	size := c.ctx.Binding.GetObjectSize(obj)
	if size >= model.MinObjectSize && size%model.MinAlignment == 0 {
		return true
	}
	c.ctx.Fatal(&ContractError{Call: "GetObjectSize", Object: obj, Value: size})
	return false
}
