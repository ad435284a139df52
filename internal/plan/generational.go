package plan

import (
	"errors"
	"sync/atomic"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/barrier"
	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
)

// DefaultSurvivorThreshold is used when Config.SurvivorThreshold is zero.
const DefaultSurvivorThreshold = 0.5

// generational collects a copying nursery of two halves that flip every
// cycle, over a mark-sweep mature space. Minor cycles trace the nursery
// from the roots and the remembered set; full cycles trace everything and
// empty the nursery into the mature space.
type generational struct {
	*base
	nursery [2]*policy.CopySpace
	to      atomic.Int32
	mature  *policy.MarkSweepSpace

	remset *barrier.RememberedSet
	filter barrier.Filter

	nurseryPages  int
	survivorLimit uint64
	copiedBack    atomic.Uint64
	nextFull      atomic.Bool

	// survivorEnd bounds the objects of the current half that already
	// survived a cycle; fromSurvivorEnd is the same bound for the half
	// being evacuated.
	survivorEnd     model.Address
	fromSurvivorEnd model.Address
}

func newGenerational(args Args) (Plan, error) {
	b, err := newBase(args)
	if err != nil {
		return nil, err
	}
	cfg := args.Config
	threshold := cfg.SurvivorThreshold
	if threshold == 0 {
		threshold = DefaultSurvivorThreshold
	}
	p := &generational{
		base:          b,
		remset:        barrier.NewRememberedSet(),
		nurseryPages:  model.BytesToPagesUp(cfg.NurseryBytes),
		survivorLimit: uint64(threshold * float64(cfg.NurseryBytes)),
	}
	for i, name := range []string{"nursery0", "nursery1"} {
		s, err := policy.NewCopySpace(b.args(name))
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.register(s)
		p.nursery[i] = s
	}
	p.mature, err = policy.NewMarkSweepSpace(b.args("mature"))
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}
	b.register(p.mature)

	// The halves are consecutive extents, so one range covers both.
	lo, _ := p.nursery[0].Extent()
	_, hi := p.nursery[1].Extent()
	p.filter = barrier.Filter{Lo: lo, Hi: hi}
	p.survivorEnd = lo
	b.hooks = p
	return p, nil
}

func (p *generational) Kind() Kind { return Generational }

func (p *generational) current() *policy.CopySpace { return p.nursery[p.to.Load()] }
func (p *generational) from() *policy.CopySpace    { return p.nursery[1-p.to.Load()] }

func (p *generational) isNursery(s policy.Space) bool {
	return s == p.nursery[0] || s == p.nursery[1]
}

// RememberedSet returns the slots outside the nursery that may point into
// it.
func (p *generational) RememberedSet() *barrier.RememberedSet { return p.remset }

// ReservedPages counts the current half twice to reserve room for copying
// its survivors.
func (p *generational) ReservedPages() int {
	return p.reservedPages() + p.current().ReservedPages()
}

func (p *generational) nonNurseryPages() int {
	return p.reservedPages() - p.nursery[0].ReservedPages() - p.nursery[1].ReservedPages()
}

func (p *generational) collectionRequired(spaceFull bool, space policy.Space, pages int) bool {
	nursery := p.isNursery(space)
	switch {
	case spaceFull:
	case nursery && space.ReservedPages()+pages > p.nurseryPages:
		return true
	case p.ReservedPages()+pages > p.totalPages:
	default:
		return false
	}
	if !nursery {
		p.nextFull.Store(true)
	}
	return true
}

func (p *generational) acquireNursery(pages int, poll bool) (model.Address, error) {
	return p.current().AcquireRegion(pages, poll)
}

func (p *generational) MutatorConfig() mutator.Config {
	cfg := p.mutatorConfig()
	cfg.Bindings[model.AllocDefault] = mutator.Binding{
		Allocator: alloc.NewBumpAllocator(regionFunc(p.acquireNursery), true),
		Space:     objectInit{meta: p.heap.Meta},
		SpaceName: "nursery",
	}
	cfg.Barrier = barrier.NewBuffer(p.remset, p.filter)
	return cfg
}

// StartCycle decides between a minor and a full-heap cycle and flips the
// nursery halves.
func (p *generational) StartCycle(req Request) bool {
	full := p.nextFull.Swap(false) ||
		req.Full ||
		req.Emergency ||
		(req.User && p.cfg.FullHeapSystemGC) ||
		p.nonNurseryPages()+2*p.nurseryPages > p.totalPages

	p.fromSurvivorEnd = p.survivorEnd
	p.to.Store(1 - p.to.Load())
	p.copiedBack.Store(0)
	return p.startCycle(req, full)
}

// genCopier is the per-worker copy state: survivors go back into the
// nursery, promoted objects into the mature space.
type genCopier struct {
	p       *generational
	nursery *alloc.BumpAllocator
	mature  *alloc.FreeListAllocator
	slots   []model.Address
}

func (g *genCopier) AllocCopy(original model.ObjectReference, bytes, align int) model.Address {
	p := g.p
	if !p.fullHeap.Load() && original.Address() >= p.fromSurvivorEnd {
		if p.copiedBack.Add(uint64(bytes)) <= p.survivorLimit { //nolint:gosec // positive
			if a, err := g.nursery.Alloc(bytes, align); err == nil {
				return a
			}
		}
	}
	a, err := g.mature.Alloc(bytes, align)
	if err != nil {
		p.fatal(err)
		panic(err)
	}
	return a
}

func (g *genCopier) PostCopy(obj model.ObjectReference, _ int) {
	if g.p.mature.Contains(obj.Address()) {
		g.p.mature.PostCopy(obj)
		return
	}
	g.p.heap.Meta.VO.Set(obj.Address())
}

func (p *generational) PrepareWorker(c *gcwork.Collector) {
	g, ok := c.Plan.(*genCopier)
	if !ok {
		g = &genCopier{
			p:       p,
			nursery: alloc.NewBumpAllocator(regionFunc(p.acquireNursery), false),
			mature:  alloc.NewFreeListAllocator(p.mature, false),
		}
		c.Plan = g
	}
	g.nursery.Reset()
	g.mature.Reset()
	g.slots = g.slots[:0]
}

func (p *generational) TraceObject(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	a := obj.Address()
	if from := p.from(); from.Contains(a) {
		return from.TraceObject(c, obj, c.Plan.(*genCopier), p.binding)
	}
	if p.inNursery(a) || !p.fullHeap.Load() {
		return obj
	}
	if p.mature.Contains(a) {
		return p.mature.TraceObject(c, obj)
	}
	return p.traceCommon(c, obj)
}

func (p *generational) inNursery(a model.Address) bool { return p.filter.InNursery(a) }

func (p *generational) IsReachable(obj model.ObjectReference) bool {
	a := obj.Address()
	if from := p.from(); from.Contains(a) {
		return from.IsReachable(obj)
	}
	if p.inNursery(a) || !p.fullHeap.Load() {
		return true
	}
	return p.isReachableCommon(obj)
}

func (p *generational) GetForwarded(obj model.ObjectReference) model.ObjectReference {
	if from := p.from(); from.Contains(obj.Address()) {
		return from.GetForwarded(obj)
	}
	return obj
}

func (p *generational) Prepare(*scheduler.Worker) {
	p.from().Prepare(true)
	p.current().Prepare(false)
	if p.fullHeap.Load() {
		p.mature.Prepare()
		p.prepareCommon()
	}
}

// ScheduleRoots turns the remembered set into roots of a minor cycle. A
// full cycle traces every slot anyway and drops it.
func (p *generational) ScheduleRoots(w *scheduler.Worker) {
	slots := p.remset.Take()
	if p.fullHeap.Load() || len(slots) == 0 {
		return
	}
	for len(slots) > 0 {
		n := min(len(slots), gcwork.EdgesPerPacket)
		w.AddWork(scheduler.RootScan, &gcwork.ProcessRememberedSet{Slots: slots[:n]})
		slots = slots[n:]
	}
}

// Recorder rebuilds the remembered set during minor cycles.
func (p *generational) Recorder() gcwork.SlotRecorder { return p }

// RecordSlot remembers slots outside the nursery that still point into it.
func (p *generational) RecordSlot(c *gcwork.Collector, slot model.Address, target model.ObjectReference) {
	if p.fullHeap.Load() || p.inNursery(slot) || !p.inNursery(target.Address()) {
		return
	}
	g := c.Plan.(*genCopier)
	g.slots = append(g.slots, slot)
}

// FlushSlots moves a worker's recorded slots into the remembered set.
func (p *generational) FlushSlots(c *gcwork.Collector) {
	g, ok := c.Plan.(*genCopier)
	if !ok || len(g.slots) == 0 {
		return
	}
	p.remset.Add(g.slots...)
	g.slots = g.slots[:0]
}

func (p *generational) Release(w *scheduler.Worker) {
	from := p.from()
	if err := from.Release(); err != nil {
		p.fatal(p.invariant(from.Name(), model.NullRef, "release", err.Error()))
	}
	if p.fullHeap.Load() {
		p.mature.ResetAvailable()
		p.scheduleSweep(w, p.mature)
		p.releaseLOS()
	}
}

func (p *generational) EndCycle() {
	cur := p.current()
	start, _ := cur.Extent()
	p.survivorEnd = start.Add(cur.Used())
	p.endCycle()
}
