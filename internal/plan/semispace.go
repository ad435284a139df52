package plan

import (
	"errors"
	"sync/atomic"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
)

// semiSpace evacuates every live object into the other copy space each
// cycle.
type semiSpace struct {
	*base
	copy [2]*policy.CopySpace
	to   atomic.Int32
}

func newSemiSpace(args Args) (Plan, error) {
	b, err := newBase(args)
	if err != nil {
		return nil, err
	}
	p := &semiSpace{base: b}
	for i, name := range []string{"copy0", "copy1"} {
		s, err := policy.NewCopySpace(b.args(name))
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
		b.register(s)
		p.copy[i] = s
	}
	b.hooks = p
	return p, nil
}

func (p *semiSpace) Kind() Kind { return SemiSpace }

func (p *semiSpace) toSpace() *policy.CopySpace   { return p.copy[p.to.Load()] }
func (p *semiSpace) fromSpace() *policy.CopySpace { return p.copy[1-p.to.Load()] }

// ReservedPages counts the to-space twice: its live objects need as much
// room again when they are copied.
func (p *semiSpace) ReservedPages() int {
	return p.reservedPages() + p.toSpace().ReservedPages()
}

func (p *semiSpace) collectionRequired(spaceFull bool, _ policy.Space, pages int) bool {
	return p.defaultRequired(spaceFull, pages)
}

func (p *semiSpace) acquireToSpace(pages int, poll bool) (model.Address, error) {
	return p.toSpace().AcquireRegion(pages, poll)
}

func (p *semiSpace) MutatorConfig() mutator.Config {
	cfg := p.mutatorConfig()
	cfg.Bindings[model.AllocDefault] = mutator.Binding{
		Allocator: alloc.NewBumpAllocator(regionFunc(p.acquireToSpace), true),
		Space:     objectInit{meta: p.heap.Meta},
		SpaceName: "copy",
	}
	return cfg
}

// StartCycle flips the spaces: the space mutators allocated into becomes
// the from-space.
func (p *semiSpace) StartCycle(req Request) bool {
	p.to.Store(1 - p.to.Load())
	return p.startCycle(req, true)
}

func (p *semiSpace) PrepareWorker(c *gcwork.Collector) {
	cp, ok := c.Plan.(*bumpCopier)
	if !ok {
		cp = &bumpCopier{
			a:     alloc.NewBumpAllocator(regionFunc(p.acquireToSpace), false),
			init:  objectInit{meta: p.heap.Meta},
			fatal: p.fatal,
		}
		c.Plan = cp
	}
	cp.a.Reset()
}

func (p *semiSpace) TraceObject(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	if from := p.fromSpace(); from.Contains(obj.Address()) {
		return from.TraceObject(c, obj, c.Plan.(*bumpCopier), p.binding)
	}
	if p.toSpace().Contains(obj.Address()) {
		return obj
	}
	return p.traceCommon(c, obj)
}

func (p *semiSpace) IsReachable(obj model.ObjectReference) bool {
	return p.isReachableCommon(obj)
}

func (p *semiSpace) GetForwarded(obj model.ObjectReference) model.ObjectReference {
	if from := p.fromSpace(); from.Contains(obj.Address()) {
		return from.GetForwarded(obj)
	}
	return obj
}

func (p *semiSpace) Prepare(*scheduler.Worker) {
	p.fromSpace().Prepare(true)
	p.toSpace().Prepare(false)
	p.prepareCommon()
}

func (p *semiSpace) Release(*scheduler.Worker) {
	from := p.fromSpace()
	if err := from.Release(); err != nil {
		p.fatal(p.invariant(from.Name(), model.NullRef, "release", err.Error()))
	}
	p.releaseLOS()
}

func (p *semiSpace) EndCycle() { p.endCycle() }
