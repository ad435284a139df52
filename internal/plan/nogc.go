package plan

import (
	"errors"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
)

// noGC allocates until the heap is exhausted and never reclaims.
type noGC struct {
	*base
	space *policy.ImmortalSpace
}

func newNoGC(args Args) (Plan, error) {
	b, err := newBase(args)
	if err != nil {
		return nil, err
	}
	s, err := policy.NewImmortalSpace(b.args("nogc"))
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}
	b.register(s)
	p := &noGC{base: b, space: s}
	b.hooks = p
	return p, nil
}

func (p *noGC) Kind() Kind { return NoGC }

func (p *noGC) ReservedPages() int { return p.reservedPages() }

func (p *noGC) collectionRequired(spaceFull bool, _ policy.Space, pages int) bool {
	return p.defaultRequired(spaceFull, pages)
}

func (p *noGC) MutatorConfig() mutator.Config {
	cfg := p.mutatorConfig()
	cfg.Bindings[model.AllocDefault] = mutator.Binding{
		Allocator: alloc.NewBumpAllocator(p.space, true),
		Space:     p.space,
		SpaceName: p.space.Name(),
	}
	return cfg
}

func (p *noGC) StartCycle(req Request) bool { return p.startCycle(req, true) }

func (p *noGC) TraceObject(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	if p.space.Contains(obj.Address()) {
		return p.space.TraceObject(c, obj)
	}
	return p.traceCommon(c, obj)
}

func (p *noGC) IsReachable(model.ObjectReference) bool { return true }

func (p *noGC) GetForwarded(obj model.ObjectReference) model.ObjectReference { return obj }

func (p *noGC) Prepare(*scheduler.Worker) {
	p.prepareCommon()
	p.space.Prepare()
}

func (p *noGC) Release(*scheduler.Worker) {}

func (p *noGC) EndCycle() { p.endCycle() }
