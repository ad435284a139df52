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

// immix bump-allocates into blocks and reclaims blocks without marked
// objects.
type immix struct {
	*base
	ix *policy.ImmixSpace
}

func newImmix(args Args) (Plan, error) {
	b, err := newBase(args)
	if err != nil {
		return nil, err
	}
	ix, err := policy.NewImmixSpace(b.args("immix"))
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}
	b.register(ix)
	p := &immix{base: b, ix: ix}
	b.hooks = p
	return p, nil
}

func (p *immix) Kind() Kind { return Immix }

func (p *immix) ReservedPages() int { return p.reservedPages() }

func (p *immix) collectionRequired(spaceFull bool, _ policy.Space, pages int) bool {
	return p.defaultRequired(spaceFull, pages)
}

func (p *immix) MutatorConfig() mutator.Config {
	cfg := p.mutatorConfig()
	cfg.Bindings[model.AllocDefault] = mutator.Binding{
		Allocator: alloc.NewBumpAllocator(p.ix, true),
		Space:     p.ix,
		SpaceName: p.ix.Name(),
	}
	return cfg
}

func (p *immix) StartCycle(req Request) bool { return p.startCycle(req, true) }

func (p *immix) TraceObject(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	if p.ix.Contains(obj.Address()) {
		return p.ix.TraceObject(c, obj)
	}
	return p.traceCommon(c, obj)
}

func (p *immix) IsReachable(obj model.ObjectReference) bool { return p.isReachableCommon(obj) }

func (p *immix) GetForwarded(obj model.ObjectReference) model.ObjectReference { return obj }

func (p *immix) Prepare(*scheduler.Worker) {
	p.ix.Prepare()
	p.prepareCommon()
}

func (p *immix) Release(w *scheduler.Worker) {
	p.scheduleSweep(w, p.ix)
	p.releaseLOS()
}

func (p *immix) EndCycle() { p.endCycle() }
