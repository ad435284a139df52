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

// markSweep marks objects in place and sweeps size-class blocks.
type markSweep struct {
	*base
	ms *policy.MarkSweepSpace
}

func newMarkSweep(args Args) (Plan, error) {
	b, err := newBase(args)
	if err != nil {
		return nil, err
	}
	ms, err := policy.NewMarkSweepSpace(b.args("ms"))
	if err != nil {
		return nil, errors.Join(err, b.Close())
	}
	b.register(ms)
	p := &markSweep{base: b, ms: ms}
	b.hooks = p
	return p, nil
}

func (p *markSweep) Kind() Kind { return MarkSweep }

func (p *markSweep) ReservedPages() int { return p.reservedPages() }

func (p *markSweep) collectionRequired(spaceFull bool, _ policy.Space, pages int) bool {
	return p.defaultRequired(spaceFull, pages)
}

func (p *markSweep) MutatorConfig() mutator.Config {
	cfg := p.mutatorConfig()
	cfg.Bindings[model.AllocDefault] = mutator.Binding{
		Allocator: alloc.NewFreeListAllocator(p.ms, true),
		Space:     p.ms,
		SpaceName: p.ms.Name(),
	}
	return cfg
}

func (p *markSweep) StartCycle(req Request) bool { return p.startCycle(req, true) }

func (p *markSweep) TraceObject(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	if p.ms.Contains(obj.Address()) {
		return p.ms.TraceObject(c, obj)
	}
	return p.traceCommon(c, obj)
}

func (p *markSweep) IsReachable(obj model.ObjectReference) bool { return p.isReachableCommon(obj) }

func (p *markSweep) GetForwarded(obj model.ObjectReference) model.ObjectReference { return obj }

func (p *markSweep) Prepare(*scheduler.Worker) {
	p.ms.Prepare()
	p.prepareCommon()
}

func (p *markSweep) Release(w *scheduler.Worker) {
	p.ms.ResetAvailable()
	p.scheduleSweep(w, p.ms)
	p.releaseLOS()
}

func (p *markSweep) EndCycle() { p.endCycle() }
