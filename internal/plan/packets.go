package plan

import (
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
)

// sweepable is a space swept chunk by chunk.
type sweepable interface {
	Name() string
	SweepUnits() []model.Address
	SweepChunk(chunk model.Address) (int, error)
}

// sweepChunk sweeps one chunk of a space.
type sweepChunk struct {
	b     *base
	space sweepable
	chunk model.Address
}

func (p *sweepChunk) Do(*scheduler.Worker) {
	freed, err := p.space.SweepChunk(p.chunk)
	p.b.freedBlocks.Add(uint64(freed)) //nolint:gosec // non-negative
	if err != nil {
		p.b.fatal(p.b.invariant(p.space.Name(), model.NullRef, "release", err.Error()))
	}
}

// scheduleSweep queues one sweep packet per chunk of s in the Release
// bucket.
func (b *base) scheduleSweep(w *scheduler.Worker, s sweepable) {
	for _, c := range s.SweepUnits() {
		w.AddWork(scheduler.Release, &sweepChunk{b: b, space: s, chunk: c})
	}
}
