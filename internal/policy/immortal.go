package policy

import (
	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/model"
)

// ImmortalSpace is a bump-allocated space that is never reclaimed. Its
// objects are traced so that what they reference stays alive.
type ImmortalSpace struct {
	common
	pr *heap.MonotonePageResource
}

var _ Space = (*ImmortalSpace)(nil)

// NewImmortalSpace creates an immortal space.
func NewImmortalSpace(args Args) (*ImmortalSpace, error) {
	c, err := newCommon(args, KindImmortal)
	if err != nil {
		return nil, err
	}
	s := &ImmortalSpace{common: c}
	s.self = s
	s.pr = heap.NewMonotonePageResource(c.start, c.end, args.Heap.Mmapper)
	return s, nil
}

// IsMovable reports false.
func (s *ImmortalSpace) IsMovable() bool { return false }

// ReservedPages returns the pages in use.
func (s *ImmortalSpace) ReservedPages() int { return s.pr.ReservedPages() }

// AcquireRegion hands out a run of pages to a bump allocator.
func (s *ImmortalSpace) AcquireRegion(pages int, poll bool) (model.Address, error) {
	return s.acquire(pages, poll, func() (model.Address, error) {
		return s.pr.GetNewPages(pages)
	})
}

// TraceObject marks obj and queues it the first time it is reached.
func (s *ImmortalSpace) TraceObject(q ObjectQueue, obj model.ObjectReference) model.ObjectReference {
	if !s.meta.Mark.TestAndSet(obj.Address()) {
		q.Enqueue(obj)
	}
	return obj
}

// IsReachable reports true: immortal objects never die.
func (s *ImmortalSpace) IsReachable(model.ObjectReference) bool { return true }

// Prepare clears all mark bits.
func (s *ImmortalSpace) Prepare() {
	s.meta.Mark.ZeroRange(s.start, s.pr.Cursor().Diff(s.start))
}
