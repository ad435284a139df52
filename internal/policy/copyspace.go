package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/internal/sidemeta"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// CopySpace is a bump-allocated space whose live objects are evacuated
// when it is the from-space of a cycle.
type CopySpace struct {
	common
	pr   *heap.MonotonePageResource
	from atomic.Bool
}

var _ Space = (*CopySpace)(nil)

// NewCopySpace creates a copy space.
func NewCopySpace(args Args) (*CopySpace, error) {
	c, err := newCommon(args, KindCopy)
	if err != nil {
		return nil, err
	}
	s := &CopySpace{common: c}
	s.self = s
	s.pr = heap.NewMonotonePageResource(c.start, c.end, args.Heap.Mmapper)
	return s, nil
}

// IsMovable reports true: objects in a copy space move.
func (s *CopySpace) IsMovable() bool { return true }

// ReservedPages returns the pages in use.
func (s *CopySpace) ReservedPages() int { return s.pr.ReservedPages() }

// AcquireRegion hands out a run of pages to a bump allocator.
func (s *CopySpace) AcquireRegion(pages int, poll bool) (model.Address, error) {
	return s.acquire(pages, poll, func() (model.Address, error) {
		return s.pr.GetNewPages(pages)
	})
}

// Prepare marks the space as from-space (evacuated this cycle) or not.
func (s *CopySpace) Prepare(fromSpace bool) {
	s.from.Store(fromSpace)
}

// IsFromSpace reports whether the space is being evacuated.
func (s *CopySpace) IsFromSpace() bool { return s.from.Load() }

// Release discards every object of a from-space.
func (s *CopySpace) Release() error {
	if !s.from.Load() {
		return nil
	}
	used := s.pr.Cursor().Diff(s.start)
	s.meta.ZeroObjectBits(s.start, used)
	if err := s.pr.Reset(); err != nil {
		return fmt.Errorf("policy: release %s: %w", s.name, err)
	}
	s.from.Store(false)
	return nil
}

// TraceObject forwards obj if the space is being evacuated.
func (s *CopySpace) TraceObject(q ObjectQueue, obj model.ObjectReference, copier vm.Copier, om vm.ObjectModel) model.ObjectReference {
	if !s.from.Load() {
		return obj
	}
	return ForwardObject(s.meta.Forwarding, obj, copier, om, q)
}

// IsReachable reports whether obj survived the current cycle.
func (s *CopySpace) IsReachable(obj model.ObjectReference) bool {
	if !s.from.Load() {
		return true
	}
	return s.meta.Forwarding.Load(obj.Address()) == sidemeta.Forwarded
}

// GetForwarded returns obj's new reference if it has been evacuated.
func (s *CopySpace) GetForwarded(obj model.ObjectReference) model.ObjectReference {
	return ForwardedReference(s.meta.Forwarding, obj)
}

// Used returns the bytes between the start of the extent and the cursor.
func (s *CopySpace) Used() uintptr {
	return s.pr.Cursor().Diff(s.start)
}
