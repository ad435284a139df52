package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/model"
)

// LargeObjectSpace holds page-aligned objects that are freed individually.
type LargeObjectSpace struct {
	common
	pr *heap.FreeListPageResource

	mu      sync.Mutex
	objects *roaring64.Bitmap
}

var _ Space = (*LargeObjectSpace)(nil)

// NewLargeObjectSpace creates a large object space.
func NewLargeObjectSpace(args Args) (*LargeObjectSpace, error) {
	c, err := newCommon(args, KindLargeObject)
	if err != nil {
		return nil, err
	}
	s := &LargeObjectSpace{common: c, objects: roaring64.New()}
	s.self = s
	s.pr = heap.NewFreeListPageResource(c.start, c.end, args.Heap.Mmapper)
	return s, nil
}

// IsMovable reports false.
func (s *LargeObjectSpace) IsMovable() bool { return false }

// ReservedPages returns the pages held by live objects.
func (s *LargeObjectSpace) ReservedPages() int { return s.pr.ReservedPages() }

// AllocPages reserves pages for one object and returns its address.
func (s *LargeObjectSpace) AllocPages(pages int, poll bool) (model.Address, error) {
	a, err := s.acquire(pages, poll, func() (model.Address, error) {
		return s.pr.GetNewPages(pages, 1)
	})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.objects.Add(uint64(a))
	s.mu.Unlock()
	return a, nil
}

// TraceObject marks obj and queues it the first time it is reached.
func (s *LargeObjectSpace) TraceObject(q ObjectQueue, obj model.ObjectReference) model.ObjectReference {
	if !s.meta.Mark.TestAndSet(obj.Address()) {
		q.Enqueue(obj)
	}
	return obj
}

// IsReachable reports whether obj is marked.
func (s *LargeObjectSpace) IsReachable(obj model.ObjectReference) bool {
	return s.meta.Mark.IsSet(obj.Address())
}

// Objects returns the number of allocated objects.
func (s *LargeObjectSpace) Objects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.objects.GetCardinality()) //nolint:gosec // bounded by extent pages
}

// Release frees every unmarked object and clears the marks of the others.
// It returns the number of freed objects.
func (s *LargeObjectSpace) Release() (int, error) {
	s.mu.Lock()
	var dead []uint64
	it := s.objects.Iterator()
	for it.HasNext() {
		a := model.Address(it.Next())
		if s.meta.Mark.IsSet(a) {
			s.meta.Mark.Clear(a)
			continue
		}
		dead = append(dead, uint64(a))
	}
	for _, a := range dead {
		s.objects.Remove(a)
	}
	s.mu.Unlock()

	var errs []error
	for _, raw := range dead {
		a := model.Address(raw)
		s.meta.VO.Clear(a)
		if _, err := s.pr.ReleasePages(a); err != nil {
			errs = append(errs, fmt.Errorf("policy: %s: free %s: %w", s.name, a, err))
		}
	}
	return len(dead), errors.Join(errs...)
}
