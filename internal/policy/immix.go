package policy

import (
	"fmt"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/model"
)

// Immix block states.
const (
	immixBlockUnallocated uint8 = 0
	immixBlockUnmarked    uint8 = 1
	immixBlockMarked      uint8 = 2
)

// ImmixSpace is a non-moving space of bump-allocated blocks. A block is
// reclaimed as a whole once it holds no marked object.
type ImmixSpace struct {
	common
	pr *heap.FreeListPageResource
}

var _ Space = (*ImmixSpace)(nil)

// NewImmixSpace creates an immix space.
func NewImmixSpace(args Args) (*ImmixSpace, error) {
	c, err := newCommon(args, KindImmix)
	if err != nil {
		return nil, err
	}
	s := &ImmixSpace{common: c}
	s.self = s
	s.pr = heap.NewFreeListPageResource(c.start, c.end, args.Heap.Mmapper)
	return s, nil
}

// IsMovable reports false.
func (s *ImmixSpace) IsMovable() bool { return false }

// ReservedPages returns the pages held by allocated blocks.
func (s *ImmixSpace) ReservedPages() int { return s.pr.ReservedPages() }

// AcquireRegion hands out one fresh block to a bump allocator.
func (s *ImmixSpace) AcquireRegion(pages int, poll bool) (model.Address, error) {
	if pages > model.PagesInBlock {
		return 0, fmt.Errorf("policy: %s: region of %d pages exceeds a block", s.name, pages)
	}
	b, err := s.acquire(model.PagesInBlock, poll, func() (model.Address, error) {
		return s.pr.GetNewPages(model.PagesInBlock, model.PagesInBlock)
	})
	if err != nil {
		return 0, err
	}
	s.meta.BlockState.Store(b, immixBlockUnmarked)
	return b, nil
}

// TraceObject marks obj and its block and queues obj the first time it is
// reached.
func (s *ImmixSpace) TraceObject(q ObjectQueue, obj model.ObjectReference) model.ObjectReference {
	a := obj.Address()
	if !s.meta.Mark.TestAndSet(a) {
		s.meta.BlockState.Store(a.AlignDown(model.BytesInBlock), immixBlockMarked)
		q.Enqueue(obj)
	}
	return obj
}

// IsReachable reports whether obj is marked.
func (s *ImmixSpace) IsReachable(obj model.ObjectReference) bool {
	return s.meta.Mark.IsSet(obj.Address())
}

// Prepare clears all mark bits.
func (s *ImmixSpace) Prepare() {
	s.meta.Mark.ZeroRange(s.start, s.pr.HighWater().Diff(s.start))
}

// SweepUnits returns the chunk-aligned addresses to pass to SweepChunk.
func (s *ImmixSpace) SweepUnits() []model.Address {
	return chunksBelow(s.start, s.pr.HighWater())
}

// SweepChunk frees every unmarked block of a chunk and resets marked blocks
// to unmarked for the next cycle. Dead objects in surviving blocks lose
// their valid-object bit. It returns the number of freed blocks.
func (s *ImmixSpace) SweepChunk(chunk model.Address) (int, error) {
	end := min(chunk.Add(model.BytesInChunk), s.pr.HighWater())
	freed := 0
	for b := chunk; b < end; b = b.Add(model.BytesInBlock) {
		switch s.meta.BlockState.Load(b) {
		case immixBlockUnmarked:
			s.meta.ZeroObjectBits(b, model.BytesInBlock)
			s.meta.BlockState.Store(b, immixBlockUnallocated)
			if _, err := s.pr.ReleasePages(b); err != nil {
				return freed, fmt.Errorf("policy: %s: free block %s: %w", s.name, b, err)
			}
			freed++
		case immixBlockMarked:
			s.meta.BlockState.Store(b, immixBlockUnmarked)
			s.meta.VO.ForEachSet(b, b.Add(model.BytesInBlock), func(a model.Address) bool {
				if !s.meta.Mark.IsSet(a) {
					s.meta.VO.Clear(a)
				}
				return true
			})
		}
	}
	return freed, nil
}
