package policy

import (
	"fmt"
	"sync"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/model"
)

// Mark-sweep block states.
const (
	msBlockUnallocated uint8 = 0
	msBlockInUse       uint8 = 1
	// msBlockAvailable marks a block queued in available.
	msBlockAvailable uint8 = 2
)

// MarkSweepSpace is a non-moving space of segregated size-class blocks.
type MarkSweepSpace struct {
	common
	pr *heap.FreeListPageResource

	mu        sync.Mutex
	available [NumSizeClasses][]model.Address
}

var _ Space = (*MarkSweepSpace)(nil)

// NewMarkSweepSpace creates a mark-sweep space.
func NewMarkSweepSpace(args Args) (*MarkSweepSpace, error) {
	c, err := newCommon(args, KindMarkSweep)
	if err != nil {
		return nil, err
	}
	s := &MarkSweepSpace{common: c}
	s.self = s
	s.pr = heap.NewFreeListPageResource(c.start, c.end, args.Heap.Mmapper)
	return s, nil
}

// IsMovable reports false.
func (s *MarkSweepSpace) IsMovable() bool { return false }

// ReservedPages returns the pages held by allocated blocks.
func (s *MarkSweepSpace) ReservedPages() int { return s.pr.ReservedPages() }

// AcquireBlock returns a block of size class class with at least one free
// cell. Swept blocks with free cells are reused before new pages are taken.
func (s *MarkSweepSpace) AcquireBlock(class int, poll bool) (model.Address, error) {
	s.mu.Lock()
	if n := len(s.available[class]); n > 0 {
		b := s.available[class][n-1]
		s.available[class] = s.available[class][:n-1]
		s.meta.BlockState.Store(b, msBlockInUse)
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	b, err := s.acquire(model.PagesInBlock, poll, func() (model.Address, error) {
		return s.pr.GetNewPages(model.PagesInBlock, model.PagesInBlock)
	})
	if err != nil {
		return 0, err
	}
	s.meta.BlockState.Store(b, msBlockInUse)
	s.meta.SizeClass.Store(b, uint8(class+1)) //nolint:gosec // < NumSizeClasses
	return b, nil
}

// ReturnBlock queues b, a block of size class class handed out by
// AcquireBlock, for reuse while it still has free cells. A block that a sweep
// already queued again is left alone.
func (s *MarkSweepSpace) ReturnBlock(class int, b model.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.BlockState.Load(b) != msBlockInUse {
		return
	}
	s.meta.BlockState.Store(b, msBlockAvailable)
	s.available[class] = append(s.available[class], b)
}

// TraceObject marks obj and queues it the first time it is reached.
func (s *MarkSweepSpace) TraceObject(q ObjectQueue, obj model.ObjectReference) model.ObjectReference {
	if !s.meta.Mark.TestAndSet(obj.Address()) {
		q.Enqueue(obj)
	}
	return obj
}

// IsReachable reports whether obj is marked.
func (s *MarkSweepSpace) IsReachable(obj model.ObjectReference) bool {
	return s.meta.Mark.IsSet(obj.Address())
}

// Prepare clears all mark bits.
func (s *MarkSweepSpace) Prepare() {
	s.meta.Mark.ZeroRange(s.start, s.pr.HighWater().Diff(s.start))
}

// ResetAvailable forgets all reusable blocks ahead of a sweep.
func (s *MarkSweepSpace) ResetAvailable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.available {
		s.available[c] = s.available[c][:0]
	}
}

// SweepUnits returns the chunk-aligned addresses to pass to SweepChunk.
func (s *MarkSweepSpace) SweepUnits() []model.Address {
	return chunksBelow(s.start, s.pr.HighWater())
}

// SweepChunk sweeps every block of the chunk starting at chunk. Unmarked
// cells lose their valid-object bit, empty blocks are freed and partially
// free blocks become available for allocation. It returns the number of
// freed blocks.
func (s *MarkSweepSpace) SweepChunk(chunk model.Address) (int, error) {
	end := min(chunk.Add(model.BytesInChunk), s.pr.HighWater())
	freed := 0
	for b := chunk; b < end; b = b.Add(model.BytesInBlock) {
		if s.meta.BlockState.Load(b) == msBlockUnallocated {
			continue
		}
		class := int(s.meta.SizeClass.Load(b)) - 1
		if class < 0 || class >= NumSizeClasses {
			return freed, fmt.Errorf("policy: %s: block %s has size class %d", s.name, b, class)
		}

		cells := CellsPerBlock(class)
		live := 0
		s.meta.VO.ForEachSet(b, b.Add(uintptr(cells*CellSize(class))), func(cell model.Address) bool {
			if s.meta.Mark.IsSet(cell) {
				live++
			} else {
				s.meta.VO.Clear(cell)
			}
			return true
		})

		switch {
		case live == 0:
			s.meta.BlockState.Store(b, msBlockUnallocated)
			s.meta.SizeClass.Store(b, 0)
			if _, err := s.pr.ReleasePages(b); err != nil {
				return freed, fmt.Errorf("policy: %s: free block %s: %w", s.name, b, err)
			}
			freed++
		case live < cells:
			s.mu.Lock()
			s.meta.BlockState.Store(b, msBlockAvailable)
			s.available[class] = append(s.available[class], b)
			s.mu.Unlock()
		}
	}
	return freed, nil
}

// BlockSizeClass returns the size class of the block containing a.
func (s *MarkSweepSpace) BlockSizeClass(a model.Address) int {
	return int(s.meta.SizeClass.Load(a.AlignDown(model.BytesInBlock))) - 1
}

// IsFreeCell reports whether the cell at a holds no object.
func (s *MarkSweepSpace) IsFreeCell(a model.Address) bool {
	return !s.meta.VO.IsSet(a)
}

// PostCopy records an object promoted into the space during a collection.
// The object is marked so that a concurrent sweep keeps it.
func (s *MarkSweepSpace) PostCopy(obj model.ObjectReference) {
	s.meta.VO.Set(obj.Address())
	s.meta.Mark.Set(obj.Address())
}

func chunksBelow(start, end model.Address) []model.Address {
	var out []model.Address
	for c := start; c < end; c = c.Add(model.BytesInChunk) {
		out = append(out, c)
	}
	return out
}
