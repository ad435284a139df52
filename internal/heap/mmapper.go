package heap

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/model"
)

// MetadataMapper commits side metadata for a data range.
type MetadataMapper interface {
	EnsureMapped(start model.Address, bytes uintptr) error
}

// Mmapper commits heap chunks on demand.
type Mmapper struct {
	vm   *VMMap
	meta MetadataMapper
	rc   *resource.Controller

	mu     sync.Mutex
	mapped *bitset.BitSet // chunk index -> committed
}

// NewMmapper creates an Mmapper for the reservation of vm.
func NewMmapper(vm *VMMap, meta MetadataMapper, rc *resource.Controller) *Mmapper {
	chunks := uint(vm.End().Diff(vm.Start()) >> model.LogBytesInChunk)
	return &Mmapper{
		vm:     vm,
		meta:   meta,
		rc:     rc,
		mapped: bitset.New(chunks),
	}
}

// EnsureMapped commits every chunk overlapping [start, start+bytes) along
// with its side metadata.
func (m *Mmapper) EnsureMapped(start model.Address, bytes uintptr) error {
	if bytes == 0 {
		return nil
	}
	first := m.chunkIndex(start)
	last := m.chunkIndex(start.Add(bytes - 1))

	m.mu.Lock()
	defer m.mu.Unlock()

	for c := first; c <= last; c++ {
		if m.mapped.Test(c) {
			continue
		}
		if err := m.commitChunk(c); err != nil {
			return err
		}
		m.mapped.Set(c)
	}
	return nil
}

func (m *Mmapper) commitChunk(c uint) error {
	if err := m.rc.Acquire(resource.Data, model.BytesInChunk); err != nil {
		return fmt.Errorf("heap: commit chunk %d: %w", c, err)
	}
	off := int(c) << model.LogBytesInChunk
	if err := m.vm.res.Commit(off, model.BytesInChunk); err != nil {
		m.rc.Release(resource.Data, model.BytesInChunk)
		return fmt.Errorf("heap: commit chunk %d: %w", c, err)
	}
	if m.meta != nil {
		chunk := m.vm.start.Add(uintptr(off))
		if err := m.meta.EnsureMapped(chunk, model.BytesInChunk); err != nil {
			m.rc.Release(resource.Data, model.BytesInChunk)
			return fmt.Errorf("heap: metadata for chunk %d: %w", c, err)
		}
	}
	return nil
}

// IsMapped reports whether the chunk containing a is committed.
func (m *Mmapper) IsMapped(a model.Address) bool {
	if !m.vm.InHeap(a) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped.Test(m.chunkIndex(a))
}

// MappedChunks returns the number of committed chunks.
func (m *Mmapper) MappedChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.mapped.Count())
}

// Release returns the physical pages of [start, start+bytes) to the OS.
// The range reads as zero afterwards and stays committed.
func (m *Mmapper) Release(start model.Address, bytes uintptr) error {
	if bytes == 0 {
		return nil
	}
	off := int(start.Diff(m.vm.start))
	return m.vm.res.Decommit(off, int(bytes))
}

func (m *Mmapper) chunkIndex(a model.Address) uint {
	return uint(a.Diff(m.vm.start) >> model.LogBytesInChunk)
}
