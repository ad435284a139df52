package sidemeta

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vmgc/internal/conv"
	"github.com/hupe1980/vmgc/internal/mmap"
	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/model"
)

const logBitsInWord = 5 // entries are packed in 32-bit words

// Table holds the entries of one Spec for a heap range.
type Table struct {
	spec      Spec
	dataStart model.Address
	dataEnd   model.Address

	res  *mmap.Reservation
	base model.Address
	mask uint32

	mu        sync.Mutex
	committed *bitset.BitSet // metadata pages
	rc        *resource.Controller
}

// NewTable reserves a table describing [dataStart, dataStart+dataBytes).
func NewTable(spec Spec, dataStart model.Address, dataBytes uintptr, rc *resource.Controller) (*Table, error) {
	if spec.LogBits < 0 || spec.LogBits > 3 {
		return nil, fmt.Errorf("sidemeta: %s: unsupported entry width %d bits", spec.Name, spec.Bits())
	}
	size := conv.AlignUp(spec.MetaBytes(dataBytes), mmap.PageSize)
	res, err := mmap.Reserve(int(size), mmap.PageSize)
	if err != nil {
		return nil, fmt.Errorf("sidemeta: %s: %w", spec.Name, err)
	}
	return &Table{
		spec:      spec,
		dataStart: dataStart,
		dataEnd:   dataStart.Add(dataBytes),
		res:       res,
		base:      model.Address(res.Base()),
		mask:      uint32(1)<<spec.Bits() - 1,
		committed: bitset.New(uint(size / mmap.PageSize)),
		rc:        rc,
	}, nil
}

// Spec returns the table's spec.
func (t *Table) Spec() Spec { return t.spec }

// EnsureMapped commits the metadata describing [start, start+bytes).
func (t *Table) EnsureMapped(start model.Address, bytes uintptr) error {
	if bytes == 0 {
		return nil
	}
	first := t.metaOffset(start) &^ (mmap.PageSize - 1)
	last := conv.AlignUp(t.metaOffset(start.Add(bytes-1))+1, mmap.PageSize)

	t.mu.Lock()
	defer t.mu.Unlock()

	for off := first; off < last; off += mmap.PageSize {
		page := uint(off / mmap.PageSize)
		if t.committed.Test(page) {
			continue
		}
		if err := t.rc.Acquire(resource.Metadata, mmap.PageSize); err != nil {
			return fmt.Errorf("sidemeta: %s: %w", t.spec.Name, err)
		}
		if err := t.res.Commit(int(off), mmap.PageSize); err != nil {
			t.rc.Release(resource.Metadata, mmap.PageSize)
			return fmt.Errorf("sidemeta: %s: %w", t.spec.Name, err)
		}
		t.committed.Set(page)
	}
	return nil
}

// CommittedBytes returns the committed size of the table.
func (t *Table) CommittedBytes() int64 {
	return t.res.CommittedBytes()
}

// Close releases the table's address space.
func (t *Table) Close() error {
	t.mu.Lock()
	n := t.committed.Count()
	t.mu.Unlock()
	t.rc.Release(resource.Metadata, int64(n)*mmap.PageSize)
	return t.res.Close()
}

// metaOffset returns the byte offset of the entry for a.
func (t *Table) metaOffset(a model.Address) uintptr {
	return (a.Diff(t.dataStart) >> t.spec.LogRegion << t.spec.LogBits) >> 3
}

// locate returns the word holding the entry for a and the entry's shift.
func (t *Table) locate(a model.Address) (*uint32, uint) {
	bit := a.Diff(t.dataStart) >> t.spec.LogRegion << t.spec.LogBits
	word := t.base.Add((bit >> logBitsInWord) << 2)
	return (*uint32)(word.Ptr()), uint(bit & (1<<logBitsInWord - 1))
}

// Load returns the entry for a.
func (t *Table) Load(a model.Address) uint8 {
	w, shift := t.locate(a)
	return uint8(atomic.LoadUint32(w) >> shift & t.mask)
}

// Store sets the entry for a to v.
func (t *Table) Store(a model.Address, v uint8) {
	w, shift := t.locate(a)
	for {
		old := atomic.LoadUint32(w)
		nw := old&^(t.mask<<shift) | (uint32(v)&t.mask)<<shift
		if old == nw || atomic.CompareAndSwapUint32(w, old, nw) {
			return
		}
	}
}

// CompareAndSwap replaces the entry for a with nv if it currently holds old.
func (t *Table) CompareAndSwap(a model.Address, old, nv uint8) bool {
	w, shift := t.locate(a)
	for {
		cur := atomic.LoadUint32(w)
		if uint8(cur>>shift&t.mask) != old {
			return false
		}
		nw := cur&^(t.mask<<shift) | (uint32(nv)&t.mask)<<shift
		if atomic.CompareAndSwapUint32(w, cur, nw) {
			return true
		}
	}
}

// IsSet reports whether the entry for a is non-zero.
func (t *Table) IsSet(a model.Address) bool {
	return t.Load(a) != 0
}

// TestAndSet sets a one-bit entry and reports whether it was already set.
func (t *Table) TestAndSet(a model.Address) bool {
	w, shift := t.locate(a)
	bit := uint32(1) << shift
	return atomic.OrUint32(w, bit)&bit != 0
}

// Set sets a one-bit entry.
func (t *Table) Set(a model.Address) {
	w, shift := t.locate(a)
	atomic.OrUint32(w, uint32(1)<<shift)
}

// Clear zeroes the entry for a.
func (t *Table) Clear(a model.Address) {
	w, shift := t.locate(a)
	atomic.AndUint32(w, ^(t.mask << shift))
}

// ZeroRange zeroes every entry describing [start, start+bytes).
func (t *Table) ZeroRange(start model.Address, bytes uintptr) {
	if bytes == 0 {
		return
	}
	b0 := start.Diff(t.dataStart) >> t.spec.LogRegion << t.spec.LogBits
	b1 := (start.Add(bytes).Diff(t.dataStart) + (1 << t.spec.LogRegion) - 1) >> t.spec.LogRegion << t.spec.LogBits

	for b0 < b1 && b0&(1<<logBitsInWord-1) != 0 {
		w0 := b0 >> logBitsInWord
		end := min(b1, (w0+1)<<logBitsInWord)
		t.andWord(w0, ^rangeMask(b0, end))
		b0 = end
	}
	full := b1 &^ (1<<logBitsInWord - 1)
	if full > b0 {
		t.base.Add((b0 >> logBitsInWord) << 2).Zero(int((full - b0) >> 3))
		b0 = full
	}
	if b0 < b1 {
		t.andWord(b0>>logBitsInWord, ^rangeMask(b0, b1))
	}
}

// ForEachSet calls fn with the data address of every set entry in
// [start, end) of a one-bit table, in address order, until fn returns false.
func (t *Table) ForEachSet(start, end model.Address, fn func(model.Address) bool) {
	if t.spec.LogBits != 0 {
		panic("sidemeta: ForEachSet on multi-bit table " + t.spec.Name)
	}
	b0 := start.Diff(t.dataStart) >> t.spec.LogRegion
	b1 := end.Diff(t.dataStart) >> t.spec.LogRegion

	for w := b0 >> logBitsInWord; w<<logBitsInWord < b1; w++ {
		word := atomic.LoadUint32((*uint32)(t.base.Add(w << 2).Ptr()))
		lo := max(b0, w<<logBitsInWord)
		hi := min(b1, (w+1)<<logBitsInWord)
		word &= rangeMask(lo, hi)
		for word != 0 {
			tz := uintptr(bits.TrailingZeros32(word))
			word &= word - 1
			if !fn(t.dataStart.Add(((w << logBitsInWord) + tz) << t.spec.LogRegion)) {
				return
			}
		}
	}
}

func (t *Table) andWord(w uintptr, m uint32) {
	atomic.AndUint32((*uint32)(t.base.Add(w<<2).Ptr()), m)
}

// rangeMask returns the mask of bit positions [lo, hi) within the word that
// contains lo; hi is at most the end of that word.
func rangeMask(lo, hi uintptr) uint32 {
	from := lo & (1<<logBitsInWord - 1)
	n := hi - lo
	if n >= 32 {
		return ^uint32(0)
	}
	return (uint32(1)<<n - 1) << from
}
