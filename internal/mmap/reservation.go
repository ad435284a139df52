package mmap

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Reservation is a contiguous, aligned range of reserved virtual memory.
type Reservation struct {
	raw    []byte // full mapping as returned by the OS, including alignment slack
	data   []byte // aligned window handed out to callers
	closed atomic.Bool

	committed atomic.Int64
}

// Reserve reserves size bytes of address space whose start is a multiple of
// align. Neither size nor align may be zero; both must be page multiples and
// align must be a power of two.
func Reserve(size, align int) (*Reservation, error) {
	if size <= 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("%w: size %d", ErrInvalidSize, size)
	}
	if align < PageSize || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d", ErrInvalidSize, align)
	}

	raw, err := osReserve(size + align)
	if err != nil {
		return nil, fmt.Errorf("mmap: reserve %d bytes: %w", size, err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	skip := int((uintptr(align) - base%uintptr(align)) % uintptr(align))

	return &Reservation{
		raw:  raw,
		data: raw[skip : skip+size : skip+size],
	}, nil
}

// Base returns the first address of the reservation.
func (r *Reservation) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.data)))
}

// Size returns the size of the reservation in bytes.
func (r *Reservation) Size() int {
	return len(r.data)
}

// Contains reports whether addr lies inside the reservation.
func (r *Reservation) Contains(addr uintptr) bool {
	base := r.Base()
	return addr >= base && addr < base+uintptr(len(r.data))
}

// CommittedBytes returns the number of bytes currently committed.
func (r *Reservation) CommittedBytes() int64 {
	return r.committed.Load()
}

// Commit makes [off, off+size) readable and writable.
func (r *Reservation) Commit(off, size int) error {
	b, err := r.span(off, size)
	if err != nil {
		return err
	}
	if err := osCommit(b); err != nil {
		return fmt.Errorf("mmap: commit [%d,+%d): %w", off, size, err)
	}
	r.committed.Add(int64(size))
	return nil
}

// Decommit returns the physical pages of [off, off+size) to the OS. The range
// stays accessible and reads as zero afterwards.
func (r *Reservation) Decommit(off, size int) error {
	b, err := r.span(off, size)
	if err != nil {
		return err
	}
	if err := osDecommit(b); err != nil {
		return fmt.Errorf("mmap: decommit [%d,+%d): %w", off, size, err)
	}
	return nil
}

// Advise provides hints to the kernel about how [off, off+size) will be accessed.
func (r *Reservation) Advise(off, size int, pattern AccessPattern) error {
	b, err := r.span(off, size)
	if err != nil {
		return err
	}
	return osAdvise(b, pattern)
}

// Close unmaps the whole reservation. It is idempotent.
func (r *Reservation) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return osRelease(r.raw)
}

func (r *Reservation) span(off, size int) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || size < 0 || off+size > len(r.data) {
		return nil, fmt.Errorf("%w: [%d,+%d) of %d", ErrOutOfBounds, off, size, len(r.data))
	}
	if off%PageSize != 0 || size%PageSize != 0 {
		return nil, fmt.Errorf("%w: [%d,+%d) not page aligned", ErrInvalidSize, off, size)
	}
	return r.data[off : off+size : off+size], nil
}
