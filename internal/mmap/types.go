package mmap

import "errors"

// AccessPattern provides hints to the kernel about how a range will be accessed.
type AccessPattern int

const (
	// AccessDefault is the default access pattern (no specific advice).
	AccessDefault AccessPattern = iota
	// AccessSequential expects the range to be walked front to back.
	AccessSequential
	// AccessRandom expects scattered accesses.
	AccessRandom
	// AccessWillNeed expects the range to be touched soon.
	AccessWillNeed
)

var (
	// ErrClosed is returned when using a released reservation.
	ErrClosed = errors.New("mmap: reservation is closed")
	// ErrInvalidSize is returned for zero, negative or unaligned sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for ranges outside the reservation.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)

// PageSize is the granularity of Commit and Decommit.
const PageSize = 4096
