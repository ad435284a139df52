//go:build linux || darwin

package mmap

import "golang.org/x/sys/unix"

func osReserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
}

func osCommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
}

func osRelease(b []byte) error {
	return unix.Munmap(b)
}

func osAdvise(b []byte, pattern AccessPattern) error {
	if len(b) == 0 {
		return nil
	}

	var advice int
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	default:
		advice = unix.MADV_NORMAL
	}

	// Hints are advisory; alignment complaints are not worth surfacing.
	err := unix.Madvise(b, advice)
	if err == unix.EINVAL {
		return nil
	}
	return err
}
