//go:build linux

package mmap

import "golang.org/x/sys/unix"

// Private anonymous pages are zero-filled on the next fault after MADV_DONTNEED.
func osDecommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
