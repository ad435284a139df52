//go:build darwin

package mmap

import "golang.org/x/sys/unix"

func osDecommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	clear(b)
	return unix.Madvise(b, unix.MADV_FREE)
}
