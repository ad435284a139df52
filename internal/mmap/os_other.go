//go:build !linux && !darwin

package mmap

func osReserve(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func osCommit([]byte) error { return nil }

func osDecommit(b []byte) error {
	clear(b)
	return nil
}

func osRelease([]byte) error { return nil }

func osAdvise([]byte, AccessPattern) error { return nil }
