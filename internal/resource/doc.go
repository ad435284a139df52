// Package resource caps and accounts the memory the heap commits from the OS.
//
// Every chunk the heap maps, whether object data or side metadata, is
// charged against a Controller before the pages are made accessible. The
// limit is enforced with a weighted semaphore; acquisition never blocks, so a
// space that hits the cap fails fast and the caller turns the failure into a
// collection request or an out-of-memory error.
//
//	rc := resource.NewController(resource.Config{LimitBytes: 256 << 20})
//	if err := rc.Acquire(resource.Data, 4<<20); err != nil {
//	    // ErrLimitExceeded
//	}
//	defer rc.Release(resource.Data, 4<<20)
//
// All methods are safe for concurrent use and treat a nil Controller as
// unlimited.
package resource
