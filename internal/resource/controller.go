package resource

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrLimitExceeded is returned when a commit would exceed the configured cap.
var ErrLimitExceeded = errors.New("committed memory limit exceeded")

// Kind classifies committed memory.
type Kind int

const (
	// Data is memory holding managed objects.
	Data Kind = iota
	// Metadata is memory holding side metadata tables.
	Metadata
	numKinds
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Data:
		return "data"
	case Metadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// Config holds resource limits.
type Config struct {
	// LimitBytes is the hard cap on committed bytes across all kinds.
	// If 0, usage is only tracked.
	LimitBytes int64
}

// Controller tracks committed memory.
type Controller struct {
	cfg Config

	sem  *semaphore.Weighted // nil if unlimited
	used [numKinds]atomic.Int64
	peak atomic.Int64
}

// NewController creates a new controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.LimitBytes > 0 {
		c.sem = semaphore.NewWeighted(cfg.LimitBytes)
	}
	return c
}

// Acquire charges bytes of the given kind. It never blocks.
func (c *Controller) Acquire(kind Kind, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.sem != nil && !c.sem.TryAcquire(bytes) {
		return ErrLimitExceeded
	}
	c.used[kind].Add(bytes)

	total := c.Total()
	for {
		p := c.peak.Load()
		if total <= p || c.peak.CompareAndSwap(p, total) {
			break
		}
	}
	return nil
}

// Release returns bytes of the given kind.
func (c *Controller) Release(kind Kind, bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.sem != nil {
		c.sem.Release(bytes)
	}
	c.used[kind].Add(-bytes)
}

// Usage returns the committed bytes of one kind.
func (c *Controller) Usage(kind Kind) int64 {
	if c == nil {
		return 0
	}
	return c.used[kind].Load()
}

// Total returns the committed bytes across all kinds.
func (c *Controller) Total() int64 {
	if c == nil {
		return 0
	}
	var n int64
	for i := range c.used {
		n += c.used[i].Load()
	}
	return n
}

// Peak returns the high-water mark of Total.
func (c *Controller) Peak() int64 {
	if c == nil {
		return 0
	}
	return c.peak.Load()
}

// Limit returns the configured cap in bytes (0 if unlimited).
func (c *Controller) Limit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.LimitBytes
}
