package scheduler

import "sync/atomic"

const ringSize = 256

type entry struct{ p Packet }

// ring is a bounded FIFO with a single producer (its owner) and many
// consumers (the owner and thieves).
type ring struct {
	head atomic.Uint32
	tail atomic.Uint32
	buf  [ringSize]atomic.Pointer[entry]
}

// push appends p. Only the owner calls push.
func (r *ring) push(p Packet) bool {
	h := r.head.Load()
	t := r.tail.Load()
	if t-h >= ringSize {
		return false
	}
	r.buf[t%ringSize].Store(&entry{p: p})
	r.tail.Store(t + 1)
	return true
}

// pop removes the oldest packet.
func (r *ring) pop() Packet {
	for {
		h := r.head.Load()
		t := r.tail.Load()
		if t == h {
			return nil
		}
		e := r.buf[h%ringSize].Load()
		if r.head.CompareAndSwap(h, h+1) {
			return e.p
		}
	}
}

// grab removes up to half of the packets into batch.
func (r *ring) grab(batch []*entry) int {
	for {
		h := r.head.Load()
		t := r.tail.Load()
		n := t - h
		n -= n / 2
		if n == 0 {
			return 0
		}
		if n > ringSize/2 {
			// Inconsistent h and t; retry.
			continue
		}
		for i := uint32(0); i < n; i++ {
			batch[i] = r.buf[(h+i)%ringSize].Load()
		}
		if r.head.CompareAndSwap(h, h+n) {
			return int(n)
		}
	}
}

func (r *ring) len() int {
	return int(r.tail.Load() - r.head.Load())
}
