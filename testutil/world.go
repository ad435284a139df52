package testutil

import "sync"

// World coordinates stop-the-world pauses between a collector and the
// attached threads.
type World struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running int
	stopped bool
	epoch   uint64
}

// NewWorld creates a world with no attached threads.
func NewWorld() *World {
	w := &World{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *World) attach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.stopped {
		w.cond.Wait()
	}
	w.running++
}

func (w *World) detach() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running--
	w.cond.Broadcast()
}

// safepoint parks the caller while the world is stopped.
func (w *World) safepoint() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		return
	}
	w.running--
	w.cond.Broadcast()
	for w.stopped {
		w.cond.Wait()
	}
	w.running++
}

// park blocks the caller until the next resume.
func (w *World) park() {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.epoch
	w.running--
	w.cond.Broadcast()
	for w.epoch == e || w.stopped {
		w.cond.Wait()
	}
	w.running++
}

// Stop blocks until every attached thread is parked.
func (w *World) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for w.running > 0 {
		w.cond.Wait()
	}
}

// Resume releases the parked threads.
func (w *World) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = false
	w.epoch++
	w.cond.Broadcast()
}

// Running returns the number of attached threads that are not parked.
func (w *World) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
