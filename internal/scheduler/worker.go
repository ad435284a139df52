package scheduler

import "math/rand/v2"

// Worker is one GC worker goroutine.
type Worker struct {
	// ID is the worker's index in [0, Workers()).
	ID int
	// Local holds per-worker state owned by the packets' package.
	Local any

	s     *Scheduler
	local ring
}

// Scheduler returns the scheduler running w.
func (w *Worker) Scheduler() *Scheduler { return w.s }

// AddWork queues p for stage. Packets for the open bucket go to w's ring.
func (w *Worker) AddWork(stage Stage, p Packet) {
	s := w.s
	if stage != s.Stage() {
		s.AddWork(stage, p)
		return
	}
	s.inFlight.Add(1)
	if !w.local.push(p) {
		s.inFlight.Add(-1)
		s.AddWork(stage, p)
		return
	}
	if s.idle.Load() > 0 {
		s.mu.Lock()
		s.cond.Signal()
		s.mu.Unlock()
	}
}

func (w *Worker) run() {
	for {
		if p := w.poll(); p != nil {
			w.execute(p)
			continue
		}
		p, ok := w.park()
		if !ok {
			return
		}
		if p != nil {
			w.execute(p)
		}
	}
}

func (w *Worker) execute(p Packet) {
	p.Do(w)
	w.s.packets.Add(1)
	w.s.inFlight.Add(-1)
}

func (w *Worker) poll() Packet {
	if p := w.local.pop(); p != nil {
		return p
	}
	if p := w.s.popShared(); p != nil {
		return p
	}
	return w.steal()
}

func (w *Worker) steal() Packet {
	peers := w.s.workers
	n := len(peers)
	if n < 2 {
		return nil
	}
	var batch [ringSize / 2]*entry
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		victim := peers[(start+i)%n]
		if victim == w {
			continue
		}
		got := victim.local.grab(batch[:])
		if got == 0 {
			continue
		}
		w.s.steals.Add(1)
		for _, e := range batch[:got-1] {
			// Our ring is empty, so half of a peer's ring always fits.
			w.local.push(e.p)
		}
		return batch[got-1].p
	}
	return nil
}

// park blocks until there may be work. It returns a packet taken from the
// shared queue, or nil if w should poll again; ok is false once the
// scheduler is closed.
func (w *Worker) park() (p Packet, ok bool) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return nil, false
		}
		s.idle.Add(1)
		if s.active {
			if p := s.popSharedLocked(); p != nil {
				s.idle.Add(-1)
				return p, true
			}
			if s.inFlight.Load() == 0 {
				s.idle.Add(-1)
				s.advanceLocked()
				continue
			}
			if s.stealable() {
				s.idle.Add(-1)
				return nil, true
			}
		}
		s.cond.Wait()
		s.idle.Add(-1)
	}
}
