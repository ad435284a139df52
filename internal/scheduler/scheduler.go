package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrBusy is returned when a cycle is started while another one runs.
var ErrBusy = errors.New("scheduler: cycle already running")

type bucket struct {
	queue    []Packet
	sentinel Packet
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Packets uint64
	Steals  uint64
	Cycles  uint64
}

// Scheduler owns the worker pool and the buckets of the running cycle.
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets [NumStages]bucket
	active  bool
	closed  bool
	done    chan struct{}
	onOpen  func(Stage)

	stage    atomic.Int32
	inFlight atomic.Int64
	idle     atomic.Int32

	packets atomic.Uint64
	steals  atomic.Uint64
	cycles  atomic.Uint64

	workers []*Worker
	group   errgroup.Group
}

// New starts n worker goroutines. init, if non-nil, is called for each
// worker before it starts.
func New(n int, init func(w *Worker)) *Scheduler {
	n = max(n, 1)
	s := &Scheduler{}
	s.cond = sync.NewCond(&s.mu)
	s.stage.Store(int32(stageIdle))

	s.workers = make([]*Worker, n)
	for i := range s.workers {
		w := &Worker{ID: i, s: s}
		if init != nil {
			init(w)
		}
		s.workers[i] = w
	}
	for _, w := range s.workers {
		s.group.Go(func() error {
			w.run()
			return nil
		})
	}
	return s
}

// Workers returns the worker pool. The slice must not be modified.
func (s *Scheduler) Workers() []*Worker { return s.workers }

// Stage returns the open stage, or an idle marker between cycles.
func (s *Scheduler) Stage() Stage { return Stage(s.stage.Load()) }

// Stats returns the cumulative counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Packets: s.packets.Load(),
		Steals:  s.steals.Load(),
		Cycles:  s.cycles.Load(),
	}
}

// AddWork queues packets in the bucket of stage.
func (s *Scheduler) AddWork(stage Stage, ps ...Packet) {
	if len(ps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active && stage < s.Stage() {
		panic("scheduler: work added to closed bucket " + stage.String())
	}
	b := &s.buckets[stage]
	b.queue = append(b.queue, ps...)
	if s.active && stage == s.Stage() {
		s.inFlight.Add(int64(len(ps)))
		s.wakeLocked(len(ps))
	}
}

// SetSentinel registers p to run when the bucket of stage drains. It runs
// at most once per registration.
func (s *Scheduler) SetSentinel(stage Stage, p Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[stage].sentinel = p
}

// Run executes one cycle with the packets queued so far and returns when
// the Release bucket has drained. onOpen is called, under the scheduler
// lock, each time a bucket opens.
func (s *Scheduler) Run(onOpen func(Stage)) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrBusy
	}
	s.active = true
	s.onOpen = onOpen
	done := make(chan struct{})
	s.done = done

	s.openLocked(Prepare)
	if len(s.buckets[Prepare].queue) == 0 {
		s.advanceLocked()
	} else {
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	<-done
	return nil
}

// Close stops the workers. It must not be called while a cycle runs.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.group.Wait()
}

func (s *Scheduler) openLocked(stage Stage) {
	s.stage.Store(int32(stage))
	s.inFlight.Add(int64(len(s.buckets[stage].queue)))
	if s.onOpen != nil {
		s.onOpen(stage)
	}
}

// advanceLocked is called when the open bucket has no packets in flight.
func (s *Scheduler) advanceLocked() {
	for {
		stage := s.Stage()
		b := &s.buckets[stage]
		if p := b.sentinel; p != nil {
			b.sentinel = nil
			b.queue = append(b.queue, p)
			s.inFlight.Add(1)
			s.wakeLocked(1)
			return
		}
		if stage == Release {
			s.finishLocked()
			return
		}
		next := stage + 1
		s.openLocked(next)
		if len(s.buckets[next].queue) > 0 {
			s.cond.Broadcast()
			return
		}
	}
}

func (s *Scheduler) finishLocked() {
	s.active = false
	s.onOpen = nil
	s.stage.Store(int32(stageIdle))
	s.cycles.Add(1)
	close(s.done)
}

func (s *Scheduler) wakeLocked(n int) {
	if n > 1 {
		s.cond.Broadcast()
	} else {
		s.cond.Signal()
	}
}

func (s *Scheduler) popShared() Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popSharedLocked()
}

func (s *Scheduler) popSharedLocked() Packet {
	if !s.active {
		return nil
	}
	b := &s.buckets[s.Stage()]
	n := len(b.queue)
	if n == 0 {
		return nil
	}
	p := b.queue[n-1]
	b.queue[n-1] = nil
	b.queue = b.queue[:n-1]
	return p
}

func (s *Scheduler) stealable() bool {
	for _, w := range s.workers {
		if w.local.len() > 0 {
			return true
		}
	}
	return false
}
