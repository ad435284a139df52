package plan

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// ErrClosed is returned by requests made after Close.
var ErrClosed = errors.New("plan: controller closed")

// CycleInfo describes a finished cycle.
type CycleInfo struct {
	Number         uint64
	FullHeap       bool
	User           bool
	Emergency      bool
	Duration       time.Duration
	ReservedBefore int
	ReservedAfter  int
	Packets        uint64
}

// ControllerOptions configure a controller.
type ControllerOptions struct {
	Workers int
	// Mutators returns the mutators to prepare and scan each cycle.
	Mutators func() []*mutator.Mutator
	// OnStart, if set, is called once the mutators are stopped and the plan
	// decided the scope of cycle n.
	OnStart func(n uint64, fullHeap bool, req Request)
	// OnCycle, if set, is called after every cycle with the mutators still
	// stopped.
	OnCycle func(CycleInfo)
	Fatal   func(error)
}

type pending struct {
	requested bool
	req       Request
	after     []func(roots []model.Address)
}

// Controller turns collection requests into cycles. Requests that arrive
// while a cycle is pending or running coalesce into one follow-up cycle.
type Controller struct {
	plan    Plan
	binding vm.Binding
	opts    ControllerOptions
	sched   *scheduler.Scheduler
	ctx     *gcwork.Context

	mu        sync.Mutex
	cond      *sync.Cond
	pending   pending
	started   uint64
	completed uint64
	lastFull  uint64
	closed    bool
	done      chan struct{}

	phase atomic.Int32
}

// NewController starts the scheduler workers and the controller goroutine.
func NewController(p Plan, binding vm.Binding, opts ControllerOptions) *Controller {
	if opts.Fatal == nil {
		opts.Fatal = func(err error) { panic(err) }
	}
	c := &Controller{
		plan:    p,
		binding: binding,
		opts:    opts,
		done:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.ctx = &gcwork.Context{
		Binding:  binding,
		Heap:     p.Heap(),
		Tracer:   p,
		Recorder: p.Recorder(),
		Fatal:    opts.Fatal,
	}
	if p.Config().DebugChecks {
		c.ctx.Validate = p.Validate
		c.ctx.Debug = true
	}
	c.sched = scheduler.New(opts.Workers, func(w *scheduler.Worker) {
		gcwork.NewCollector(c.ctx, w)
	})
	go c.loop()
	return c
}

// Phase returns the phase of the running cycle.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Scheduler returns the work-packet scheduler.
func (c *Controller) Scheduler() *scheduler.Scheduler { return c.sched }

// Request asks for a cycle and returns the number of the cycle that will
// serve it. after, if set, runs once that cycle has released with the
// mutators still stopped, and receives the root slots of the cycle.
func (c *Controller) Request(req Request, after func(roots []model.Address)) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.pending.requested = true
	c.pending.req.User = c.pending.req.User || req.User
	c.pending.req.Emergency = c.pending.req.Emergency || req.Emergency
	c.pending.req.Full = c.pending.req.Full || req.Full
	if after != nil {
		c.pending.after = append(c.pending.after, after)
	}
	c.cond.Broadcast()
	return c.started + 1, nil
}

// Wait blocks until cycle n has finished. It must not be called by a
// running mutator.
func (c *Controller) Wait(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.completed < n {
		if c.closed {
			return ErrClosed
		}
		c.cond.Wait()
	}
	return nil
}

// Completed returns the number of finished cycles.
func (c *Controller) Completed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// BlockForGC implements mutator.Handshake. The mutator is parked through
// the host until the requested cycle has finished.
func (c *Controller) BlockForGC(m *mutator.Mutator, emergency bool) bool {
	n, err := c.Request(Request{Emergency: emergency}, nil)
	if err != nil {
		return true
	}
	return c.park(m.Thread(), n)
}

// CollectFrom runs a user-requested cycle on behalf of thread and blocks
// it until the cycle finished.
func (c *Controller) CollectFrom(thread vm.MutatorThread) error {
	n, err := c.Request(Request{User: true}, nil)
	if err != nil {
		return err
	}
	c.park(thread, n)
	return nil
}

func (c *Controller) park(thread vm.MutatorThread, n uint64) bool {
	for {
		c.mu.Lock()
		completed, lastFull, closed := c.completed, c.lastFull, c.closed
		c.mu.Unlock()
		if completed >= n {
			return lastFull >= n
		}
		if closed {
			return true
		}
		c.binding.BlockForGC(thread)
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		for !c.pending.requested && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		p := c.pending
		c.pending = pending{}
		c.started++
		n := c.started
		c.mu.Unlock()

		c.collect(n, p)
	}
}

// collect runs cycle n. The cycle is published as completed before the
// mutators resume, so that a woken mutator observes it.
func (c *Controller) collect(n uint64, p pending) {
	c.binding.StopAllMutators()
	c.binding.GCStarted()

	start := time.Now()
	before := c.plan.ReservedPages()
	packets := c.sched.Stats().Packets
	full := c.plan.StartCycle(p.req)
	if c.opts.OnStart != nil {
		c.opts.OnStart(n, full, p.req)
	}
	c.ctx.RecordRoots(len(p.after) > 0)

	var mutators []*mutator.Mutator
	if c.opts.Mutators != nil {
		mutators = c.opts.Mutators()
	}
	for _, w := range c.sched.Workers() {
		c.plan.PrepareWorker(gcwork.CollectorOf(w))
	}
	c.schedule(mutators, full)

	if err := c.sched.Run(c.onOpen); err != nil {
		c.opts.Fatal(err)
	}
	c.plan.EndCycle()
	c.phase.Store(int32(Idle))

	if len(p.after) > 0 {
		roots := c.ctx.Roots()
		for _, fn := range p.after {
			fn(roots)
		}
		c.ctx.RecordRoots(false)
	}
	if c.opts.OnCycle != nil {
		c.opts.OnCycle(CycleInfo{
			Number:         n,
			FullHeap:       full,
			User:           p.req.User,
			Emergency:      p.req.Emergency,
			Duration:       time.Since(start),
			ReservedBefore: before,
			ReservedAfter:  c.plan.ReservedPages(),
			Packets:        c.sched.Stats().Packets - packets,
		})
	}

	c.binding.GCFinished()

	c.mu.Lock()
	c.completed = n
	if full {
		c.lastFull = n
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	c.binding.ResumeMutators()
}

func (c *Controller) onOpen(s scheduler.Stage) {
	switch s {
	case scheduler.Prepare:
		c.phase.Store(int32(Preparing))
	case scheduler.RootScan, scheduler.Closure:
		c.phase.Store(int32(Tracing))
	case scheduler.Release:
		c.phase.Store(int32(Releasing))
	}
}

func (c *Controller) schedule(mutators []*mutator.Mutator, full bool) {
	s := c.sched
	s.AddWork(scheduler.Prepare, scheduler.PacketFunc(func(w *scheduler.Worker) {
		c.plan.Prepare(w)
		for _, m := range mutators {
			w.AddWork(scheduler.Prepare, &prepareMutator{m: m, full: full})
		}
	}))

	s.AddWork(scheduler.RootScan, gcwork.ScanVMRoots{}, scheduler.PacketFunc(c.plan.ScheduleRoots))
	for _, m := range mutators {
		s.AddWork(scheduler.RootScan, &gcwork.ScanThreadRoots{Thread: m.Thread()})
	}

	if wp, ok := c.binding.(vm.WeakProcessor); ok {
		s.SetSentinel(scheduler.Closure, &gcwork.ProcessWeakRefs{Processor: wp})
	}

	s.AddWork(scheduler.Release, scheduler.PacketFunc(func(w *scheduler.Worker) {
		c.plan.Release(w)
		for _, m := range mutators {
			w.AddWork(scheduler.Release, &releaseMutator{m: m})
		}
	}))
}

// Close stops the controller and the workers. Pending requests fail with
// ErrClosed; a running cycle finishes first.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.done
	return c.sched.Close()
}

type prepareMutator struct {
	m    *mutator.Mutator
	full bool
}

func (p *prepareMutator) Do(*scheduler.Worker) { p.m.Prepare(p.full) }

type releaseMutator struct {
	m *mutator.Mutator
}

func (p *releaseMutator) Do(*scheduler.Worker) { p.m.Release() }
