package vmgc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/plan"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// Phase is the state of the collection state machine.
type Phase = plan.Phase

// Collection phases.
const (
	Idle      = plan.Idle
	Preparing = plan.Preparing
	Tracing   = plan.Tracing
	Releasing = plan.Releasing
)

// Engine is a garbage-collected heap bound to one host runtime.
type Engine struct {
	cfg     Config
	binding vm.Binding
	plan    plan.Plan
	ctrl    *plan.Controller
	logger  *Logger
	metrics MetricsCollector
	onFatal func(error)

	mu       sync.RWMutex
	mutators map[*Mutator]struct{}
	closed   atomic.Bool
}

// New reserves the heap and starts the collector workers.
func New(binding vm.Binding, optFns ...Option) (*Engine, error) {
	if binding == nil {
		return nil, fmt.Errorf("%w: nil binding", ErrInvalidArgument)
	}
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidArgument, opts.cfg.Workers)
	}
	if opts.logger == nil {
		opts.logger = NoopLogger()
	}
	if opts.metricsCollector == nil {
		opts.metricsCollector = NoopMetricsCollector{}
	}

	e := &Engine{
		cfg:      opts.cfg,
		binding:  binding,
		logger:   opts.logger.WithPlan(opts.cfg.Plan),
		metrics:  opts.metricsCollector,
		onFatal:  opts.onFatal,
		mutators: make(map[*Mutator]struct{}),
	}
	if e.onFatal == nil {
		e.onFatal = func(err error) { panic(err) }
	}

	p, err := plan.New(plan.Args{Config: opts.cfg.planConfig(), Binding: binding, Fatal: e.fatal})
	if err != nil {
		return nil, translateError(err)
	}
	e.plan = p
	e.ctrl = plan.NewController(p, binding, plan.ControllerOptions{
		Workers:  opts.cfg.Workers,
		Mutators: e.boundMutators,
		OnStart:  e.onStart,
		OnCycle:  e.onCycle,
		Fatal:    e.fatal,
	})

	e.logger.Info("engine started",
		"heap_size", opts.cfg.HeapSize,
		"workers", opts.cfg.Workers,
		"debug_checks", opts.cfg.DebugChecks,
	)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Phase returns the phase of the running cycle, Idle between cycles.
func (e *Engine) Phase() Phase { return e.ctrl.Phase() }

// Mutator is the allocation context of one host thread. A Mutator must only
// be used by the thread it is bound to.
type Mutator struct {
	e         *Engine
	m         *mutator.Mutator
	destroyed bool
}

// BindMutator creates the allocation context for thread. The host reports
// the thread's roots through ScanThreadRoots for every cycle until the
// mutator is destroyed.
func (e *Engine) BindMutator(thread vm.MutatorThread) (*Mutator, error) {
	if thread == nil {
		return nil, fmt.Errorf("%w: nil thread", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	m := &Mutator{e: e}
	m.m = mutator.New(thread, e.plan.MutatorConfig(), handshake{e: e})
	e.mutators[m] = struct{}{}
	return m, nil
}

// DestroyMutator flushes the mutator's write barrier buffer and unbinds it.
// It must be called on the mutator's thread, outside a collection.
func (e *Engine) DestroyMutator(m *Mutator) error {
	if m == nil || m.e != e {
		return fmt.Errorf("%w: mutator not bound to this engine", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.mutators[m]; !ok {
		return fmt.Errorf("%w: mutator already destroyed", ErrInvalidArgument)
	}
	delete(e.mutators, m)
	m.m.Flush()
	m.m.Release()
	m.destroyed = true
	return nil
}

func (e *Engine) boundMutators() []*mutator.Mutator {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*mutator.Mutator, 0, len(e.mutators))
	for m := range e.mutators {
		out = append(out, m.m)
	}
	return out
}

// Thread returns the host thread of the mutator.
func (m *Mutator) Thread() vm.MutatorThread { return m.m.Thread() }

// Alloc allocates size bytes aligned to align with the given semantics. The
// returned memory is zeroed. When the heap is full the calling thread blocks
// for a collection; if even a full-heap collection cannot make room, Alloc
// notifies the host's OutOfMemory callback and returns an
// *OutOfMemoryError.
func (m *Mutator) Alloc(size, align int, sem model.AllocationSemantics) (model.ObjectReference, error) {
	switch {
	case size <= 0:
		return model.NullRef, fmt.Errorf("%w: size %d", ErrInvalidArgument, size)
	case align <= 0 || align&(align-1) != 0 || align > model.BytesInPage:
		return model.NullRef, fmt.Errorf("%w: alignment %d", ErrInvalidArgument, align)
	case !sem.Valid():
		return model.NullRef, fmt.Errorf("%w: allocation semantics %d", ErrInvalidArgument, sem)
	case m.destroyed:
		return model.NullRef, fmt.Errorf("%w: mutator destroyed", ErrInvalidArgument)
	case m.e.closed.Load():
		return model.NullRef, ErrClosed
	}
	align = max(align, model.MinAlignment)

	obj, err := m.m.Alloc(size, align, sem)
	if err == nil {
		return obj, nil
	}
	err = translateError(err)
	var oom *OutOfMemoryError
	if errors.As(err, &oom) {
		m.e.binding.OutOfMemory(m.m.Thread(), err)
		m.e.metrics.RecordOutOfMemory(size)
		m.e.logger.LogOutOfMemory(context.Background(), oom)
	}
	return model.NullRef, err
}

// WriteRef stores target into slot, a field of src, through the plan's
// write barrier.
func (m *Mutator) WriteRef(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	m.m.WriteRef(src, slot, target)
}

// PostWrite runs the write barrier for a store into slot of src that the
// host already made.
func (m *Mutator) PostWrite(src model.ObjectReference, slot model.Address, target model.ObjectReference) {
	m.m.PostWrite(src, slot, target)
}

// Alloc allocates on behalf of m. See Mutator.Alloc.
func (e *Engine) Alloc(m *Mutator, size, align int, sem model.AllocationSemantics) (model.ObjectReference, error) {
	if m == nil || m.e != e {
		return model.NullRef, fmt.Errorf("%w: mutator not bound to this engine", ErrInvalidArgument)
	}
	return m.Alloc(size, align, sem)
}

// HandleUserCollectionRequest runs a collection on behalf of the calling
// mutator thread and parks it until the collection finished. Requests made
// while a cycle is pending or running are served by one follow-up cycle.
func (e *Engine) HandleUserCollectionRequest(thread vm.MutatorThread) error {
	if e.closed.Load() {
		return ErrClosed
	}
	err := translateError(e.ctrl.CollectFrom(thread))
	e.logger.LogCollectionRequest(context.Background(), err)
	return err
}

// IsLive reports whether obj is an allocated object of the heap. Between
// cycles this is true for every object that survived the last collection
// and every object allocated since.
func (e *Engine) IsLive(obj model.ObjectReference) bool {
	return e.IsInHeap(obj.Address()) && e.plan.IsLive(obj)
}

// IsInHeap reports whether addr lies in the heap reservation.
func (e *Engine) IsInHeap(addr model.Address) bool {
	return e.plan.Heap().InHeap(addr)
}

// SpaceStats describes one space.
type SpaceStats struct {
	Name          string
	Kind          string
	ReservedPages int
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Plan                string
	Phase               string
	Collections         uint64
	FullHeapCollections uint64
	UserCollections     uint64
	// FreedBlocks counts blocks returned by sweeping.
	FreedBlocks    uint64
	TotalPages     int
	ReservedPages  int
	CommittedBytes int64
	Mutators       int
	Spaces         []SpaceStats
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	ps := e.plan.Stats()
	st := Stats{
		Plan:                e.cfg.Plan.String(),
		Phase:               e.Phase().String(),
		Collections:         ps.Collections,
		FullHeapCollections: ps.FullHeapCollections,
		UserCollections:     ps.UserCollections,
		FreedBlocks:         ps.FreedBlocks,
		TotalPages:          ps.TotalPages,
		ReservedPages:       ps.ReservedPages,
		CommittedBytes:      ps.CommittedBytes,
	}
	e.mu.RLock()
	st.Mutators = len(e.mutators)
	e.mu.RUnlock()
	for _, s := range ps.Spaces {
		st.Spaces = append(st.Spaces, SpaceStats(s))
	}
	return st
}

func (e *Engine) onStart(n uint64, fullHeap bool, req plan.Request) {
	e.logger.LogCycleStart(context.Background(), n, fullHeap, req.User, req.Emergency)
}

func (e *Engine) onCycle(ci plan.CycleInfo) {
	info := CollectionInfo{
		Cycle:               ci.Number,
		FullHeap:            ci.FullHeap,
		User:                ci.User,
		Emergency:           ci.Emergency,
		Pause:               ci.Duration,
		ReservedPagesBefore: ci.ReservedBefore,
		ReservedPagesAfter:  ci.ReservedAfter,
		Packets:             ci.Packets,
	}
	e.logger.LogCycle(context.Background(), info)
	e.metrics.RecordCollection(info)
}

func (e *Engine) fatal(err error) {
	err = translateError(err)
	e.logger.LogFatal(context.Background(), err)
	e.onFatal(err)
}

// handshake blocks mutators for collections on behalf of the engine.
type handshake struct {
	e *Engine
}

func (h handshake) BlockForGC(m *mutator.Mutator, emergency bool) bool {
	start := time.Now()
	full := h.e.ctrl.BlockForGC(m, emergency)
	wait := time.Since(start)
	h.e.metrics.RecordAllocSlowPath(wait, emergency)
	h.e.logger.LogSlowPath(context.Background(), emergency, wait)
	return full
}
