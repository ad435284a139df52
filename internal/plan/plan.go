package plan

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/conv"
	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/internal/scheduler"
	"github.com/hupe1980/vmgc/internal/sidemeta"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// MaxNonLOS is the largest default allocation served outside the large
// object space.
const MaxNonLOS = policy.MaxSizeClassBytes

// ErrInvalidConfig is returned for configurations no plan can run with.
var ErrInvalidConfig = errors.New("plan: invalid configuration")

// maxSpaces bounds the extents of one heap.
const maxSpaces = 8

// Config parameterizes a plan.
type Config struct {
	Kind Kind
	// HeapBytes is the total heap budget.
	HeapBytes uintptr
	// NurseryBytes is the size of one nursery half (Generational).
	NurseryBytes uintptr
	// SurvivorThreshold is the fraction of the nursery that may be copied
	// back into it per minor cycle before survivors are promoted.
	SurvivorThreshold float64
	// FullHeapSystemGC makes user-requested collections full-heap.
	FullHeapSystemGC bool
	// StressFactor triggers a collection every StressFactor bytes acquired
	// by mutators; 0 disables it.
	StressFactor uintptr
	// DebugChecks validates every traced reference.
	DebugChecks bool
	// MaxCommittedBytes caps committed data and metadata; 0 means unlimited.
	MaxCommittedBytes int64
}

// Validate checks cfg for consistency.
func (cfg Config) Validate() error {
	switch {
	case !cfg.Kind.Valid():
		return fmt.Errorf("%w: unknown plan %s", ErrInvalidConfig, cfg.Kind)
	case cfg.HeapBytes < model.BytesInChunk:
		return fmt.Errorf("%w: heap of %d bytes is smaller than a chunk", ErrInvalidConfig, cfg.HeapBytes)
	case cfg.Kind == Generational && cfg.NurseryBytes < alloc.RegionBytes:
		return fmt.Errorf("%w: nursery of %d bytes is smaller than a region", ErrInvalidConfig, cfg.NurseryBytes)
	case cfg.Kind == Generational && cfg.NurseryBytes*2 >= cfg.HeapBytes:
		return fmt.Errorf("%w: nursery of %d bytes does not fit twice into a heap of %d bytes", ErrInvalidConfig, cfg.NurseryBytes, cfg.HeapBytes)
	case cfg.SurvivorThreshold < 0 || cfg.SurvivorThreshold > 1:
		return fmt.Errorf("%w: survivor threshold %v outside [0,1]", ErrInvalidConfig, cfg.SurvivorThreshold)
	}
	return nil
}

// Request describes why a cycle runs.
type Request struct {
	User      bool
	Emergency bool
	// Full forces a full-heap cycle.
	Full bool
}

// SpaceStats describes one space.
type SpaceStats struct {
	Name          string
	Kind          string
	ReservedPages int
}

// Stats are plan counters.
type Stats struct {
	Collections         uint64
	FullHeapCollections uint64
	UserCollections     uint64
	// FreedBlocks counts blocks returned by sweeping.
	FreedBlocks    uint64
	TotalPages     int
	ReservedPages  int
	CommittedBytes int64
	Spaces         []SpaceStats
}

// Plan is a collection algorithm over a fixed set of spaces.
type Plan interface {
	gcwork.Tracer
	policy.Trigger

	Kind() Kind
	Config() Config
	Heap() *heap.Heap
	Spaces() []policy.Space
	// SpaceOf returns the space whose extent contains a, or nil.
	SpaceOf(a model.Address) policy.Space
	TotalPages() int
	ReservedPages() int
	// MutatorConfig returns a fresh allocator layout for one mutator.
	MutatorConfig() mutator.Config
	// IsLive reports whether obj is an allocated object.
	IsLive(obj model.ObjectReference) bool

	// StartCycle is called with the mutators stopped and reports whether
	// the cycle traces the whole heap.
	StartCycle(req Request) (fullHeap bool)
	// PrepareWorker resets a collector's plan state before the cycle runs.
	PrepareWorker(c *gcwork.Collector)
	// Prepare runs as the first packet of the Prepare bucket.
	Prepare(w *scheduler.Worker)
	// ScheduleRoots queues plan-specific root work in the RootScan bucket.
	ScheduleRoots(w *scheduler.Worker)
	// Release runs as the first packet of the Release bucket.
	Release(w *scheduler.Worker)
	// EndCycle is called after the Release bucket drained.
	EndCycle()
	// Recorder returns the slot recorder for traced heap slots, or nil.
	Recorder() gcwork.SlotRecorder
	// Validate checks a traced reference when debug checks are on.
	Validate(obj model.ObjectReference) error

	Stats() Stats
	Close() error
}

// Args are the dependencies of a plan.
type Args struct {
	Config  Config
	Binding vm.Binding
	// Fatal reports an unrecoverable error.
	Fatal func(error)
}

// New creates the plan selected by args.Config.Kind.
func New(args Args) (Plan, error) {
	if err := args.Config.Validate(); err != nil {
		return nil, err
	}
	if args.Fatal == nil {
		args.Fatal = func(err error) { panic(err) }
	}
	switch args.Config.Kind {
	case NoGC:
		return newNoGC(args)
	case SemiSpace:
		return newSemiSpace(args)
	case MarkSweep:
		return newMarkSweep(args)
	case Immix:
		return newImmix(args)
	case Generational:
		return newGenerational(args)
	}
	return nil, fmt.Errorf("%w: unknown plan %s", ErrInvalidConfig, args.Config.Kind)
}

// hooks are the plan-specific parts of the trigger.
type hooks interface {
	collectionRequired(spaceFull bool, space policy.Space, pages int) bool
	ReservedPages() int
}

// base holds what every plan shares: the heap, the immortal and large
// object spaces, the trigger and the counters.
type base struct {
	cfg     Config
	heap    *heap.Heap
	binding vm.Binding
	fatal   func(error)
	hooks   hooks

	immortal *policy.ImmortalSpace
	los      *policy.LargeObjectSpace
	spaces   []policy.Space
	byIndex  [maxSpaces]policy.Space

	totalPages int
	fullHeap   atomic.Bool
	user       atomic.Bool
	stress     atomic.Uint64

	collections     atomic.Uint64
	fullCollections atomic.Uint64
	userCollections atomic.Uint64
	freedBlocks     atomic.Uint64
}

func newBase(args Args) (*base, error) {
	cfg := args.Config
	h, err := heap.New(heap.Config{
		ExtentBytes: conv.AlignUp(cfg.HeapBytes, model.BytesInChunk),
		MaxSpaces:   maxSpaces,
		CommitLimit: cfg.MaxCommittedBytes,
	})
	if err != nil {
		return nil, err
	}
	b := &base{
		cfg:        cfg,
		heap:       h,
		binding:    args.Binding,
		fatal:      args.Fatal,
		totalPages: model.BytesToPagesUp(cfg.HeapBytes),
	}

	b.immortal, err = policy.NewImmortalSpace(b.args("immortal"))
	if err != nil {
		return nil, errors.Join(err, h.Close())
	}
	b.register(b.immortal)

	b.los, err = policy.NewLargeObjectSpace(b.args("los"))
	if err != nil {
		return nil, errors.Join(err, h.Close())
	}
	b.register(b.los)
	return b, nil
}

func (b *base) args(name string) policy.Args {
	return policy.Args{Name: name, Heap: b.heap, Trigger: b}
}

func (b *base) register(s policy.Space) {
	b.spaces = append(b.spaces, s)
	b.byIndex[s.Index()] = s
}

// Config returns the plan's configuration.
func (b *base) Config() Config { return b.cfg }

// Heap returns the plan's heap.
func (b *base) Heap() *heap.Heap { return b.heap }

// Spaces returns every space of the plan.
func (b *base) Spaces() []policy.Space { return b.spaces }

// SpaceOf returns the space containing a, or nil.
func (b *base) SpaceOf(a model.Address) policy.Space {
	i := b.heap.VMMap.SpaceIndex(a)
	if i < 0 || i >= maxSpaces {
		return nil
	}
	return b.byIndex[i]
}

// TotalPages returns the heap budget in pages.
func (b *base) TotalPages() int { return b.totalPages }

// reservedPages sums the pages held by every space.
func (b *base) reservedPages() int {
	n := 0
	for _, s := range b.spaces {
		n += s.ReservedPages()
	}
	return n
}

// Poll implements policy.Trigger.
func (b *base) Poll(spaceFull bool, space policy.Space, pages int) bool {
	if f := b.cfg.StressFactor; f > 0 {
		if b.stress.Add(uint64(model.PagesToBytes(pages))) >= uint64(f) {
			return true
		}
	}
	return b.hooks.collectionRequired(spaceFull, space, pages)
}

// WillNeverFit implements policy.Trigger.
func (b *base) WillNeverFit(pages int) bool {
	return pages > b.totalPages
}

func (b *base) defaultRequired(spaceFull bool, pages int) bool {
	return spaceFull || b.hooks.ReservedPages()+pages > b.totalPages
}

// IsLive reports whether obj is an allocated object.
func (b *base) IsLive(obj model.ObjectReference) bool {
	s := b.SpaceOf(obj.Address())
	return s != nil && s.IsValidObject(obj)
}

// MutatorConfig returns the common bindings; plans fill in AllocDefault.
func (b *base) mutatorConfig() mutator.Config {
	var cfg mutator.Config
	cfg.MaxNonLOS = MaxNonLOS
	cfg.Bindings[model.AllocImmortal] = mutator.Binding{
		Allocator: alloc.NewBumpAllocator(b.immortal, true),
		Space:     b.immortal,
		SpaceName: b.immortal.Name(),
	}
	cfg.Bindings[model.AllocLOS] = mutator.Binding{
		Allocator: alloc.NewLargeObjectAllocator(b.los, true),
		Space:     b.los,
		SpaceName: b.los.Name(),
	}
	return cfg
}

// startCycle records the request; full is the plan's decision.
func (b *base) startCycle(req Request, full bool) bool {
	b.collections.Add(1)
	if full {
		b.fullCollections.Add(1)
	}
	if req.User {
		b.userCollections.Add(1)
	}
	b.fullHeap.Store(full)
	b.user.Store(req.User)
	return full
}

// traceCommon traces objects of the immortal and large object spaces.
func (b *base) traceCommon(c *gcwork.Collector, obj model.ObjectReference) model.ObjectReference {
	a := obj.Address()
	switch {
	case b.immortal.Contains(a):
		return b.immortal.TraceObject(c, obj)
	case b.los.Contains(a):
		return b.los.TraceObject(c, obj)
	}
	return obj
}

// isReachableCommon answers IsReachable for spaces without forwarding.
func (b *base) isReachableCommon(obj model.ObjectReference) bool {
	s := b.SpaceOf(obj.Address())
	return s == nil || s.IsReachable(obj)
}

// prepareCommon clears the marks of the common spaces.
func (b *base) prepareCommon() {
	b.immortal.Prepare()
}

// releaseLOS frees dead large objects. Only full-heap cycles mark the LOS.
func (b *base) releaseLOS() {
	if _, err := b.los.Release(); err != nil {
		b.fatal(b.invariant(b.los.Name(), model.NullRef, "release", err.Error()))
	}
}

func (b *base) endCycle() {
	b.stress.Store(0)
}

// PrepareWorker implements Plan for plans without per-worker state.
func (b *base) PrepareWorker(*gcwork.Collector) {}

// ScheduleRoots implements Plan for plans without extra roots.
func (b *base) ScheduleRoots(*scheduler.Worker) {}

// Recorder implements Plan for plans without a remembered set.
func (b *base) Recorder() gcwork.SlotRecorder { return nil }

// Validate checks that obj is an allocated object.
func (b *base) Validate(obj model.ObjectReference) error {
	s := b.SpaceOf(obj.Address())
	switch {
	case s == nil:
		return b.invariant("none", obj, "", "reference into an unallocated heap extent")
	case !obj.Address().IsAligned(model.MinAlignment):
		return b.invariant(s.Name(), obj, "", "misaligned reference")
	case !s.IsValidObject(obj):
		return b.invariant(s.Name(), obj, "", "reference to a cell without a valid-object bit")
	}
	return nil
}

func (b *base) invariant(space string, obj model.ObjectReference, phase, reason string) error {
	return &gcwork.InvariantError{Space: space, Object: obj, Phase: phase, Reason: reason}
}

// Stats returns the plan counters.
func (b *base) Stats() Stats {
	st := Stats{
		Collections:         b.collections.Load(),
		FullHeapCollections: b.fullCollections.Load(),
		UserCollections:     b.userCollections.Load(),
		FreedBlocks:         b.freedBlocks.Load(),
		TotalPages:          b.totalPages,
		ReservedPages:       b.hooks.ReservedPages(),
		CommittedBytes:      b.heap.Resource.Total(),
	}
	for _, s := range b.spaces {
		st.Spaces = append(st.Spaces, SpaceStats{Name: s.Name(), Kind: s.Kind().String(), ReservedPages: s.ReservedPages()})
	}
	return st
}

// Close releases the heap.
func (b *base) Close() error {
	return b.heap.Close()
}

// objectInit records objects allocated by a mutator or collector.
type objectInit struct {
	meta *sidemeta.Metadata
}

func (o objectInit) InitializeObject(obj model.ObjectReference) {
	o.meta.VO.Set(obj.Address())
}

// regionFunc adapts a function to alloc.RegionSource.
type regionFunc func(pages int, poll bool) (model.Address, error)

func (f regionFunc) AcquireRegion(pages int, poll bool) (model.Address, error) {
	return f(pages, poll)
}

// bumpCopier copies objects into regions of a copy space.
type bumpCopier struct {
	a     *alloc.BumpAllocator
	init  objectInit
	fatal func(error)
}

func (c *bumpCopier) AllocCopy(_ model.ObjectReference, bytes, align int) model.Address {
	a, err := c.a.Alloc(bytes, align)
	if err != nil {
		c.fatal(err)
		panic(err)
	}
	return a
}

func (c *bumpCopier) PostCopy(obj model.ObjectReference, _ int) {
	c.init.InitializeObject(obj)
}
