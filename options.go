package vmgc

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/vmgc/internal/plan"
)

// PlanKind selects the collection algorithm.
type PlanKind = plan.Kind

// Available plans.
const (
	NoGC         = plan.NoGC
	SemiSpace    = plan.SemiSpace
	MarkSweep    = plan.MarkSweep
	Immix        = plan.Immix
	Generational = plan.Generational
)

// ParsePlan parses a plan name ("nogc", "semispace", "marksweep", "immix",
// "generational").
func ParsePlan(s string) (PlanKind, error) {
	k, err := plan.ParseKind(s)
	if err != nil {
		return 0, translateError(err)
	}
	return k, nil
}

// Defaults used by New.
const (
	DefaultHeapSize    = 64 << 20
	DefaultNurserySize = 4 << 20
)

// Config is the immutable engine configuration, fixed by New.
type Config struct {
	Plan              PlanKind
	HeapSize          uintptr
	NurserySize       uintptr
	Workers           int
	SurvivorThreshold float64
	FullHeapSystemGC  bool
	StressFactor      uintptr
	DebugChecks       bool
	MaxCommittedBytes int64
}

func (c Config) planConfig() plan.Config {
	return plan.Config{
		Kind:              c.Plan,
		HeapBytes:         c.HeapSize,
		NurseryBytes:      c.NurserySize,
		SurvivorThreshold: c.SurvivorThreshold,
		FullHeapSystemGC:  c.FullHeapSystemGC,
		StressFactor:      c.StressFactor,
		DebugChecks:       c.DebugChecks,
		MaxCommittedBytes: c.MaxCommittedBytes,
	}
}

type options struct {
	cfg              Config
	logger           *Logger
	metricsCollector MetricsCollector
	onFatal          func(error)
}

func defaultOptions() options {
	return options{
		cfg: Config{
			Plan:        Generational,
			HeapSize:    DefaultHeapSize,
			NurserySize: DefaultNurserySize,
			Workers:     runtime.GOMAXPROCS(0),
		},
	}
}

// Option configures New.
type Option func(*options)

// WithPlan selects the collection algorithm. Default: Generational.
func WithPlan(kind PlanKind) Option {
	return func(o *options) {
		o.cfg.Plan = kind
	}
}

// WithHeapSize sets the heap budget in bytes. Default: 64MB.
//
// The budget bounds the pages held by all spaces together; copying plans
// reserve part of it for the copies of a cycle.
func WithHeapSize(bytes uintptr) Option {
	return func(o *options) {
		o.cfg.HeapSize = bytes
	}
}

// WithNurserySize sets the size of one nursery half of the Generational
// plan. Default: 4MB.
func WithNurserySize(bytes uintptr) Option {
	return func(o *options) {
		o.cfg.NurserySize = bytes
	}
}

// WithWorkers sets the number of collector goroutines.
// Default: runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(o *options) {
		o.cfg.Workers = n
	}
}

// WithSurvivorThreshold sets the fraction of the nursery that may be copied
// back per minor cycle before survivors are promoted. Default: 0.5.
func WithSurvivorThreshold(fraction float64) Option {
	return func(o *options) {
		o.cfg.SurvivorThreshold = fraction
	}
}

// WithFullHeapSystemGC makes HandleUserCollectionRequest collect the whole
// heap under the Generational plan.
func WithFullHeapSystemGC(enabled bool) Option {
	return func(o *options) {
		o.cfg.FullHeapSystemGC = enabled
	}
}

// WithStressFactor triggers a collection every bytes allocated. Meant for
// testing hosts; 0 disables it.
func WithStressFactor(bytes uintptr) Option {
	return func(o *options) {
		o.cfg.StressFactor = bytes
	}
}

// WithDebugChecks validates every traced reference and host answer. A
// violation is reported through the fatal handler.
func WithDebugChecks(enabled bool) Option {
	return func(o *options) {
		o.cfg.DebugChecks = enabled
	}
}

// WithMaxCommittedBytes caps the memory committed for the heap and its side
// metadata. 0 means unlimited.
func WithMaxCommittedBytes(bytes int64) Option {
	return func(o *options) {
		o.cfg.MaxCommittedBytes = bytes
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vmgc.NewJSONLogger(slog.LevelInfo)
//	engine, _ := vmgc.New(binding, vmgc.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vmgc.BasicMetricsCollector{}
//	engine, _ := vmgc.New(binding, vmgc.WithMetricsCollector(metrics))
//	// ... run the host ...
//	stats := metrics.GetStats()
//	fmt.Printf("Collections: %d, avg pause: %dns\n", stats.Collections, stats.AvgPauseNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithOnFatal sets the handler for unrecoverable errors: heap invariant
// violations and host contract violations. If the handler returns, the
// cycle continues over a heap that may be corrupt. The default logs the
// error and panics.
func WithOnFatal(fn func(error)) Option {
	return func(o *options) {
		o.onFatal = fn
	}
}
