package vmgc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Logger wraps slog.Logger with collector-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger

	// slowPath throttles the warnings of mutators blocking for emergency
	// collections, which can repeat at allocation rate.
	slowPath *rate.Sometimes
}

func newLogger(l *slog.Logger) *Logger {
	return &Logger{
		Logger:   l,
		slowPath: &rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return newLogger(slog.New(handler))
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return newLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return newLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return newLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})))
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), slowPath: l.slowPath}
}

// WithPlan adds the plan name to the logger.
func (l *Logger) WithPlan(kind PlanKind) *Logger {
	return l.with("plan", kind.String())
}

// WithCycle adds a cycle number to the logger.
func (l *Logger) WithCycle(n uint64) *Logger {
	return l.with("cycle", n)
}

// WithSpace adds a space name to the logger.
func (l *Logger) WithSpace(name string) *Logger {
	return l.with("space", name)
}

// LogCycleStart logs a collection whose mutators were just stopped.
func (l *Logger) LogCycleStart(ctx context.Context, cycle uint64, fullHeap, user, emergency bool) {
	l.InfoContext(ctx, "collection started",
		"cycle", cycle,
		"full_heap", fullHeap,
		"user", user,
		"emergency", emergency,
	)
}

// LogCycle logs a finished collection.
func (l *Logger) LogCycle(ctx context.Context, info CollectionInfo) {
	l.InfoContext(ctx, "collection finished",
		"cycle", info.Cycle,
		"full_heap", info.FullHeap,
		"user", info.User,
		"emergency", info.Emergency,
		"pause", info.Pause,
		"reserved_pages_before", info.ReservedPagesBefore,
		"reserved_pages_after", info.ReservedPagesAfter,
		"packets", info.Packets,
	)
}

// LogCollectionRequest logs a collection requested by the host.
func (l *Logger) LogCollectionRequest(ctx context.Context, err error) {
	if err != nil {
		l.WarnContext(ctx, "collection request failed", "error", err)
		return
	}
	l.DebugContext(ctx, "collection requested")
}

// LogSlowPath logs a mutator that blocked for a collection while
// allocating. Emergency collections are warned about, throttled.
func (l *Logger) LogSlowPath(ctx context.Context, emergency bool, wait time.Duration) {
	if !emergency {
		l.DebugContext(ctx, "allocation triggered collection", "wait", wait)
		return
	}
	l.slowPath.Do(func() {
		l.WarnContext(ctx, "allocation retried after emergency collection", "wait", wait)
	})
}

// LogOutOfMemory logs a failed allocation.
func (l *Logger) LogOutOfMemory(ctx context.Context, err *OutOfMemoryError) {
	l.WarnContext(ctx, "out of memory",
		"requested", err.Requested,
		"space", err.Space,
		"error", err.cause,
	)
}

// LogFatal logs an unrecoverable error.
func (l *Logger) LogFatal(ctx context.Context, err error) {
	l.ErrorContext(ctx, "fatal collector error", "error", err)
}

// LogHeapDump logs a written heap snapshot.
func (l *Logger) LogHeapDump(ctx context.Context, name string, objects uint64, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "heap dump failed",
			"name", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "heap dump written",
		"name", name,
		"objects", objects,
		"bytes", bytes,
	)
}
