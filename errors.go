package vmgc

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/plan"
	"github.com/hupe1980/vmgc/model"
)

var (
	// ErrOutOfMemory is returned when an allocation cannot be satisfied even
	// after a full-heap collection.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")
)

// OutOfMemoryError describes a failed allocation. It matches
// ErrOutOfMemory.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type OutOfMemoryError struct {
	Requested int
	Space     string
	cause     error
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: %d bytes in space %s", e.Requested, e.Space)
}

func (e *OutOfMemoryError) Unwrap() []error { return []error{ErrOutOfMemory, e.cause} }

// HeapInvariantViolation reports corrupted heap state found by the collector.
// It is always fatal.
type HeapInvariantViolation struct {
	Space  string
	Object model.ObjectReference
	Phase  string
	Reason string
	cause  error
}

func (e *HeapInvariantViolation) Error() string {
	return fmt.Sprintf("heap invariant violated during %s in space %s at %s: %s", e.Phase, e.Space, e.Object, e.Reason)
}

func (e *HeapInvariantViolation) Unwrap() error { return e.cause }

// InvalidHostContract reports a host callback that broke its contract. It is
// detected with debug checks only and is always fatal.
type InvalidHostContract struct {
	Call   string
	Object model.ObjectReference
	Value  int
	cause  error
}

func (e *InvalidHostContract) Error() string {
	return fmt.Sprintf("invalid host contract: %s(%s) returned %d", e.Call, e.Object, e.Value)
}

func (e *InvalidHostContract) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(*OutOfMemoryError); ok {
		return err
	}
	var ae *mutator.AllocError
	if errors.As(err, &ae) {
		if ae.OutOfMemory() {
			return &OutOfMemoryError{Requested: ae.Requested, Space: ae.Space, cause: err}
		}
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	var ie *gcwork.InvariantError
	if errors.As(err, &ie) {
		return &HeapInvariantViolation{Space: ie.Space, Object: ie.Object, Phase: ie.Phase, Reason: ie.Reason, cause: err}
	}
	var ce *gcwork.ContractError
	if errors.As(err, &ce) {
		return &InvalidHostContract{Call: ce.Call, Object: ce.Object, Value: ce.Value, cause: err}
	}

	if errors.Is(err, plan.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, plan.ErrInvalidConfig) {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	return err
}
