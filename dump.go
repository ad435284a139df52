package vmgc

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/vmgc/heapdump"
	"github.com/hupe1980/vmgc/internal/plan"
	"github.com/hupe1980/vmgc/internal/visited"
	"github.com/hupe1980/vmgc/model"
)

// DumpHeap runs a full-heap collection and writes the live object graph,
// as reachable from the roots of that cycle, to w. The graph is walked with
// the mutators still stopped.
//
// DumpHeap must not be called from a running mutator thread: it waits for
// the collection without parking through the host.
func (e *Engine) DumpHeap(ctx context.Context, w io.Writer, codec heapdump.Codec) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var dumpErr error
	n, err := e.ctrl.Request(plan.Request{Full: true}, func(roots []model.Address) {
		dumpErr = e.writeDump(ctx, w, codec, roots, e.plan.Stats().Collections)
	})
	if err != nil {
		return translateError(err)
	}
	if err := e.ctrl.Wait(n); err != nil {
		return translateError(err)
	}
	return dumpErr
}

// DumpHeapTo writes a heap dump named name into sink. See DumpHeap.
func (e *Engine) DumpHeapTo(ctx context.Context, sink heapdump.Sink, name string, codec heapdump.Codec) (err error) {
	if sink == nil {
		return fmt.Errorf("%w: nil heap dump sink", ErrInvalidArgument)
	}
	var cw countingWriter
	defer func() {
		e.logger.LogHeapDump(ctx, name, cw.objects, cw.n, err)
	}()

	wc, err := sink.Create(ctx, name)
	if err != nil {
		return err
	}
	cw.w = wc
	if err := e.DumpHeap(ctx, &cw, codec); err != nil {
		_ = wc.Close()
		return err
	}
	return wc.Close()
}

func (e *Engine) writeDump(ctx context.Context, w io.Writer, codec heapdump.Codec, roots []model.Address, cycle uint64) error {
	dw, err := heapdump.NewWriter(w, codec)
	if err != nil {
		return err
	}
	for _, s := range e.plan.Spaces() {
		start, end := s.Extent()
		if err := dw.WriteSpace(heapdump.Space{
			Index:         s.Index(),
			Name:          s.Name(),
			Kind:          s.Kind().String(),
			Start:         uint64(start),
			End:           uint64(end),
			ReservedPages: s.ReservedPages(),
		}); err != nil {
			return err
		}
	}

	walk := newHeapWalk(e.plan)
	var queue []model.ObjectReference
	enqueue := func(obj model.ObjectReference) error {
		first, err := walk.visit(obj)
		if first {
			queue = append(queue, obj)
		}
		return err
	}

	for _, slot := range roots {
		obj := slot.LoadRef()
		if obj.IsNull() {
			continue
		}
		if err := dw.WriteRoot(heapdump.Root{Slot: uint64(slot), Object: uint64(obj)}); err != nil {
			return err
		}
		if err := enqueue(obj); err != nil {
			return err
		}
	}

	var refs []uint64
	for i := 0; len(queue) > 0; i++ {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		obj := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		refs = refs[:0]
		var scanErr error
		e.binding.ScanObject(obj, func(slot model.Address) {
			target := slot.LoadRef()
			if target.IsNull() {
				return
			}
			refs = append(refs, uint64(target))
			if err := enqueue(target); err != nil && scanErr == nil {
				scanErr = err
			}
		})
		if scanErr != nil {
			return scanErr
		}
		if err := dw.WriteObject(heapdump.Object{
			Address: uint64(obj),
			Size:    e.binding.GetObjectSize(obj),
			Space:   e.plan.SpaceOf(obj.Address()).Index(),
			Refs:    refs,
		}); err != nil {
			return err
		}
	}
	if err := dw.Close(cycle); err != nil {
		return err
	}
	if cw, ok := w.(*countingWriter); ok {
		cw.objects = uint64(walk.len())
	}
	return nil
}

// heapWalk records the objects reached by a heap walk, with one visited set
// per space extent.
type heapWalk struct {
	plan plan.Plan
	sets map[int]*visited.Set
}

func newHeapWalk(p plan.Plan) *heapWalk {
	return &heapWalk{plan: p, sets: make(map[int]*visited.Set)}
}

// visit reports whether obj is reached for the first time. References
// outside the heap are never visited; references into the heap but outside
// every space violate the heap invariants.
func (w *heapWalk) visit(obj model.ObjectReference) (bool, error) {
	a := obj.Address()
	if !w.plan.Heap().InHeap(a) {
		return false, nil
	}
	s := w.plan.SpaceOf(a)
	if s == nil {
		return false, &HeapInvariantViolation{Object: obj, Phase: "dump", Reason: "reachable object outside every space"}
	}
	set, ok := w.sets[s.Index()]
	if !ok {
		start, _ := s.Extent()
		set = visited.New(start, model.PagesToBytes(s.ReservedPages()))
		w.sets[s.Index()] = set
	}
	return set.Visit(obj), nil
}

func (w *heapWalk) len() int {
	n := 0
	for _, s := range w.sets {
		n += s.Len()
	}
	return n
}

type countingWriter struct {
	w       io.Writer
	n       int64
	objects uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
