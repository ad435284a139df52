package heap

import (
	"errors"

	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/internal/sidemeta"
	"github.com/hupe1980/vmgc/model"
)

// Config describes the heap reservation.
type Config struct {
	// ExtentBytes is the minimum size of each space extent.
	ExtentBytes uintptr
	// MaxSpaces is the number of extents to reserve.
	MaxSpaces int
	// CommitLimit caps committed bytes (data and metadata); 0 means unlimited.
	CommitLimit int64
}

// Heap bundles the address space, commit machinery and side metadata.
type Heap struct {
	VMMap    *VMMap
	Mmapper  *Mmapper
	Meta     *sidemeta.Metadata
	Resource *resource.Controller
}

// New reserves the heap described by cfg.
func New(cfg Config) (*Heap, error) {
	vm, err := NewVMMap(cfg.ExtentBytes, cfg.MaxSpaces)
	if err != nil {
		return nil, err
	}
	rc := resource.NewController(resource.Config{LimitBytes: cfg.CommitLimit})

	meta, err := sidemeta.New(vm.Start(), vm.End().Diff(vm.Start()), rc)
	if err != nil {
		_ = vm.Close()
		return nil, err
	}

	return &Heap{
		VMMap:    vm,
		Mmapper:  NewMmapper(vm, meta, rc),
		Meta:     meta,
		Resource: rc,
	}, nil
}

// InHeap reports whether a lies inside the heap reservation.
func (h *Heap) InHeap(a model.Address) bool {
	return h.VMMap.InHeap(a)
}

// Close releases all reserved memory.
func (h *Heap) Close() error {
	return errors.Join(h.Meta.Close(), h.VMMap.Close())
}
