package vm

import "github.com/hupe1980/vmgc/model"

// MutatorThread is the host's opaque handle for an application thread.
type MutatorThread any

// RootSink receives root slots reported by the host.
type RootSink interface {
	// ReportSlots reports addresses of words holding object references.
	// The slice may be reused by the caller after the call returns.
	ReportSlots(slots []model.Address)
}

// Copier allocates the destination of an object being moved.
type Copier interface {
	// AllocCopy returns zeroed memory of the given size for a copy of original.
	AllocCopy(original model.ObjectReference, bytes, align int) model.Address
	// PostCopy is called once the host has written the copy.
	PostCopy(obj model.ObjectReference, bytes int)
}

// ObjectModel exposes the host's object layout.
type ObjectModel interface {
	// GetObjectSize returns the object's size in bytes.
	GetObjectSize(obj model.ObjectReference) int
	// CopyObject copies obj into memory obtained from copier and returns the
	// new reference. The first word of the old object may be overwritten by
	// the engine once CopyObject returns.
	CopyObject(obj model.ObjectReference, copier Copier) model.ObjectReference
}

// Scanning enumerates roots and object edges.
type Scanning interface {
	// ScanObject calls visit with the address of each reference slot of obj.
	ScanObject(obj model.ObjectReference, visit func(slot model.Address))
	// ScanThreadRoots reports the roots held by one mutator thread.
	ScanThreadRoots(thread MutatorThread, sink RootSink)
	// ScanVMSpecificRoots reports global roots (statics, handles, ...).
	ScanVMSpecificRoots(sink RootSink)
}

// Collection lets the engine control application threads.
type Collection interface {
	// StopAllMutators blocks until every mutator is parked at a safe point.
	StopAllMutators()
	// ResumeMutators releases the mutators parked by StopAllMutators.
	ResumeMutators()
	// BlockForGC parks the calling mutator until the current collection ends.
	BlockForGC(thread MutatorThread)
	// OutOfMemory is notified before an allocation fails with err.
	OutOfMemory(thread MutatorThread, err error)
	// GCStarted is called after the mutators are stopped.
	GCStarted()
	// GCFinished is called before the mutators are resumed.
	GCFinished()
}

// Binding is everything the engine needs from its host.
type Binding interface {
	ObjectModel
	Scanning
	Collection
}

// WeakContext is available to a WeakProcessor while the closure is drained.
type WeakContext interface {
	// IsLive reports whether obj was reached in this cycle.
	IsLive(obj model.ObjectReference) bool
	// GetForwarded returns obj's current reference, following forwarding.
	// Unreached objects are returned unchanged.
	GetForwarded(obj model.ObjectReference) model.ObjectReference
	// Retain keeps obj and everything reachable from it alive and returns its
	// current reference.
	Retain(obj model.ObjectReference) model.ObjectReference
}

// WeakProcessor is optionally implemented by a Binding that holds weak
// references or finalizable objects.
type WeakProcessor interface {
	// ProcessWeakRefs is called each time the transitive closure drains. If
	// it retained objects it returns true and is called again after the
	// closure has drained once more.
	ProcessWeakRefs(ctx WeakContext) bool
}
