package policy

import (
	"runtime"

	"github.com/hupe1980/vmgc/internal/sidemeta"
	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/vm"
)

// ForwardObject evacuates obj exactly once. The goroutine that wins the race
// on obj's forwarding bits copies it through the host, stores the new
// reference in obj's first word and publishes the Forwarded state; the new
// object is queued for scanning. Every other caller waits for the state to
// become Forwarded and returns the stored reference.
func ForwardObject(fwd *sidemeta.Table, obj model.ObjectReference, copier vm.Copier, om vm.ObjectModel, q ObjectQueue) model.ObjectReference {
	a := obj.Address()
	for {
		switch fwd.Load(a) {
		case sidemeta.Forwarded:
			return model.ObjectReference(a.AtomicLoadWord())
		case sidemeta.NotForwarded:
			if !fwd.CompareAndSwap(a, sidemeta.NotForwarded, sidemeta.BeingForwarded) {
				continue
			}
			moved := om.CopyObject(obj, copier)
			a.AtomicStoreWord(uintptr(moved))
			fwd.Store(a, sidemeta.Forwarded)
			q.Enqueue(moved)
			return moved
		default:
			runtime.Gosched()
		}
	}
}

// ForwardedReference returns the forwarding target of obj, or obj itself if
// it has not been forwarded.
func ForwardedReference(fwd *sidemeta.Table, obj model.ObjectReference) model.ObjectReference {
	if fwd.Load(obj.Address()) == sidemeta.Forwarded {
		return model.ObjectReference(obj.Address().AtomicLoadWord())
	}
	return obj
}
