package gcwork

import (
	"fmt"

	"github.com/hupe1980/vmgc/model"
)

// InvariantError reports a corrupted heap.
type InvariantError struct {
	Space  string
	Object model.ObjectReference
	Phase  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("gcwork: heap invariant violated in %s (space %s, object %s): %s", e.Phase, e.Space, e.Object, e.Reason)
}

// ContractError reports a host callback that returned inconsistent data.
type ContractError struct {
	Call   string
	Object model.ObjectReference
	Value  int
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("gcwork: host %s(%s) returned %d", e.Call, e.Object, e.Value)
}
