package vmgc

import "errors"

// Close stops the collector and releases the heap. A running cycle finishes
// first. Mutators and object references of the engine must not be used
// afterwards.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := errors.Join(e.ctrl.Close(), e.plan.Close())
	e.logger.Info("engine closed")
	return translateError(err)
}
