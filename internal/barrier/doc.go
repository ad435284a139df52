// Package barrier implements the slot-remembering write barrier used by the
// generational plan.
//
// A store of a nursery reference into a slot of an object outside the
// nursery is recorded in the storing mutator's modification buffer. Full
// buffers, and every buffer at the start of a collection, are flushed into
// the shared RememberedSet. A minor collection treats the remembered slots
// as extra roots; it reads each slot's value at that time, so later
// overwrites of a recorded slot are harmless.
package barrier
