// Package vm defines the contract between vmgc and the runtime that embeds it.
//
// The host runtime implements Binding and hands it to vmgc.New. The engine
// never interprets object contents itself: it asks the host for object sizes,
// outgoing references, and copies, and it asks the host to stop and resume
// application threads around a collection.
//
// # Call Rules
//
//   - ScanObject, GetObjectSize and CopyObject run on GC worker goroutines,
//     concurrently with each other, while all mutators are stopped.
//   - ScanThreadRoots and ScanVMSpecificRoots are called once per cycle.
//   - StopAllMutators returns only when every bound mutator is parked at a
//     GC safe point; ResumeMutators releases them.
//   - BlockForGC is called on the mutator's own goroutine and must not
//     return before the requested collection has finished.
//
// Violating these rules is an InvalidHostContract condition. With debug
// checks enabled the engine detects the detectable ones and fails fatally.
package vm
