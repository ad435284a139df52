// Package gcwork implements the tracing work packets of a collection.
//
// Tracing is breadth first and never recursive:
//
//	ScanThreadRoots / ScanVMRoots / ProcessRememberedSet
//	        │ slots
//	        ▼
//	ProcessEdges ──newly reached objects──▶ ScanObjects
//	        ▲                                   │
//	        └──────────── slots ────────────────┘
//
// ProcessEdges loads each slot, asks the plan's Tracer for the object's
// current reference (marking or forwarding it on first contact) and writes
// the reference back if the object moved. Objects reached for the first
// time are batched per worker in a Collector and scanned by ScanObjects
// packets, which emit ProcessEdges packets for their outgoing slots.
package gcwork
