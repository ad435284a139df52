package scheduler

import "fmt"

// Stage identifies a bucket.
type Stage int32

const (
	Prepare Stage = iota
	RootScan
	Closure
	Release

	NumStages = int(Release) + 1

	stageIdle Stage = -1
)

func (s Stage) String() string {
	switch s {
	case Prepare:
		return "prepare"
	case RootScan:
		return "root-scan"
	case Closure:
		return "closure"
	case Release:
		return "release"
	case stageIdle:
		return "idle"
	default:
		return fmt.Sprintf("stage(%d)", int32(s))
	}
}

// Packet is a unit of GC work. Do runs to completion on one worker.
type Packet interface {
	Do(w *Worker)
}

// PacketFunc adapts a function to a Packet.
type PacketFunc func(w *Worker)

// Do calls f(w).
func (f PacketFunc) Do(w *Worker) { f(w) }
