package sidemeta

import "github.com/hupe1980/vmgc/model"

// Spec describes one side metadata table.
type Spec struct {
	Name string
	// LogBits is log2 of the entry width in bits (0..3).
	LogBits int
	// LogRegion is log2 of the heap bytes described by one entry.
	LogRegion int
}

// Specs used by the engine.
var (
	VOBit          = Spec{Name: "vo-bit", LogBits: 0, LogRegion: model.LogBytesInWord}
	MarkBit        = Spec{Name: "mark-bit", LogBits: 0, LogRegion: model.LogBytesInWord}
	ForwardingBits = Spec{Name: "forwarding-bits", LogBits: 1, LogRegion: model.LogBytesInWord}
	BlockState     = Spec{Name: "block-state", LogBits: 3, LogRegion: model.LogBytesInBlock}
	BlockSizeClass = Spec{Name: "block-size-class", LogBits: 3, LogRegion: model.LogBytesInBlock}
)

// Forwarding states stored in ForwardingBits.
const (
	NotForwarded   uint8 = 0
	BeingForwarded uint8 = 1
	Forwarded      uint8 = 2
)

// Bits returns the entry width in bits.
func (s Spec) Bits() int { return 1 << s.LogBits }

// MetaBytes returns the metadata bytes needed to describe dataBytes of heap.
func (s Spec) MetaBytes(dataBytes uintptr) uintptr {
	entries := dataBytes >> s.LogRegion
	return (entries<<s.LogBits + 7) >> 3
}

func (s Spec) String() string { return s.Name }
