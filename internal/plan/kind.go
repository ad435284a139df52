package plan

import (
	"fmt"
	"strings"
)

// Kind selects a plan.
type Kind uint8

const (
	NoGC Kind = iota
	SemiSpace
	MarkSweep
	Immix
	Generational
)

var kindNames = [...]string{
	NoGC:         "nogc",
	SemiSpace:    "semispace",
	MarkSweep:    "marksweep",
	Immix:        "immix",
	Generational: "generational",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("plan(%d)", uint8(k))
}

// Valid reports whether k names a plan.
func (k Kind) Valid() bool { return int(k) < len(kindNames) }

// ParseKind parses a plan name as returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown plan %q", ErrInvalidConfig, s)
}

// Phase is the state of the collection state machine.
type Phase int32

const (
	Idle Phase = iota
	Preparing
	Tracing
	Releasing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Tracing:
		return "tracing"
	case Releasing:
		return "releasing"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}
