package policy

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vmgc/internal/heap"
	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/internal/sidemeta"
	"github.com/hupe1980/vmgc/model"
)

var (
	// ErrCollectionRequired is returned to a mutator whose page request must
	// wait for a collection.
	ErrCollectionRequired = errors.New("policy: collection required")
	// ErrHeapTooSmall is returned when a single request exceeds the heap.
	ErrHeapTooSmall = errors.New("policy: request exceeds total heap")
	// ErrCopyReserveExhausted is returned when a collector cannot allocate a
	// copy. It is fatal for the cycle.
	ErrCopyReserveExhausted = errors.New("policy: copy reserve exhausted")
)

// Kind identifies a space policy.
type Kind uint8

const (
	KindCopy Kind = iota
	KindMarkSweep
	KindImmix
	KindLargeObject
	KindImmortal
)

func (k Kind) String() string {
	switch k {
	case KindCopy:
		return "copy"
	case KindMarkSweep:
		return "marksweep"
	case KindImmix:
		return "immix"
	case KindLargeObject:
		return "los"
	case KindImmortal:
		return "immortal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Trigger decides whether a mutator page request must wait for a collection.
type Trigger interface {
	// Poll reports whether a collection is required before space can hand
	// out more pages. spaceFull is set when the space itself ran out.
	Poll(spaceFull bool, space Space, pages int) bool
	// WillNeverFit reports whether pages exceeds the whole heap.
	WillNeverFit(pages int) bool
}

// ObjectQueue receives objects whose outgoing edges still need scanning.
type ObjectQueue interface {
	Enqueue(obj model.ObjectReference)
}

// Space is the behaviour shared by every space.
type Space interface {
	Name() string
	Kind() Kind
	Index() int
	// Contains reports whether a lies in the space's extent.
	Contains(a model.Address) bool
	Extent() (start, end model.Address)
	ReservedPages() int
	IsMovable() bool
	// IsValidObject reports whether obj is an allocated object.
	IsValidObject(obj model.ObjectReference) bool
	// IsReachable reports whether obj was reached in the current cycle.
	IsReachable(obj model.ObjectReference) bool
}

// Args configures a new space.
type Args struct {
	Name    string
	Heap    *heap.Heap
	Trigger Trigger
}

type common struct {
	name    string
	kind    Kind
	index   int
	start   model.Address
	end     model.Address
	meta    *sidemeta.Metadata
	trigger Trigger
	self    Space
}

func newCommon(args Args, kind Kind) (common, error) {
	index, start, end, err := args.Heap.VMMap.AllocateExtent(args.Name)
	if err != nil {
		return common{}, err
	}
	return common{
		name:    args.Name,
		kind:    kind,
		index:   index,
		start:   start,
		end:     end,
		meta:    args.Heap.Meta,
		trigger: args.Trigger,
	}, nil
}

func (c *common) Name() string                           { return c.name }
func (c *common) Kind() Kind                             { return c.kind }
func (c *common) Index() int                             { return c.index }
func (c *common) Contains(a model.Address) bool          { return a >= c.start && a < c.end }
func (c *common) Extent() (model.Address, model.Address) { return c.start, c.end }

// IsValidObject reports whether obj's valid-object bit is set.
func (c *common) IsValidObject(obj model.ObjectReference) bool {
	return c.Contains(obj.Address()) && c.meta.VO.IsSet(obj.Address())
}

// InitializeObject records a freshly allocated object.
func (c *common) InitializeObject(obj model.ObjectReference) {
	c.meta.VO.Set(obj.Address())
}

// acquire runs get, polling the trigger first when poll is set.
func (c *common) acquire(pages int, poll bool, get func() (model.Address, error)) (model.Address, error) {
	if poll && c.trigger != nil {
		if c.trigger.WillNeverFit(pages) {
			return 0, fmt.Errorf("%w: %d pages in %s", ErrHeapTooSmall, pages, c.name)
		}
		if c.trigger.Poll(false, c.self, pages) {
			return 0, ErrCollectionRequired
		}
	}

	addr, err := get()
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, heap.ErrExhausted) && !errors.Is(err, resource.ErrLimitExceeded) {
		return 0, err
	}
	if poll && c.trigger != nil {
		c.trigger.Poll(true, c.self, pages)
		return 0, ErrCollectionRequired
	}
	if poll {
		return 0, fmt.Errorf("%w: %s: %w", ErrHeapTooSmall, c.name, err)
	}
	return 0, fmt.Errorf("%w: %s: %w", ErrCopyReserveExhausted, c.name, err)
}
