package sidemeta

import (
	"errors"

	"github.com/hupe1980/vmgc/internal/resource"
	"github.com/hupe1980/vmgc/model"
)

// Metadata groups the tables used by the engine.
type Metadata struct {
	VO         *Table
	Mark       *Table
	Forwarding *Table
	BlockState *Table
	SizeClass  *Table

	all []*Table
}

// New reserves every table for the heap range [start, start+bytes).
func New(start model.Address, bytes uintptr, rc *resource.Controller) (*Metadata, error) {
	m := &Metadata{}
	for _, e := range []struct {
		spec Spec
		dst  **Table
	}{
		{VOBit, &m.VO},
		{MarkBit, &m.Mark},
		{ForwardingBits, &m.Forwarding},
		{BlockState, &m.BlockState},
		{BlockSizeClass, &m.SizeClass},
	} {
		t, err := NewTable(e.spec, start, bytes, rc)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		*e.dst = t
		m.all = append(m.all, t)
	}
	return m, nil
}

// EnsureMapped commits every table's entries for [start, start+bytes).
func (m *Metadata) EnsureMapped(start model.Address, bytes uintptr) error {
	for _, t := range m.all {
		if err := t.EnsureMapped(start, bytes); err != nil {
			return err
		}
	}
	return nil
}

// ZeroObjectBits clears the per-object tables for [start, start+bytes).
func (m *Metadata) ZeroObjectBits(start model.Address, bytes uintptr) {
	m.VO.ZeroRange(start, bytes)
	m.Mark.ZeroRange(start, bytes)
	m.Forwarding.ZeroRange(start, bytes)
}

// CommittedBytes returns the committed size of all tables.
func (m *Metadata) CommittedBytes() int64 {
	var n int64
	for _, t := range m.all {
		n += t.CommittedBytes()
	}
	return n
}

// Close releases every table.
func (m *Metadata) Close() error {
	var errs []error
	for _, t := range m.all {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
