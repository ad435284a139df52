package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserve_Alignment(t *testing.T) {
	const align = 1 << 22

	r, err := Reserve(8*PageSize, align)
	require.NoError(t, err)
	defer r.Close()

	assert.Zero(t, r.Base()%align)
	assert.Equal(t, 8*PageSize, r.Size())
	assert.True(t, r.Contains(r.Base()))
	assert.True(t, r.Contains(r.Base()+uintptr(r.Size())-1))
	assert.False(t, r.Contains(r.Base()+uintptr(r.Size())))
}

func TestReserve_InvalidArguments(t *testing.T) {
	_, err := Reserve(0, PageSize)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Reserve(PageSize+1, PageSize)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Reserve(PageSize, 3*PageSize)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestReservation_CommitDecommit(t *testing.T) {
	r, err := Reserve(4*PageSize, PageSize)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Commit(PageSize, 2*PageSize))
	assert.Equal(t, int64(2*PageSize), r.CommittedBytes())

	b := r.data[PageSize : 3*PageSize]
	for i := range b {
		b[i] = 0xAB
	}

	require.NoError(t, r.Decommit(PageSize, 2*PageSize))
	for i := range b {
		if b[i] != 0 {
			t.Fatalf("byte %d not zero after decommit: %#x", i, b[i])
		}
	}

	require.NoError(t, r.Advise(PageSize, PageSize, AccessSequential))
}

func TestReservation_Bounds(t *testing.T) {
	r, err := Reserve(2*PageSize, PageSize)
	require.NoError(t, err)
	defer r.Close()

	assert.ErrorIs(t, r.Commit(PageSize, 2*PageSize), ErrOutOfBounds)
	assert.ErrorIs(t, r.Commit(-PageSize, PageSize), ErrOutOfBounds)
	assert.ErrorIs(t, r.Commit(1, PageSize), ErrInvalidSize)
}

func TestReservation_Close(t *testing.T) {
	r, err := Reserve(PageSize, PageSize)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.ErrorIs(t, r.Commit(0, PageSize), ErrClosed)
	assert.ErrorIs(t, r.Decommit(0, PageSize), ErrClosed)
}
