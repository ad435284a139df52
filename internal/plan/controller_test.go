package plan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/model"
	"github.com/hupe1980/vmgc/testutil"
)

// gatedVM holds every cycle in GCStarted until the gate is opened.
type gatedVM struct {
	*testutil.VM
	started chan struct{}
	gate    chan struct{}
}

func (v *gatedVM) GCStarted() {
	v.VM.GCStarted()
	select {
	case v.started <- struct{}{}:
	default:
	}
	<-v.gate
}

func newGated(t *testing.T) (*gatedVM, Plan, *Controller) {
	t.Helper()
	v := &gatedVM{VM: testutil.NewVM(), started: make(chan struct{}, 1), gate: make(chan struct{})}
	t.Cleanup(func() { _ = v.Close() })
	p, err := New(Args{Config: defaultConfig(MarkSweep), Binding: v})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	c := NewController(p, v, ControllerOptions{Workers: 2})
	t.Cleanup(func() { _ = c.Close() })
	return v, p, c
}

func TestController_RequestsDuringACycleCoalesce(t *testing.T) {
	v, p, c := newGated(t)

	n, err := c.Request(Request{User: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	<-v.started

	const requesters = 16
	got := make([]uint64, requesters)
	var wg sync.WaitGroup
	for i := range requesters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i], _ = c.Request(Request{User: true}, nil)
		}()
	}
	wg.Wait()
	for _, n := range got {
		assert.Equal(t, uint64(2), n)
	}

	close(v.gate)
	require.NoError(t, c.Wait(2))
	assert.Equal(t, uint64(2), p.Stats().Collections)
	assert.Equal(t, uint64(2), p.Stats().UserCollections)
	assert.Equal(t, Idle, c.Phase())

	n, err = c.Request(Request{}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	require.NoError(t, c.Wait(3))
	assert.Equal(t, int64(3), v.Finished.Load())
}

func TestController_AfterReceivesRoots(t *testing.T) {
	v, _, c := newGated(t)
	close(v.gate)

	slot := v.Globals().Slot(v.Globals().Push(model.NullRef))

	var roots []model.Address
	n, err := c.Request(Request{Full: true}, func(r []model.Address) { roots = r })
	require.NoError(t, err)
	require.NoError(t, c.Wait(n))
	assert.Equal(t, []model.Address{slot}, roots)

}

func TestController_Close(t *testing.T) {
	v, _, c := newGated(t)
	close(v.gate)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Request(Request{}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Wait(1), ErrClosed)
}
