package vmgc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vmgc/internal/alloc"
	"github.com/hupe1980/vmgc/internal/gcwork"
	"github.com/hupe1980/vmgc/internal/mutator"
	"github.com/hupe1980/vmgc/internal/plan"
	"github.com/hupe1980/vmgc/internal/policy"
	"github.com/hupe1980/vmgc/model"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))

	t.Run("out of memory", func(t *testing.T) {
		cause := &mutator.AllocError{Requested: 64, Space: "immix", Err: policy.ErrCollectionRequired}
		err := translateError(cause)
		var oom *OutOfMemoryError
		require.ErrorAs(t, err, &oom)
		assert.Equal(t, 64, oom.Requested)
		assert.Equal(t, "immix", oom.Space)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.ErrorIs(t, err, policy.ErrCollectionRequired)
		assert.Same(t, err, translateError(err))
	})

	t.Run("malformed request", func(t *testing.T) {
		err := translateError(&mutator.AllocError{Requested: 8, Space: "ms", Err: alloc.ErrUnsupportedRequest})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.NotErrorIs(t, err, ErrOutOfMemory)
	})

	t.Run("invariant", func(t *testing.T) {
		obj := model.ObjectReference(0x1000)
		err := translateError(&gcwork.InvariantError{Space: "ms", Object: obj, Phase: "closure", Reason: "bad"})
		var v *HeapInvariantViolation
		require.ErrorAs(t, err, &v)
		assert.Equal(t, "ms", v.Space)
		assert.Equal(t, obj, v.Object)
		assert.Equal(t, "closure", v.Phase)
		assert.Equal(t, "bad", v.Reason)
	})

	t.Run("host contract", func(t *testing.T) {
		err := translateError(&gcwork.ContractError{Call: "GetObjectSize", Value: 3})
		var c *InvalidHostContract
		require.ErrorAs(t, err, &c)
		assert.Equal(t, "GetObjectSize", c.Call)
		assert.Equal(t, 3, c.Value)
	})

	t.Run("sentinels", func(t *testing.T) {
		assert.ErrorIs(t, translateError(plan.ErrClosed), ErrClosed)
		assert.ErrorIs(t, translateError(plan.ErrInvalidConfig), ErrInvalidArgument)

		other := errors.New("other")
		assert.Same(t, other, translateError(other))
	})
}
