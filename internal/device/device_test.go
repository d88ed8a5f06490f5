package device

import (
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

func TestCPUBackend_Reallocate(t *testing.T) {
	backend := NewCPUBackend(false)

	t.Run("Shrink in place", func(t *testing.T) {
		buf, err := backend.Allocate(16)
		require.NoError(t, err)
		for i := range buf {
			buf[i] = byte(i)
		}
		out, err := backend.Reallocate(buf, 8)
		require.NoError(t, err)
		assert.False(t, Moved(buf, out))
		assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7}, out)

		// regrow within capacity stays in place too
		again, err := backend.Reallocate(out, 16)
		require.NoError(t, err)
		assert.False(t, Moved(out, again))
		backend.Free(again)
	})

	t.Run("Grow moves", func(t *testing.T) {
		buf, err := backend.Allocate(4)
		require.NoError(t, err)
		copy(buf, []byte{9, 8, 7, 6})
		out, err := backend.Reallocate(buf, 32)
		require.NoError(t, err)
		assert.True(t, Moved(buf, out))
		assert.Equal(t, []byte{9, 8, 7, 6}, out[:4])
		backend.Free(out)
	})

	t.Run("Negative size", func(t *testing.T) {
		_, err := backend.Allocate(-1)
		assert.ErrorIs(t, err, ErrNegativeSize)
	})

	t.Run("Too large", func(t *testing.T) {
		_, err := backend.Allocate(1 << 49)
		assert.ErrorIs(t, err, ErrTooLarge)

		buf, err := backend.Allocate(8)
		require.NoError(t, err)
		_, err = backend.Reallocate(buf, 1<<49)
		assert.ErrorIs(t, err, ErrTooLarge)
		assert.Len(t, buf, 8)
		backend.Free(buf)
	})

	assert.Equal(t, int64(0), backend.Usage().Live)
	assert.GreaterOrEqual(t, backend.Usage().Peak, int64(32))
}

func TestCPUBackend_Supports(t *testing.T) {
	backend := NewCPUBackend(true)
	for _, k := range dtype.All() {
		assert.True(t, backend.Supports(k), k.String())
	}
	assert.Equal(t, "cpu", backend.Name())
}

func TestArrowBackend(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	backend := NewArrowBackend(mem)
	assert.Equal(t, "arrow", backend.Name())
	assert.False(t, backend.Supports(dtype.QInt8))
	assert.True(t, backend.Supports(dtype.Float16))

	_, err := backend.Allocate(1 << 49)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, 0, mem.CurrentAlloc())

	buf, err := backend.Allocate(100)
	require.NoError(t, err)
	assert.Equal(t, 100, mem.CurrentAlloc())

	buf, err = backend.Reallocate(buf, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, mem.CurrentAlloc())

	buf, err = backend.Reallocate(buf, 0)
	require.NoError(t, err)
	assert.Empty(t, buf)

	buf, err = backend.Reallocate(buf, 24)
	require.NoError(t, err)
	assert.Len(t, buf, 24)

	backend.Free(buf)
	assert.Equal(t, int64(0), backend.Usage().Live)
}

func TestGuardAlloc(t *testing.T) {
	n := math.MaxInt
	buf, err := guardAlloc("cpu", n, func() []byte { return make([]byte, n) })
	assert.Nil(t, buf)
	assert.ErrorIs(t, err, ErrTooLarge)

	assert.Panics(t, func() {
		_, _ = guardAlloc("cpu", 1, func() []byte { panic("boom") })
	})
}

func TestLimited(t *testing.T) {
	backend := NewLimited(NewCPUBackend(false), 100)
	assert.Equal(t, int64(100), backend.Budget())
	assert.Equal(t, "cpu", backend.Name())

	a, err := backend.Allocate(60)
	require.NoError(t, err)

	_, err = backend.Allocate(50)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	// growing past the budget fails and leaves the buffer untouched
	_, err = backend.Reallocate(a, 120)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Len(t, a, 60)

	a, err = backend.Reallocate(a, 20)
	require.NoError(t, err)

	b, err := backend.Allocate(80)
	require.NoError(t, err)

	backend.Free(a)
	backend.Free(b)

	c, err := backend.Allocate(100)
	require.NoError(t, err)
	backend.Free(c)
}
