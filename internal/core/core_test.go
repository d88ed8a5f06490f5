package core

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-tensorcore/internal/config"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	os.Exit(m.Run())
}

// gather reads every element of v, failing the test on error.
func gather(t *testing.T, v *tensor.View) []float64 {
	t.Helper()
	out, err := v.ToFloat64s()
	require.NoError(t, err)
	return out
}

func newContext(t *testing.T, mutate ...func(*config.Config)) *Context {
	t.Helper()
	cfg := config.Default()
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewContext(cfg)
	require.NoError(t, err)
	return c
}

func TestNewContext(t *testing.T) {
	c := newContext(t)

	assert.True(t, c.Registry.Frozen())
	assert.Equal(t, []string{"arrow", "cpu"}, c.Registry.Backends())
	assert.Len(t, c.Registry.Kinds("cpu"), len(dtype.All()))
	assert.NotContains(t, c.Registry.Kinds("arrow"), dtype.QInt8)
	assert.Equal(t, "cpu.FloatTensor", c.Defaults.DefaultTensorType().Name())

	arrowDefault := newContext(t, func(cfg *config.Config) {
		cfg.DefaultBackend = "arrow"
		cfg.DefaultKind = "float16"
	})
	assert.Equal(t, "arrow.HalfTensor", arrowDefault.Defaults.DefaultTensorType().Name())

	_, err := NewContext(config.Config{DefaultKind: "int8", DefaultBackend: "cpu", LogLevel: "info"})
	assert.Error(t, err)

	_, err = NewContext(config.Config{DefaultKind: "float32", DefaultBackend: "cuda", LogLevel: "info"})
	assert.ErrorIs(t, err, errdefs.ErrUnknownType)
}

func TestDefault(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
	assert.Equal(t, dtype.Float32, a.Defaults.DefaultElementKind())
}

func TestDefaultPropagation(t *testing.T) {
	ctx := context.Background()
	c := newContext(t)

	v, err := c.Empty(ctx, tensor.Shape{2, 2})
	require.NoError(t, err)
	assert.Equal(t, dtype.Float32, v.Kind())
	v.Release()

	require.NoError(t, c.Defaults.SetDefaultElementKind(dtype.Float64))
	v, err = c.Zeros(ctx, tensor.Shape{3})
	require.NoError(t, err)
	assert.Equal(t, dtype.Float64, v.Kind())
	assert.Equal(t, "cpu.DoubleTensor", TypeName(v))
	v.Release()

	err = c.Defaults.SetDefaultElementKind(dtype.Int32)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedDefaultKind)

	// explicit kinds ignore the default
	v, err = c.Empty(ctx, tensor.Shape{1}, WithKind(dtype.Int32))
	require.NoError(t, err)
	assert.Equal(t, dtype.Int32, v.Kind())
	v.Release()
}

func TestFromFloat64s(t *testing.T) {
	ctx := context.Background()
	c := newContext(t)

	v, err := c.FromFloat64s(ctx, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3}, WithKind(dtype.Int16), WithBackend("arrow"))
	require.NoError(t, err)
	defer v.Release()

	assert.Equal(t, "arrow.ShortTensor", TypeName(v))
	got, err := v.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)

	flat, err := c.FromFloat64s(ctx, []float64{0.5, 1.5}, nil)
	require.NoError(t, err)
	defer flat.Release()
	assert.Equal(t, tensor.Shape{2}, flat.Shape())
	assert.Equal(t, []float64{0.5, 1.5}, gather(t, flat))

	_, err = c.FromFloat64s(ctx, []float64{1, 2, 3}, tensor.Shape{2, 2})
	assert.Error(t, err)

	_, err = c.FromFloat64s(ctx, []float64{1}, nil, WithBackend("arrow"), WithKind(dtype.QInt8))
	assert.ErrorIs(t, err, errdefs.ErrUnknownType)
}

func TestMemoryBudget(t *testing.T) {
	ctx := context.Background()
	c := newContext(t, func(cfg *config.Config) { cfg.MemoryBudget = "1K" })

	small, err := c.Empty(ctx, tensor.Shape{16})
	require.NoError(t, err)

	_, err = c.Empty(ctx, tensor.Shape{1024})
	assert.ErrorIs(t, err, errdefs.ErrAllocationFailure)

	small.Release()
	big, err := c.Storage(ctx, 256)
	require.NoError(t, err)
	big.Release()
}

func TestTypePredicates(t *testing.T) {
	ctx := context.Background()
	c := newContext(t)

	v, err := c.Empty(ctx, tensor.Shape{1})
	require.NoError(t, err)
	defer v.Release()
	s, err := c.Storage(ctx, 4, WithKind(dtype.QUInt8))
	require.NoError(t, err)
	defer s.Release()

	assert.True(t, IsTensor(v))
	assert.False(t, IsTensor(s))
	assert.True(t, IsStorage(s))
	assert.False(t, IsStorage(v))
	assert.False(t, IsTensor(42))

	assert.Equal(t, "cpu.FloatTensor", TypeName(v))
	assert.Equal(t, "cpu.QUInt8Storage", TypeName(s))
	assert.Equal(t, "int", TypeName(42))
	assert.Equal(t, "[]float64", TypeName([]float64{}))
}
