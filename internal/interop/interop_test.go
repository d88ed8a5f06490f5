package interop

import (
	"context"
	"os"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
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

func factory(kind dtype.Kind) *registry.BackendFactory {
	return registry.NewBackendFactory(device.NewCPUBackend(false), kind)
}

// matrix returns a 2x3 view holding 0..5.
func matrix(t *testing.T, kind dtype.Kind) *tensor.View {
	t.Helper()
	v, err := FromDense(context.Background(), factory(kind), mat.NewDense(2, 3, []float64{0, 1, 2, 3, 4, 5}))
	require.NoError(t, err)
	return v
}

func TestToArrow(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	v := matrix(t, dtype.Float32)
	defer v.Release()

	t.Run("Contiguous aliases storage", func(t *testing.T) {
		arr, err := ToArrow(v, mem)
		require.NoError(t, err)
		defer arr.Release()

		floats := arr.(*array.Float32)
		assert.Equal(t, []float32{0, 1, 2, 3, 4, 5}, floats.Float32Values())
		assert.Equal(t, 0, mem.CurrentAlloc())

		require.NoError(t, v.Set(9, 0, 0))
		assert.Equal(t, float32(9), floats.Value(0))
		require.NoError(t, v.Set(0, 0, 0))
	})

	t.Run("Strided view is gathered", func(t *testing.T) {
		tr, err := v.Transpose(0, 1)
		require.NoError(t, err)
		defer tr.Release()

		arr, err := ToArrow(tr, mem)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 3, 1, 4, 2, 5}, arr.(*array.Float32).Float32Values())
		arr.Release()
	})

	t.Run("Offset view", func(t *testing.T) {
		row, err := v.Select(0, 1)
		require.NoError(t, err)
		defer row.Release()

		arr, err := ToArrow(row, mem)
		require.NoError(t, err)
		defer arr.Release()
		assert.Equal(t, []float32{3, 4, 5}, arr.(*array.Float32).Float32Values())
	})

	t.Run("Bool", func(t *testing.T) {
		b := matrix(t, dtype.Bool)
		defer b.Release()
		arr, err := ToArrow(b, mem)
		require.NoError(t, err)
		defer arr.Release()
		bools := arr.(*array.Boolean)
		assert.False(t, bools.Value(0))
		assert.True(t, bools.Value(5))
	})

	t.Run("No arrow type", func(t *testing.T) {
		bf := matrix(t, dtype.BFloat16)
		defer bf.Release()
		_, err := ToArrow(bf, mem)
		assert.ErrorIs(t, err, ErrNoArrowType)
	})
}

func TestToArrow_ShrunkStorage(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	v := matrix(t, dtype.Float32)
	defer v.Release()
	tr, err := v.Transpose(0, 1)
	require.NoError(t, err)
	defer tr.Release()
	b := matrix(t, dtype.Bool)
	defer b.Release()

	_, err = v.Storage().Resize(context.Background(), 2)
	require.NoError(t, err)
	_, err = b.Storage().Resize(context.Background(), 3)
	require.NoError(t, err)

	for name, view := range map[string]*tensor.View{"contiguous": v, "strided": tr, "bool": b} {
		t.Run(name, func(t *testing.T) {
			arr, err := ToArrow(view, mem)
			assert.Nil(t, arr)
			assert.ErrorIs(t, err, errdefs.ErrShapeStrideMismatch)
		})
	}

	_, err = ToDense(v)
	assert.ErrorIs(t, err, errdefs.ErrShapeStrideMismatch)
}

func TestAllocatorFor(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	arrowBackend := device.NewArrowBackend(mem)

	assert.Same(t, mem, AllocatorFor(arrowBackend))
	assert.Same(t, mem, AllocatorFor(device.NewLimited(arrowBackend, 1024)))
	assert.Equal(t, memory.DefaultAllocator, AllocatorFor(device.NewCPUBackend(false)))
}

func TestToRecordBatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	v := matrix(t, dtype.Float64)
	defer v.Release()

	rb, err := ToRecordBatch(v, "tensor", mem)
	require.NoError(t, err)
	defer rb.Release()

	assert.Equal(t, int64(2), rb.NumRows())
	assert.Equal(t, int64(1), rb.NumCols())
	assert.Equal(t, "tensor", rb.ColumnName(0))

	meta := rb.Schema().Metadata()
	shape, ok := meta.GetValue(MetaShape)
	require.True(t, ok)
	assert.Equal(t, "2,3", shape)
	name, ok := meta.GetValue(MetaTypeName)
	require.True(t, ok)
	assert.Equal(t, "cpu.DoubleTensor", name)

	list := rb.Column(0).(*array.FixedSizeList)
	assert.Equal(t, 2, list.Len())
	values := list.ListValues().(*array.Float64)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, values.Float64Values())

	scalar, err := tensor.Contiguous(v.Storage(), tensor.Shape{})
	require.NoError(t, err)
	defer scalar.Release()
	_, err = ToRecordBatch(scalar, "tensor", mem)
	assert.Error(t, err)
}

func TestFromArrow(t *testing.T) {
	ctx := context.Background()
	pool := memory.NewGoAllocator()

	b := array.NewFloat64Builder(pool)
	defer b.Release()
	b.AppendValues([]float64{1.5, -2, 300}, nil)
	arr := b.NewArray()
	defer arr.Release()

	t.Run("Same kind", func(t *testing.T) {
		v, err := FromArrow(ctx, factory(dtype.Float64), arr)
		require.NoError(t, err)
		defer v.Release()
		assert.Equal(t, []float64{1.5, -2, 300}, gather(t, v))
	})

	t.Run("Converted", func(t *testing.T) {
		v, err := FromArrow(ctx, factory(dtype.Int8), arr)
		require.NoError(t, err)
		defer v.Release()
		assert.Equal(t, []float64{1, -2, 127}, gather(t, v))
	})

	t.Run("Sliced", func(t *testing.T) {
		sliced := array.NewSlice(arr, 1, 3)
		defer sliced.Release()
		v, err := FromArrow(ctx, factory(dtype.Float32), sliced)
		require.NoError(t, err)
		defer v.Release()
		assert.Equal(t, []float64{-2, 300}, gather(t, v))
	})

	t.Run("Nulls", func(t *testing.T) {
		nb := array.NewInt32Builder(pool)
		defer nb.Release()
		nb.AppendValues([]int32{1, 2}, []bool{true, false})
		withNull := nb.NewArray()
		defer withNull.Release()

		_, err := FromArrow(ctx, factory(dtype.Int32), withNull)
		assert.ErrorIs(t, err, ErrNulls)
	})

	t.Run("Unsupported type", func(t *testing.T) {
		sb := array.NewStringBuilder(pool)
		defer sb.Release()
		sb.Append("x")
		strs := sb.NewArray()
		defer strs.Release()

		_, err := FromArrow(ctx, factory(dtype.Float32), strs)
		assert.Error(t, err)
	})
}

func TestArrowTypeMapping(t *testing.T) {
	for _, k := range dtype.All() {
		dt, ok := ArrowType(k)
		if !ok {
			assert.True(t, k == dtype.BFloat16 || k.IsQuantized(), k.String())
			continue
		}
		back, ok := KindOf(dt)
		require.True(t, ok)
		assert.Equal(t, k, back)
	}
	_, ok := KindOf(arrow.BinaryTypes.String)
	assert.False(t, ok)
}

func TestDense(t *testing.T) {
	v := matrix(t, dtype.Float32)
	defer v.Release()

	d, err := ToDense(v)
	require.NoError(t, err)
	assert.True(t, mat.Equal(d, mat.NewDense(2, 3, []float64{0, 1, 2, 3, 4, 5})))

	tr, err := v.Transpose(0, 1)
	require.NoError(t, err)
	defer tr.Release()
	dt, err := ToDense(tr)
	require.NoError(t, err)
	assert.True(t, mat.Equal(dt, d.T()))

	col, err := v.Select(0, 0)
	require.NoError(t, err)
	defer col.Release()
	dc, err := ToDense(col)
	require.NoError(t, err)
	r, c := dc.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)

	cube, err := v.ViewAs(tensor.Shape{1, 2, 3})
	require.NoError(t, err)
	defer cube.Release()
	_, err = ToDense(cube)
	assert.Error(t, err)
}
