// Package interop converts tensor views to and from arrow arrays and gonum
// matrices.
package interop

import (
	"context"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

var (
	ErrNoArrowType = errors.New("element kind has no arrow type")
	ErrNulls       = errors.New("arrow array has nulls")
)

// Schema metadata keys written by ToRecordBatch.
const (
	MetaShape    = "tensor.shape"
	MetaTypeName = "tensor.type"
)

// AllocatorFor returns the arrow allocator behind b, looking through a
// budget wrapper. Backends that are not arrow-backed get the default Go
// allocator.
func AllocatorFor(b device.Backend) memory.Allocator {
	if l, ok := b.(*device.Limited); ok {
		b = l.Backend
	}
	if ab, ok := b.(*device.ArrowBackend); ok {
		return ab.Allocator()
	}
	return memory.DefaultAllocator
}

// ArrowType returns the arrow type holding elements of k. BFloat16 and the
// quantized kinds have none.
func ArrowType(k dtype.Kind) (arrow.DataType, bool) {
	switch k {
	case dtype.Float64:
		return arrow.PrimitiveTypes.Float64, true
	case dtype.Float32:
		return arrow.PrimitiveTypes.Float32, true
	case dtype.Float16:
		return arrow.FixedWidthTypes.Float16, true
	case dtype.Int64:
		return arrow.PrimitiveTypes.Int64, true
	case dtype.Int32:
		return arrow.PrimitiveTypes.Int32, true
	case dtype.Int16:
		return arrow.PrimitiveTypes.Int16, true
	case dtype.Int8:
		return arrow.PrimitiveTypes.Int8, true
	case dtype.Uint8:
		return arrow.PrimitiveTypes.Uint8, true
	case dtype.Bool:
		return arrow.FixedWidthTypes.Boolean, true
	default:
		return nil, false
	}
}

// KindOf is the inverse of ArrowType.
func KindOf(dt arrow.DataType) (dtype.Kind, bool) {
	switch dt.ID() {
	case arrow.FLOAT64:
		return dtype.Float64, true
	case arrow.FLOAT32:
		return dtype.Float32, true
	case arrow.FLOAT16:
		return dtype.Float16, true
	case arrow.INT64:
		return dtype.Int64, true
	case arrow.INT32:
		return dtype.Int32, true
	case arrow.INT16:
		return dtype.Int16, true
	case arrow.INT8:
		return dtype.Int8, true
	case arrow.UINT8:
		return dtype.Uint8, true
	case arrow.BOOL:
		return dtype.Bool, true
	default:
		return 0, false
	}
}

// ToArrow flattens v in row-major order into a one-dimensional arrow array.
// A contiguous view of a fixed-width kind is exported without copying: the
// array then aliases the storage and is only valid while v is.
// Other views are gathered into a buffer from mem.
func ToArrow(v *tensor.View, mem memory.Allocator) (arrow.Array, error) {
	kind := v.Kind()
	dt, ok := ArrowType(kind)
	if !ok {
		return nil, errors.Wrapf(ErrNoArrowType, "%s", kind)
	}
	if err := v.CheckBounds(); err != nil {
		return nil, err
	}
	n := v.NumElements()

	if kind == dtype.Bool {
		values, err := v.ToFloat64s()
		if err != nil {
			return nil, err
		}
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(n)
		for _, x := range values {
			b.Append(x != 0)
		}
		return b.NewArray(), nil
	}

	size := kind.Size()
	var buf *memory.Buffer
	if v.IsContiguous() {
		start := v.Offset() * size
		buf = memory.NewBufferBytes(v.Storage().Bytes()[start : start+n*size])
	} else {
		values, err := v.ToFloat64s()
		if err != nil {
			return nil, err
		}
		buf = memory.NewResizableBuffer(mem)
		buf.Resize(n * size)
		out := buf.Bytes()
		for i, x := range values {
			dtype.Encode(kind, out[i*size:], x)
		}
	}
	defer buf.Release()

	data := array.NewData(dt, n, []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

// ToRecordBatch exports a view of rank >= 1 as a single-column record batch
// named col: one row per index of the first dimension, each row a
// fixed-size list of the remaining elements. The shape and type name are
// kept in the schema metadata.
func ToRecordBatch(v *tensor.View, col string, mem memory.Allocator) (arrow.RecordBatch, error) {
	shape := v.Shape()
	if len(shape) == 0 {
		return nil, errors.New("record batch export needs rank >= 1")
	}
	values, err := ToArrow(v, mem)
	if err != nil {
		return nil, err
	}
	defer values.Release()

	rows := shape[0]
	width := shape[1:].NumElements()

	listType := arrow.FixedSizeListOf(int32(width), values.DataType())
	data := array.NewData(listType, rows, []*memory.Buffer{nil}, []arrow.ArrayData{values.Data()}, 0, 0)
	defer data.Release()
	list := array.NewFixedSizeListData(data)
	defer list.Release()

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	meta := arrow.NewMetadata(
		[]string{MetaShape, MetaTypeName},
		[]string{strings.Join(dims, ","), registry.Descriptor{Backend: v.Storage().Backend(), Kind: v.Kind()}.Name()},
	)
	schema := arrow.NewSchema([]arrow.Field{{Name: col, Type: listType}}, &meta)
	return array.NewRecordBatch(schema, []arrow.Array{list}, int64(rows)), nil
}

// FromArrow copies a one-dimensional arrow array into a new tensor made by
// f. Values are converted to f's kind.
func FromArrow(ctx context.Context, f registry.Factory, arr arrow.Array) (*tensor.View, error) {
	if arr.NullN() > 0 {
		return nil, errors.Wrapf(ErrNulls, "%d of %d", arr.NullN(), arr.Len())
	}
	src, ok := KindOf(arr.DataType())
	if !ok {
		return nil, errors.Errorf("unsupported arrow type %s", arr.DataType())
	}

	v, err := f.NewTensor(ctx, tensor.Shape{arr.Len()})
	if err != nil {
		return nil, err
	}
	s := v.Storage()
	if arr.Len() == 0 {
		return v, nil
	}

	if src == dtype.Bool {
		bools := arr.(*array.Boolean)
		for i := range arr.Len() {
			val := 0.0
			if bools.Value(i) {
				val = 1
			}
			if err := s.SetAt(i, val); err != nil {
				v.Release()
				return nil, err
			}
		}
		return v, nil
	}

	size := src.Size()
	raw := arr.Data().Buffers()[1].Bytes()[arr.Data().Offset()*size:]
	if src == f.Descriptor().Kind {
		copy(s.Bytes(), raw[:arr.Len()*size])
		return v, nil
	}
	for i := range arr.Len() {
		if err := s.SetAt(i, dtype.Decode(src, raw[i*size:])); err != nil {
			v.Release()
			return nil, err
		}
	}
	return v, nil
}
