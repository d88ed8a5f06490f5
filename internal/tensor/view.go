// Package tensor provides strided views over reference-counted storages.
//
// A View maps a multi-index to a storage element through
//
//	offset + sum(index[i] * stride[i])
//
// Views that alias one storage observe each other's writes. Every View holds
// its own reference to the storage; Release drops it.
//
// Geometry is checked against the storage when a view is made. A later
// shrinking Resize of the storage invalidates views that reach past the new
// end: element access and gathers on them fail with ErrShapeStrideMismatch
// or ErrIndexOutOfRange instead of reading.
package tensor

import (
	"context"
	"math"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
	"github.com/23skdu/longbow-tensorcore/internal/storage"
)

// View is a strided window onto a Storage.
type View struct {
	storage *storage.Storage
	shape   Shape
	stride  []int
	offset  int
}

// New validates the geometry against s and returns a view holding a new
// reference to s. Every index reachable through shape and stride must
// project into [0, s.Len()); an empty shape only needs offset <= s.Len().
func New(s *storage.Storage, shape Shape, stride []int, offset int) (*View, error) {
	if err := validate(s, shape, stride, offset); err != nil {
		return nil, err
	}
	return &View{
		storage: s.Retain(),
		shape:   shape.Clone(),
		stride:  append([]int{}, stride...),
		offset:  offset,
	}, nil
}

// Contiguous returns a row-major view of s starting at element 0.
func Contiguous(s *storage.Storage, shape Shape) (*View, error) {
	return New(s, shape, ContiguousStrides(shape), 0)
}

func validate(s *storage.Storage, shape Shape, stride []int, offset int) error {
	mismatch := func(reason string) error {
		capacity := -1
		if s != nil {
			capacity = s.Len()
		}
		return &errdefs.ShapeError{
			Err:      errdefs.ErrShapeStrideMismatch,
			Shape:    shape,
			Stride:   stride,
			Offset:   offset,
			Capacity: capacity,
			Reason:   reason,
		}
	}

	if s == nil {
		return mismatch("nil storage")
	}
	if len(shape) != len(stride) {
		return mismatch("rank differs")
	}
	if offset < 0 {
		return mismatch("negative offset")
	}
	numel, ok := checkedNumElements(shape)
	if !ok {
		return mismatch("invalid extent")
	}
	for _, st := range stride {
		if st < 0 {
			return mismatch("negative stride")
		}
	}

	capacity := s.Len()
	if numel == 0 {
		if offset > capacity {
			return mismatch("offset past end")
		}
		return nil
	}

	// highest reachable element; strides are non-negative so the lowest is
	// offset itself
	last := offset
	for i, dim := range shape {
		span := dim - 1
		if stride[i] != 0 && span > (math.MaxInt-last)/stride[i] {
			return mismatch("index overflows")
		}
		last += span * stride[i]
	}
	if last >= capacity {
		return mismatch("projects past end")
	}
	return nil
}

// Storage returns the backing storage. The view keeps its reference.
func (v *View) Storage() *storage.Storage { return v.storage }

// Kind returns the element kind, which is always the storage's kind.
func (v *View) Kind() dtype.Kind { return v.storage.Kind() }

// Shape returns a copy of the extents.
func (v *View) Shape() Shape { return v.shape.Clone() }

// Stride returns a copy of the strides.
func (v *View) Stride() []int { return append([]int{}, v.stride...) }

// Offset returns the storage element index of the first element.
func (v *View) Offset() int { return v.offset }

// Dim returns the rank.
func (v *View) Dim() int { return len(v.shape) }

// NumElements returns the number of addressable elements.
func (v *View) NumElements() int { return v.shape.NumElements() }

// SharesStorage reports whether v and other alias the same buffer.
func (v *View) SharesStorage(other *View) bool {
	return other != nil && v.storage.SharesWith(other.storage)
}

// Release drops the view's storage reference. The view must not be used
// afterwards.
func (v *View) Release() {
	v.storage.Release()
}

// IsContiguous reports whether the strides are the row-major strides of the
// shape. Dimensions of extent 1 are ignored, and empty views are contiguous.
func (v *View) IsContiguous() bool {
	if v.NumElements() == 0 {
		return true
	}
	expected := 1
	for i := len(v.shape) - 1; i >= 0; i-- {
		if v.shape[i] == 1 {
			continue
		}
		if v.stride[i] != expected {
			return false
		}
		expected *= v.shape[i]
	}
	return true
}

// ViewAs reinterprets the same elements under newShape without copying.
// One extent may be -1 and is inferred. It fails with ErrIncompatibleShape
// when the element count differs or when the layout cannot be expressed
// with strides.
func (v *View) ViewAs(newShape Shape) (*View, error) {
	target, err := inferShape(newShape, v.NumElements())
	if err != nil {
		return nil, err
	}
	stride, ok := computeStride(v.shape, v.stride, target)
	if !ok {
		return nil, &errdefs.ShapeError{
			Err:      errdefs.ErrIncompatibleShape,
			Shape:    v.shape,
			Stride:   v.stride,
			Offset:   v.offset,
			Target:   newShape,
			Capacity: -1,
			Reason:   "layout is not expressible as a view",
		}
	}
	return New(v.storage, target, stride, v.offset)
}

func (v *View) index(idx []int) (int, error) {
	if len(idx) != len(v.shape) {
		return 0, &errdefs.IndexError{Index: idx, Shape: v.shape, Dim: -1}
	}
	pos := v.offset
	for i, x := range idx {
		if x < 0 || x >= v.shape[i] {
			return 0, &errdefs.IndexError{Index: idx, Shape: v.shape, Dim: i}
		}
		pos += x * v.stride[i]
	}
	return pos, nil
}

// At returns the element at idx converted to float64.
func (v *View) At(idx ...int) (float64, error) {
	pos, err := v.index(idx)
	if err != nil {
		return 0, err
	}
	return v.storage.At(pos)
}

// Set stores val at idx, converting to the view's kind.
func (v *View) Set(val float64, idx ...int) error {
	pos, err := v.index(idx)
	if err != nil {
		return err
	}
	return v.storage.SetAt(pos, val)
}

func (v *View) checkDim(dim int) error {
	if dim < 0 || dim >= len(v.shape) {
		return &errdefs.IndexError{Index: []int{dim}, Shape: v.shape, Dim: -1}
	}
	return nil
}

// Narrow restricts dimension dim to [start, start+length).
func (v *View) Narrow(dim, start, length int) (*View, error) {
	if err := v.checkDim(dim); err != nil {
		return nil, err
	}
	if start < 0 || length < 0 || start > v.shape[dim]-length {
		return nil, &errdefs.IndexError{Index: []int{start, start + length}, Shape: v.shape, Dim: dim}
	}
	shape := v.shape.Clone()
	shape[dim] = length
	offset := v.offset
	if length > 0 {
		offset += start * v.stride[dim]
	}
	return New(v.storage, shape, v.stride, offset)
}

// Transpose swaps dimensions d0 and d1.
func (v *View) Transpose(d0, d1 int) (*View, error) {
	if err := v.checkDim(d0); err != nil {
		return nil, err
	}
	if err := v.checkDim(d1); err != nil {
		return nil, err
	}
	shape := v.shape.Clone()
	stride := v.Stride()
	shape[d0], shape[d1] = shape[d1], shape[d0]
	stride[d0], stride[d1] = stride[d1], stride[d0]
	return New(v.storage, shape, stride, v.offset)
}

// Select fixes dimension dim at index and drops it from the result.
func (v *View) Select(dim, index int) (*View, error) {
	if err := v.checkDim(dim); err != nil {
		return nil, err
	}
	if index < 0 || index >= v.shape[dim] {
		return nil, &errdefs.IndexError{Index: []int{index}, Shape: v.shape, Dim: dim}
	}
	shape := append(v.shape[:dim:dim], v.shape[dim+1:]...)
	stride := append(v.stride[:dim:dim], v.stride[dim+1:]...)
	return New(v.storage, shape, stride, v.offset+index*v.stride[dim])
}

// forEach calls fn with the storage index of every element in row-major
// order.
func (v *View) forEach(fn func(pos int)) {
	n := v.NumElements()
	if n == 0 {
		return
	}
	idx := make([]int, len(v.shape))
	pos := v.offset
	for range n {
		fn(pos)
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			pos += v.stride[d]
			if idx[d] < v.shape[d] {
				break
			}
			pos -= idx[d] * v.stride[d]
			idx[d] = 0
		}
	}
}

// CheckBounds re-validates the view against the storage's current length.
func (v *View) CheckBounds() error {
	return validate(v.storage, v.shape, v.stride, v.offset)
}

// ToFloat64s gathers every element in row-major order.
func (v *View) ToFloat64s() ([]float64, error) {
	if err := v.CheckBounds(); err != nil {
		return nil, err
	}
	out := make([]float64, 0, v.NumElements())
	kind := v.Kind()
	size := kind.Size()
	data := v.storage.Bytes()
	v.forEach(func(pos int) {
		out = append(out, dtype.Decode(kind, data[pos*size:]))
	})
	return out, nil
}

// Clone copies the view's elements into a fresh contiguous storage on the
// same backend.
func (v *View) Clone(ctx context.Context) (*View, error) {
	if err := v.CheckBounds(); err != nil {
		return nil, err
	}
	kind := v.Kind()
	dst, err := storage.Allocate(ctx, v.storage.Device(), kind, v.NumElements())
	if err != nil {
		return nil, err
	}
	defer dst.Release()

	size := kind.Size()
	src := v.storage.Bytes()
	out := dst.Bytes()
	if v.IsContiguous() {
		copy(out, src[v.offset*size:])
	} else {
		i := 0
		v.forEach(func(pos int) {
			copy(out[i:i+size], src[pos*size:])
			i += size
		})
	}
	return Contiguous(dst, v.shape)
}
