package tensor

import (
	"math"

	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
)

// Shape is the extent of each dimension. A nil or empty Shape is a scalar.
type Shape []int

// NumElements returns the product of the extents; a scalar has one element.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Equal reports whether both shapes have the same extents.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// ContiguousStrides returns the row-major strides of s:
// stride[i] is the product of all extents after i.
func ContiguousStrides(s Shape) []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * max(s[i+1], 1)
	}
	return strides
}

// Validate rejects negative extents and element counts that overflow int.
func (s Shape) Validate() error {
	if _, ok := checkedNumElements(s); !ok {
		return &errdefs.ShapeError{
			Err:      errdefs.ErrShapeStrideMismatch,
			Shape:    s,
			Capacity: -1,
			Reason:   "invalid extent",
		}
	}
	return nil
}

// checkedNumElements is NumElements with negative-extent and overflow checks.
func checkedNumElements(s Shape) (int, bool) {
	n := 1
	for _, dim := range s {
		if dim < 0 {
			return 0, false
		}
		if dim != 0 && n > math.MaxInt/dim {
			return 0, false
		}
		n *= dim
	}
	return n, true
}

// inferShape replaces a single -1 extent in target so that the result has
// numel elements.
func inferShape(target Shape, numel int) (Shape, error) {
	out := target.Clone()
	infer := -1
	known := 1
	for i, dim := range out {
		switch {
		case dim == -1:
			if infer >= 0 {
				return nil, incompatible(target, "more than one inferred extent")
			}
			infer = i
		case dim < 0:
			return nil, incompatible(target, "negative extent")
		default:
			known *= dim
		}
	}

	if infer >= 0 {
		if known == 0 || numel%known != 0 {
			return nil, incompatible(target, "cannot infer extent")
		}
		out[infer] = numel / known
		return out, nil
	}
	if known != numel {
		return nil, incompatible(target, "element count differs")
	}
	return out, nil
}

func incompatible(target Shape, reason string) error {
	return &errdefs.ShapeError{
		Err:      errdefs.ErrIncompatibleShape,
		Target:   target,
		Capacity: -1,
		Reason:   reason,
	}
}

// computeStride finds strides that let newShape walk the same elements, in
// the same order, as (oldShape, oldStride). Dimensions may only be split or
// merged inside runs of memory-contiguous dimensions.
func computeStride(oldShape Shape, oldStride []int, newShape Shape) ([]int, bool) {
	numel := oldShape.NumElements()
	if numel == 0 {
		if oldShape.Equal(newShape) {
			return append([]int(nil), oldStride...), true
		}
		return ContiguousStrides(newShape), true
	}
	if len(oldShape) == 0 {
		return ContiguousStrides(newShape), true
	}

	newStride := make([]int, len(newShape))
	viewD := len(newShape) - 1
	chunkBase := oldStride[len(oldStride)-1]
	tensorNumel, viewNumel := 1, 1

	for tensorD := len(oldShape) - 1; tensorD >= 0; tensorD-- {
		tensorNumel *= oldShape[tensorD]
		// a chunk ends where the next-outer dimension is not laid out
		// directly after this one
		if tensorD == 0 || (oldShape[tensorD-1] != 1 && oldStride[tensorD-1] != tensorNumel*chunkBase) {
			for viewD >= 0 && (viewNumel < tensorNumel || newShape[viewD] == 1) {
				newStride[viewD] = viewNumel * chunkBase
				viewNumel *= newShape[viewD]
				viewD--
			}
			if viewNumel != tensorNumel {
				return nil, false
			}
			if tensorD > 0 {
				chunkBase = oldStride[tensorD-1]
				tensorNumel, viewNumel = 1, 1
			}
		}
	}
	if viewD != -1 {
		return nil, false
	}
	return newStride, true
}
