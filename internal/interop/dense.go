package interop

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-tensorcore/internal/registry"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// ToDense copies a rank-1 or rank-2 view into a gonum matrix. A rank-1
// view becomes a single column.
func ToDense(v *tensor.View) (*mat.Dense, error) {
	shape := v.Shape()
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, errors.Errorf("dense export needs rank 1 or 2, got shape %v", shape)
	}
	if rows == 0 || cols == 0 {
		return nil, errors.Errorf("dense export of empty shape %v", shape)
	}
	values, err := v.ToFloat64s()
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, values), nil
}

// FromDense copies m into a new rows x cols tensor made by f.
func FromDense(ctx context.Context, f registry.Factory, m mat.Matrix) (*tensor.View, error) {
	rows, cols := m.Dims()
	v, err := f.NewTensor(ctx, tensor.Shape{rows, cols})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		for j := range cols {
			if err := v.Set(m.At(i, j), i, j); err != nil {
				v.Release()
				return nil, err
			}
		}
	}
	return v, nil
}
