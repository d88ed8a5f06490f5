package storage

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/float16"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

// The typed accessors reinterpret the buffer without copying. They panic when
// the storage kind does not match; a moving Resize invalidates the result.

func (s *Storage) mustKind(want ...dtype.Kind) {
	for _, k := range want {
		if s.kind == k {
			return
		}
	}
	panic(fmt.Sprintf("storage %s: typed access as %v on %s storage", s.id, want, s.kind))
}

func (s *Storage) Float64s() []float64 {
	s.mustKind(dtype.Float64)
	return arrow.Float64Traits.CastFromBytes(s.data)
}

func (s *Storage) Float32s() []float32 {
	s.mustKind(dtype.Float32)
	return arrow.Float32Traits.CastFromBytes(s.data)
}

func (s *Storage) Float16s() []float16.Num {
	s.mustKind(dtype.Float16)
	return arrow.Float16Traits.CastFromBytes(s.data)
}

// BFloat16s returns the raw bfloat16 bit patterns.
func (s *Storage) BFloat16s() []uint16 {
	s.mustKind(dtype.BFloat16)
	return arrow.Uint16Traits.CastFromBytes(s.data)
}

func (s *Storage) Int64s() []int64 {
	s.mustKind(dtype.Int64)
	return arrow.Int64Traits.CastFromBytes(s.data)
}

// Int32s also serves QInt32 storages.
func (s *Storage) Int32s() []int32 {
	s.mustKind(dtype.Int32, dtype.QInt32)
	return arrow.Int32Traits.CastFromBytes(s.data)
}

func (s *Storage) Int16s() []int16 {
	s.mustKind(dtype.Int16)
	return arrow.Int16Traits.CastFromBytes(s.data)
}

// Int8s also serves QInt8 storages.
func (s *Storage) Int8s() []int8 {
	s.mustKind(dtype.Int8, dtype.QInt8)
	return arrow.Int8Traits.CastFromBytes(s.data)
}

// Uint8s also serves QUInt8 and Bool storages.
func (s *Storage) Uint8s() []uint8 {
	s.mustKind(dtype.Uint8, dtype.QUInt8, dtype.Bool)
	return s.data
}

// Float64Values copies every element out as float64, whatever the kind.
func (s *Storage) Float64Values() []float64 {
	out := make([]float64, s.count)
	size := s.kind.Size()
	for i := range out {
		out[i] = dtype.Decode(s.kind, s.data[i*size:])
	}
	return out
}
