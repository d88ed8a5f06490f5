package dtype

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/float16"
)

// Encode writes v into dst as one element of kind k in native byte order.
// dst must hold at least k.Size() bytes. Integer kinds truncate toward zero
// and saturate at their range; Bool stores 1 for any non-zero value.
func Encode(k Kind, dst []byte, v float64) {
	switch k {
	case Float64:
		arrow.Float64Traits.PutValue(dst, v)
	case Float32:
		arrow.Float32Traits.PutValue(dst, float32(v))
	case Float16:
		float16.New(float32(v)).PutLEBytes(dst)
	case BFloat16:
		arrow.Uint16Traits.PutValue(dst, BFloat16FromFloat32(float32(v)))
	case Int64:
		arrow.Int64Traits.PutValue(dst, toInt64(v))
	case Int32, QInt32:
		arrow.Int32Traits.PutValue(dst, int32(clamp(v, math.MinInt32, math.MaxInt32)))
	case Int16:
		arrow.Int16Traits.PutValue(dst, int16(clamp(v, math.MinInt16, math.MaxInt16)))
	case Int8, QInt8:
		arrow.Int8Traits.PutValue(dst, int8(clamp(v, math.MinInt8, math.MaxInt8)))
	case Uint8, QUInt8:
		arrow.Uint8Traits.PutValue(dst, uint8(clamp(v, 0, math.MaxUint8)))
	case Bool:
		if v != 0 {
			dst[0] = 1
		} else {
			dst[0] = 0
		}
	default:
		panic(fmt.Sprintf("encode: unknown element kind %d", k))
	}
}

// Decode reads one element of kind k from src.
func Decode(k Kind, src []byte) float64 {
	switch k {
	case Float64:
		return arrow.Float64Traits.CastFromBytes(src[:8])[0]
	case Float32:
		return float64(arrow.Float32Traits.CastFromBytes(src[:4])[0])
	case Float16:
		return float64(float16.FromLEBytes(src[:2]).Float32())
	case BFloat16:
		return float64(BFloat16ToFloat32(arrow.Uint16Traits.CastFromBytes(src[:2])[0]))
	case Int64:
		return float64(arrow.Int64Traits.CastFromBytes(src[:8])[0])
	case Int32, QInt32:
		return float64(arrow.Int32Traits.CastFromBytes(src[:4])[0])
	case Int16:
		return float64(arrow.Int16Traits.CastFromBytes(src[:2])[0])
	case Int8, QInt8:
		return float64(arrow.Int8Traits.CastFromBytes(src[:1])[0])
	case Uint8, QUInt8:
		return float64(src[0])
	case Bool:
		if src[0] != 0 {
			return 1
		}
		return 0
	default:
		panic(fmt.Sprintf("decode: unknown element kind %d", k))
	}
}

// toInt64 saturates at the int64 range; float64(math.MaxInt64) rounds up
// to 2^63, which does not convert.
func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= 1<<63:
		return math.MaxInt64
	case v < -(1 << 63):
		return math.MinInt64
	}
	return int64(v)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BFloat16FromFloat32 keeps the upper 16 bits of f, rounding to nearest even.
// NaN stays NaN.
func BFloat16FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)
	if math.IsNaN(float64(f)) {
		return uint16(bits>>16) | 0x0040
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

// BFloat16ToFloat32 widens a bfloat16 bit pattern to float32.
func BFloat16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}
