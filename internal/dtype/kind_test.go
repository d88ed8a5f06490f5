package dtype

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSize(t *testing.T) {
	var data = []struct {
		in   Kind
		size int
	}{
		{Float64, 8},
		{Float32, 4},
		{Float16, 2},
		{BFloat16, 2},
		{Int64, 8},
		{Int32, 4},
		{Int16, 2},
		{Int8, 1},
		{Uint8, 1},
		{Bool, 1},
		{QInt8, 1},
		{QUInt8, 1},
		{QInt32, 4},
	}
	if len(data) != len(All()) {
		t.Fatalf("table covers %d kinds, want %d", len(data), len(All()))
	}
	for _, tc := range data {
		if tc.in.Size() != tc.size {
			t.Errorf("%s.Size() = %d, want %d", tc.in, tc.in.Size(), tc.size)
		}
	}
}

func TestKindClassification(t *testing.T) {
	floats := map[Kind]bool{Float64: true, Float32: true, Float16: true, BFloat16: true}
	quants := map[Kind]bool{QInt8: true, QUInt8: true, QInt32: true}
	for _, k := range All() {
		assert.Equal(t, floats[k], k.IsFloatingPoint(), k.String())
		assert.Equal(t, quants[k], k.IsQuantized(), k.String())
	}
	assert.False(t, Kind(200).Valid())
	assert.False(t, Kind(200).IsFloatingPoint())
	assert.Equal(t, "kind(200)", Kind(200).String())
	assert.Panics(t, func() { Kind(200).Size() })
}

func TestParse(t *testing.T) {
	cases := map[string]Kind{
		"float32":  Float32,
		"FLOAT64":  Float64,
		"double":   Float64,
		"half":     Float16,
		"bfloat16": BFloat16,
		"long":     Int64,
		"quint8":   QUInt8,
		" bool ":   Bool,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("complex64")
	assert.Error(t, err)
}

func TestScalarNameRoundTrip(t *testing.T) {
	for _, k := range All() {
		got, ok := ParseScalarName(k.ScalarName())
		require.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseScalarName("float")
	assert.False(t, ok, "stems are case-sensitive")
}

func TestKind_JSON(t *testing.T) {
	d, err := json.Marshal(map[string]Kind{"k": BFloat16})
	require.NoError(t, err)
	assert.Equal(t, `{"k":"bfloat16"}`, string(d))

	var got map[string]Kind
	require.NoError(t, json.Unmarshal(d, &got))
	assert.Equal(t, BFloat16, got["k"])
}

func TestCodecRoundTrip(t *testing.T) {
	cases := []struct {
		kind Kind
		in   float64
		want float64
	}{
		{Float64, 1.25, 1.25},
		{Float32, -3.5, -3.5},
		{Float16, 1.5, 1.5},
		{BFloat16, 2.0, 2.0},
		{Int64, -42, -42},
		{Int32, 7.9, 7},
		{Int16, 40000, math.MaxInt16},
		{Int8, -200, math.MinInt8},
		{Uint8, -1, 0},
		{Uint8, 255, 255},
		{Bool, 3, 1},
		{Bool, 0, 0},
		{QInt8, 5, 5},
		{QUInt8, 250, 250},
		{QInt32, -9, -9},
	}
	for _, tc := range cases {
		buf := make([]byte, tc.kind.Size())
		Encode(tc.kind, buf, tc.in)
		assert.Equal(t, tc.want, Decode(tc.kind, buf), "%s(%v)", tc.kind, tc.in)
	}
}

func TestCodecFloat16Bits(t *testing.T) {
	// 1.0 in FP16 = 0x3c00, -2.0 = 0xc000, little-endian
	buf := make([]byte, 2)
	Encode(Float16, buf, 1.0)
	assert.Equal(t, []byte{0x00, 0x3c}, buf)
	Encode(Float16, buf, -2.0)
	assert.Equal(t, []byte{0x00, 0xc0}, buf)
}

func TestBFloat16Conversion(t *testing.T) {
	assert.Equal(t, uint16(0x3f80), BFloat16FromFloat32(1.0))
	assert.Equal(t, float32(1.0), BFloat16ToFloat32(0x3f80))

	// 1 + 2^-8 sits exactly between two bfloat16 values and rounds to even.
	assert.Equal(t, uint16(0x3f80), BFloat16FromFloat32(1.00390625))

	nan := BFloat16ToFloat32(BFloat16FromFloat32(float32(math.NaN())))
	assert.True(t, math.IsNaN(float64(nan)))

	inf := BFloat16ToFloat32(BFloat16FromFloat32(float32(math.Inf(-1))))
	assert.True(t, math.IsInf(float64(inf), -1))
}

func TestInt64Saturation(t *testing.T) {
	buf := make([]byte, 8)
	Encode(Int64, buf, 1e300)
	assert.Equal(t, float64(math.MaxInt64), Decode(Int64, buf))
	Encode(Int64, buf, math.NaN())
	assert.Equal(t, 0.0, Decode(Int64, buf))
}
