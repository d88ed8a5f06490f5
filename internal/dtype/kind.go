// Package dtype defines the element kinds a storage buffer can hold.
package dtype

import (
	"fmt"
	"strings"
)

// Kind identifies a scalar representation. The integer order is stable and
// is used as the registry sort key.
type Kind uint8

const (
	Float64 Kind = iota
	Float32
	Float16
	BFloat16
	Int64
	Int32
	Int16
	Int8
	Uint8
	Bool
	QInt8
	QUInt8
	QInt32

	numKinds
)

type kindInfo struct {
	name  string
	stem  string
	size  int
	float bool
	quant bool
}

var kinds = [numKinds]kindInfo{
	Float64:  {name: "float64", stem: "Double", size: 8, float: true},
	Float32:  {name: "float32", stem: "Float", size: 4, float: true},
	Float16:  {name: "float16", stem: "Half", size: 2, float: true},
	BFloat16: {name: "bfloat16", stem: "BFloat16", size: 2, float: true},
	Int64:    {name: "int64", stem: "Long", size: 8},
	Int32:    {name: "int32", stem: "Int", size: 4},
	Int16:    {name: "int16", stem: "Short", size: 2},
	Int8:     {name: "int8", stem: "Char", size: 1},
	Uint8:    {name: "uint8", stem: "Byte", size: 1},
	Bool:     {name: "bool", stem: "Bool", size: 1},
	QInt8:    {name: "qint8", stem: "QInt8", size: 1, quant: true},
	QUInt8:   {name: "quint8", stem: "QUInt8", size: 1, quant: true},
	QInt32:   {name: "qint32", stem: "QInt32", size: 4, quant: true},
}

// aliases maps the short dtype spellings onto kinds.
var aliases = map[string]Kind{
	"double": Float64,
	"float":  Float32,
	"half":   Float16,
	"long":   Int64,
	"int":    Int32,
	"short":  Int16,
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k < numKinds
}

// Size returns the byte width of one element.
// Panics on an undefined kind.
func (k Kind) Size() int {
	if !k.Valid() {
		panic(fmt.Sprintf("unknown element kind: %d", k))
	}
	return kinds[k].size
}

// String returns the lower-case dtype name, e.g. "float32".
func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", k)
	}
	return kinds[k].name
}

// ScalarName returns the class stem used in type names, e.g. "Float" for
// Float32, so that "cpu."+ScalarName()+"Tensor" names the tensor type.
func (k Kind) ScalarName() string {
	if !k.Valid() {
		return ""
	}
	return kinds[k].stem
}

// IsFloatingPoint reports whether k may serve as the default inference kind.
func (k Kind) IsFloatingPoint() bool {
	return k.Valid() && kinds[k].float
}

// IsQuantized reports whether k is one of the quantized integer kinds.
func (k Kind) IsQuantized() bool {
	return k.Valid() && kinds[k].quant
}

// All returns every defined kind in order.
func All() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Parse resolves a dtype name ("float32") or one of its short aliases
// ("float", "double", ...). Matching is case-insensitive.
func Parse(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k := Kind(0); k < numKinds; k++ {
		if kinds[k].name == n {
			return k, nil
		}
	}
	if k, ok := aliases[n]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown dtype %q", name)
}

// ParseScalarName resolves a class stem ("Float", "QUInt8") to its kind.
// Stems are case-sensitive, as they appear inside type names.
func ParseScalarName(stem string) (Kind, bool) {
	for k := Kind(0); k < numKinds; k++ {
		if kinds[k].stem == stem {
			return k, true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown element kind: %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
