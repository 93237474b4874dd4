package evalue

import (
	"fmt"
	"strings"
)

// ScalarType is the element type of a tensor.
type ScalarType uint8

const (
	Undefined ScalarType = iota
	Float32
	Float64
	Int32
	Int64
	Uint8
	Bool
)

var scalarTypeNames = map[ScalarType]string{
	Undefined: "undefined",
	Float32:   "float32",
	Float64:   "float64",
	Int32:     "int32",
	Int64:     "int64",
	Uint8:     "uint8",
	Bool:      "bool",
}

var scalarTypeAliases = map[string]ScalarType{
	"f32":    Float32,
	"float":  Float32,
	"f64":    Float64,
	"double": Float64,
	"i32":    Int32,
	"int":    Int32,
	"i64":    Int64,
	"long":   Int64,
	"u8":     Uint8,
	"byte":   Uint8,
}

// ParseScalarType accepts the canonical names (float32, int64, ...) and a few short aliases.
func ParseScalarType(s string) (ScalarType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for st, n := range scalarTypeNames {
		if st != Undefined && n == name {
			return st, nil
		}
	}
	if st, ok := scalarTypeAliases[name]; ok {
		return st, nil
	}
	return Undefined, fmt.Errorf("unknown scalar type %q", s)
}

func (s ScalarType) String() string {
	if n, ok := scalarTypeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ScalarType(%d)", uint8(s))
}

// Size returns the number of bytes of one element.
func (s ScalarType) Size() int {
	switch s {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8, Bool:
		return 1
	default:
		return 0
	}
}

// Alignment is the natural alignment of one element.
func (s ScalarType) Alignment() int {
	if n := s.Size(); n > 0 {
		return n
	}
	return 1
}

func (s ScalarType) IsFloating() bool {
	return s == Float32 || s == Float64
}
