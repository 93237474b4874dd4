// Package evalue holds the values an execution plan computes over: scalars,
// tensors and lists of references to other values.
package evalue

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies which member of the union a Value holds.
type Tag uint8

const (
	TagNone Tag = iota
	TagBool
	TagInt
	TagDouble
	TagTensor
	TagList
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagDouble:
		return "double"
	case TagTensor:
		return "tensor"
	case TagList:
		return "list"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Value is a tagged union. Copying a Value is shallow: tensors and list
// elements are shared with the original.
type Value struct {
	tag    Tag
	b      bool
	i      int64
	d      float64
	tensor *Tensor
	list   []*Value
}

func None() Value { return Value{} }

func FromBool(b bool) Value { return Value{tag: TagBool, b: b} }

func FromInt(i int64) Value { return Value{tag: TagInt, i: i} }

func FromDouble(d float64) Value { return Value{tag: TagDouble, d: d} }

func FromTensor(t *Tensor) Value { return Value{tag: TagTensor, tensor: t} }

// FromList builds a list whose elements refer to other values (usually slots of a value table).
func FromList(refs []*Value) Value { return Value{tag: TagList, list: refs} }

func (v Value) Tag() Tag { return v.tag }

func (v Value) IsNone() bool { return v.tag == TagNone }

func (v Value) Bool() (bool, bool) { return v.b, v.tag == TagBool }

func (v Value) Int() (int64, bool) { return v.i, v.tag == TagInt }

func (v Value) Double() (float64, bool) { return v.d, v.tag == TagDouble }

func (v Value) Tensor() (*Tensor, bool) { return v.tensor, v.tag == TagTensor && v.tensor != nil }

func (v Value) List() ([]*Value, bool) { return v.list, v.tag == TagList }

// Scalar returns any bool, int or double payload as a float64.
func (v Value) Scalar() (float64, bool) {
	switch v.tag {
	case TagBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case TagInt:
		return float64(v.i), true
	case TagDouble:
		return v.d, true
	}
	return 0, false
}

func (v Value) String() string {
	switch v.tag {
	case TagNone:
		return "none"
	case TagBool:
		return strconv.FormatBool(v.b)
	case TagInt:
		return strconv.FormatInt(v.i, 10)
	case TagDouble:
		return strconv.FormatFloat(v.d, 'g', -1, 64)
	case TagTensor:
		return v.tensor.String()
	case TagList:
		parts := make([]string, len(v.list))
		for i, ref := range v.list {
			if ref == nil {
				parts[i] = "nil"
				continue
			}
			parts[i] = ref.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.tag.String()
}
