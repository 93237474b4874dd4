package evalue

import (
	"fmt"
	"math"
	"slices"
	"unsafe"
)

// Tensor is a shaped, typed view over a byte buffer.
// The buffer is not owned by the tensor; whoever allocated it decides its lifetime.
type Tensor struct {
	scalarType ScalarType
	sizes      []int
	data       []byte
}

// NewTensor builds a tensor over data. data may be nil for tensors whose storage is supplied later.
func NewTensor(scalarType ScalarType, sizes []int, data []byte) (*Tensor, error) {
	if scalarType.Size() == 0 {
		return nil, fmt.Errorf("tensor scalar type %v has no element size", scalarType)
	}
	n, err := numel(sizes, scalarType.Size())
	if err != nil {
		return nil, err
	}
	t := &Tensor{
		scalarType: scalarType,
		sizes:      slices.Clone(sizes),
	}
	if data != nil {
		want := n * scalarType.Size()
		if len(data) < want {
			return nil, fmt.Errorf("tensor %v%v needs %d bytes, buffer has %d", scalarType, sizes, want, len(data))
		}
		t.data = data[:want]
	}
	return t, nil
}

// FromFloat32s returns a float32 tensor whose storage aliases values.
func FromFloat32s(sizes []int, values []float32) (*Tensor, error) {
	return NewTensor(Float32, sizes, bytesOf(values))
}

// FromFloat64s returns a float64 tensor whose storage aliases values.
func FromFloat64s(sizes []int, values []float64) (*Tensor, error) {
	return NewTensor(Float64, sizes, bytesOf(values))
}

// FromInt64s returns an int64 tensor whose storage aliases values.
func FromInt64s(sizes []int, values []int64) (*Tensor, error) {
	return NewTensor(Int64, sizes, bytesOf(values))
}

func bytesOf[T any](values []T) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*int(unsafe.Sizeof(zero)))
}

// numel counts elements, rejecting shapes whose byte size at elemSize bytes
// per element would not fit in an int.
func numel(sizes []int, elemSize int) (int, error) {
	elemSize = max(elemSize, 1)
	n := 1
	for _, s := range sizes {
		if s < 0 {
			return 0, fmt.Errorf("negative dimension in sizes %v", sizes)
		}
		if s != 0 && n > math.MaxInt/s/elemSize {
			return 0, fmt.Errorf("sizes %v overflow the addressable byte count", sizes)
		}
		n *= s
	}
	return n, nil
}

func (t *Tensor) ScalarType() ScalarType { return t.scalarType }

// Sizes returns the shape. The returned slice must not be modified.
func (t *Tensor) Sizes() []int { return t.sizes }

func (t *Tensor) Dim() int { return len(t.sizes) }

func (t *Tensor) Numel() int {
	n, _ := numel(t.sizes, t.scalarType.Size())
	return n
}

func (t *Tensor) NBytes() int { return t.Numel() * t.scalarType.Size() }

// Data returns the raw storage, or nil if the tensor has none yet.
func (t *Tensor) Data() []byte { return t.data }

func (t *Tensor) HasData() bool { return t.data != nil }

// Capacity is the largest NBytes the tensor can grow to without new storage.
func (t *Tensor) Capacity() int { return cap(t.data) }

// Resize changes the shape in place. The storage is not reallocated, so the new
// shape must fit in Capacity.
func (t *Tensor) Resize(sizes []int) error {
	n, err := numel(sizes, t.scalarType.Size())
	if err != nil {
		return err
	}
	need := n * t.scalarType.Size()
	if t.data != nil && need > cap(t.data) {
		return fmt.Errorf("resize to %v needs %d bytes, capacity is %d", sizes, need, cap(t.data))
	}
	t.sizes = slices.Clone(sizes)
	if t.data != nil {
		t.data = t.data[:need]
	}
	return nil
}

// CopyFrom resizes t to src's shape and copies src's contents into t's storage.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if src.scalarType != t.scalarType {
		return fmt.Errorf("copy from %v tensor into %v tensor", src.scalarType, t.scalarType)
	}
	if t.data == nil {
		return fmt.Errorf("copy into tensor with no storage")
	}
	if src.data == nil {
		return fmt.Errorf("copy from tensor with no storage")
	}
	if err := t.Resize(src.sizes); err != nil {
		return err
	}
	copy(t.data, src.data)
	return nil
}

// SameShape reports whether the two tensors have identical sizes.
func SameShape(a, b *Tensor) bool {
	return slices.Equal(a.sizes, b.sizes)
}

func view[T any](t *Tensor, want ScalarType) []T {
	if t.scalarType != want || t.data == nil {
		return nil
	}
	n := t.Numel()
	if n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(t.data))), n)
}

// Float32s views the storage as float32 elements; nil if the tensor is not float32 or has no storage.
func (t *Tensor) Float32s() []float32 { return view[float32](t, Float32) }

func (t *Tensor) Float64s() []float64 { return view[float64](t, Float64) }

func (t *Tensor) Int32s() []int32 { return view[int32](t, Int32) }

func (t *Tensor) Int64s() []int64 { return view[int64](t, Int64) }

func (t *Tensor) Uint8s() []uint8 { return view[uint8](t, Uint8) }

// Float64At reads element i converted to float64.
func (t *Tensor) Float64At(i int) float64 {
	switch t.scalarType {
	case Float32:
		return float64(t.Float32s()[i])
	case Float64:
		return t.Float64s()[i]
	case Int32:
		return float64(t.Int32s()[i])
	case Int64:
		return float64(t.Int64s()[i])
	case Uint8, Bool:
		return float64(t.data[i])
	}
	return math.NaN()
}

// SetFloat64At writes element i, converting from float64.
func (t *Tensor) SetFloat64At(i int, v float64) {
	switch t.scalarType {
	case Float32:
		t.Float32s()[i] = float32(v)
	case Float64:
		t.Float64s()[i] = v
	case Int32:
		t.Int32s()[i] = int32(v)
	case Int64:
		t.Int64s()[i] = int64(v)
	case Uint8:
		t.data[i] = uint8(v)
	case Bool:
		if v != 0 {
			t.data[i] = 1
		} else {
			t.data[i] = 0
		}
	}
}

func (t *Tensor) String() string {
	if t == nil {
		return "tensor(nil)"
	}
	if t.data == nil {
		return fmt.Sprintf("tensor(%v%v: <no storage>)", t.scalarType, t.sizes)
	}
	n := t.Numel()
	values := make([]float64, n)
	for i := range values {
		values[i] = t.Float64At(i)
	}
	return fmt.Sprintf("tensor(%v%v: %v)", t.scalarType, t.sizes, values)
}
