package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"k8s.io/examples/AI/planexec/pkg/evalue"
)

// Delegate calls one exported function of an instantiated module. Like
// the method that owns it, it is not safe for concurrent use.
type Delegate struct {
	runtime wazero.Runtime
	module  api.Module
	fn      api.Function
	mode    string
	params  []api.ValueType
	results []api.ValueType

	stack []uint64
}

func (d *Delegate) Execute(ctx context.Context, args []*evalue.Value) error {
	if d.fn == nil {
		return fmt.Errorf("wasm delegate is closed")
	}
	if d.mode == ModeElementwise {
		return d.executeElementwise(ctx, args)
	}
	return d.executeScalar(ctx, args)
}

func (d *Delegate) executeScalar(ctx context.Context, args []*evalue.Value) error {
	want := len(d.params) + len(d.results)
	if len(args) < want {
		return fmt.Errorf("function takes %d parameters and returns %d values, got %d arguments", len(d.params), len(d.results), len(args))
	}
	stack := d.stackFor()
	for i, t := range d.params {
		v, err := encode(t, args[i])
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		stack[i] = v
	}
	if err := d.fn.CallWithStack(ctx, stack); err != nil {
		return fmt.Errorf("calling wasm function: %w", err)
	}
	if len(d.results) == 0 {
		return nil
	}
	return store(d.results[0], stack[0], args[len(d.params)])
}

func (d *Delegate) executeElementwise(ctx context.Context, args []*evalue.Value) error {
	if len(args) != len(d.params)+1 {
		return fmt.Errorf("elementwise function takes %d parameters, want %d arguments, got %d", len(d.params), len(d.params)+1, len(args))
	}
	x, ok := args[0].Tensor()
	if !ok || !x.HasData() {
		return fmt.Errorf("argument 0: want tensor with storage, got %v", args[0].Tag())
	}
	out, ok := args[len(args)-1].Tensor()
	if !ok || !out.HasData() {
		return fmt.Errorf("argument %d: want tensor with storage, got %v", len(args)-1, args[len(args)-1].Tag())
	}

	// Trailing scalar parameters are the same for every element.
	extra := make([]uint64, len(d.params)-1)
	for i := range extra {
		v, err := encode(d.params[i+1], args[i+1])
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		extra[i] = v
	}

	if err := out.Resize(x.Sizes()); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	stack := d.stackFor()
	for i := range x.Numel() {
		stack[0] = encodeFloat(d.params[0], x.Float64At(i))
		copy(stack[1:], extra)
		if err := d.fn.CallWithStack(ctx, stack); err != nil {
			return fmt.Errorf("calling wasm function on element %d: %w", i, err)
		}
		out.SetFloat64At(i, decodeFloat(d.results[0], stack[0]))
	}
	return nil
}

// stackFor returns a stack large enough for the function's parameters and results.
func (d *Delegate) stackFor() []uint64 {
	n := max(len(d.params), len(d.results))
	if cap(d.stack) < n {
		d.stack = make([]uint64, n)
	}
	return d.stack[:n]
}

func (d *Delegate) Close() error {
	if d.runtime == nil {
		return nil
	}
	// The runtime owns the module; closing it releases both.
	err := d.runtime.Close(context.Background())
	d.runtime = nil
	d.module = nil
	d.fn = nil
	return err
}

func encode(t api.ValueType, v *evalue.Value) (uint64, error) {
	if n, ok := v.Int(); ok {
		switch t {
		case api.ValueTypeI32:
			return api.EncodeI32(int32(n)), nil
		case api.ValueTypeI64:
			return api.EncodeI64(n), nil
		}
	}
	f, ok := v.Scalar()
	if !ok {
		return 0, fmt.Errorf("want scalar, got %v", v.Tag())
	}
	return encodeFloat(t, f), nil
}

func encodeFloat(t api.ValueType, f float64) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(f))
	case api.ValueTypeI64:
		return api.EncodeI64(int64(f))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(f))
	}
	return api.EncodeF64(f)
}

func decodeFloat(t api.ValueType, raw uint64) float64 {
	switch t {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(raw))
	case api.ValueTypeI64:
		return float64(int64(raw))
	case api.ValueTypeF32:
		return float64(api.DecodeF32(raw))
	}
	return api.DecodeF64(raw)
}

// store writes a result into out, keeping out's kind where it has one.
func store(t api.ValueType, raw uint64, out *evalue.Value) error {
	integer := t == api.ValueTypeI32 || t == api.ValueTypeI64
	var n int64
	switch t {
	case api.ValueTypeI32:
		n = int64(api.DecodeI32(raw))
	case api.ValueTypeI64:
		n = int64(raw)
	}
	f := decodeFloat(t, raw)

	switch out.Tag() {
	case evalue.TagInt:
		if !integer {
			return fmt.Errorf("cannot store %v result in an int value", api.ValueTypeName(t))
		}
		*out = evalue.FromInt(n)
	case evalue.TagDouble:
		*out = evalue.FromDouble(f)
	case evalue.TagNone:
		if integer {
			*out = evalue.FromInt(n)
		} else {
			*out = evalue.FromDouble(f)
		}
	case evalue.TagTensor:
		x, ok := out.Tensor()
		if !ok || !x.HasData() {
			return fmt.Errorf("result tensor has no storage")
		}
		for i := range x.Numel() {
			x.SetFloat64At(i, f)
		}
	default:
		return fmt.Errorf("cannot store result in a %v value", out.Tag())
	}
	return nil
}
