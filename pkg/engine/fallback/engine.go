// Package fallback holds pure-Go reference kernels. They favour clarity over
// speed and accept any scalar type by converting through float64.
//
// Importing the package registers the kernels with engine.DefaultKernels.
package fallback

import (
	"fmt"
	"math"

	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/evalue"
)

// Kernels maps operator keys to their implementations.
var Kernels = map[string]engine.KernelFunc{
	"add.out":          Add,
	"mul.out":          Mul,
	"linear_scale.out": LinearScale,
	"rms_norm.out":     RMSNorm,
	"copy.out":         Copy,
}

func init() {
	if err := Register(engine.DefaultKernels()); err != nil {
		panic(err)
	}
}

// Register adds every fallback kernel to r.
func Register(r *engine.KernelRegistry) error {
	for name, fn := range Kernels {
		if err := r.Register(name, fn); err != nil {
			return fmt.Errorf("registering fallback kernel: %w", err)
		}
	}
	return nil
}

// Add computes out = a + b; args are (a, b, out). b may be a scalar.
func Add(kctx *engine.KernelContext, args []*evalue.Value) error {
	return binary(args, func(a, b float64) float64 { return a + b })
}

// Mul computes out = a * b; args are (a, b, out). b may be a scalar.
func Mul(kctx *engine.KernelContext, args []*evalue.Value) error {
	return binary(args, func(a, b float64) float64 { return a * b })
}

func binary(args []*evalue.Value, fn func(a, b float64) float64) error {
	if err := checkArgs(args, 3); err != nil {
		return err
	}
	a, err := inputTensor(args, 0)
	if err != nil {
		return err
	}
	b, err := operandArg(args, 1)
	if err != nil {
		return err
	}
	if b.tensor != nil && b.tensor.Numel() != a.Numel() {
		return fmt.Errorf("operand shapes %v and %v differ", a.Sizes(), b.tensor.Sizes())
	}
	out, err := outputTensor(args, 2, a.Sizes())
	if err != nil {
		return err
	}
	for i := range a.Numel() {
		out.SetFloat64At(i, fn(a.Float64At(i), b.at(i)))
	}
	return nil
}

// LinearScale computes out = x * scale; args are (x, scale, out).
func LinearScale(kctx *engine.KernelContext, args []*evalue.Value) error {
	if err := checkArgs(args, 3); err != nil {
		return err
	}
	x, err := inputTensor(args, 0)
	if err != nil {
		return err
	}
	scale, err := scalarArg(args, 1, 1)
	if err != nil {
		return err
	}
	out, err := outputTensor(args, 2, x.Sizes())
	if err != nil {
		return err
	}
	for i := range x.Numel() {
		out.SetFloat64At(i, x.Float64At(i)*scale)
	}
	return nil
}

const defaultRMSNormEpsilon = 1e-5

// RMSNorm normalizes each row (the last dimension) of x by its root mean
// square; args are (x, epsilon, out). epsilon may be None.
func RMSNorm(kctx *engine.KernelContext, args []*evalue.Value) error {
	if err := checkArgs(args, 3); err != nil {
		return err
	}
	x, err := inputTensor(args, 0)
	if err != nil {
		return err
	}
	epsilon, err := scalarArg(args, 1, defaultRMSNormEpsilon)
	if err != nil {
		return err
	}
	if epsilon == 0 {
		epsilon = defaultRMSNormEpsilon
	}

	n := x.Numel()
	width := n
	if x.Dim() > 0 {
		width = x.Sizes()[x.Dim()-1]
	}
	if width == 0 {
		_, err := outputTensor(args, 2, x.Sizes())
		return err
	}
	rows := n / width

	// Row scales are computed before out is written, so out may alias x.
	buf, err := kctx.AllocateTemp(rows*8, 8)
	if err != nil {
		return err
	}
	scales, err := evalue.NewTensor(evalue.Float64, []int{rows}, buf)
	if err != nil {
		return err
	}
	rms := scales.Float64s()
	for r := range rows {
		sumX2 := 0.0
		for i := r * width; i < (r+1)*width; i++ {
			v := x.Float64At(i)
			sumX2 += v * v
		}
		mean := sumX2 / float64(width)
		rms[r] = 1.0 / math.Sqrt(mean+epsilon)
	}

	out, err := outputTensor(args, 2, x.Sizes())
	if err != nil {
		return err
	}
	for i := range n {
		out.SetFloat64At(i, x.Float64At(i)*rms[i/width])
	}
	return nil
}

// Copy copies x into out, converting the scalar type if they differ; args are (x, out).
func Copy(kctx *engine.KernelContext, args []*evalue.Value) error {
	if err := checkArgs(args, 2); err != nil {
		return err
	}
	x, err := inputTensor(args, 0)
	if err != nil {
		return err
	}
	out, err := outputTensor(args, 1, x.Sizes())
	if err != nil {
		return err
	}
	if out.ScalarType() == x.ScalarType() {
		copy(out.Data(), x.Data())
		return nil
	}
	for i := range x.Numel() {
		out.SetFloat64At(i, x.Float64At(i))
	}
	return nil
}
