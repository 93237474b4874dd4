package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
)

// addScalar computes out = x + s elementwise; args are (x, s, out).
func addScalar(kctx *engine.KernelContext, args []*evalue.Value) error {
	if len(args) != 3 {
		return fmt.Errorf("want 3 args, got %d", len(args))
	}
	x, ok := args[0].Tensor()
	if !ok || !x.HasData() {
		return fmt.Errorf("arg 0: want tensor with storage, got %v", args[0])
	}
	s, ok := args[1].Scalar()
	if !ok {
		return fmt.Errorf("arg 1: want scalar, got %v", args[1].Tag())
	}
	out, ok := args[2].Tensor()
	if !ok {
		return fmt.Errorf("arg 2: want tensor, got %v", args[2].Tag())
	}
	if err := out.Resize(x.Sizes()); err != nil {
		return err
	}
	for i := range x.Numel() {
		out.SetFloat64At(i, x.Float64At(i)+s)
	}
	return nil
}

// copyTensor copies args[0] into args[1].
func copyTensor(kctx *engine.KernelContext, args []*evalue.Value) error {
	src, _ := args[0].Tensor()
	dst, _ := args[1].Tensor()
	if src == nil || dst == nil {
		return errors.New("copy needs two tensors")
	}
	return dst.CopyFrom(src)
}

var errKernel = errors.New("kernel exploded")

func failKernel(kctx *engine.KernelContext, args []*evalue.Value) error {
	return errKernel
}

// scratchHog asks for more scratch memory than any test arena holds.
func scratchHog(kctx *engine.KernelContext, args []*evalue.Value) error {
	_, err := kctx.AllocateTemp(1<<20, 8)
	return err
}

func testKernels(t *testing.T) *engine.KernelRegistry {
	t.Helper()
	r := engine.NewKernelRegistry()
	require.NoError(t, r.Register("add_scalar.out", addScalar))
	require.NoError(t, r.Register("copy.out", copyTensor))
	require.NoError(t, r.Register("fail", failKernel))
	require.NoError(t, r.Register("scratch_hog", scratchHog))
	return r
}

func f32Tensor(sizes ...int) *plan.Tensor {
	return &plan.Tensor{ScalarType: "float32", Sizes: sizes}
}

func planned(t *plan.Tensor) *plan.Tensor {
	t.Planned = true
	return t
}

// examplePlan adds an integer input to a 2x2 tensor input in three
// instructions: add, copy, add zero.
func examplePlan() *plan.Plan {
	return &plan.Plan{
		Name: "forward",
		Values: []plan.Value{
			{Type: plan.TypeInt},
			{Type: plan.TypeTensor, Tensor: f32Tensor(2, 2)},
			{Type: plan.TypeTensor, Tensor: planned(f32Tensor(2, 2))},
			{Type: plan.TypeTensor, Tensor: planned(f32Tensor(2, 2))},
			{Type: plan.TypeDouble, Double: 0},
		},
		Inputs:  []int{0, 1},
		Outputs: []int{3},
		Operators: []plan.Operator{
			{Name: "add_scalar", Overload: "out"},
			{Name: "copy", Overload: "out"},
		},
		Chains: []plan.Chain{{Instructions: []plan.Instruction{
			{Op: 0, Args: []int{1, 0, 2}},
			{Op: 1, Args: []int{2, 3}},
			{Op: 0, Args: []int{3, 4, 3}},
		}}},
	}
}

type fixture struct {
	method  *engine.Method
	tracker *memory.Tracker
	tracer  *telemetry.Recorder
}

func load(t *testing.T, p *plan.Plan, opts ...engine.Option) *fixture {
	t.Helper()
	f := &fixture{
		tracker: memory.NewTracker(memory.NewArena("planned", 4096)),
		tracer:  telemetry.NewRecorder(),
	}
	opts = append([]engine.Option{engine.WithKernelRegistry(testKernels(t))}, opts...)
	mm := memory.NewManager(f.tracker, memory.NewArena("scratch", 1024))
	m, err := engine.Load(context.Background(), p, mm, f.tracer, opts...)
	require.NoError(t, err)
	f.method = m
	t.Cleanup(func() { _ = m.Close() })
	return f
}

func ones(t *testing.T) evalue.Value {
	t.Helper()
	x, err := evalue.FromFloat32s([]int{2, 2}, []float32{1, 1, 1, 1})
	require.NoError(t, err)
	return evalue.FromTensor(x)
}

func outputFloats(t *testing.T, m *engine.Method, i int) []float32 {
	t.Helper()
	v, err := m.Output(i)
	require.NoError(t, err)
	x, ok := v.Tensor()
	require.True(t, ok, "output %d is %v", i, v.Tag())
	return append([]float32(nil), x.Float32s()...)
}

func requireCode(t *testing.T, err error, code engine.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, engine.CodeOf(err), "error: %v", err)
}

// fakeBackend builds fakeDelegates and records every one it built.
type fakeBackend struct {
	// initErr fails every Init after the first.
	initErr  error
	execErr  error
	built    []*fakeDelegate
	initSeen []plan.Delegate
}

func (b *fakeBackend) Init(ctx context.Context, ictx engine.BackendInitContext, desc plan.Delegate) (engine.Delegate, error) {
	b.initSeen = append(b.initSeen, desc)
	if b.initErr != nil && len(b.initSeen) > 1 {
		return nil, b.initErr
	}
	d := &fakeDelegate{execErr: b.execErr}
	b.built = append(b.built, d)
	return d, nil
}

// fakeDelegate negates args[0] into args[1].
type fakeDelegate struct {
	execErr error
	calls   int
	closed  int
}

func (d *fakeDelegate) Execute(ctx context.Context, args []*evalue.Value) error {
	d.calls++
	if d.execErr != nil {
		return d.execErr
	}
	src, _ := args[0].Tensor()
	dst, _ := args[1].Tensor()
	if err := dst.Resize(src.Sizes()); err != nil {
		return err
	}
	for i := range src.Numel() {
		dst.SetFloat64At(i, -src.Float64At(i))
	}
	return nil
}

func (d *fakeDelegate) Close() error {
	d.closed++
	return nil
}

// panicTracer panics on every call.
type panicTracer struct{}

func (panicTracer) Begin(ev telemetry.Event) telemetry.Span { panic("begin") }
func (panicTracer) End(span telemetry.Span, err error)      { panic("end") }
