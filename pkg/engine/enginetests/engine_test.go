package enginetests

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"k8s.io/examples/AI/planexec/pkg/engine"
	_ "k8s.io/examples/AI/planexec/pkg/engine/fallback"
	_ "k8s.io/examples/AI/planexec/pkg/engine/wasm"
	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
	"k8s.io/examples/AI/planexec/pkg/telemetry/profilestore"
)

// addScalarPlan adds an int input to a 2x2 tensor input, scales the sum by
// one in place, then multiplies it by one again in a wasm delegate whose
// payload is (f64, f64) -> f64 f64.mul exported as "run".
const addScalarPlan = `
name: forward
values:
  - type: int
  - type: tensor
    tensor: {scalar_type: float32, sizes: [2, 2]}
  - type: tensor
    tensor: {scalar_type: float32, sizes: [2, 2], planned: true}
  - type: tensor
    tensor: {scalar_type: float32, sizes: [2, 2], planned: true}
  - type: double
    double: 1
inputs: [0, 1]
outputs: [3]
operators:
  - {name: add, overload: out}
  - {name: mul, overload: out}
delegates:
  - id: wasm
    processed: AGFzbQEAAAABBwFgAnx8AXwDAgEABwcBA3J1bgAACgkBBwAgACABogs=
    compile_specs: {mode: elementwise}
chains:
  - instructions:
      - {op: 0, args: [1, 0, 2]}
      - {op: 1, args: [2, 4, 2]}
      - {op: 2, args: [2, 4, 3]}
`

const rmsNormPlan = `
name: rms_norm
values:
  - type: tensor
    tensor: {scalar_type: float32, sizes: [3], data: [1, 2, 3]}
  - type: none
  - type: tensor
    tensor: {scalar_type: float32, sizes: [3], planned: true}
outputs: [2]
operators:
  - {name: rms_norm, overload: out}
chains:
  - instructions:
      - {op: 0, args: [0, 1, 2]}
`

func loadPlan(t *testing.T, text string, tracer telemetry.Tracer) *engine.Method {
	t.Helper()
	p, err := plan.Load(strings.NewReader(text))
	if err != nil {
		t.Fatalf("failed to load plan: %v", err)
	}
	m, err := engine.Load(context.Background(), p, memory.NewArenaManager(4096, 1024), tracer)
	if err != nil {
		t.Fatalf("failed to initialize method: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("failed to close method: %v", err)
		}
	})
	return m
}

func onesInput(t *testing.T) evalue.Value {
	t.Helper()
	x, err := evalue.FromFloat32s([]int{2, 2}, []float32{1, 1, 1, 1})
	if err != nil {
		t.Fatalf("failed to build input: %v", err)
	}
	return evalue.FromTensor(x)
}

func TestEngine(t *testing.T) {
	m := loadPlan(t, rmsNormPlan, nil)

	if err := m.Execute(context.Background()); err != nil {
		t.Fatalf("failed to execute: %v", err)
	}

	results := make([]evalue.Value, m.OutputsSize())
	if err := m.GetOutputs(results); err != nil {
		t.Fatalf("failed to get outputs: %v", err)
	}
	t.Logf("results: %v", results)

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	x, ok := results[0].Tensor()
	if !ok {
		t.Fatalf("expected tensor, got %v", results[0].Tag())
	}
	values := x.Float32s()
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	expected := []float32{0.46290955, 0.9258191, 1.3887286}
	if !FloatingPointEqual(values, expected) {
		t.Errorf("expected %+v, got %+v", expected, values)
	}
}

func TestExampleScenario(t *testing.T) {
	ctx := context.Background()
	m := loadPlan(t, addScalarPlan, nil)

	if err := m.SetInput(0, evalue.FromInt(5)); err != nil {
		t.Fatalf("failed to set input 0: %v", err)
	}
	if err := m.SetInput(1, onesInput(t)); err != nil {
		t.Fatalf("failed to set input 1: %v", err)
	}
	if err := m.Execute(ctx); err != nil {
		t.Fatalf("failed to execute: %v", err)
	}

	results := make([]evalue.Value, 1)
	if err := m.GetOutputs(results); err != nil {
		t.Fatalf("failed to get outputs: %v", err)
	}
	x, ok := results[0].Tensor()
	if !ok {
		t.Fatalf("expected tensor, got %v", results[0].Tag())
	}
	if got, want := x.Float32s(), []float32{6, 6, 6, 6}; !FloatingPointEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	// Stop after one step: reset is only valid once the run has completed.
	if err := m.Step(ctx); err != nil {
		t.Fatalf("failed to step: %v", err)
	}
	err := m.Reset()
	if !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("expected InvalidState from reset, got %v", err)
	}
}

func TestStepToEnd(t *testing.T) {
	ctx := context.Background()
	m := loadPlan(t, addScalarPlan, nil)
	if err := m.SetInputs([]evalue.Value{evalue.FromInt(2), onesInput(t)}); err != nil {
		t.Fatalf("failed to set inputs: %v", err)
	}

	steps := 0
	for {
		steps++
		err := m.Step(ctx)
		if engine.IsEndOfMethod(err) {
			break
		}
		if err != nil {
			t.Fatalf("step %d failed: %v", steps, err)
		}
	}
	if steps != 3 {
		t.Errorf("expected 3 steps, got %d", steps)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("failed to reset: %v", err)
	}

	out, err := m.Output(0)
	if err != nil {
		t.Fatalf("failed to get output: %v", err)
	}
	x, _ := out.Tensor()
	if got, want := x.Float32s(), []float32{3, 3, 3, 3}; !FloatingPointEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestProfileStore(t *testing.T) {
	ctx := context.Background()
	store, err := profilestore.Open(filepath.Join(t.TempDir(), "profile.db"))
	if err != nil {
		t.Fatalf("failed to open profile store: %v", err)
	}
	defer store.Close()

	m := loadPlan(t, addScalarPlan, store)
	if err := m.SetInputs([]evalue.Value{evalue.FromInt(5), onesInput(t)}); err != nil {
		t.Fatalf("failed to set inputs: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := m.Execute(ctx); err != nil {
			t.Fatalf("failed to execute: %v", err)
		}
	}

	runs, err := store.Runs(ctx, "forward")
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	rows, err := store.Events(ctx, runs[0])
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	var kinds []string
	for _, row := range rows {
		kinds = append(kinds, string(row.Kind)+":"+row.Name)
	}
	want := []string{"kernel:add.out", "kernel:mul.out", "delegate:wasm", "method:"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("expected events %v, got %v", want, kinds)
	}
}

func FloatingPointEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, value := range a {
		if math.Abs(float64(value-b[i])) > 0.00001 {
			return false
		}
	}
	return true
}
