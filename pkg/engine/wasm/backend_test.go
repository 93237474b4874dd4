package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// exportRun is the export section exporting function 0 as "run".
var exportRun = []byte{0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x00}

var oneFunc = []byte{0x03, 0x02, 0x01, 0x00}

func module(sections ...[]byte) []byte {
	out := append([]byte(nil), header...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

var (
	// (i64, i64) -> i64: local.get 0, local.get 1, i64.add
	addI64 = module(
		[]byte{0x01, 0x07, 0x01, 0x60, 0x02, 0x7e, 0x7e, 0x01, 0x7e},
		oneFunc, exportRun,
		[]byte{0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x7c, 0x0b},
	)
	// (f64, f64) -> f64: local.get 0, local.get 1, f64.add
	addF64 = module(
		[]byte{0x01, 0x07, 0x01, 0x60, 0x02, 0x7c, 0x7c, 0x01, 0x7c},
		oneFunc, exportRun,
		[]byte{0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0xa0, 0x0b},
	)
	// (f64) -> f64: local.get 0, f64.neg
	negF64 = module(
		[]byte{0x01, 0x06, 0x01, 0x60, 0x01, 0x7c, 0x01, 0x7c},
		oneFunc, exportRun,
		[]byte{0x0a, 0x07, 0x01, 0x05, 0x00, 0x20, 0x00, 0x9a, 0x0b},
	)
	// () -> (): unreachable
	trap = module(
		[]byte{0x01, 0x04, 0x01, 0x60, 0x00, 0x00},
		oneFunc, exportRun,
		[]byte{0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b},
	)
)

func initDelegate(t *testing.T, payload []byte, specs map[string]string) engine.Delegate {
	t.Helper()
	d, err := Backend{}.Init(context.Background(), engine.BackendInitContext{Method: "test"}, plan.Delegate{ID: BackendID, Processed: payload, CompileSpecs: specs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func ptr(v evalue.Value) *evalue.Value { return &v }

func TestScalarCall(t *testing.T) {
	d := initDelegate(t, addI64, nil)

	out := ptr(evalue.FromInt(0))
	require.NoError(t, d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromInt(2)), ptr(evalue.FromInt(40)), out}))
	n, ok := out.Int()
	require.True(t, ok)
	assert.Equal(t, int64(42), n)

	// None outputs take the result's kind.
	none := ptr(evalue.None())
	require.NoError(t, d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromInt(-2)), ptr(evalue.FromInt(1)), none}))
	n, ok = none.Int()
	require.True(t, ok)
	assert.Equal(t, int64(-1), n)

	err := d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromInt(2))})
	assert.ErrorContains(t, err, "got 1 arguments")
}

func TestScalarResultIntoTensor(t *testing.T) {
	d := initDelegate(t, addF64, nil)
	x, err := evalue.FromFloat64s([]int{3}, make([]float64, 3))
	require.NoError(t, err)
	out := ptr(evalue.FromTensor(x))
	require.NoError(t, d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromDouble(1.5)), ptr(evalue.FromInt(2)), out}))
	assert.Equal(t, []float64{3.5, 3.5, 3.5}, x.Float64s())

	intOut := ptr(evalue.FromInt(0))
	err = d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromDouble(1.5)), ptr(evalue.FromInt(2)), intOut})
	assert.ErrorContains(t, err, "int value")
}

func TestElementwise(t *testing.T) {
	d := initDelegate(t, addF64, map[string]string{"mode": ModeElementwise})

	x, err := evalue.FromFloat32s([]int{2, 2}, []float32{1, 1, 1, 1})
	require.NoError(t, err)
	y, err := evalue.FromFloat32s([]int{2, 2}, make([]float32, 4))
	require.NoError(t, err)
	require.NoError(t, d.Execute(context.Background(), []*evalue.Value{ptr(evalue.FromTensor(x)), ptr(evalue.FromInt(5)), ptr(evalue.FromTensor(y))}))
	assert.Equal(t, []float32{6, 6, 6, 6}, y.Float32s())

	neg := initDelegate(t, negF64, map[string]string{"mode": ModeElementwise})
	in := ptr(evalue.FromTensor(y))
	require.NoError(t, neg.Execute(context.Background(), []*evalue.Value{in, in}))
	assert.Equal(t, []float32{-6, -6, -6, -6}, y.Float32s())
}

func TestTrap(t *testing.T) {
	d := initDelegate(t, trap, nil)
	err := d.Execute(context.Background(), nil)
	assert.ErrorContains(t, err, "calling wasm function")
}

func TestInitErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload []byte
		specs   map[string]string
		want    string
	}{
		{"no payload", nil, nil, "no wasm payload"},
		{"not wasm", []byte("hello"), nil, "compiling"},
		{"missing export", addI64, map[string]string{"entrypoint": "forward"}, `export function "forward"`},
		{"bad mode", addI64, map[string]string{"mode": "vector"}, "unknown mode"},
		{"bad spec", addI64, map[string]string{"threads": "4"}, "unknown compile spec"},
		{"bad limit", addI64, map[string]string{"memory_limit_pages": "lots"}, "memory_limit_pages"},
		{"elementwise without result", trap, map[string]string{"mode": ModeElementwise}, "elementwise"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Backend{}.Init(context.Background(), engine.BackendInitContext{}, plan.Delegate{ID: BackendID, Processed: tc.payload, CompileSpecs: tc.specs})
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestMemoryLimit(t *testing.T) {
	initDelegate(t, addI64, map[string]string{"memory_limit_pages": "16"})
}

func TestClose(t *testing.T) {
	d, err := Backend{}.Init(context.Background(), engine.BackendInitContext{}, plan.Delegate{ID: BackendID, Processed: addI64})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Error(t, d.Execute(context.Background(), nil))
}

func TestRegisteredByDefault(t *testing.T) {
	_, ok := engine.DefaultBackends().Lookup(BackendID)
	assert.True(t, ok)
}

func TestInMethod(t *testing.T) {
	p := &plan.Plan{
		Name: "wasm-add",
		Values: []plan.Value{
			{Type: plan.TypeInt},
			{Type: plan.TypeInt, Int: 1},
			{Type: plan.TypeInt},
		},
		Inputs:    []int{0},
		Outputs:   []int{2},
		Delegates: []plan.Delegate{{ID: BackendID, Processed: addI64}},
		Chains:    []plan.Chain{{Instructions: []plan.Instruction{{Op: 0, Args: []int{0, 1, 2}}}}},
	}
	m, err := engine.Load(context.Background(), p, memory.NewArenaManager(0, 0), nil)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetInput(0, evalue.FromInt(41)))
	require.NoError(t, m.Execute(context.Background()))
	out, err := m.Output(0)
	require.NoError(t, err)
	n, _ := out.Int()
	assert.Equal(t, int64(42), n)
}
