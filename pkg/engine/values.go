package engine

import (
	"errors"
	"math"

	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
)

// parseValues builds the value table. If descriptor k fails, nValue is left
// at k so teardown destroys exactly the values that were built.
func (m *Method) parseValues() error {
	descs := m.plan.Values
	m.values = make([]evalue.Value, len(descs))
	m.owned = make([][]byte, len(descs))
	m.nValue = 0

	for i, desc := range descs {
		v, buf, err := m.buildValue(i, desc)
		if err != nil {
			return err
		}
		m.values[i] = v
		m.owned[i] = buf
		m.nValue = i + 1
	}
	return nil
}

// buildValue constructs one value. All validation happens before storage is
// allocated, so a failed descriptor never holds arena memory.
func (m *Method) buildValue(i int, desc plan.Value) (evalue.Value, []byte, error) {
	const op = "init"
	switch desc.Type {
	case plan.TypeNone, "":
		return evalue.None(), nil, nil
	case plan.TypeBool:
		return evalue.FromBool(desc.Bool), nil, nil
	case plan.TypeInt:
		return evalue.FromInt(desc.Int), nil, nil
	case plan.TypeDouble:
		return evalue.FromDouble(desc.Double), nil, nil
	case plan.TypeList:
		refs := make([]*evalue.Value, len(desc.List))
		for j, idx := range desc.List {
			// Elements must already be built, which also rules out cycles.
			if idx < 0 || idx >= i {
				return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: list element %d refers to value %d, only values before %d may be listed", i, j, idx, i)
			}
			refs[j] = &m.values[idx]
		}
		return evalue.FromList(refs), nil, nil
	case plan.TypeTensor:
		return m.buildTensor(i, desc.Tensor)
	}
	return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: unknown value type %q", i, desc.Type)
}

func (m *Method) buildTensor(i int, desc *plan.Tensor) (evalue.Value, []byte, error) {
	const op = "init"
	if desc == nil {
		return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: tensor value has no tensor descriptor", i)
	}
	scalarType, err := evalue.ParseScalarType(desc.ScalarType)
	if err != nil {
		return evalue.Value{}, nil, wrapError(CodeInvalidProgram, op, err, "value %d", i)
	}
	numel := 1
	for _, s := range desc.Sizes {
		if s < 0 {
			return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: negative dimension in sizes %v", i, desc.Sizes)
		}
		if s != 0 && numel > math.MaxInt/s/scalarType.Size() {
			return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: sizes %v overflow the addressable byte count", i, desc.Sizes)
		}
		numel *= s
	}
	if desc.Data != nil && len(desc.Data) != numel {
		return evalue.Value{}, nil, newError(CodeInvalidProgram, op, "value %d: constant has %d elements, sizes %v need %d", i, len(desc.Data), desc.Sizes, numel)
	}

	if !desc.Planned && desc.Data == nil {
		// Storage is supplied later through SetInput.
		t, err := evalue.NewTensor(scalarType, desc.Sizes, nil)
		if err != nil {
			return evalue.Value{}, nil, wrapError(CodeInvalidProgram, op, err, "value %d", i)
		}
		return evalue.FromTensor(t), nil, nil
	}

	if m.memory == nil || m.memory.Planned == nil {
		return evalue.Value{}, nil, newError(CodeAllocationFailed, op, "value %d: no planned allocator for %d-byte tensor", i, numel*scalarType.Size())
	}
	buf, err := m.memory.Planned.Allocate(numel*scalarType.Size(), scalarType.Alignment())
	if err != nil {
		code := CodeAllocationFailed
		if !errors.Is(err, memory.ErrOutOfMemory) {
			code = CodeInvalidProgram
		}
		return evalue.Value{}, nil, wrapError(code, op, err, "value %d: allocating %v%v", i, scalarType, desc.Sizes)
	}
	clear(buf)

	t, err := evalue.NewTensor(scalarType, desc.Sizes, buf)
	if err != nil {
		m.release(buf)
		return evalue.Value{}, nil, wrapError(CodeInvalidProgram, op, err, "value %d", i)
	}
	for j, v := range desc.Data {
		t.SetFloat64At(j, v)
	}
	return evalue.FromTensor(t), buf, nil
}

// destroyValues tears down values[:nValue] and nothing beyond.
func (m *Method) destroyValues() {
	for i := 0; i < m.nValue; i++ {
		if m.owned[i] != nil {
			m.release(m.owned[i])
			m.owned[i] = nil
		}
		m.values[i] = evalue.None()
	}
	m.values = nil
	m.owned = nil
	m.nValue = 0
}

func (m *Method) release(buf []byte) {
	if m.memory == nil {
		return
	}
	if r, ok := m.memory.Planned.(memory.Releaser); ok {
		r.Release(buf)
	}
}
