package engine

import (
	"k8s.io/examples/AI/planexec/pkg/evalue"
)

// SetInput assigns input i. The value must have the slot's tag and, for
// tensors, its scalar type; the shape may differ. If the method owns storage
// for the slot the tensor contents are copied into it, otherwise the slot
// aliases v's storage, which must then stay valid until it is overwritten or
// the method is closed.
func (m *Method) SetInput(i int, v evalue.Value) error {
	const op = "set input"
	if err := m.checkInitialized(op); err != nil {
		return err
	}
	if err := m.validateInput(op, i, v); err != nil {
		return err
	}
	return m.applyInput(op, i, v)
}

// SetInputs assigns every input at once. Nothing is assigned unless every
// value is valid.
func (m *Method) SetInputs(vs []evalue.Value) error {
	const op = "set inputs"
	if err := m.checkInitialized(op); err != nil {
		return err
	}
	if len(vs) != len(m.inputs) {
		return newError(CodeInvalidArgument, op, "got %d values, method has %d inputs", len(vs), len(m.inputs))
	}
	for i, v := range vs {
		if err := m.validateInput(op, i, v); err != nil {
			return err
		}
	}
	for i, v := range vs {
		if err := m.applyInput(op, i, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Method) validateInput(op string, i int, v evalue.Value) error {
	if i < 0 || i >= len(m.inputs) {
		return newError(CodeInvalidArgument, op, "input %d out of range, method has %d inputs", i, len(m.inputs))
	}
	idx := m.inputs[i]
	slot := &m.values[idx]
	if v.Tag() != slot.Tag() {
		return newError(CodeInvalidArgument, op, "input %d: got %v, want %v", i, v.Tag(), slot.Tag())
	}
	if slot.Tag() != evalue.TagTensor {
		return nil
	}

	want, _ := slot.Tensor()
	got, ok := v.Tensor()
	if !ok {
		return newError(CodeInvalidArgument, op, "input %d: tensor value has no tensor", i)
	}
	if want != nil && got.ScalarType() != want.ScalarType() {
		return newError(CodeInvalidArgument, op, "input %d: got %v tensor, want %v", i, got.ScalarType(), want.ScalarType())
	}
	if m.owned[idx] != nil {
		if !got.HasData() {
			return newError(CodeInvalidArgument, op, "input %d: tensor has no storage to copy from", i)
		}
		if got.NBytes() > cap(m.owned[idx]) {
			return newError(CodeInvalidArgument, op, "input %d: %v%v needs %d bytes, planned storage holds %d",
				i, got.ScalarType(), got.Sizes(), got.NBytes(), cap(m.owned[idx]))
		}
	}
	return nil
}

func (m *Method) applyInput(op string, i int, v evalue.Value) error {
	idx := m.inputs[i]
	slot := &m.values[idx]
	if slot.Tag() == evalue.TagTensor && m.owned[idx] != nil {
		dst, _ := slot.Tensor()
		src, _ := v.Tensor()
		if src == dst {
			return nil
		}
		if err := dst.CopyFrom(src); err != nil {
			return wrapError(CodeInvalidArgument, op, err, "input %d", i)
		}
		return nil
	}
	*slot = v
	return nil
}

// GetOutputs copies the outputs into buf. Tensors are shared, not duplicated,
// so callers must not write to their storage. Slots past OutputsSize are set
// to None. A buffer that is too short is left untouched.
func (m *Method) GetOutputs(buf []evalue.Value) error {
	const op = "get outputs"
	if err := m.checkInitialized(op); err != nil {
		return err
	}
	if len(buf) < len(m.outputs) {
		return newError(CodeInvalidArgument, op, "buffer holds %d values, method has %d outputs", len(buf), len(m.outputs))
	}
	for i, idx := range m.outputs {
		buf[i] = m.values[idx]
	}
	for i := len(m.outputs); i < len(buf); i++ {
		buf[i] = evalue.None()
	}
	return nil
}

// ValuesSize is the length of the value table.
func (m *Method) ValuesSize() int { return m.nValue }

func (m *Method) Value(i int) (evalue.Value, error) {
	p, err := m.valueAt("value", i)
	if err != nil {
		return evalue.Value{}, err
	}
	return *p, nil
}

// MutableValue returns the slot itself. Writes through it bypass input validation.
func (m *Method) MutableValue(i int) (*evalue.Value, error) {
	return m.valueAt("mutable value", i)
}

func (m *Method) valueAt(op string, i int) (*evalue.Value, error) {
	if err := m.checkInitialized(op); err != nil {
		return nil, err
	}
	if i < 0 || i >= m.nValue {
		return nil, newError(CodeInvalidArgument, op, "value %d out of range, value table has %d entries", i, m.nValue)
	}
	return &m.values[i], nil
}

func (m *Method) InputsSize() int { return len(m.inputs) }

// InputIndex maps input i to its value table index.
func (m *Method) InputIndex(i int) (int, error) {
	return indexAt("input index", "input", m, m.inputs, i)
}

func (m *Method) Input(i int) (evalue.Value, error) {
	idx, err := indexAt("input", "input", m, m.inputs, i)
	if err != nil {
		return evalue.Value{}, err
	}
	return m.values[idx], nil
}

func (m *Method) MutableInput(i int) (*evalue.Value, error) {
	idx, err := indexAt("mutable input", "input", m, m.inputs, i)
	if err != nil {
		return nil, err
	}
	return &m.values[idx], nil
}

func (m *Method) OutputsSize() int { return len(m.outputs) }

// OutputIndex maps output i to its value table index.
func (m *Method) OutputIndex(i int) (int, error) {
	return indexAt("output index", "output", m, m.outputs, i)
}

func (m *Method) Output(i int) (evalue.Value, error) {
	idx, err := indexAt("output", "output", m, m.outputs, i)
	if err != nil {
		return evalue.Value{}, err
	}
	return m.values[idx], nil
}

func (m *Method) MutableOutput(i int) (*evalue.Value, error) {
	idx, err := indexAt("mutable output", "output", m, m.outputs, i)
	if err != nil {
		return nil, err
	}
	return &m.values[idx], nil
}

func indexAt(op, kind string, m *Method, indices []int, i int) (int, error) {
	if err := m.checkInitialized(op); err != nil {
		return 0, err
	}
	if i < 0 || i >= len(indices) {
		return 0, newError(CodeInvalidArgument, op, "%s %d out of range, method has %d %ss", kind, i, len(indices), kind)
	}
	return indices[i], nil
}
