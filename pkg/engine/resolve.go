package engine

import (
	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
)

type chain struct {
	instructions []instruction
}

// instruction is a plan instruction bound to its kernel or delegate, with its
// operands resolved to pointers into the value table.
type instruction struct {
	kind     telemetry.Kind
	name     string
	kernel   KernelFunc
	delegate int
	args     []*evalue.Value
}

// resolveChains binds every instruction. Kernels are looked up once per
// operator slot and shared by all instructions that use the slot.
func (m *Method) resolveChains() error {
	nOps := len(m.plan.Operators)
	kernels := make([]KernelFunc, nOps)

	m.chains = make([]chain, 0, len(m.plan.Chains))
	for c, pc := range m.plan.Chains {
		ch := chain{instructions: make([]instruction, 0, len(pc.Instructions))}
		for i, pi := range pc.Instructions {
			instr, err := m.resolveInstruction(c, i, pi, kernels)
			if err != nil {
				return err
			}
			ch.instructions = append(ch.instructions, instr)
		}
		m.chains = append(m.chains, ch)
	}
	return nil
}

func (m *Method) resolveInstruction(c, i int, pi plan.Instruction, kernels []KernelFunc) (instruction, error) {
	const op = "init"
	nOps := len(m.plan.Operators)

	var instr instruction
	switch {
	case pi.Op >= 0 && pi.Op < nOps:
		key := m.plan.Operators[pi.Op].Key()
		fn := kernels[pi.Op]
		if fn == nil {
			var ok bool
			if m.kernels != nil {
				fn, ok = m.kernels.Lookup(key)
			}
			if !ok {
				return instruction{}, newError(CodeOperatorNotFound, op, "chain %d instruction %d: no kernel registered for operator %q", c, i, key)
			}
			kernels[pi.Op] = fn
		}
		instr = instruction{kind: telemetry.KindKernel, name: key, kernel: fn}

	case pi.Op >= nOps && pi.Op < nOps+m.nDelegate:
		d := pi.Op - nOps
		instr = instruction{kind: telemetry.KindDelegate, name: m.delegates[d].id, delegate: d}

	default:
		return instruction{}, newError(CodeOperatorNotFound, op, "chain %d instruction %d: opcode %d matches no operator (%d) or delegate (%d)",
			c, i, pi.Op, nOps, m.nDelegate)
	}

	instr.args = make([]*evalue.Value, len(pi.Args))
	for j, idx := range pi.Args {
		if idx < 0 || idx >= m.nValue {
			return instruction{}, newError(CodeInvalidProgram, op, "chain %d instruction %d: argument %d refers to value %d, value table has %d entries",
				c, i, j, idx, m.nValue)
		}
		instr.args[j] = &m.values[idx]
	}
	return instr, nil
}
