package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
	"k8s.io/klog/v2"
)

// stepState is the program counter. It only moves forward; chain ==
// len(chains) is the terminal position.
type stepState struct {
	chain int
	instr int
}

// ExecutionState is the scheduler's position, derived from the step state.
type ExecutionState uint8

const (
	NotStarted ExecutionState = iota
	InProgress
	Completed
)

func (s ExecutionState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case InProgress:
		return "InProgress"
	case Completed:
		return "Completed"
	}
	return fmt.Sprintf("ExecutionState(%d)", uint8(s))
}

// ExecutionState reports NotStarted, InProgress or Completed. A plan with
// no instructions is Completed as soon as it has been stepped once.
func (m *Method) ExecutionState() ExecutionState {
	switch {
	case m.step == stepState{}:
		if len(m.chains) == 0 {
			return Completed
		}
		return NotStarted
	case m.completed():
		return Completed
	}
	return InProgress
}

// Position returns the (chain, instruction) of the next instruction to run.
func (m *Method) Position() (chain, instr int) {
	return m.step.chain, m.step.instr
}

// Failed reports whether an instruction failed; such a method can only be closed.
func (m *Method) Failed() bool { return m.failed }

func (m *Method) completed() bool {
	return m.step.chain >= len(m.chains)
}

// skipEmptyChains moves past chains with no instructions left.
func (m *Method) skipEmptyChains() {
	for m.step.chain < len(m.chains) && m.step.instr >= len(m.chains[m.step.chain].instructions) {
		m.step.chain++
		m.step.instr = 0
	}
}

func (m *Method) checkRunnable(op string) error {
	if err := m.checkInitialized(op); err != nil {
		return err
	}
	if m.failed {
		return newError(CodeInvalidState, op, "an earlier instruction failed; the method can only be closed")
	}
	return nil
}

// Execute runs every remaining instruction. It may only start from the
// beginning: if Step has been used, Reset must be called after it reaches
// the end. On success the method is rewound so it can run again with new
// inputs. On failure the value table keeps whatever partial results were
// written and the method can only be closed.
func (m *Method) Execute(ctx context.Context) error {
	const op = "execute"
	if err := m.checkRunnable(op); err != nil {
		return err
	}
	if m.step != (stepState{}) {
		c, i := m.Position()
		return newError(CodeInvalidState, op, "method is mid-execution at chain %d instruction %d; reset it after stepping to the end", c, i)
	}

	log := klog.FromContext(ctx)
	m.startRun()
	span := m.beginEvent(ctx, telemetry.Event{Kind: telemetry.KindMethod, Method: m.name, RunID: m.runID, Chain: -1, Instruction: -1})

	for {
		err := m.step1(ctx)
		if err == nil {
			continue
		}
		if IsEndOfMethod(err) {
			break
		}
		m.endEvent(ctx, span, err)
		return err
	}
	m.endEvent(ctx, span, nil)

	log.V(2).Info("executed method", "method", m.name, "run", m.runID, "duration", span.Elapsed())
	m.step = stepState{}
	m.runID = ""
	return nil
}

// Step executes exactly one instruction. The step that executes the final
// instruction returns ErrEndOfMethod, as does any Step taken afterwards
// (without executing anything). Any other error means the instruction failed.
func (m *Method) Step(ctx context.Context) error {
	if err := m.checkRunnable("step"); err != nil {
		return err
	}
	if m.step == (stepState{}) && m.runID == "" {
		m.startRun()
	}
	return m.step1(ctx)
}

func (m *Method) step1(ctx context.Context) error {
	m.skipEmptyChains()
	if m.completed() {
		return ErrEndOfMethod
	}
	if err := m.executeInstruction(ctx); err != nil {
		m.failed = true
		return err
	}
	m.step.instr++
	m.skipEmptyChains()
	if m.completed() {
		return ErrEndOfMethod
	}
	return nil
}

// Reset rewinds a method that stepped to the end. A method stopped anywhere
// else, including after a failure, cannot be reset; the position is left
// unchanged.
func (m *Method) Reset() error {
	const op = "reset"
	if err := m.checkRunnable(op); err != nil {
		return err
	}
	if !m.completed() {
		c, i := m.Position()
		return newError(CodeInvalidState, op, "method has not reached the end (chain %d instruction %d)", c, i)
	}
	m.step = stepState{}
	m.runID = ""
	return nil
}

func (m *Method) startRun() {
	m.runID = uuid.NewString()
}

func (m *Method) executeInstruction(ctx context.Context) error {
	c, i := m.step.chain, m.step.instr
	instr := &m.chains[c].instructions[i]

	span := m.beginEvent(ctx, telemetry.Event{
		Kind:        instr.kind,
		Method:      m.name,
		RunID:       m.runID,
		Chain:       c,
		Instruction: i,
		Name:        instr.name,
	})

	var err error
	switch instr.kind {
	case telemetry.KindKernel:
		kctx := NewKernelContext(ctx, instr.name, m.scratch())
		if kerr := instr.kernel(kctx, instr.args); kerr != nil {
			code := CodeOperatorExecutionFailed
			if errors.Is(kerr, memory.ErrOutOfMemory) {
				code = CodeAllocationFailed
			}
			err = wrapError(code, "step", kerr, "chain %d instruction %d (%s)", c, i, instr.name)
		}
	case telemetry.KindDelegate:
		if derr := m.delegates[instr.delegate].delegate.Execute(ctx, instr.args); derr != nil {
			err = wrapError(CodeDelegateExecutionFailed, "step", derr, "chain %d instruction %d (delegate %d, %s)", c, i, instr.delegate, instr.name)
		}
	}

	m.endEvent(ctx, span, err)

	if scratch := m.scratch(); scratch != nil {
		scratch.Reset()
	}

	if err != nil {
		klog.FromContext(ctx).Error(err, "instruction failed", "method", m.name, "run", m.runID)
		return err
	}
	klog.FromContext(ctx).V(4).Info("executed instruction", "method", m.name, "chain", c, "instruction", i, "name", instr.name)
	return nil
}

func (m *Method) scratch() memory.Allocator {
	if m.memory == nil {
		return nil
	}
	return m.memory.Scratch
}

// beginEvent and endEvent isolate execution from tracer panics.
func (m *Method) beginEvent(ctx context.Context, ev telemetry.Event) (span telemetry.Span) {
	defer func() {
		if r := recover(); r != nil {
			klog.FromContext(ctx).Error(fmt.Errorf("%v", r), "telemetry tracer panicked in Begin", "method", m.name)
			span = telemetry.StartSpan(ev)
		}
	}()
	return m.tracer.Begin(ev)
}

func (m *Method) endEvent(ctx context.Context, span telemetry.Span, execErr error) {
	defer func() {
		if r := recover(); r != nil {
			klog.FromContext(ctx).Error(fmt.Errorf("%v", r), "telemetry tracer panicked in End", "method", m.name)
		}
	}()
	m.tracer.End(span, execErr)
}
