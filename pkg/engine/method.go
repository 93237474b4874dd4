// Package engine executes a plan's method: it builds the value table from
// the plan's value descriptors, binds every instruction to a kernel or a
// delegate, and runs the instructions either to completion or one at a time.
//
// A Method is driven by a single goroutine; it does no locking of its own.
// Independent methods may run concurrently if each has its own memory.Manager.
package engine

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
	"k8s.io/klog/v2"
)

// InitState tracks initialization. It only moves forward, from
// Uninitialized to one of the other two.
type InitState uint8

const (
	Uninitialized InitState = iota
	Initialized
	InitializationFailed
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case InitializationFailed:
		return "InitializationFailed"
	}
	return fmt.Sprintf("InitState(%d)", uint8(s))
}

// Method is an executable method of a plan.
type Method struct {
	step  stepState
	runID string
	// failed is set when an instruction fails; the method can then only be closed.
	failed bool

	plan     *plan.Plan
	name     string
	memory   *memory.Manager
	tracer   telemetry.Tracer
	kernels  *KernelRegistry
	backends *BackendRegistry

	// values[:nValue] are constructed; owned[i] is storage the method
	// allocated for values[i], released on teardown.
	nValue int
	values []evalue.Value
	owned  [][]byte

	inputs  []int
	outputs []int

	nDelegate int
	delegates []delegateEntry

	chains []chain

	initState InitState
}

type delegateEntry struct {
	id       string
	delegate Delegate
}

// Option configures a Method.
type Option func(*Method)

// WithKernelRegistry resolves operators against r instead of DefaultKernels.
func WithKernelRegistry(r *KernelRegistry) Option {
	return func(m *Method) { m.kernels = r }
}

// WithBackendRegistry resolves delegates against r instead of DefaultBackends.
func WithBackendRegistry(r *BackendRegistry) Option {
	return func(m *Method) { m.backends = r }
}

// NewMethod binds a method to its plan, memory and tracer. It is unusable
// until Init succeeds. tracer may be nil.
func NewMethod(p *plan.Plan, mm *memory.Manager, tracer telemetry.Tracer, opts ...Option) *Method {
	if tracer == nil {
		tracer = telemetry.Nop()
	}
	m := &Method{
		plan:     p,
		memory:   mm,
		tracer:   tracer,
		kernels:  DefaultKernels(),
		backends: DefaultBackends(),
	}
	if p != nil {
		m.name = p.Name
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load creates and initializes a method, releasing everything it built if
// initialization fails.
func Load(ctx context.Context, p *plan.Plan, mm *memory.Manager, tracer telemetry.Tracer, opts ...Option) (*Method, error) {
	m := NewMethod(p, mm, tracer, opts...)
	if err := m.Init(ctx); err != nil {
		if closeErr := m.Close(); closeErr != nil {
			klog.FromContext(ctx).Error(closeErr, "closing partially initialized method", "method", m.name)
		}
		return nil, err
	}
	return m, nil
}

// Init parses the plan into the value table, delegates and chains. On
// failure the method is left InitializationFailed with only what was
// actually built recorded for teardown.
func (m *Method) Init(ctx context.Context) error {
	const op = "init"
	if m.plan == nil {
		return newError(CodeInvalidState, op, "method has no plan")
	}
	if m.initState != Uninitialized {
		return newError(CodeInvalidState, op, "method is %v", m.initState)
	}

	log := klog.FromContext(ctx)

	if err := m.init(ctx); err != nil {
		m.initState = InitializationFailed
		log.Error(err, "initializing method", "method", m.name, "values", m.nValue, "delegates", m.nDelegate, "chains", len(m.chains))
		return err
	}
	m.initState = Initialized

	log.V(2).Info("initialized method", "method", m.name, "values", m.nValue, "inputs", len(m.inputs), "outputs", len(m.outputs),
		"delegates", m.nDelegate, "chains", len(m.chains), "instructions", m.plan.NumInstructions())
	return nil
}

func (m *Method) init(ctx context.Context) error {
	if err := m.parseValues(); err != nil {
		return err
	}
	if err := m.parseInputsOutputs(); err != nil {
		return err
	}
	if err := m.initDelegates(ctx); err != nil {
		return err
	}
	return m.resolveChains()
}

func (m *Method) parseInputsOutputs() error {
	check := func(kind string, indices []int) ([]int, error) {
		out := make([]int, len(indices))
		for i, idx := range indices {
			if idx < 0 || idx >= m.nValue {
				return nil, newError(CodeInvalidProgram, "init", "%s %d refers to value %d, value table has %d entries", kind, i, idx, m.nValue)
			}
			out[i] = idx
		}
		return out, nil
	}
	inputs, err := check("input", m.plan.Inputs)
	if err != nil {
		return err
	}
	outputs, err := check("output", m.plan.Outputs)
	if err != nil {
		return err
	}
	m.inputs = inputs
	m.outputs = outputs
	return nil
}

func (m *Method) initDelegates(ctx context.Context) error {
	const op = "init"
	descs := m.plan.Delegates
	if len(descs) == 0 {
		return nil
	}
	m.delegates = make([]delegateEntry, len(descs))
	m.nDelegate = 0

	ictx := BackendInitContext{Method: m.name}
	if m.memory != nil {
		ictx.Planned = m.memory.Planned
	}
	for i, desc := range descs {
		if m.backends == nil {
			return newError(CodeOperatorNotFound, op, "delegate %d: no backend registry", i)
		}
		backend, ok := m.backends.Lookup(desc.ID)
		if !ok {
			return newError(CodeOperatorNotFound, op, "delegate %d: backend %q is not registered", i, desc.ID)
		}
		d, err := backend.Init(ctx, ictx, desc)
		if err != nil {
			return wrapError(CodeDelegateInitFailed, op, err, "delegate %d (%s)", i, desc.ID)
		}
		if d == nil {
			return newError(CodeDelegateInitFailed, op, "delegate %d (%s): backend returned no delegate", i, desc.ID)
		}
		m.delegates[i] = delegateEntry{id: desc.ID, delegate: d}
		m.nDelegate = i + 1
	}
	return nil
}

// InitState reports how far initialization got.
func (m *Method) InitState() InitState { return m.initState }

func (m *Method) Initialized() bool { return m.initState == Initialized }

// Name is the plan's method name.
func (m *Method) Name() string { return m.name }

func (m *Method) checkInitialized(op string) error {
	if m.initState != Initialized {
		return newError(CodeInvalidState, op, "method is %v", m.initState)
	}
	return nil
}

// Take moves the method: the returned Method owns everything m owned, and
// m is left as an empty, uninitialized Method whose Close does nothing and
// whose other operations fail with InvalidState.
func (m *Method) Take() *Method {
	moved := new(Method)
	*moved = *m
	*m = Method{}
	return moved
}

// Close releases the chains, delegates and the constructed prefix of the
// value table, in that order. It is safe on partially initialized, moved-from
// and already closed methods.
func (m *Method) Close() error {
	var errs []error

	m.chains = nil

	for i := 0; i < m.nDelegate; i++ {
		entry := m.delegates[i]
		if err := entry.delegate.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing delegate %d (%s): %w", i, entry.id, err))
		}
	}
	m.delegates = nil
	m.nDelegate = 0

	m.destroyValues()

	m.inputs = nil
	m.outputs = nil
	m.step = stepState{}
	m.runID = ""
	m.failed = false
	m.initState = Uninitialized
	m.plan = nil
	m.memory = nil

	return errors.Join(errs...)
}
