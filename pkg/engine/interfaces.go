package engine

import (
	"context"
	"io"

	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/examples/AI/planexec/pkg/plan"
)

// KernelFunc implements one operator. args are the instruction's operands,
// in plan order; kernels write results into the operand values they own
// (by convention the trailing "out" arguments).
type KernelFunc func(kctx *KernelContext, args []*evalue.Value) error

// Backend builds delegates for the plan's delegate descriptors whose ID it
// was registered under.
type Backend interface {
	Init(ctx context.Context, ictx BackendInitContext, desc plan.Delegate) (Delegate, error)
}

// BackendInitContext is what a backend may use while building a delegate.
type BackendInitContext struct {
	Method string
	// Planned is the method's planned arena; buffers taken from it live as
	// long as the method.
	Planned memory.Allocator
}

// Delegate is an opaque, initialized backend program. Execute runs to
// completion before returning: work it hands to other hardware must be
// finished (or its results otherwise made visible in args) by then.
type Delegate interface {
	io.Closer

	Execute(ctx context.Context, args []*evalue.Value) error
}
