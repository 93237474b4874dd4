package engine

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/planexec/pkg/memory"
	"k8s.io/klog/v2"
)

// KernelContext is passed to every kernel call.
type KernelContext struct {
	ctx      context.Context
	operator string
	scratch  memory.Allocator
}

// NewKernelContext is used by the method for every kernel call; it is
// exported so kernels can be exercised in isolation.
func NewKernelContext(ctx context.Context, operator string, scratch memory.Allocator) *KernelContext {
	return &KernelContext{ctx: ctx, operator: operator, scratch: scratch}
}

func (k *KernelContext) Context() context.Context { return k.ctx }

// Operator is the key of the operator being executed.
func (k *KernelContext) Operator() string { return k.operator }

func (k *KernelContext) Logger() klog.Logger {
	return klog.FromContext(k.ctx).WithValues("operator", k.operator)
}

// AllocateTemp returns scratch memory that is valid until the kernel returns.
// Failures wrap memory.ErrOutOfMemory.
func (k *KernelContext) AllocateTemp(size, alignment int) ([]byte, error) {
	if k.scratch == nil {
		return nil, fmt.Errorf("kernel %q: no scratch allocator: %w", k.operator, memory.ErrOutOfMemory)
	}
	return k.scratch.Allocate(size, alignment)
}
