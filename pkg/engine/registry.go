package engine

import (
	"fmt"
	"slices"
	"sync"
)

// registry is a name-keyed table safe for concurrent registration and lookup.
type registry[T any] struct {
	kind    string
	mu      sync.RWMutex
	entries map[string]T
}

func newRegistry[T any](kind string) *registry[T] {
	return &registry[T]{kind: kind, entries: make(map[string]T)}
}

func (r *registry[T]) register(name string, entry T) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.entries[name] = entry
	return nil
}

func (r *registry[T]) lookup(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// KernelRegistry maps operator keys (see plan.Operator.Key) to kernels.
type KernelRegistry struct {
	r *registry[KernelFunc]
}

func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{r: newRegistry[KernelFunc]("kernel")}
}

func (k *KernelRegistry) Register(name string, fn KernelFunc) error {
	if fn == nil {
		return fmt.Errorf("kernel %q is nil", name)
	}
	return k.r.register(name, fn)
}

func (k *KernelRegistry) Lookup(name string) (KernelFunc, bool) {
	return k.r.lookup(name)
}

// Names lists registered kernels, sorted.
func (k *KernelRegistry) Names() []string {
	return k.r.names()
}

// BackendRegistry maps delegate IDs to backends.
type BackendRegistry struct {
	r *registry[Backend]
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{r: newRegistry[Backend]("backend")}
}

func (b *BackendRegistry) Register(id string, backend Backend) error {
	if backend == nil {
		return fmt.Errorf("backend %q is nil", id)
	}
	return b.r.register(id, backend)
}

func (b *BackendRegistry) Lookup(id string) (Backend, bool) {
	return b.r.lookup(id)
}

// Names lists registered backends, sorted.
func (b *BackendRegistry) Names() []string {
	return b.r.names()
}

var (
	defaultKernels  = NewKernelRegistry()
	defaultBackends = NewBackendRegistry()
)

// DefaultKernels is the process-wide kernel registry used when a Method is
// not given one explicitly. Kernel packages register into it from init.
func DefaultKernels() *KernelRegistry { return defaultKernels }

// DefaultBackends is the process-wide backend registry used when a Method is
// not given one explicitly.
func DefaultBackends() *BackendRegistry { return defaultBackends }
