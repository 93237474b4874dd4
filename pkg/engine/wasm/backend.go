// Package wasm is a delegate backend that runs a WebAssembly function
// exported by the delegate's processed payload.
//
// Compile specs:
//
//	entrypoint          exported function to call (default "run")
//	mode                "scalar" (default) or "elementwise"
//	memory_limit_pages  maximum linear memory, in 64KiB pages
//
// In scalar mode the function is called once per Execute; its parameters
// are read from the leading arguments and its result, if it has one, is
// written to the argument that follows them. In elementwise mode the first
// argument is a tensor whose elements are passed as the function's first
// parameter, any remaining parameters come from scalar arguments, and the
// results are written to the tensor in the last argument.
package wasm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tetratelabs/wazero"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/klog/v2"
)

// BackendID is the delegate ID this backend registers under.
const BackendID = "wasm"

const (
	ModeScalar      = "scalar"
	ModeElementwise = "elementwise"

	defaultEntrypoint = "run"
)

func init() {
	if err := Register(engine.DefaultBackends()); err != nil {
		panic(err)
	}
}

// Register adds the backend to r under BackendID.
func Register(r *engine.BackendRegistry) error {
	return r.Register(BackendID, Backend{})
}

// Backend builds one wazero runtime per delegate.
type Backend struct{}

var _ engine.Backend = Backend{}

type options struct {
	entrypoint       string
	mode             string
	memoryLimitPages uint32
}

func parseOptions(specs map[string]string) (options, error) {
	opts := options{entrypoint: defaultEntrypoint, mode: ModeScalar}
	for k, v := range specs {
		switch k {
		case "entrypoint":
			opts.entrypoint = v
		case "mode":
			if v != ModeScalar && v != ModeElementwise {
				return options{}, fmt.Errorf("unknown mode %q", v)
			}
			opts.mode = v
		case "memory_limit_pages":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n == 0 {
				return options{}, fmt.Errorf("invalid memory_limit_pages %q", v)
			}
			opts.memoryLimitPages = uint32(n)
		default:
			return options{}, fmt.Errorf("unknown compile spec %q", k)
		}
	}
	return opts, nil
}

func (Backend) Init(ctx context.Context, ictx engine.BackendInitContext, desc plan.Delegate) (engine.Delegate, error) {
	log := klog.FromContext(ctx)

	opts, err := parseOptions(desc.CompileSpecs)
	if err != nil {
		return nil, err
	}
	if len(desc.Processed) == 0 {
		return nil, fmt.Errorf("delegate has no wasm payload")
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if opts.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.memoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, cfg)

	d, err := newDelegate(ctx, runtime, ictx.Method, opts, desc.Processed)
	if err != nil {
		if closeErr := runtime.Close(ctx); closeErr != nil {
			log.Error(closeErr, "closing wasm runtime")
		}
		return nil, err
	}
	log.V(2).Info("initialized wasm delegate", "method", ictx.Method, "entrypoint", opts.entrypoint, "mode", opts.mode,
		"params", len(d.params), "results", len(d.results))
	return d, nil
}

func newDelegate(ctx context.Context, runtime wazero.Runtime, method string, opts options, payload []byte) (*Delegate, error) {
	compiled, err := runtime.CompileModule(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("compiling wasm module: %w", err)
	}
	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(method))
	if err != nil {
		return nil, fmt.Errorf("instantiating wasm module: %w", err)
	}

	fn := module.ExportedFunction(opts.entrypoint)
	if fn == nil {
		return nil, fmt.Errorf("wasm module does not export function %q", opts.entrypoint)
	}
	def := fn.Definition()
	d := &Delegate{
		runtime: runtime,
		module:  module,
		fn:      fn,
		mode:    opts.mode,
		params:  def.ParamTypes(),
		results: def.ResultTypes(),
	}
	if len(d.results) > 1 {
		return nil, fmt.Errorf("function %q returns %d values, at most one is supported", opts.entrypoint, len(d.results))
	}
	if d.mode == ModeElementwise && (len(d.params) == 0 || len(d.results) != 1) {
		return nil, fmt.Errorf("elementwise function %q must take at least one parameter and return one value", opts.entrypoint)
	}
	return d, nil
}
