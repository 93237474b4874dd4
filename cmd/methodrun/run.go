package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/examples/AI/planexec/pkg/config"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/evalue"
	"k8s.io/examples/AI/planexec/pkg/plan"
	"k8s.io/examples/AI/planexec/pkg/telemetry"
	"k8s.io/examples/AI/planexec/pkg/telemetry/profilestore"
	"k8s.io/klog/v2"
)

type runOptions struct {
	*rootOptions

	inputs   []string
	repeat   int
	parallel int
	step     bool

	metricsAddr string
	profileDB   string
	eventLog    bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{
		rootOptions: rootOpts,
		repeat:      1,
		parallel:    1,
		metricsAddr: rootOpts.cfg.MetricsAddr,
		profileDB:   rootOpts.cfg.ProfileDB,
	}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml | sha256:<hash>>",
		Short: "Execute a plan and print its outputs",
		Long: `Load a plan, set its inputs and execute it.

Inputs are given in order with --input, using the value syntax:
  none, true, 5, int:5, 2.5, double:2.5, float32[2,2]:1,2,3,4, float32[2,2]:fill=1

With --step the method is driven one instruction at a time instead of with a
single execute call; the results are the same.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.inputs, "input", "i", nil, "method input, repeated once per input in order")
	cmd.Flags().IntVar(&opts.repeat, "repeat", opts.repeat, "number of times to execute each method instance")
	cmd.Flags().IntVar(&opts.parallel, "parallel", opts.parallel, "number of independent method instances to run concurrently")
	cmd.Flags().BoolVar(&opts.step, "step", false, "drive execution one instruction at a time")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "if set, serve Prometheus metrics at /metrics on this address while running")
	cmd.Flags().StringVar(&opts.profileDB, "profile-db", opts.profileDB, "if set, record every telemetry event into this SQLite file")
	cmd.Flags().BoolVar(&opts.eventLog, "event-log", false, "write telemetry events as JSON lines to stderr")

	return cmd
}

func (o *runOptions) run(ctx context.Context, out, errOut io.Writer, ref string) error {
	log := klog.FromContext(ctx)

	if o.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", o.repeat)
	}
	if o.parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1, got %d", o.parallel)
	}
	// Surface syntax errors before anything is built.
	if _, err := parseInputs(o.inputs); err != nil {
		return err
	}

	p, err := o.loadPlan(ctx, ref)
	if err != nil {
		return err
	}

	tracer, cleanup, err := o.buildTracer(ctx, errOut)
	if err != nil {
		return err
	}
	defer cleanup()

	startedAt := time.Now()
	results := make([][]evalue.Value, o.parallel)
	g, gctx := errgroup.WithContext(ctx)
	for i := range o.parallel {
		g.Go(func() error {
			outputs, err := o.runInstance(gctx, p, tracer)
			if err != nil {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			results[i] = outputs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("finished", "method", p.Name, "instances", o.parallel, "repeat", o.repeat, "duration", time.Since(startedAt))

	for i, outputs := range results {
		for j, v := range outputs {
			if o.parallel == 1 {
				fmt.Fprintf(out, "output %d: %v\n", j, v)
			} else {
				fmt.Fprintf(out, "instance %d output %d: %v\n", i, j, v)
			}
		}
	}
	return nil
}

// runInstance loads its own method and arenas, executes it o.repeat times
// and returns the outputs of the last execution.
func (o *runOptions) runInstance(ctx context.Context, p *plan.Plan, tracer telemetry.Tracer) ([]evalue.Value, error) {
	log := klog.FromContext(ctx)

	m, err := engine.Load(ctx, p, o.newMemory(), tracer)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Error(err, "closing method", "method", m.Name())
		}
	}()

	for r := range o.repeat {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Unplanned input slots alias the values they are given, so every
		// execution gets freshly parsed ones.
		inputs, err := parseInputs(o.inputs)
		if err != nil {
			return nil, err
		}
		if err := m.SetInputs(inputs); err != nil {
			return nil, err
		}
		if o.step {
			err = stepToEnd(ctx, m)
		} else {
			err = m.Execute(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("execution %d: %w", r, err)
		}
	}

	outputs := make([]evalue.Value, m.OutputsSize())
	if err := m.GetOutputs(outputs); err != nil {
		return nil, err
	}
	// The method's storage is released on close; keep copies of tensors.
	for i, v := range outputs {
		if t, ok := v.Tensor(); ok && t.HasData() {
			dup, err := evalue.NewTensor(t.ScalarType(), t.Sizes(), append([]byte(nil), t.Data()...))
			if err != nil {
				return nil, err
			}
			outputs[i] = evalue.FromTensor(dup)
		}
	}
	return outputs, nil
}

// stepToEnd runs one instruction per Step call until the method reports the
// end, then rewinds it for the next execution.
func stepToEnd(ctx context.Context, m *engine.Method) error {
	log := klog.FromContext(ctx)
	for {
		chain, instr := m.Position()
		err := m.Step(ctx)
		log.V(2).Info("stepped", "method", m.Name(), "chain", chain, "instruction", instr, "err", err)
		if engine.IsEndOfMethod(err) {
			return m.Reset()
		}
		if err != nil {
			return err
		}
	}
}

func parseInputs(specs []string) ([]evalue.Value, error) {
	values := make([]evalue.Value, len(specs))
	for i, s := range specs {
		v, err := evalue.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

// buildTracer combines the tracers selected by flags. cleanup flushes and
// closes them and must be called once execution is over.
func (o *runOptions) buildTracer(ctx context.Context, errOut io.Writer) (telemetry.Tracer, func(), error) {
	log := klog.FromContext(ctx)

	var tracers []telemetry.Tracer
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		pt, err := telemetry.NewPrometheusTracer(reg)
		if err != nil {
			return nil, nil, err
		}
		tracers = append(tracers, pt)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: o.metricsAddr, Handler: mux}
		go func() {
			log.Info("serving metrics", "addr", o.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "serving metrics", "addr", o.metricsAddr)
			}
		}()
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(err, "shutting down metrics server")
			}
		})
	}

	if o.profileDB != "" {
		store, err := profilestore.Open(o.profileDB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		tracers = append(tracers, store)
		closers = append(closers, func() {
			if err := store.Close(); err != nil {
				log.Error(err, "closing profile store", "path", o.profileDB)
			}
		})
	}

	if o.eventLog {
		logger := config.NewLogger(errOut, o.cfg.LogLevel)
		tracers = append(tracers, telemetry.NewLogTracer(logger))
		closers = append(closers, func() { _ = logger.Sync() })
	}

	return telemetry.Multi(tracers...), cleanup, nil
}
