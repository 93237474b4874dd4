package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/plan"
)

type inspectOptions struct {
	*rootOptions

	check bool
}

func newInspectCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &inspectOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <plan.yaml | sha256:<hash>>",
		Short: "Describe a plan's values, operators, delegates and chains",
		Long: `Print a summary of a plan and whether each operator and delegate backend
is available in this binary.

With --check the method is also initialized against the configured arenas,
which reports allocation, resolution and delegate errors without executing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.check, "check", false, "initialize the method and report the result")

	return cmd
}

func (o *inspectOptions) run(ctx context.Context, out io.Writer, ref string) error {
	p, err := o.loadPlan(ctx, ref)
	if err != nil {
		return err
	}

	describePlan(out, p, engine.DefaultKernels(), engine.DefaultBackends())

	if !o.check {
		return nil
	}
	m, err := engine.Load(ctx, p, o.newMemory(), nil)
	if err != nil {
		fmt.Fprintf(out, "init: %s\n", engine.CodeOf(err))
		return err
	}
	fmt.Fprintf(out, "init: ok (%d values)\n", m.ValuesSize())
	return m.Close()
}

func describePlan(out io.Writer, p *plan.Plan, kernels *engine.KernelRegistry, backends *engine.BackendRegistry) {
	fmt.Fprintf(out, "method: %s\n", p.Name)

	fmt.Fprintf(out, "values: %d\n", len(p.Values))
	for i, v := range p.Values {
		fmt.Fprintf(out, "  %d: %s\n", i, describeValue(v))
	}
	fmt.Fprintf(out, "inputs: %v\n", p.Inputs)
	fmt.Fprintf(out, "outputs: %v\n", p.Outputs)

	fmt.Fprintf(out, "operators: %d\n", len(p.Operators))
	for i, op := range p.Operators {
		_, ok := kernels.Lookup(op.Key())
		fmt.Fprintf(out, "  %d: %s%s\n", i, op.Key(), availability(ok))
	}

	fmt.Fprintf(out, "delegates: %d\n", len(p.Delegates))
	for i, d := range p.Delegates {
		_, ok := backends.Lookup(d.ID)
		fmt.Fprintf(out, "  %d: %s (%d bytes)%s\n", len(p.Operators)+i, d.ID, len(d.Processed), availability(ok))
	}

	fmt.Fprintf(out, "chains: %d, instructions: %d\n", len(p.Chains), p.NumInstructions())
}

func describeValue(v plan.Value) string {
	switch v.Type {
	case plan.TypeTensor:
		if v.Tensor == nil {
			return "tensor <missing descriptor>"
		}
		var attrs []string
		if v.Tensor.Planned {
			attrs = append(attrs, "planned")
		}
		if len(v.Tensor.Data) > 0 {
			attrs = append(attrs, "constant")
		}
		s := fmt.Sprintf("tensor %s%v", v.Tensor.ScalarType, v.Tensor.Sizes)
		if len(attrs) > 0 {
			s += " " + strings.Join(attrs, ",")
		}
		return s
	case plan.TypeBool:
		return fmt.Sprintf("bool %v", v.Bool)
	case plan.TypeInt:
		return fmt.Sprintf("int %d", v.Int)
	case plan.TypeDouble:
		return fmt.Sprintf("double %g", v.Double)
	case plan.TypeList:
		return fmt.Sprintf("list %v", v.List)
	default:
		return string(v.Type)
	}
}

func availability(ok bool) string {
	if ok {
		return ""
	}
	return " (not registered)"
}
