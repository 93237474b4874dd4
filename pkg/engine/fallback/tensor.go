package fallback

import (
	"fmt"

	"k8s.io/examples/AI/planexec/pkg/evalue"
)

func checkArgs(args []*evalue.Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("want %d arguments, got %d", want, len(args))
	}
	return nil
}

// inputTensor returns args[i] as a tensor that has storage.
func inputTensor(args []*evalue.Value, i int) (*evalue.Tensor, error) {
	t, ok := args[i].Tensor()
	if !ok {
		return nil, fmt.Errorf("argument %d: want tensor, got %v", i, args[i].Tag())
	}
	if !t.HasData() {
		return nil, fmt.Errorf("argument %d: tensor has no storage", i)
	}
	return t, nil
}

// outputTensor resizes args[i] to sizes, ready to be written.
func outputTensor(args []*evalue.Value, i int, sizes []int) (*evalue.Tensor, error) {
	t, err := inputTensor(args, i)
	if err != nil {
		return nil, err
	}
	if err := t.Resize(sizes); err != nil {
		return nil, fmt.Errorf("argument %d: %w", i, err)
	}
	return t, nil
}

// operand is either a tensor or a scalar broadcast to every element.
type operand struct {
	tensor *evalue.Tensor
	scalar float64
}

func operandArg(args []*evalue.Value, i int) (operand, error) {
	if s, ok := args[i].Scalar(); ok {
		return operand{scalar: s}, nil
	}
	t, err := inputTensor(args, i)
	if err != nil {
		return operand{}, err
	}
	return operand{tensor: t}, nil
}

func (o operand) at(i int) float64 {
	if o.tensor == nil {
		return o.scalar
	}
	return o.tensor.Float64At(i)
}

// scalarArg reads args[i] as a number; None yields def.
func scalarArg(args []*evalue.Value, i int, def float64) (float64, error) {
	if args[i].IsNone() {
		return def, nil
	}
	s, ok := args[i].Scalar()
	if !ok {
		return 0, fmt.Errorf("argument %d: want scalar, got %v", i, args[i].Tag())
	}
	return s, nil
}
