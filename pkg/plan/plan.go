// Package plan describes a serialized execution plan: the value table
// layout, the method's inputs and outputs, the operators and delegates it
// calls, and the chains of instructions that call them.
//
// Plans are produced ahead of time and are read-only once loaded.
package plan

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Plan is one runnable method.
type Plan struct {
	Name string `yaml:"name"`

	Values  []Value `yaml:"values"`
	Inputs  []int   `yaml:"inputs"`
	Outputs []int   `yaml:"outputs"`

	// Operators and Delegates share one opcode space: an instruction's Op
	// indexes Operators first, then Delegates.
	Operators []Operator `yaml:"operators"`
	Delegates []Delegate `yaml:"delegates"`

	Chains []Chain `yaml:"chains"`
}

// ValueType names the kind of a value descriptor.
type ValueType string

const (
	TypeNone   ValueType = "none"
	TypeBool   ValueType = "bool"
	TypeInt    ValueType = "int"
	TypeDouble ValueType = "double"
	TypeTensor ValueType = "tensor"
	TypeList   ValueType = "list"
)

// Value describes one slot of the value table.
type Value struct {
	Type ValueType `yaml:"type"`

	Bool   bool    `yaml:"bool,omitempty"`
	Int    int64   `yaml:"int,omitempty"`
	Double float64 `yaml:"double,omitempty"`

	Tensor *Tensor `yaml:"tensor,omitempty"`

	// List holds value-table indices of the list's elements.
	List []int `yaml:"list,omitempty"`
}

// Tensor describes a tensor slot and where its storage comes from.
type Tensor struct {
	ScalarType string `yaml:"scalar_type"`
	Sizes      []int  `yaml:"sizes"`

	// Planned tensors get storage from the planned arena at initialization.
	Planned bool `yaml:"planned,omitempty"`

	// Data holds constant contents, row-major. Constant tensors are always
	// given planned storage.
	Data []float64 `yaml:"data,omitempty"`
}

// Operator names a kernel, optionally with an overload ("add" / "out").
type Operator struct {
	Name     string `yaml:"name"`
	Overload string `yaml:"overload,omitempty"`
}

// Key is the name kernels are registered under.
func (o Operator) Key() string {
	if o.Overload == "" {
		return o.Name
	}
	return o.Name + "." + o.Overload
}

// Delegate describes a backend-lowered piece of the graph.
type Delegate struct {
	// ID selects the backend, for example "wasm".
	ID string `yaml:"id"`
	// Processed is the backend-specific payload produced ahead of time.
	Processed Blob `yaml:"processed,omitempty"`
	// CompileSpecs are backend-specific options.
	CompileSpecs map[string]string `yaml:"compile_specs,omitempty"`
}

// Chain is a block of instructions executed in order.
type Chain struct {
	Instructions []Instruction `yaml:"instructions"`
}

// Instruction calls operator or delegate Op with the values at Args.
type Instruction struct {
	Op   int   `yaml:"op"`
	Args []int `yaml:"args"`
}

// NumInstructions counts instructions across all chains.
func (p *Plan) NumInstructions() int {
	n := 0
	for _, c := range p.Chains {
		n += len(c.Instructions)
	}
	return n
}

// Blob is a binary payload, base64 encoded in YAML.
type Blob []byte

func (b *Blob) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decoding base64 blob at line %d: %w", node.Line, err)
	}
	*b = data
	return nil
}

func (b Blob) MarshalYAML() (any, error) {
	return base64.StdEncoding.EncodeToString(b), nil
}
