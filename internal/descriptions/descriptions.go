// Package descriptions models the immutable per-run metadata describing a
// measurement run: its parameters, the dependency graph between them, and
// optionally the expected array shape of each dependent parameter. The
// cache layer only reads descriptions; the store persists them alongside
// the run as JSON.
package descriptions

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/qubitlab/runcache/internal/ndarray"
)

// ParamType identifies the value type of a parameter.
type ParamType string

const (
	// Numeric parameters hold 64-bit floats.
	Numeric ParamType = "numeric"
	// ComplexNum parameters hold 128-bit complex values.
	ComplexNum ParamType = "complex"
	// Integer parameters hold 64-bit signed integers.
	Integer ParamType = "int"
	// Boolean parameters hold booleans.
	Boolean ParamType = "bool"
	// Text parameters hold byte strings.
	Text ParamType = "text"
)

// DType returns the ndarray dtype backing this parameter type.
func (pt ParamType) DType() (ndarray.DType, error) {
	switch pt {
	case Numeric:
		return ndarray.DType{Kind: ndarray.Float}, nil
	case ComplexNum:
		return ndarray.DType{Kind: ndarray.Complex}, nil
	case Integer:
		return ndarray.DType{Kind: ndarray.Int}, nil
	case Boolean:
		return ndarray.DType{Kind: ndarray.Bool}, nil
	case Text:
		return ndarray.DType{Kind: ndarray.Bytes, ItemSize: 1}, nil
	default:
		return ndarray.DType{}, fmt.Errorf("unknown parameter type %q", string(pt))
	}
}

// ParamSpec describes a single parameter of a run.
type ParamSpec struct {
	Name  string    `json:"name"`
	Type  ParamType `json:"type"`
	Label string    `json:"label,omitempty"`
	Unit  string    `json:"unit,omitempty"`
}

// InterDependencies records the dependency graph between parameters.
// Dependencies maps each dependent (measured) parameter to the ordered
// list of setpoint parameters it was recorded against. Standalones are
// parameters recorded on their own.
type InterDependencies struct {
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	Standalones  []string            `json:"standalones,omitempty"`
}

// RunDescriber bundles everything the cache needs to know about a run:
// the parameter specs, their interdependencies, and optionally a declared
// output shape per dependent parameter.
type RunDescriber struct {
	Params    []ParamSpec       `json:"params"`
	Interdeps InterDependencies `json:"interdeps"`
	Shapes    map[string][]int  `json:"shapes,omitempty"`
}

// Param returns the spec for the named parameter, or nil if unknown.
func (d *RunDescriber) Param(name string) *ParamSpec {
	for i := range d.Params {
		if d.Params[i].Name == name {
			return &d.Params[i]
		}
	}
	return nil
}

// TopLevel returns the names of all parameters that own a tree: the
// dependent parameters plus the standalones. The order is deterministic
// (dependents sorted, then standalones in declared order).
func (d *RunDescriber) TopLevel() []string {
	deps := make([]string, 0, len(d.Interdeps.Dependencies))
	for name := range d.Interdeps.Dependencies {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return append(deps, d.Interdeps.Standalones...)
}

// TreeParams returns the parameter names making up the named tree: the
// top-level parameter itself followed by its setpoint axes. Returns nil
// for unknown names.
func (d *RunDescriber) TreeParams(name string) []string {
	if axes, ok := d.Interdeps.Dependencies[name]; ok {
		return append([]string{name}, axes...)
	}
	for _, s := range d.Interdeps.Standalones {
		if s == name {
			return []string{name}
		}
	}
	return nil
}

// Shape returns the declared shape for the named tree, or nil when the
// run declares no shape for it.
func (d *RunDescriber) Shape(name string) []int {
	if d.Shapes == nil {
		return nil
	}
	return d.Shapes[name]
}

// Validate checks internal consistency: every referenced parameter has a
// spec, no parameter is both dependent and standalone, and declared shapes
// name known dependents with positive dimensions.
func (d *RunDescriber) Validate() error {
	known := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("parameter with empty name")
		}
		if known[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		if _, err := p.Type.DType(); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		known[p.Name] = true
	}

	for dep, axes := range d.Interdeps.Dependencies {
		if !known[dep] {
			return fmt.Errorf("dependent parameter %q has no spec", dep)
		}
		if len(axes) == 0 {
			return fmt.Errorf("dependent parameter %q has no setpoint axes", dep)
		}
		for _, ax := range axes {
			if !known[ax] {
				return fmt.Errorf("setpoint %q of %q has no spec", ax, dep)
			}
			if ax == dep {
				return fmt.Errorf("parameter %q cannot be its own setpoint", dep)
			}
		}
	}
	for _, s := range d.Interdeps.Standalones {
		if !known[s] {
			return fmt.Errorf("standalone parameter %q has no spec", s)
		}
		if _, isDep := d.Interdeps.Dependencies[s]; isDep {
			return fmt.Errorf("parameter %q is both dependent and standalone", s)
		}
	}

	for name, shape := range d.Shapes {
		if d.TreeParams(name) == nil {
			return fmt.Errorf("shape declared for unknown tree %q", name)
		}
		if len(shape) == 0 {
			return fmt.Errorf("shape for %q is empty", name)
		}
		for i, dim := range shape {
			if dim < 1 {
				return fmt.Errorf("shape for %q: dimension %d must be positive, got %d", name, i, dim)
			}
		}
	}
	return nil
}

// Marshal serializes the description after validating it.
func Marshal(d *RunDescriber) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run description: %w", err)
	}
	return json.Marshal(d)
}

// Unmarshal parses a serialized description and validates it.
func Unmarshal(data []byte) (*RunDescriber, error) {
	var d RunDescriber
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing run description: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run description: %w", err)
	}
	return &d, nil
}
