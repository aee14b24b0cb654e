// Package cypher is a small Cypher syntax tree. Clauses and expressions hold
// variables, not names: names are allocated lazily by an Environment when the
// tree is rendered, so independently built fragments can be stitched together
// without identifier clashes.
package cypher

import (
	"sort"
	"strconv"
)

// Environment owns the naming state of a single compilation.
type Environment struct {
	prefix     string
	names      map[uint64]string
	variables  int
	parameters int
	params     []*Param
	registered map[uint64]struct{}
}

// NewEnvironment creates an environment whose generated names start with prefix.
func NewEnvironment(prefix string) *Environment {
	return &Environment{
		prefix:     prefix,
		names:      make(map[uint64]string),
		registered: make(map[uint64]struct{}),
	}
}

// Name returns the identifier bound to v, allocating one on first use.
// Variables and parameters draw from independent counters.
func (e *Environment) Name(v *Variable) string {
	if v.name != "" {
		return v.name
	}
	if name, ok := e.names[v.handle]; ok {
		return name
	}
	var name string
	if v.param {
		name = e.prefix + v.prefix + strconv.Itoa(e.parameters)
		e.parameters++
	} else {
		name = e.prefix + v.prefix + strconv.Itoa(e.variables)
		e.variables++
	}
	e.names[v.handle] = name
	return name
}

func (e *Environment) register(p *Param) {
	if _, ok := e.registered[p.handle]; ok {
		return
	}
	e.registered[p.handle] = struct{}{}
	e.params = append(e.params, p)
}

// Parameter is a rendered parameter and its bound value.
type Parameter struct {
	Name  string
	Value any
}

// Parameters returns every parameter referenced so far, in order of first
// reference.
func (e *Environment) Parameters() []Parameter {
	out := make([]Parameter, 0, len(e.params))
	for _, p := range e.params {
		out = append(out, Parameter{Name: e.Name(&p.Variable), Value: p.Value})
	}
	return out
}

// Result is a rendered statement with its parameter table.
type Result struct {
	Cypher string
	Params map[string]any
	// Order lists parameter names in order of first reference.
	Order []string
}

// ParamNames returns the parameter names sorted lexically.
func (r Result) ParamNames() []string {
	names := make([]string, 0, len(r.Params))
	for name := range r.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	prefix string
}

// WithPrefix prefixes every generated identifier.
func WithPrefix(prefix string) BuildOption {
	return func(o *buildOptions) {
		o.prefix = prefix
	}
}

// Build renders clause in a fresh environment.
func Build(clause Clause, opts ...BuildOption) Result {
	cfg := buildOptions{}
	for _, opt := range opts {
		opt(&cfg)
	}
	env := NewEnvironment(cfg.prefix)
	text := ""
	if clause != nil {
		text = clause.Cypher(env)
	}
	params := env.Parameters()
	result := Result{
		Cypher: text,
		Params: make(map[string]any, len(params)),
		Order:  make([]string, 0, len(params)),
	}
	for _, p := range params {
		result.Params[p.Name] = p.Value
		result.Order = append(result.Order, p.Name)
	}
	return result
}
