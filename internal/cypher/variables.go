package cypher

import "sync/atomic"

var handles atomic.Uint64

func nextHandle() uint64 {
	return handles.Add(1)
}

// Variable is a symbolic reference to a node, relationship or value. Its
// textual name is decided by the Environment that renders it.
type Variable struct {
	handle uint64
	prefix string
	name   string
	param  bool
}

// NewVariable creates an anonymous value variable.
func NewVariable() *Variable {
	return &Variable{handle: nextHandle(), prefix: "var"}
}

// NamedVariable creates a variable that always renders as name.
func NamedVariable(name string) *Variable {
	return &Variable{handle: nextHandle(), name: name}
}

// Cypher renders the variable name.
func (v *Variable) Cypher(env *Environment) string {
	return env.Name(v)
}

// Property references a property path on the variable.
func (v *Variable) Property(path ...string) PropertyRef {
	return PropertyRef{Target: v, Path: path}
}

// Node is a variable bound to a node with a label set.
type Node struct {
	Variable
	Labels []string
}

// NewNode creates a node variable.
func NewNode(labels ...string) *Node {
	return &Node{Variable: Variable{handle: nextHandle(), prefix: "this"}, Labels: labels}
}

// NamedNode creates a node variable that always renders as name.
func NamedNode(name string, labels ...string) *Node {
	return &Node{Variable: Variable{handle: nextHandle(), name: name}, Labels: labels}
}

// Ref returns the underlying variable.
func (n *Node) Ref() *Variable {
	return &n.Variable
}

// Relationship is a variable bound to a relationship of a single type.
type Relationship struct {
	Variable
	Type string
}

// NewRelationship creates a relationship variable.
func NewRelationship(relType string) *Relationship {
	return &Relationship{Variable: Variable{handle: nextHandle(), prefix: "this"}, Type: relType}
}

// Ref returns the underlying variable.
func (r *Relationship) Ref() *Variable {
	return &r.Variable
}

// Param is a query parameter. It is added to the parameter table the first
// time it is rendered.
type Param struct {
	Variable
	Value any
}

// NewParam creates a parameter holding value.
func NewParam(value any) *Param {
	return &Param{Variable: Variable{handle: nextHandle(), prefix: "param", param: true}, Value: value}
}

// NamedParam creates a parameter with a fixed name.
func NamedParam(name string, value any) *Param {
	return &Param{Variable: Variable{handle: nextHandle(), name: name, param: true}, Value: value}
}

// Cypher renders the parameter reference.
func (p *Param) Cypher(env *Environment) string {
	env.register(p)
	return "$" + env.Name(&p.Variable)
}
