// Package schema describes the graph model the translator compiles against:
// node types with their scalar fields and relationships, interfaces and
// unions over node types, and per-node authorization rules.
package schema

import (
	"errors"
	"fmt"
	"io"
	"os"

	"graphql-cypher/internal/naming"

	"gopkg.in/yaml.v3"
)

// ScalarType is the type of a scalar field.
type ScalarType string

const (
	TypeID       ScalarType = "ID"
	TypeString   ScalarType = "String"
	TypeInt      ScalarType = "Int"
	TypeFloat    ScalarType = "Float"
	TypeBoolean  ScalarType = "Boolean"
	TypeDateTime ScalarType = "DateTime"
)

// Timestamp controls automatic datetime() assignment.
type Timestamp string

const (
	TimestampCreate Timestamp = "create"
	TimestampUpdate Timestamp = "update"
	TimestampAlways Timestamp = "always"
)

// Field is a scalar property of a node or relationship.
type Field struct {
	Name string     `yaml:"name"`
	Type ScalarType `yaml:"type"`
	// Property is the stored property key when it differs from Name.
	Property     string    `yaml:"property"`
	List         bool      `yaml:"list"`
	Required     bool      `yaml:"required"`
	Unique       bool      `yaml:"unique"`
	Autogenerate bool      `yaml:"autogenerate"`
	Timestamp    Timestamp `yaml:"timestamp"`
	Default      any       `yaml:"default"`
}

// DBName returns the stored property key.
func (f *Field) DBName() string {
	if f.Property != "" {
		return f.Property
	}
	return f.Name
}

// OnCreate reports whether the field is stamped on create.
func (f *Field) OnCreate() bool {
	return f.Timestamp == TimestampCreate || f.Timestamp == TimestampAlways
}

// OnUpdate reports whether the field is stamped on update.
func (f *Field) OnUpdate() bool {
	return f.Timestamp == TimestampUpdate || f.Timestamp == TimestampAlways
}

// Generated reports whether the value is produced by the database.
func (f *Field) Generated() bool {
	return f.Autogenerate || f.Timestamp != ""
}

// Direction of a relationship as seen from its owning node.
type Direction string

const (
	DirectionOut Direction = "OUT"
	DirectionIn  Direction = "IN"
)

// Relationship is a relationship field on a node.
type Relationship struct {
	Field     string    `yaml:"field"`
	Type      string    `yaml:"type"`
	Direction Direction `yaml:"direction"`
	// Target names a node, interface or union.
	Target     string  `yaml:"target"`
	List       bool    `yaml:"list"`
	Required   bool    `yaml:"required"`
	Properties []Field `yaml:"properties"`
}

// Property looks up a relationship property by name.
func (r *Relationship) Property(name string) (*Field, bool) {
	for i := range r.Properties {
		if r.Properties[i].Name == name {
			return &r.Properties[i], true
		}
	}
	return nil, false
}

// Node is a concrete node type.
type Node struct {
	Name          string         `yaml:"name"`
	Labels        []string       `yaml:"labels"`
	Implements    []string       `yaml:"implements"`
	Fields        []Field        `yaml:"fields"`
	Relationships []Relationship `yaml:"relationships"`
	Authorization []AuthRule     `yaml:"authorization"`
}

// AllLabels returns the labels matched for the node, defaulting to its name.
func (n *Node) AllLabels() []string {
	if len(n.Labels) > 0 {
		return n.Labels
	}
	return []string{n.Name}
}

// Field looks up a scalar field by name.
func (n *Node) Field(name string) (*Field, bool) {
	for i := range n.Fields {
		if n.Fields[i].Name == name {
			return &n.Fields[i], true
		}
	}
	return nil, false
}

// Relationship looks up a relationship field by name.
func (n *Node) Relationship(name string) (*Relationship, bool) {
	for i := range n.Relationships {
		if n.Relationships[i].Field == name {
			return &n.Relationships[i], true
		}
	}
	return nil, false
}

// Interface groups node types that share fields.
type Interface struct {
	Name string `yaml:"name"`
	// Implementations is filled from Node.Implements in declaration order.
	Implementations []string `yaml:"-"`
}

// Union is a closed set of node types.
type Union struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// Kind classifies a type name.
type Kind int

const (
	KindUnknown Kind = iota
	KindNode
	KindInterface
	KindUnion
)

// ErrUnknownType is returned when a type name is not declared.
var ErrUnknownType = errors.New("unknown type")

// Definition is the serialized schema document.
type Definition struct {
	Nodes      []*Node      `yaml:"nodes"`
	Interfaces []*Interface `yaml:"interfaces"`
	Unions     []*Union     `yaml:"unions"`
}

// Schema is an indexed, validated Definition.
type Schema struct {
	Nodes      []*Node
	Interfaces []*Interface
	Unions     []*Union

	nodes      map[string]*Node
	interfaces map[string]*Interface
	unions     map[string]*Union
}

// New indexes and validates a definition.
func New(def Definition) (*Schema, error) {
	s := &Schema{
		Nodes:      def.Nodes,
		Interfaces: def.Interfaces,
		Unions:     def.Unions,
		nodes:      make(map[string]*Node, len(def.Nodes)),
		interfaces: make(map[string]*Interface, len(def.Interfaces)),
		unions:     make(map[string]*Union, len(def.Unions)),
	}
	for _, n := range def.Nodes {
		if err := s.claim(n.Name); err != nil {
			return nil, err
		}
		s.nodes[n.Name] = n
	}
	for _, iface := range def.Interfaces {
		if err := s.claim(iface.Name); err != nil {
			return nil, err
		}
		iface.Implementations = nil
		s.interfaces[iface.Name] = iface
	}
	for _, u := range def.Unions {
		if err := s.claim(u.Name); err != nil {
			return nil, err
		}
		s.unions[u.Name] = u
	}
	for _, n := range def.Nodes {
		for _, name := range n.Implements {
			iface, ok := s.interfaces[name]
			if !ok {
				return nil, fmt.Errorf("node %s implements %w %s", n.Name, ErrUnknownType, name)
			}
			iface.Implementations = append(iface.Implementations, n.Name)
		}
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) claim(name string) error {
	if name == "" {
		return errors.New("type name is required")
	}
	if s.Kind(name) != KindUnknown {
		return fmt.Errorf("type %s is declared more than once", name)
	}
	return nil
}

func (s *Schema) validate() error {
	for _, u := range s.Unions {
		if len(u.Members) == 0 {
			return fmt.Errorf("union %s has no members", u.Name)
		}
		for _, member := range u.Members {
			if _, ok := s.nodes[member]; !ok {
				return fmt.Errorf("union %s member: %w %s", u.Name, ErrUnknownType, member)
			}
		}
	}
	for _, n := range s.Nodes {
		seen := make(map[string]struct{})
		for _, f := range n.Fields {
			if naming.IsReservedFieldName(f.Name) {
				return fmt.Errorf("node %s field %s uses a reserved name", n.Name, f.Name)
			}
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("node %s declares field %s more than once", n.Name, f.Name)
			}
			seen[f.Name] = struct{}{}
		}
		for _, rel := range n.Relationships {
			if naming.IsReservedFieldName(rel.Field) {
				return fmt.Errorf("node %s field %s uses a reserved name", n.Name, rel.Field)
			}
			if _, dup := seen[rel.Field]; dup {
				return fmt.Errorf("node %s declares field %s more than once", n.Name, rel.Field)
			}
			seen[rel.Field] = struct{}{}
			if rel.Type == "" {
				return fmt.Errorf("relationship %s.%s has no type", n.Name, rel.Field)
			}
			if rel.Direction != DirectionIn && rel.Direction != DirectionOut {
				return fmt.Errorf("relationship %s.%s has invalid direction %q", n.Name, rel.Field, rel.Direction)
			}
			if s.Kind(rel.Target) == KindUnknown {
				return fmt.Errorf("relationship %s.%s target: %w %s", n.Name, rel.Field, ErrUnknownType, rel.Target)
			}
		}
		for i, rule := range n.Authorization {
			if err := rule.validate(); err != nil {
				return fmt.Errorf("node %s authorization rule %d: %w", n.Name, i, err)
			}
		}
	}
	return nil
}

// Kind classifies name.
func (s *Schema) Kind(name string) Kind {
	if _, ok := s.nodes[name]; ok {
		return KindNode
	}
	if _, ok := s.interfaces[name]; ok {
		return KindInterface
	}
	if _, ok := s.unions[name]; ok {
		return KindUnion
	}
	return KindUnknown
}

// Node looks up a concrete node type.
func (s *Schema) Node(name string) (*Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Union looks up a union type.
func (s *Schema) Union(name string) (*Union, bool) {
	u, ok := s.unions[name]
	return u, ok
}

// ConcreteTypes expands name to the node types it may resolve to, in
// declaration order.
func (s *Schema) ConcreteTypes(name string) ([]*Node, error) {
	switch s.Kind(name) {
	case KindNode:
		return []*Node{s.nodes[name]}, nil
	case KindInterface:
		return s.lookupAll(s.interfaces[name].Implementations), nil
	case KindUnion:
		return s.lookupAll(s.unions[name].Members), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
}

// IsPolymorphic reports whether name is an interface or union.
func (s *Schema) IsPolymorphic(name string) bool {
	kind := s.Kind(name)
	return kind == KindInterface || kind == KindUnion
}

func (s *Schema) lookupAll(names []string) []*Node {
	out := make([]*Node, 0, len(names))
	for _, name := range names {
		out = append(out, s.nodes[name])
	}
	return out
}

// Load decodes and indexes a YAML schema document.
func Load(r io.Reader) (*Schema, error) {
	var def Definition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return New(def)
}

// LoadFile reads a YAML schema document from path.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}
