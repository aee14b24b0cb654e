// Package intent holds the resolved query intent a request compiles from:
// what to read or mutate, which filters apply, and which fields to project.
// Raw filter and input maps are lowered into typed trees against a schema.
package intent

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidIntent marks a request that does not fit the schema.
var ErrInvalidIntent = errors.New("invalid intent")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidIntent, fmt.Sprintf(format, args...))
}

// Sort orders results by a scalar field.
type Sort struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction"`
}

// Descending reports whether the sort is DESC.
func (s Sort) Descending() bool {
	return strings.EqualFold(s.Direction, "DESC")
}

// AggregateField requests aggregation functions over one field.
type AggregateField struct {
	Field     string   `yaml:"field"`
	Functions []string `yaml:"functions"`
}

// Selection is an ordered list of selected fields.
type Selection []Field

// Field is one selected field. Relationship fields carry a nested selection,
// connection fields carry paging and edge properties, aggregate fields carry
// the requested aggregations.
type Field struct {
	Name      string               `yaml:"name"`
	Alias     string               `yaml:"alias"`
	Where     map[string]any       `yaml:"where"`
	Sort      []Sort               `yaml:"sort"`
	Limit     *int                 `yaml:"limit"`
	Offset    *int                 `yaml:"offset"`
	Selection Selection            `yaml:"selection"`
	On        map[string]Selection `yaml:"on"`

	First      *int      `yaml:"first"`
	After      string    `yaml:"after"`
	TotalCount bool      `yaml:"total_count"`
	Properties Selection `yaml:"properties"`

	Count bool             `yaml:"count"`
	Node  []AggregateField `yaml:"node"`
	Edge  []AggregateField `yaml:"edge"`
}

// Key is the output key of the field.
func (f Field) Key() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// UnmarshalYAML accepts either a bare field name or a mapping.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		f.Name = node.Value
		return nil
	}
	type plain Field
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	*f = Field(out)
	return nil
}

// Fields builds a selection of plain fields.
func Fields(names ...string) Selection {
	out := make(Selection, 0, len(names))
	for _, name := range names {
		out = append(out, Field{Name: name})
	}
	return out
}

// Read selects nodes of a type.
type Read struct {
	Type      string
	Where     map[string]any
	Selection Selection
	// On adds per-type selections when Type is an interface or union.
	On     map[string]Selection
	Sort   []Sort
	Limit  *int
	Offset *int
}

// Aggregate aggregates over nodes of a type.
type Aggregate struct {
	Type  string
	Where map[string]any
	Count bool
	Node  []AggregateField
}

// Create creates one node per input row.
type Create struct {
	Type      string
	Input     []map[string]any
	Selection Selection
}

// Update updates every node matching Where.
type Update struct {
	Type      string
	Where     map[string]any
	Update    map[string]any
	Selection Selection
}

// Delete deletes every node matching Where, with optional nested deletes.
type Delete struct {
	Type   string
	Where  map[string]any
	Delete map[string]any
}

// Operation names the root operation of a document.
type Operation string

const (
	OperationRead      Operation = "read"
	OperationAggregate Operation = "aggregate"
	OperationCreate    Operation = "create"
	OperationUpdate    Operation = "update"
	OperationDelete    Operation = "delete"
)

// Document is the file form of an intent.
type Document struct {
	Operation Operation            `yaml:"operation"`
	Type      string               `yaml:"type"`
	Where     map[string]any       `yaml:"where"`
	Selection Selection            `yaml:"selection"`
	On        map[string]Selection `yaml:"on"`
	Sort      []Sort               `yaml:"sort"`
	Limit     *int                 `yaml:"limit"`
	Offset    *int                 `yaml:"offset"`
	Count     bool                 `yaml:"count"`
	Node      []AggregateField     `yaml:"node"`
	Input     []map[string]any     `yaml:"input"`
	Update    map[string]any       `yaml:"update"`
	Delete    map[string]any       `yaml:"delete"`
	// GraphQL holds a query document that replaces the structured read fields.
	GraphQL   string         `yaml:"graphql"`
	Variables map[string]any `yaml:"variables"`
}

// Decode reads a YAML intent document.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	if doc.Operation == "" {
		doc.Operation = OperationRead
	}
	switch doc.Operation {
	case OperationRead, OperationAggregate, OperationCreate, OperationUpdate, OperationDelete:
	default:
		return nil, invalidf("unknown operation %q", doc.Operation)
	}
	if doc.Type == "" && doc.GraphQL == "" {
		return nil, invalidf("type is required")
	}
	return &doc, nil
}

// ReadIntent returns the read intent of the document.
func (d *Document) ReadIntent() Read {
	return Read{Type: d.Type, Where: d.Where, Selection: d.Selection, On: d.On, Sort: d.Sort, Limit: d.Limit, Offset: d.Offset}
}

// AggregateIntent returns the aggregate intent of the document.
func (d *Document) AggregateIntent() Aggregate {
	return Aggregate{Type: d.Type, Where: d.Where, Count: d.Count, Node: d.Node}
}

// CreateIntent returns the create intent of the document.
func (d *Document) CreateIntent() Create {
	return Create{Type: d.Type, Input: d.Input, Selection: d.Selection}
}

// UpdateIntent returns the update intent of the document.
func (d *Document) UpdateIntent() Update {
	return Update{Type: d.Type, Where: d.Where, Update: d.Update, Selection: d.Selection}
}

// DeleteIntent returns the delete intent of the document.
func (d *Document) DeleteIntent() Delete {
	return Delete{Type: d.Type, Where: d.Where, Delete: d.Delete}
}
