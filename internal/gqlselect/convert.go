package gqlselect

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/schema"

	"github.com/graphql-go/graphql/language/ast"
)

const typenameField = "__typename"

// aggregateNames maps GraphQL aggregation selections to intent functions.
var aggregateNames = map[string]intent.AggregateFunction{
	"min":           intent.AggMin,
	"max":           intent.AggMax,
	"average":       intent.AggAverage,
	"sum":           intent.AggSum,
	"shortest":      intent.AggShortestLen,
	"longest":       intent.AggLongestLen,
	"averageLength": intent.AggAverageLength,
}

// Root is one converted root field.
type Root struct {
	// Key is the response key: the alias or the field name.
	Key       string
	Operation intent.Operation
	Read      intent.Read
	Aggregate intent.Aggregate
}

type rootField struct {
	typeName  string
	aggregate bool
}

// Converter maps parsed documents onto intents for one schema.
type Converter struct {
	schema *schema.Schema
	namer  *naming.Namer
	roots  map[string]rootField
}

// NewConverter indexes the root query fields of s.
func NewConverter(s *schema.Schema, namer *naming.Namer) *Converter {
	if namer == nil {
		namer = naming.Default()
	}
	c := &Converter{schema: s, namer: namer, roots: map[string]rootField{}}
	add := func(name string) {
		c.roots[namer.RootField(name)] = rootField{typeName: name}
		c.roots[namer.RootAggregateField(name)] = rootField{typeName: name, aggregate: true}
	}
	for _, n := range s.Nodes {
		add(n.Name)
	}
	for _, i := range s.Interfaces {
		add(i.Name)
	}
	for _, u := range s.Unions {
		add(u.Name)
	}
	return c
}

// RootFields lists the accepted root field names in sorted order.
func (c *Converter) RootFields() []string {
	names := make([]string, 0, len(c.roots))
	for name := range c.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Convert converts each root field of doc, in document order.
func (c *Converter) Convert(doc *Document) ([]Root, error) {
	w := &walker{Converter: c, doc: doc}
	var roots []Root
	err := w.fields(doc.Operation.SelectionSet, func(f *ast.Field) error {
		name := f.Name.Value
		if name == typenameField {
			return nil
		}
		entry, ok := c.roots[name]
		if !ok {
			return fmt.Errorf("%w: unknown root field %q", intent.ErrInvalidIntent, name)
		}
		root := Root{Key: responseKey(f)}
		args, err := w.arguments(f)
		if err != nil {
			return err
		}
		where, err := mapArg(args, "where")
		if err != nil {
			return err
		}
		if entry.aggregate {
			agg, err := w.aggregate(f.SelectionSet, false)
			if err != nil {
				return err
			}
			root.Operation = intent.OperationAggregate
			root.Aggregate = intent.Aggregate{Type: entry.typeName, Where: where, Count: agg.Count, Node: agg.Node}
			roots = append(roots, root)
			return nil
		}
		page, err := pagingArgs(args)
		if err != nil {
			return err
		}
		sel, on, err := w.selection(f.SelectionSet, entry.typeName)
		if err != nil {
			return err
		}
		root.Operation = intent.OperationRead
		root.Read = intent.Read{
			Type:      entry.typeName,
			Where:     where,
			Selection: sel,
			On:        on,
			Sort:      page.sort,
			Limit:     page.limit,
			Offset:    page.offset,
		}
		roots = append(roots, root)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root fields selected", ErrUnsupported)
	}
	return roots, nil
}

type walker struct {
	*Converter
	doc *Document
}

// fields calls fn for every field of set, flattening fragments and honouring
// @skip and @include.
func (w *walker) fields(set *ast.SelectionSet, fn func(*ast.Field) error) error {
	return w.visit(set, func(f *ast.Field, _ string) error { return fn(f) }, "")
}

// visit walks set, passing each field with the type condition of its closest
// enclosing fragment.
func (w *walker) visit(set *ast.SelectionSet, fn func(*ast.Field, string) error, condition string) error {
	if set == nil {
		return nil
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if w.skipped(sel.Directives) {
				continue
			}
			if err := fn(sel, condition); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if w.skipped(sel.Directives) {
				continue
			}
			if err := w.visit(sel.SelectionSet, fn, typeCondition(sel.TypeCondition, condition)); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if w.skipped(sel.Directives) {
				continue
			}
			fragment, ok := w.doc.Fragments[sel.Name.Value]
			if !ok {
				return fmt.Errorf("fragment %q not found", sel.Name.Value)
			}
			if err := w.visit(fragment.SelectionSet, fn, typeCondition(fragment.TypeCondition, condition)); err != nil {
				return err
			}
		}
	}
	return nil
}

func typeCondition(named *ast.Named, outer string) string {
	if named == nil || named.Name == nil {
		return outer
	}
	return named.Name.Value
}

func (w *walker) skipped(directives []*ast.Directive) bool {
	for _, d := range directives {
		if d.Name == nil {
			continue
		}
		var cond bool
		for _, arg := range d.Arguments {
			if arg.Name != nil && arg.Name.Value == "if" {
				v, _ := valueOf(arg.Value, w.doc.Variables)
				cond, _ = v.(bool)
			}
		}
		switch d.Name.Value {
		case "skip":
			if cond {
				return true
			}
		case "include":
			if !cond {
				return true
			}
		}
	}
	return false
}

// selection converts a node selection on typeName. Fragments on a concrete
// member of a polymorphic type land in the returned per-type map.
func (w *walker) selection(set *ast.SelectionSet, typeName string) (intent.Selection, map[string]intent.Selection, error) {
	polymorphic := w.schema.IsPolymorphic(typeName)
	var (
		sel intent.Selection
		on  map[string]intent.Selection
	)
	err := w.visit(set, func(f *ast.Field, condition string) error {
		owner := typeName
		if polymorphic && condition != "" && condition != typeName && w.schema.Kind(condition) == schema.KindNode {
			owner = condition
		}
		field, err := w.field(f, owner)
		if err != nil {
			return err
		}
		if owner != typeName {
			if on == nil {
				on = map[string]intent.Selection{}
			}
			on[owner] = append(on[owner], field)
			return nil
		}
		sel = append(sel, field)
		return nil
	}, "")
	return sel, on, err
}

// field converts one selected field of a node of type owner.
func (w *walker) field(f *ast.Field, owner string) (intent.Field, error) {
	out := intent.Field{Name: f.Name.Value}
	if f.Alias != nil {
		out.Alias = f.Alias.Value
	}
	if f.SelectionSet == nil {
		return out, nil
	}

	base, kind := w.namer.Split(out.Name)
	target, ok := w.relationTarget(owner, base)
	if !ok {
		return intent.Field{}, fmt.Errorf("%w: %s on %s has no relationship", intent.ErrInvalidIntent, out.Name, owner)
	}
	args, err := w.arguments(f)
	if err != nil {
		return intent.Field{}, err
	}
	if out.Where, err = mapArg(args, "where"); err != nil {
		return intent.Field{}, err
	}

	switch kind {
	case naming.Aggregate:
		agg, err := w.aggregate(f.SelectionSet, true)
		if err != nil {
			return intent.Field{}, err
		}
		out.Count, out.Node, out.Edge = agg.Count, agg.Node, agg.Edge
	case naming.Connection:
		if err := w.connection(&out, f.SelectionSet, target, args); err != nil {
			return intent.Field{}, err
		}
	default:
		page, err := pagingArgs(args)
		if err != nil {
			return intent.Field{}, err
		}
		out.Sort, out.Limit, out.Offset = page.sort, page.limit, page.offset
		if out.Selection, out.On, err = w.selection(f.SelectionSet, target); err != nil {
			return intent.Field{}, err
		}
	}
	return out, nil
}

// relationTarget resolves the target type of relationship field base on
// owner. Polymorphic owners resolve through their first member declaring it.
func (w *walker) relationTarget(owner, base string) (string, bool) {
	if node, ok := w.schema.Node(owner); ok {
		rel, ok := node.Relationship(base)
		if !ok {
			return "", false
		}
		return rel.Target, true
	}
	members, err := w.schema.ConcreteTypes(owner)
	if err != nil {
		return "", false
	}
	for _, node := range members {
		if rel, ok := node.Relationship(base); ok {
			return rel.Target, true
		}
	}
	return "", false
}

// connection fills a connection field from `totalCount` and
// `edges { node properties }`.
func (w *walker) connection(out *intent.Field, set *ast.SelectionSet, target string, args map[string]any) error {
	first, err := intArg(args, "first")
	if err != nil {
		return err
	}
	out.First = first
	if after, ok := args["after"]; ok && after != nil {
		s, ok := after.(string)
		if !ok {
			return fmt.Errorf("%w: after must be a string", intent.ErrInvalidIntent)
		}
		out.After = s
	}
	if out.Sort, err = connectionSort(args["sort"]); err != nil {
		return err
	}

	return w.fields(set, func(f *ast.Field) error {
		switch f.Name.Value {
		case "totalCount":
			out.TotalCount = true
		case "edges":
			return w.fields(f.SelectionSet, func(edge *ast.Field) error {
				switch edge.Name.Value {
				case "node":
					sel, on, err := w.selection(edge.SelectionSet, target)
					if err != nil {
						return err
					}
					out.Selection = append(out.Selection, sel...)
					for name, extra := range on {
						if out.On == nil {
							out.On = map[string]intent.Selection{}
						}
						out.On[name] = append(out.On[name], extra...)
					}
				case "properties":
					return w.fields(edge.SelectionSet, func(p *ast.Field) error {
						if p.Name.Value == typenameField {
							return nil
						}
						prop := intent.Field{Name: p.Name.Value}
						if p.Alias != nil {
							prop.Alias = p.Alias.Value
						}
						out.Properties = append(out.Properties, prop)
						return nil
					})
				case "cursor", typenameField:
				default:
					return fmt.Errorf("%w: unknown edge field %q", intent.ErrInvalidIntent, edge.Name.Value)
				}
				return nil
			})
		case "pageInfo", typenameField:
		default:
			return fmt.Errorf("%w: unknown connection field %q", intent.ErrInvalidIntent, f.Name.Value)
		}
		return nil
	})
}

type aggregateSelection struct {
	Count bool
	Node  []intent.AggregateField
	Edge  []intent.AggregateField
}

// aggregate converts an aggregate selection. Nested aggregates group field
// aggregations under `node` and `edge`; root aggregates select them directly.
func (w *walker) aggregate(set *ast.SelectionSet, nested bool) (aggregateSelection, error) {
	var out aggregateSelection
	err := w.fields(set, func(f *ast.Field) error {
		switch name := f.Name.Value; {
		case name == typenameField:
		case name == "count":
			out.Count = true
		case nested && name == "node":
			fields, err := w.aggregateFields(f.SelectionSet)
			out.Node = append(out.Node, fields...)
			return err
		case nested && name == "edge":
			fields, err := w.aggregateFields(f.SelectionSet)
			out.Edge = append(out.Edge, fields...)
			return err
		case nested:
			return fmt.Errorf("%w: unknown aggregate field %q", intent.ErrInvalidIntent, name)
		default:
			field, err := w.aggregateField(f)
			if err != nil {
				return err
			}
			out.Node = append(out.Node, field)
		}
		return nil
	})
	return out, err
}

func (w *walker) aggregateFields(set *ast.SelectionSet) ([]intent.AggregateField, error) {
	var out []intent.AggregateField
	err := w.fields(set, func(f *ast.Field) error {
		if f.Name.Value == typenameField {
			return nil
		}
		field, err := w.aggregateField(f)
		if err != nil {
			return err
		}
		out = append(out, field)
		return nil
	})
	return out, err
}

func (w *walker) aggregateField(f *ast.Field) (intent.AggregateField, error) {
	out := intent.AggregateField{Field: f.Name.Value}
	err := w.fields(f.SelectionSet, func(fn *ast.Field) error {
		if fn.Name.Value == typenameField {
			return nil
		}
		name, ok := aggregateNames[fn.Name.Value]
		if !ok {
			return fmt.Errorf("%w: unknown aggregation %q on %s", intent.ErrInvalidIntent, fn.Name.Value, out.Field)
		}
		out.Functions = append(out.Functions, string(name))
		return nil
	})
	return out, err
}

func (w *walker) arguments(f *ast.Field) (map[string]any, error) {
	args := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		value, err := valueOf(arg.Value, w.doc.Variables)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", arg.Name.Value, err)
		}
		args[arg.Name.Value] = value
	}
	return args, nil
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil && f.Alias.Value != "" {
		return f.Alias.Value
	}
	return f.Name.Value
}

type paging struct {
	sort   []intent.Sort
	limit  *int
	offset *int
}

// pagingArgs reads `sort`, `limit` and `offset`, either directly or from an
// `options` object.
func pagingArgs(args map[string]any) (paging, error) {
	if options, ok := args["options"].(map[string]any); ok {
		merged := make(map[string]any, len(args)+len(options))
		for k, v := range args {
			merged[k] = v
		}
		for k, v := range options {
			merged[k] = v
		}
		args = merged
	}
	var (
		out paging
		err error
	)
	if out.limit, err = intArg(args, "limit"); err != nil {
		return paging{}, err
	}
	if out.offset, err = intArg(args, "offset"); err != nil {
		return paging{}, err
	}
	if out.sort, err = sortArg(args["sort"]); err != nil {
		return paging{}, err
	}
	return out, nil
}

// sortArg reads `[{field: ASC|DESC}]`; keys within one object apply in
// sorted order.
func sortArg(raw any) ([]intent.Sort, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	var out []intent.Sort
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: sort entries must be objects", intent.ErrInvalidIntent)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dir, ok := m[k].(string)
			if !ok {
				return nil, fmt.Errorf("%w: sort direction of %s must be ASC or DESC", intent.ErrInvalidIntent, k)
			}
			out = append(out, intent.Sort{Field: k, Direction: dir})
		}
	}
	return out, nil
}

// connectionSort reads `[{node: {field: DIR}}]`.
func connectionSort(raw any) ([]intent.Sort, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	var flat []any
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: sort entries must be objects", intent.ErrInvalidIntent)
		}
		for k, v := range m {
			if k != "node" {
				return nil, fmt.Errorf("%w: connection sort on %s", ErrUnsupported, k)
			}
			flat = append(flat, v)
		}
	}
	return sortArg(flat)
}

func mapArg(args map[string]any, name string) (map[string]any, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object", intent.ErrInvalidIntent, name)
	}
	return m, nil
}

func intArg(args map[string]any, name string) (*int, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s must be an integer", intent.ErrInvalidIntent, name)
		}
		n = int(v)
	default:
		return nil, fmt.Errorf("%w: %s must be an integer", intent.ErrInvalidIntent, name)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", intent.ErrInvalidIntent, name)
	}
	return &n, nil
}

// valueOf converts a literal, substituting variables. Unset variables are nil.
func valueOf(value ast.Value, variables map[string]any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *ast.Variable:
		return variables[v.Name.Value], nil
	case *ast.IntValue:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: int literal %s", intent.ErrInvalidIntent, v.Value)
		}
		return n, nil
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float literal %s", intent.ErrInvalidIntent, v.Value)
		}
		return f, nil
	case *ast.StringValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.ListValue:
		out := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			converted, err := valueOf(item, variables)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case *ast.ObjectValue:
		out := make(map[string]any, len(v.Fields))
		for _, field := range v.Fields {
			converted, err := valueOf(field.Value, variables)
			if err != nil {
				return nil, err
			}
			out[field.Name.Value] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: literal %T", ErrUnsupported, value)
	}
}
