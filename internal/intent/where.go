package intent

import (
	"sort"

	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/schema"
)

// TypeResolver expands type names to concrete node types.
type TypeResolver interface {
	Kind(name string) schema.Kind
	ConcreteTypes(name string) ([]*schema.Node, error)
}

// Operator is a scalar comparison operator.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpMatches    Operator = "matches"
	OpIncludes   Operator = "includes"
	OpIsNull     Operator = "is_null"
)

var stringOperators = map[Operator]struct{}{
	OpContains:   {},
	OpStartsWith: {},
	OpEndsWith:   {},
	OpMatches:    {},
}

// Quantifier selects how a relationship filter counts matching neighbours.
type Quantifier string

const (
	QuantifierSome   Quantifier = "some"
	QuantifierNone   Quantifier = "none"
	QuantifierSingle Quantifier = "single"
	QuantifierAll    Quantifier = "all"
)

// AggregateFunction is an aggregation usable in filters and projections.
type AggregateFunction string

const (
	AggMin           AggregateFunction = "min"
	AggMax           AggregateFunction = "max"
	AggAverage       AggregateFunction = "average"
	AggSum           AggregateFunction = "sum"
	AggShortestLen   AggregateFunction = "shortest_length"
	AggLongestLen    AggregateFunction = "longest_length"
	AggAverageLength AggregateFunction = "average_length"
)

// Filter is a conjunction of terms in key order.
type Filter struct {
	Terms []Term
}

// Term is one filter term. The set of term shapes is closed.
type Term interface {
	term()
}

// Condition compares a scalar field.
type Condition struct {
	Field *schema.Field
	Op    Operator
	Value any
}

// Group is an AND or OR over nested filters.
type Group struct {
	Or      bool
	Filters []*Filter
}

// Negation negates a nested filter.
type Negation struct {
	Filter *Filter
}

// Target is a concrete node type with the filter that applies to it.
type Target struct {
	Node  *schema.Node
	Where *Filter
}

// RelationFilter constrains a node by its neighbours over one relationship.
type RelationFilter struct {
	Relationship *schema.Relationship
	Quantifier   Quantifier
	Targets      []Target
	Edge         *Filter
}

// Comparison is an operator and operand without a field.
type Comparison struct {
	Op    Operator
	Value any
}

// AggregateCondition compares an aggregation over a field.
type AggregateCondition struct {
	Field    *schema.Field
	Function AggregateFunction
	Op       Operator
	Value    any
}

// AggregateFilter constrains a node by aggregations over its neighbours.
type AggregateFilter struct {
	Relationship *schema.Relationship
	Targets      []*schema.Node
	Count        []Comparison
	Node         []AggregateCondition
	Edge         []AggregateCondition
}

func (Condition) term()       {}
func (Group) term()           {}
func (Negation) term()        {}
func (RelationFilter) term()  {}
func (AggregateFilter) term() {}

var names = naming.Default()

// ParseWhere lowers a raw where map for node into a typed filter. Keys are
// processed in sorted order so equal inputs yield equal filters. An empty
// map yields nil.
func ParseWhere(types TypeResolver, node *schema.Node, where map[string]any) (*Filter, error) {
	if len(where) == 0 {
		return nil, nil
	}
	p := whereParser{types: types}
	return p.parse(node, where)
}

// ParseEdgeWhere lowers a raw where map over relationship properties.
func ParseEdgeWhere(rel *schema.Relationship, where map[string]any) (*Filter, error) {
	if len(where) == 0 {
		return nil, nil
	}
	p := whereParser{}
	return p.parse(edgeNode(rel), where)
}

func edgeNode(rel *schema.Relationship) *schema.Node {
	return &schema.Node{Name: rel.Type, Fields: rel.Properties}
}

type whereParser struct {
	types TypeResolver
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func asMap(value any, what string) (map[string]any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, invalidf("%s must be an object", what)
	}
	return m, nil
}

func (p whereParser) parse(node *schema.Node, where map[string]any) (*Filter, error) {
	filter := &Filter{}
	for _, key := range sortedKeys(where) {
		value := where[key]
		switch key {
		case "AND", "OR":
			items, ok := value.([]any)
			if !ok {
				return nil, invalidf("%s must be an array", key)
			}
			group := Group{Or: key == "OR"}
			for _, item := range items {
				itemMap, err := asMap(item, key+" array items")
				if err != nil {
					return nil, err
				}
				nested, err := p.parse(node, itemMap)
				if err != nil {
					return nil, err
				}
				if nested != nil && len(nested.Terms) > 0 {
					group.Filters = append(group.Filters, nested)
				}
			}
			if len(group.Filters) > 0 {
				filter.Terms = append(filter.Terms, group)
			}
		case "NOT":
			notMap, err := asMap(value, "NOT")
			if err != nil {
				return nil, err
			}
			nested, err := p.parse(node, notMap)
			if err != nil {
				return nil, err
			}
			if len(nested.Terms) > 0 {
				filter.Terms = append(filter.Terms, Negation{Filter: nested})
			}
		default:
			terms, err := p.parseKey(node, key, value)
			if err != nil {
				return nil, err
			}
			filter.Terms = append(filter.Terms, terms...)
		}
	}
	return filter, nil
}

func (p whereParser) parseKey(node *schema.Node, key string, value any) ([]Term, error) {
	if field, ok := node.Field(key); ok {
		return parseConditions(field, value)
	}
	if rel, ok := node.Relationship(key); ok && p.types != nil {
		return p.parseRelation(rel, value, false)
	}
	base, kind := names.Split(key)
	if rel, ok := node.Relationship(base); ok && p.types != nil {
		switch kind {
		case naming.Connection:
			return p.parseRelation(rel, value, true)
		case naming.Aggregate:
			term, err := p.parseAggregate(rel, value)
			if err != nil {
				return nil, err
			}
			return []Term{term}, nil
		}
	}
	return nil, invalidf("unknown filter field %s on %s", key, node.Name)
}

func parseConditions(field *schema.Field, value any) ([]Term, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		v, err := NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		return []Term{Condition{Field: field, Op: OpEq, Value: v}}, nil
	}
	terms := make([]Term, 0, len(ops))
	for _, key := range sortedKeys(ops) {
		cond, err := parseCondition(field, Operator(key), ops[key])
		if err != nil {
			return nil, err
		}
		terms = append(terms, cond)
	}
	return terms, nil
}

func parseCondition(field *schema.Field, op Operator, raw any) (Condition, error) {
	cond := Condition{Field: field, Op: op}
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		v, err := NormalizeValue(field, raw)
		if err != nil {
			return cond, err
		}
		cond.Value = v
	case OpIn, OpNotIn:
		items, ok := raw.([]any)
		if !ok {
			return cond, invalidf("%s on %s must be an array", op, field.Name)
		}
		v, err := normalizeList(field.Type, items, field.Name)
		if err != nil {
			return cond, err
		}
		cond.Value = v
	case OpContains, OpStartsWith, OpEndsWith, OpMatches:
		if field.Type != schema.TypeString && field.Type != schema.TypeID {
			return cond, invalidf("%s is not supported on %s field %s", op, field.Type, field.Name)
		}
		s, ok := raw.(string)
		if !ok {
			return cond, invalidf("%s on %s must be a string", op, field.Name)
		}
		cond.Value = s
	case OpIncludes:
		if !field.List {
			return cond, invalidf("includes requires a list field, %s is scalar", field.Name)
		}
		v, err := normalizeElement(field, raw)
		if err != nil {
			return cond, err
		}
		cond.Value = v
	case OpIsNull:
		b, ok := raw.(bool)
		if !ok {
			return cond, invalidf("is_null on %s must be a boolean", field.Name)
		}
		cond.Value = b
	default:
		return cond, invalidf("unknown operator %s on %s", op, field.Name)
	}
	if _, isString := stringOperators[op]; isString && field.List {
		return cond, invalidf("%s is not supported on list field %s", op, field.Name)
	}
	return cond, nil
}

var quantifiers = map[Quantifier]struct{}{
	QuantifierSome:   {},
	QuantifierNone:   {},
	QuantifierSingle: {},
	QuantifierAll:    {},
}

// parseRelation handles `rel: {some: {...}}` and, for connections,
// `relConnection: {some: {node: {...}, edge: {...}}}`. Single relationships
// take the inner where directly and mean "some", or `is_null`.
func (p whereParser) parseRelation(rel *schema.Relationship, value any, connection bool) ([]Term, error) {
	raw, err := asMap(value, "filter for "+rel.Field)
	if err != nil {
		return nil, err
	}
	if !rel.List {
		if isNull, ok := raw["is_null"]; ok && len(raw) == 1 {
			b, ok := isNull.(bool)
			if !ok {
				return nil, invalidf("is_null on %s must be a boolean", rel.Field)
			}
			q := QuantifierSome
			if b {
				q = QuantifierNone
			}
			term, err := p.relationTerm(rel, q, nil, connection)
			if err != nil {
				return nil, err
			}
			return []Term{term}, nil
		}
		if _, quantified := quantifiers[Quantifier(firstKey(raw))]; !quantified {
			term, err := p.relationTerm(rel, QuantifierSome, raw, connection)
			if err != nil {
				return nil, err
			}
			return []Term{term}, nil
		}
	}
	terms := make([]Term, 0, len(raw))
	for _, key := range sortedKeys(raw) {
		q := Quantifier(key)
		if _, ok := quantifiers[q]; !ok {
			return nil, invalidf("unknown quantifier %s on %s", key, rel.Field)
		}
		var inner map[string]any
		if raw[key] != nil {
			inner, err = asMap(raw[key], key+" filter for "+rel.Field)
			if err != nil {
				return nil, err
			}
		}
		term, err := p.relationTerm(rel, q, inner, connection)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, nil
}

func firstKey(m map[string]any) string {
	keys := sortedKeys(m)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

func (p whereParser) relationTerm(rel *schema.Relationship, q Quantifier, inner map[string]any, connection bool) (Term, error) {
	nodeWhere := inner
	var edge *Filter
	if connection {
		nodeWhere = nil
		for key := range inner {
			if key != "node" && key != "edge" {
				return nil, invalidf("connection filter for %s accepts node and edge, got %s", rel.Field, key)
			}
		}
		if raw, ok := inner["node"]; ok && raw != nil {
			m, err := asMap(raw, "node filter for "+rel.Field)
			if err != nil {
				return nil, err
			}
			nodeWhere = m
		}
		if raw, ok := inner["edge"]; ok && raw != nil {
			m, err := asMap(raw, "edge filter for "+rel.Field)
			if err != nil {
				return nil, err
			}
			f, err := ParseEdgeWhere(rel, m)
			if err != nil {
				return nil, err
			}
			edge = f
		}
	}
	targets, err := ResolveTargets(p.types, rel.Target, nodeWhere)
	if err != nil {
		return nil, err
	}
	return RelationFilter{Relationship: rel, Quantifier: q, Targets: targets, Edge: edge}, nil
}

// ResolveTargets expands target to its concrete node types and lowers where
// for each of them. Interfaces share where across implementations; unions
// key where by member name and keep only the members named when where is
// not empty.
func ResolveTargets(types TypeResolver, target string, where map[string]any) ([]Target, error) {
	nodes, err := types.ConcreteTypes(target)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	union := types.Kind(target) == schema.KindUnion
	if union && len(where) > 0 {
		members := make(map[string]struct{}, len(nodes))
		for _, n := range nodes {
			members[n.Name] = struct{}{}
		}
		for key := range where {
			if _, ok := members[key]; !ok {
				return nil, invalidf("%s is not a member of %s", key, target)
			}
		}
	}
	out := make([]Target, 0, len(nodes))
	for _, n := range nodes {
		nodeWhere := where
		if union {
			if len(where) > 0 {
				raw, ok := where[n.Name]
				if !ok {
					continue
				}
				m, err := asMap(raw, "filter for "+n.Name)
				if err != nil {
					return nil, err
				}
				nodeWhere = m
			}
		}
		f, err := ParseWhere(types, n, nodeWhere)
		if err != nil {
			return nil, err
		}
		out = append(out, Target{Node: n, Where: f})
	}
	return out, nil
}

var numericFunctions = map[AggregateFunction]struct{}{
	AggMin:     {},
	AggMax:     {},
	AggAverage: {},
	AggSum:     {},
}

var lengthFunctions = map[AggregateFunction]struct{}{
	AggShortestLen:   {},
	AggLongestLen:    {},
	AggAverageLength: {},
}

var comparisonOperators = map[Operator]struct{}{
	OpEq:  {},
	OpLt:  {},
	OpLte: {},
	OpGt:  {},
	OpGte: {},
}

func (p whereParser) parseAggregate(rel *schema.Relationship, value any) (Term, error) {
	raw, err := asMap(value, "aggregate filter for "+rel.Field)
	if err != nil {
		return nil, err
	}
	targets, err := p.types.ConcreteTypes(rel.Target)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	agg := AggregateFilter{Relationship: rel, Targets: targets}
	for _, key := range sortedKeys(raw) {
		switch key {
		case "count":
			comparisons, err := parseComparisons(raw[key], "count", func(v any) (any, error) {
				return toInt64(v, "count")
			})
			if err != nil {
				return nil, err
			}
			agg.Count = comparisons
		case "node":
			conds, err := parseAggregateConditions(raw[key], func(name string) (*schema.Field, bool) {
				return SharedField(targets, name)
			})
			if err != nil {
				return nil, err
			}
			agg.Node = conds
		case "edge":
			conds, err := parseAggregateConditions(raw[key], rel.Property)
			if err != nil {
				return nil, err
			}
			agg.Edge = conds
		default:
			return nil, invalidf("unknown aggregate filter %s on %s", key, rel.Field)
		}
	}
	return agg, nil
}

// SharedField finds a field declared on every target.
func SharedField(targets []*schema.Node, name string) (*schema.Field, bool) {
	var found *schema.Field
	for _, target := range targets {
		f, ok := target.Field(name)
		if !ok {
			return nil, false
		}
		if found == nil {
			found = f
		}
	}
	return found, found != nil
}

func parseComparisons(value any, what string, normalize func(any) (any, error)) ([]Comparison, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		v, err := normalize(value)
		if err != nil {
			return nil, err
		}
		return []Comparison{{Op: OpEq, Value: v}}, nil
	}
	out := make([]Comparison, 0, len(ops))
	for _, key := range sortedKeys(ops) {
		op := Operator(key)
		if _, ok := comparisonOperators[op]; !ok {
			return nil, invalidf("unknown operator %s on %s", key, what)
		}
		v, err := normalize(ops[key])
		if err != nil {
			return nil, err
		}
		out = append(out, Comparison{Op: op, Value: v})
	}
	return out, nil
}

func parseAggregateConditions(value any, lookup func(string) (*schema.Field, bool)) ([]AggregateCondition, error) {
	raw, err := asMap(value, "aggregate filter")
	if err != nil {
		return nil, err
	}
	var out []AggregateCondition
	for _, fieldName := range sortedKeys(raw) {
		field, ok := lookup(fieldName)
		if !ok {
			return nil, invalidf("unknown aggregate field %s", fieldName)
		}
		functions, err := asMap(raw[fieldName], "aggregate filter for "+fieldName)
		if err != nil {
			return nil, err
		}
		for _, fnName := range sortedKeys(functions) {
			fn := AggregateFunction(fnName)
			normalize, err := aggregateNormalizer(field, fn)
			if err != nil {
				return nil, err
			}
			comparisons, err := parseComparisons(functions[fnName], fieldName, normalize)
			if err != nil {
				return nil, err
			}
			for _, c := range comparisons {
				out = append(out, AggregateCondition{Field: field, Function: fn, Op: c.Op, Value: c.Value})
			}
		}
	}
	return out, nil
}

// aggregateNormalizer validates fn against the field type and returns the
// operand coercion.
func aggregateNormalizer(field *schema.Field, fn AggregateFunction) (func(any) (any, error), error) {
	textual := field.Type == schema.TypeString || field.Type == schema.TypeID
	if _, ok := lengthFunctions[fn]; ok {
		if !textual {
			return nil, invalidf("%s requires a string field, %s is %s", fn, field.Name, field.Type)
		}
		if fn == AggAverageLength {
			return func(v any) (any, error) { return toFloat64(v, field.Name) }, nil
		}
		return func(v any) (any, error) { return toInt64(v, field.Name) }, nil
	}
	if _, ok := numericFunctions[fn]; !ok {
		return nil, invalidf("unknown aggregation %s on %s", fn, field.Name)
	}
	if textual {
		return nil, invalidf("%s requires a numeric field, %s is %s", fn, field.Name, field.Type)
	}
	if fn == AggAverage {
		return func(v any) (any, error) { return toFloat64(v, field.Name) }, nil
	}
	return func(v any) (any, error) { return normalizeScalar(field.Type, v, field.Name) }, nil
}

// CheckAggregation reports an error when fn does not apply to field.
func CheckAggregation(field *schema.Field, fn AggregateFunction) error {
	_, err := aggregateNormalizer(field, fn)
	return err
}

// DefaultAggregations lists the aggregations projected for a field when the
// selection names none.
func DefaultAggregations(field *schema.Field) []AggregateFunction {
	switch field.Type {
	case schema.TypeString, schema.TypeID:
		return []AggregateFunction{AggShortestLen, AggLongestLen}
	case schema.TypeInt, schema.TypeFloat:
		return []AggregateFunction{AggMin, AggMax, AggAverage, AggSum}
	default:
		return []AggregateFunction{AggMin, AggMax}
	}
}
