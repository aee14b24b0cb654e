package intent

import (
	"graphql-cypher/internal/schema"
)

// FieldValue is a normalized value for a scalar field.
type FieldValue struct {
	Field *schema.Field
	Value any
}

// NodeInput is a typed create input: scalar values in field declaration
// order and nested relationship operations in relationship declaration order.
type NodeInput struct {
	Node      *schema.Node
	Fields    []FieldValue
	Relations []RelationInput
}

// Value returns the input value for a field name.
func (n *NodeInput) Value(name string) (any, bool) {
	for _, fv := range n.Fields {
		if fv.Field.Name == name {
			return fv.Value, true
		}
	}
	return nil, false
}

// RelationInput groups the nested operations on one relationship field.
type RelationInput struct {
	Relationship    *schema.Relationship
	Create          []CreateOp
	Connect         []ConnectOp
	ConnectOrCreate []ConnectOrCreateOp
	Update          []UpdateOp
	Disconnect      []DisconnectOp
	Delete          []DeleteOp
}

// CreateOp creates a related node and links it.
type CreateOp struct {
	Node *NodeInput
	Edge []FieldValue
}

// ConnectOp links existing nodes matched per target.
type ConnectOp struct {
	Targets []Target
	Edge    []FieldValue
}

// ConnectOrCreateOp merges a related node on its unique fields and links it.
type ConnectOrCreateOp struct {
	Node     *schema.Node
	Match    []FieldValue
	OnCreate []FieldValue
	Edge     []FieldValue
}

// UpdateTarget is a concrete related type with its filter and update.
type UpdateTarget struct {
	Node   *schema.Node
	Where  *Filter
	Update *UpdateInput
}

// UpdateOp updates related nodes and their relationship properties.
type UpdateOp struct {
	Targets   []UpdateTarget
	EdgeWhere *Filter
	Edge      []FieldValue
}

// DisconnectOp removes relationships to matched nodes.
type DisconnectOp struct {
	Targets   []Target
	EdgeWhere *Filter
}

// DeleteTarget is a concrete related type to delete with nested deletes.
type DeleteTarget struct {
	Node   *schema.Node
	Where  *Filter
	Delete []RelationInput
}

// DeleteOp deletes related nodes.
type DeleteOp struct {
	Targets   []DeleteTarget
	EdgeWhere *Filter
}

// UpdateInput is a typed update: plain assignments, arithmetic and list
// appends, and nested relationship operations.
type UpdateInput struct {
	Node      *schema.Node
	Set       []FieldValue
	Increment []FieldValue
	Decrement []FieldValue
	Push      []FieldValue
	Relations []RelationInput
}

// Empty reports whether the update changes nothing.
func (u *UpdateInput) Empty() bool {
	return u == nil || (len(u.Set) == 0 && len(u.Increment) == 0 && len(u.Decrement) == 0 && len(u.Push) == 0 && len(u.Relations) == 0)
}

type opKind string

const (
	opCreate          opKind = "create"
	opConnect         opKind = "connect"
	opConnectOrCreate opKind = "connect_or_create"
	opUpdate          opKind = "update"
	opDisconnect      opKind = "disconnect"
	opDelete          opKind = "delete"
)

var createOps = map[opKind]struct{}{opCreate: {}, opConnect: {}, opConnectOrCreate: {}}

var updateOps = map[opKind]struct{}{
	opCreate: {}, opConnect: {}, opConnectOrCreate: {}, opUpdate: {}, opDisconnect: {}, opDelete: {},
}

type inputParser struct {
	types TypeResolver
}

// ParseCreate lowers one raw create row for node. Missing fields with a
// default take it; required fields without one are rejected.
func ParseCreate(types TypeResolver, node *schema.Node, raw map[string]any) (*NodeInput, error) {
	p := inputParser{types: types}
	return p.create(node, raw)
}

// ParseUpdate lowers a raw update map for node.
func ParseUpdate(types TypeResolver, node *schema.Node, raw map[string]any) (*UpdateInput, error) {
	p := inputParser{types: types}
	return p.update(node, raw)
}

// ParseDeletes lowers a raw nested delete map, relationship field to list of
// delete items.
func ParseDeletes(types TypeResolver, node *schema.Node, raw map[string]any) ([]RelationInput, error) {
	p := inputParser{types: types}
	return p.deletes(node, raw)
}

func (p inputParser) checkKeys(node *schema.Node, raw map[string]any) error {
	for _, key := range sortedKeys(raw) {
		if _, ok := node.Field(key); ok {
			continue
		}
		if _, ok := node.Relationship(key); ok {
			continue
		}
		return invalidf("unknown field %s on %s", key, node.Name)
	}
	return nil
}

func (p inputParser) create(node *schema.Node, raw map[string]any) (*NodeInput, error) {
	if err := p.checkKeys(node, raw); err != nil {
		return nil, err
	}
	in := &NodeInput{Node: node}
	for i := range node.Fields {
		field := &node.Fields[i]
		value, present := raw[field.Name]
		if field.Generated() {
			if present {
				return nil, invalidf("field %s.%s is generated and cannot be set", node.Name, field.Name)
			}
			continue
		}
		if !present {
			if field.Default != nil {
				value, present = field.Default, true
			} else if field.Required {
				return nil, invalidf("missing required field %s.%s", node.Name, field.Name)
			}
		}
		if !present {
			continue
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		in.Fields = append(in.Fields, FieldValue{Field: field, Value: v})
	}
	relations, err := p.relations(node, raw, createOps)
	if err != nil {
		return nil, err
	}
	in.Relations = relations
	return in, nil
}

func (p inputParser) edgeValues(rel *schema.Relationship, raw any, creating bool) ([]FieldValue, error) {
	if raw == nil {
		if creating {
			return edgeDefaults(rel, nil)
		}
		return nil, nil
	}
	m, err := asMap(raw, "edge for "+rel.Field)
	if err != nil {
		return nil, err
	}
	for _, key := range sortedKeys(m) {
		if _, ok := rel.Property(key); !ok {
			return nil, invalidf("unknown property %s on %s", key, rel.Type)
		}
	}
	if creating {
		return edgeDefaults(rel, m)
	}
	var out []FieldValue
	for i := range rel.Properties {
		field := &rel.Properties[i]
		value, ok := m[field.Name]
		if !ok {
			continue
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		out = append(out, FieldValue{Field: field, Value: v})
	}
	return out, nil
}

func edgeDefaults(rel *schema.Relationship, m map[string]any) ([]FieldValue, error) {
	var out []FieldValue
	for i := range rel.Properties {
		field := &rel.Properties[i]
		value, ok := m[field.Name]
		if !ok && field.Default != nil {
			value, ok = field.Default, true
		}
		if !ok {
			if field.Required {
				return nil, invalidf("missing required property %s.%s", rel.Type, field.Name)
			}
			continue
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		out = append(out, FieldValue{Field: field, Value: v})
	}
	return out, nil
}

// relations lowers relationship keys of raw in relationship declaration order.
func (p inputParser) relations(node *schema.Node, raw map[string]any, allowed map[opKind]struct{}) ([]RelationInput, error) {
	var out []RelationInput
	for i := range node.Relationships {
		rel := &node.Relationships[i]
		value, ok := raw[rel.Field]
		if !ok {
			continue
		}
		ops, err := asMap(value, "input for "+rel.Field)
		if err != nil {
			return nil, err
		}
		in := RelationInput{Relationship: rel}
		for _, key := range sortedKeys(ops) {
			kind := opKind(key)
			if _, ok := allowed[kind]; !ok {
				return nil, invalidf("%s is not allowed on %s here", key, rel.Field)
			}
			items, err := asItems(ops[key], key+" on "+rel.Field)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if err := p.relationOp(&in, kind, item); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, in)
	}
	return out, nil
}

// asItems accepts a single object or a list of objects.
func asItems(value any, what string) ([]map[string]any, error) {
	if m, ok := value.(map[string]any); ok {
		return []map[string]any{m}, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, invalidf("%s must be an object or array", what)
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, err := asMap(item, what+" items")
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func optionalMap(item map[string]any, key, what string) (map[string]any, error) {
	raw, ok := item[key]
	if !ok || raw == nil {
		return nil, nil
	}
	return asMap(raw, what)
}

// concrete picks the node type an item addresses. Polymorphic targets need
// an explicit type.
func (p inputParser) concrete(rel *schema.Relationship, item map[string]any) (*schema.Node, error) {
	nodes, err := p.types.ConcreteTypes(rel.Target)
	if err != nil {
		return nil, invalidf("%v", err)
	}
	typeName, _ := item["type"].(string)
	if typeName == "" {
		if len(nodes) == 1 && p.types.Kind(rel.Target) == schema.KindNode {
			return nodes[0], nil
		}
		return nil, invalidf("%s targets %s and needs a type", rel.Field, rel.Target)
	}
	for _, n := range nodes {
		if n.Name == typeName {
			return n, nil
		}
	}
	return nil, invalidf("%s is not a %s", typeName, rel.Target)
}

// targets resolves the concrete types an item filters over, narrowed by an
// optional type.
func (p inputParser) targets(rel *schema.Relationship, item map[string]any, where map[string]any) ([]Target, error) {
	if typeName, _ := item["type"].(string); typeName != "" {
		n, err := p.concrete(rel, item)
		if err != nil {
			return nil, err
		}
		f, err := ParseWhere(p.types, n, where)
		if err != nil {
			return nil, err
		}
		return []Target{{Node: n, Where: f}}, nil
	}
	return ResolveTargets(p.types, rel.Target, where)
}

func checkItemKeys(item map[string]any, what string, allowed ...string) error {
	for _, key := range sortedKeys(item) {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return invalidf("unknown key %s in %s", key, what)
		}
	}
	return nil
}

func (p inputParser) relationOp(in *RelationInput, kind opKind, item map[string]any) error {
	rel := in.Relationship
	what := string(kind) + " on " + rel.Field
	switch kind {
	case opCreate:
		if err := checkItemKeys(item, what, "type", "node", "edge"); err != nil {
			return err
		}
		n, err := p.concrete(rel, item)
		if err != nil {
			return err
		}
		nodeRaw, err := optionalMap(item, "node", "node of "+what)
		if err != nil {
			return err
		}
		child, err := p.create(n, nodeRaw)
		if err != nil {
			return err
		}
		edge, err := p.edgeValues(rel, item["edge"], true)
		if err != nil {
			return err
		}
		in.Create = append(in.Create, CreateOp{Node: child, Edge: edge})

	case opConnect:
		if err := checkItemKeys(item, what, "type", "where", "edge"); err != nil {
			return err
		}
		where, err := optionalMap(item, "where", "where of "+what)
		if err != nil {
			return err
		}
		targets, err := p.targets(rel, item, where)
		if err != nil {
			return err
		}
		edge, err := p.edgeValues(rel, item["edge"], true)
		if err != nil {
			return err
		}
		in.Connect = append(in.Connect, ConnectOp{Targets: targets, Edge: edge})

	case opConnectOrCreate:
		if err := checkItemKeys(item, what, "type", "where", "on_create"); err != nil {
			return err
		}
		op, err := p.connectOrCreate(rel, item)
		if err != nil {
			return err
		}
		in.ConnectOrCreate = append(in.ConnectOrCreate, op)

	case opUpdate:
		if err := checkItemKeys(item, what, "type", "where", "edge_where", "node", "edge"); err != nil {
			return err
		}
		op, err := p.updateOp(rel, item)
		if err != nil {
			return err
		}
		in.Update = append(in.Update, op)

	case opDisconnect:
		if err := checkItemKeys(item, what, "type", "where", "edge_where"); err != nil {
			return err
		}
		where, err := optionalMap(item, "where", "where of "+what)
		if err != nil {
			return err
		}
		targets, err := p.targets(rel, item, where)
		if err != nil {
			return err
		}
		edgeWhere, err := p.edgeWhere(rel, item)
		if err != nil {
			return err
		}
		in.Disconnect = append(in.Disconnect, DisconnectOp{Targets: targets, EdgeWhere: edgeWhere})

	case opDelete:
		if err := checkItemKeys(item, what, "type", "where", "edge_where", "delete"); err != nil {
			return err
		}
		op, err := p.deleteOp(rel, item)
		if err != nil {
			return err
		}
		in.Delete = append(in.Delete, op)
	}
	return nil
}

func (p inputParser) edgeWhere(rel *schema.Relationship, item map[string]any) (*Filter, error) {
	raw, err := optionalMap(item, "edge_where", "edge_where of "+rel.Field)
	if err != nil {
		return nil, err
	}
	return ParseEdgeWhere(rel, raw)
}

func (p inputParser) connectOrCreate(rel *schema.Relationship, item map[string]any) (ConnectOrCreateOp, error) {
	var op ConnectOrCreateOp
	n, err := p.concrete(rel, item)
	if err != nil {
		return op, err
	}
	op.Node = n
	where, err := optionalMap(item, "where", "where of connect_or_create on "+rel.Field)
	if err != nil {
		return op, err
	}
	if len(where) == 0 {
		return op, invalidf("connect_or_create on %s needs a where on unique fields", rel.Field)
	}
	for _, key := range sortedKeys(where) {
		field, ok := n.Field(key)
		if !ok || !field.Unique {
			return op, invalidf("connect_or_create on %s can only match unique fields, %s is not", rel.Field, key)
		}
		v, err := NormalizeValue(field, where[key])
		if err != nil {
			return op, err
		}
		op.Match = append(op.Match, FieldValue{Field: field, Value: v})
	}
	onCreate, err := optionalMap(item, "on_create", "on_create of connect_or_create on "+rel.Field)
	if err != nil {
		return op, err
	}
	nodeRaw, err := optionalMap(onCreate, "node", "on_create node")
	if err != nil {
		return op, err
	}
	for _, key := range sortedKeys(nodeRaw) {
		if _, ok := n.Field(key); !ok {
			return op, invalidf("unknown field %s on %s", key, n.Name)
		}
	}
	for i := range n.Fields {
		field := &n.Fields[i]
		if _, matched := where[field.Name]; matched {
			continue
		}
		value, ok := nodeRaw[field.Name]
		if field.Generated() {
			if ok {
				return op, invalidf("field %s.%s is generated and cannot be set", n.Name, field.Name)
			}
			continue
		}
		if !ok && field.Default != nil {
			value, ok = field.Default, true
		}
		if !ok {
			continue
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			return op, err
		}
		op.OnCreate = append(op.OnCreate, FieldValue{Field: field, Value: v})
	}
	edge, err := p.edgeValues(rel, onCreate["edge"], true)
	if err != nil {
		return op, err
	}
	op.Edge = edge
	return op, nil
}

func (p inputParser) updateOp(rel *schema.Relationship, item map[string]any) (UpdateOp, error) {
	var op UpdateOp
	where, err := optionalMap(item, "where", "where of update on "+rel.Field)
	if err != nil {
		return op, err
	}
	targets, err := p.targets(rel, item, where)
	if err != nil {
		return op, err
	}
	nodeRaw, err := optionalMap(item, "node", "node of update on "+rel.Field)
	if err != nil {
		return op, err
	}
	typed, _ := item["type"].(string)
	if len(nodeRaw) > 0 && typed == "" && p.types.Kind(rel.Target) == schema.KindUnion {
		return op, invalidf("update on union %s needs a type", rel.Field)
	}
	for _, target := range targets {
		update, err := p.update(target.Node, nodeRaw)
		if err != nil {
			return op, err
		}
		op.Targets = append(op.Targets, UpdateTarget{Node: target.Node, Where: target.Where, Update: update})
	}
	if op.EdgeWhere, err = p.edgeWhere(rel, item); err != nil {
		return op, err
	}
	if op.Edge, err = p.edgeValues(rel, item["edge"], false); err != nil {
		return op, err
	}
	return op, nil
}

func (p inputParser) deleteOp(rel *schema.Relationship, item map[string]any) (DeleteOp, error) {
	var op DeleteOp
	where, err := optionalMap(item, "where", "where of delete on "+rel.Field)
	if err != nil {
		return op, err
	}
	targets, err := p.targets(rel, item, where)
	if err != nil {
		return op, err
	}
	nested, err := optionalMap(item, "delete", "nested delete on "+rel.Field)
	if err != nil {
		return op, err
	}
	for _, target := range targets {
		dt := DeleteTarget{Node: target.Node, Where: target.Where}
		if len(nested) > 0 {
			dt.Delete, err = p.deletes(target.Node, nested)
			if err != nil {
				return op, err
			}
		}
		op.Targets = append(op.Targets, dt)
	}
	op.EdgeWhere, err = p.edgeWhere(rel, item)
	return op, err
}

func (p inputParser) deletes(node *schema.Node, raw map[string]any) ([]RelationInput, error) {
	for _, key := range sortedKeys(raw) {
		if _, ok := node.Relationship(key); !ok {
			return nil, invalidf("unknown relationship %s on %s", key, node.Name)
		}
	}
	wrapped := make(map[string]any, len(raw))
	for key, value := range raw {
		wrapped[key] = map[string]any{string(opDelete): value}
	}
	return p.relations(node, wrapped, map[opKind]struct{}{opDelete: {}})
}

var arithmeticOps = map[string]struct{}{"increment": {}, "decrement": {}, "push": {}}

func (p inputParser) update(node *schema.Node, raw map[string]any) (*UpdateInput, error) {
	if err := p.checkKeys(node, raw); err != nil {
		return nil, err
	}
	in := &UpdateInput{Node: node}
	for i := range node.Fields {
		field := &node.Fields[i]
		value, ok := raw[field.Name]
		if !ok {
			continue
		}
		if field.Generated() {
			return nil, invalidf("field %s.%s is generated and cannot be set", node.Name, field.Name)
		}
		if ops, isMap := value.(map[string]any); isMap {
			if err := p.arithmetic(in, field, ops); err != nil {
				return nil, err
			}
			continue
		}
		v, err := NormalizeValue(field, value)
		if err != nil {
			return nil, err
		}
		in.Set = append(in.Set, FieldValue{Field: field, Value: v})
	}
	relations, err := p.relations(node, raw, updateOps)
	if err != nil {
		return nil, err
	}
	in.Relations = relations
	return in, nil
}

func (p inputParser) arithmetic(in *UpdateInput, field *schema.Field, ops map[string]any) error {
	for _, key := range sortedKeys(ops) {
		if _, ok := arithmeticOps[key]; !ok {
			return invalidf("unknown update operator %s on %s", key, field.Name)
		}
		switch key {
		case "increment", "decrement":
			if field.List || (field.Type != schema.TypeInt && field.Type != schema.TypeFloat) {
				return invalidf("%s requires a numeric field, %s is not", key, field.Name)
			}
			v, err := normalizeScalar(field.Type, ops[key], field.Name)
			if err != nil {
				return err
			}
			if key == "increment" {
				in.Increment = append(in.Increment, FieldValue{Field: field, Value: v})
			} else {
				in.Decrement = append(in.Decrement, FieldValue{Field: field, Value: v})
			}
		case "push":
			if !field.List {
				return invalidf("push requires a list field, %s is scalar", field.Name)
			}
			value := ops[key]
			if _, isList := value.([]any); !isList {
				value = []any{value}
			}
			v, err := NormalizeValue(field, value)
			if err != nil {
				return err
			}
			in.Push = append(in.Push, FieldValue{Field: field, Value: v})
		}
	}
	return nil
}
