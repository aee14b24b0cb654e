package translate

import (
	"fmt"
	"strings"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

func (c *compiler) create(req intent.Create) (cypher.Clause, error) {
	node, err := c.concreteNode(req.Type)
	if err != nil {
		return nil, err
	}
	if len(req.Input) == 0 {
		return nil, invalidf("create of %s needs at least one input row", node.Name)
	}
	if limit := c.t.opts.limits.MaxCreateRows; limit > 0 && len(req.Input) > limit {
		return nil, fmt.Errorf("%w: create of %d rows exceeds maximum of %d", ErrLimitExceeded, len(req.Input), limit)
	}
	depth := selectionDepth(req.Selection)
	inputs := make([]*intent.NodeInput, 0, len(req.Input))
	for i, raw := range req.Input {
		in, err := intent.ParseCreate(c.meta, node, raw)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		depth = max(depth, relationsDepth(in.Relations))
		inputs = append(inputs, in)
	}
	if err := c.checkDepth(depth); err != nil {
		return nil, err
	}

	s, homogeneous := shapeOf(node, inputs)
	c.batched = c.t.opts.batchCreate && homogeneous
	c.t.opts.recorder.RecordCreateStrategy(c.ctx, c.batched)
	if c.batched {
		return c.batchCreate(node, inputs, s, req.Selection)
	}
	return c.createEach(node, inputs, req.Selection)
}

// shape is the merged structure of homogeneous create rows: the union of
// their scalar fields and one nested shape per relationship they create on.
type shape struct {
	node      *schema.Node
	fields    map[string]bool
	relations []relationShape
}

type relationShape struct {
	rel   *schema.Relationship
	child *shape
	edge  map[string]bool
}

// shapeOf merges rows into one shape. It reports false when the rows nest
// different operations or target types, or when any of them connects.
func shapeOf(node *schema.Node, inputs []*intent.NodeInput) (*shape, bool) {
	s := &shape{node: node, fields: make(map[string]bool)}
	var first string
	for i, in := range inputs {
		sig, ok := signature(in)
		if !ok {
			return nil, false
		}
		if i == 0 {
			first = sig
		} else if sig != first {
			return nil, false
		}
		for _, fv := range in.Fields {
			s.fields[fv.Field.Name] = true
		}
	}
	for _, ri := range inputs[0].Relations {
		if len(ri.Create) == 0 {
			continue
		}
		var children []*intent.NodeInput
		edge := make(map[string]bool)
		for _, in := range inputs {
			related, _ := relationOf(in, ri.Relationship.Field)
			for _, op := range related.Create {
				children = append(children, op.Node)
				for _, fv := range op.Edge {
					edge[fv.Field.Name] = true
				}
			}
		}
		child, ok := shapeOf(ri.Create[0].Node.Node, children)
		if !ok {
			return nil, false
		}
		s.relations = append(s.relations, relationShape{rel: ri.Relationship, child: child, edge: edge})
	}
	return s, true
}

// signature describes the nested operations of a row. Rows batch together
// only when their signatures are equal.
func signature(in *intent.NodeInput) (string, bool) {
	var b strings.Builder
	for _, ri := range in.Relations {
		if len(ri.Connect) > 0 || len(ri.ConnectOrCreate) > 0 || len(ri.Update) > 0 ||
			len(ri.Disconnect) > 0 || len(ri.Delete) > 0 {
			return "", false
		}
		if len(ri.Create) == 0 {
			continue
		}
		var child string
		for i, op := range ri.Create {
			sig, ok := signature(op.Node)
			if !ok {
				return "", false
			}
			sig = op.Node.Node.Name + "{" + sig + "}"
			if i == 0 {
				child = sig
			} else if sig != child {
				return "", false
			}
		}
		b.WriteString(ri.Relationship.Field)
		b.WriteString(":")
		b.WriteString(child)
		b.WriteString(";")
	}
	return b.String(), true
}

func relationOf(in *intent.NodeInput, field string) (intent.RelationInput, bool) {
	for _, ri := range in.Relations {
		if ri.Relationship.Field == field {
			return ri, true
		}
	}
	return intent.RelationInput{}, false
}

// rowValue is the parameter form of a row: scalar values by field name and
// nested creates under `<relationship>.create` as `{ node, edge }` items.
func rowValue(in *intent.NodeInput) map[string]any {
	row := make(map[string]any, len(in.Fields)+len(in.Relations))
	for _, fv := range in.Fields {
		row[fv.Field.Name] = fv.Value
	}
	for _, ri := range in.Relations {
		if len(ri.Create) == 0 {
			continue
		}
		items := make([]any, 0, len(ri.Create))
		for _, op := range ri.Create {
			item := map[string]any{"node": rowValue(op.Node)}
			if len(op.Edge) > 0 {
				edge := make(map[string]any, len(op.Edge))
				for _, fv := range op.Edge {
					edge[fv.Field.Name] = fv.Value
				}
				item["edge"] = edge
			}
			items = append(items, item)
		}
		row[ri.Relationship.Field] = map[string]any{"create": items}
	}
	return row
}

// batchCreate unwinds every row from one list parameter and creates each in
// a CALL subquery.
func (c *compiler) batchCreate(node *schema.Node, inputs []*intent.NodeInput, s *shape, sel intent.Selection) (cypher.Clause, error) {
	rows := make([]any, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, rowValue(in))
	}
	row := cypher.NewVariable()
	created := cypher.NewNode(node.AllLabels()...)
	create, rest, err := c.batchBody(created, s, row, row)
	if err != nil {
		return nil, err
	}
	body := cypher.Sequence{create}
	body = append(body, rest...)
	body = append(body, cypher.Return{Items: []cypher.Item{{Expr: created}}})

	proj, calls, err := c.projection(created, node, sel)
	if err != nil {
		return nil, err
	}
	seq := cypher.Sequence{
		cypher.Unwind{List: cypher.NewParam(rows), Alias: row},
		cypher.Call{Imports: []cypher.Expr{row}, Body: body},
	}
	seq = append(seq, calls...)
	return append(seq, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Collect(proj), cypher.NamedVariable("data"))}}), nil
}

// batchBody creates target from the row expression. It returns the CREATE
// and the clauses that follow once target is linked to its parent.
func (c *compiler) batchBody(target *cypher.Node, s *shape, scope *cypher.Variable, row cypher.Expr) (cypher.Clause, cypher.Sequence, error) {
	gs, err := c.guards(s.node, schema.OperationCreate)
	if err != nil {
		return nil, nil, err
	}
	create := cypher.Create{Pattern: cypher.Labeled(target), Set: createSets(target, s.node, nil, func(field *schema.Field) (cypher.Expr, bool) {
		if !s.fields[field.Name] {
			return nil, false
		}
		return cypher.Prop(row, field.Name), true
	})}

	var rest cypher.Sequence
	touched := make(map[string]bool)
	for _, rs := range s.relations {
		touched[rs.rel.Field] = true
		item := cypher.NewVariable()
		child := cypher.NewNode(rs.child.node.AllLabels()...)
		childCreate, childRest, err := c.batchBody(child, rs.child, item, cypher.Prop(item, "node"))
		if err != nil {
			return nil, nil, err
		}
		relVar := cypher.NewRelationship(rs.rel.Type)
		generated, values := edgeSets(relVar, rs.rel, func(field *schema.Field) (cypher.Expr, bool) {
			if !rs.edge[field.Name] {
				return nil, false
			}
			return cypher.Prop(item, "edge", field.Name), true
		})
		link := relationshipPattern(target, rs.rel, relVar, cypher.Bare(child))
		link.HideVariable = len(generated)+len(values) == 0

		inner := cypher.Sequence{
			cypher.Unwind{List: cypher.Prop(row, rs.rel.Field, "create"), Alias: item},
			childCreate,
			cypher.Merge{Pattern: link, OnCreate: generated, Set: values},
		}
		inner = append(inner, childRest...)
		inner = append(inner, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Collect(cypher.Lit(nil)), cypher.NewVariable())}})
		rest = append(rest, cypher.With{Star: true}, cypher.Call{Imports: []cypher.Expr{target, scope}, Body: inner})
	}
	rest = append(rest, c.cardinality(target, s.node, touched, true)...)
	rest = append(rest, c.checks(guardTarget{target, both(gs)})...)
	return create, rest, nil
}

// createEach creates every row in its own CALL block.
func (c *compiler) createEach(node *schema.Node, inputs []*intent.NodeInput, sel intent.Selection) (cypher.Clause, error) {
	blocks := make(cypher.Concat, 0, len(inputs))
	created := make([]*cypher.Node, 0, len(inputs))
	for _, in := range inputs {
		target := cypher.NewNode(node.AllLabels()...)
		body, err := c.createNode(target, in, nil)
		if err != nil {
			return nil, err
		}
		body = append(body, cypher.Return{Items: []cypher.Item{{Expr: target}}})
		blocks = append(blocks, cypher.Call{Body: body})
		created = append(created, target)
	}

	seq := cypher.Sequence{blocks}
	items := make([]cypher.Expr, 0, len(created))
	for _, target := range created {
		proj, calls, err := c.projection(target, node, sel)
		if err != nil {
			return nil, err
		}
		seq = append(seq, calls...)
		items = append(items, proj)
	}
	return append(seq, cypher.Return{Items: []cypher.Item{cypher.As(cypher.List{Items: items}, cypher.NamedVariable("data"))}}), nil
}

// createNode creates target from in with parameters, links it with link
// when given, then runs its nested operations, cardinality checks and
// create guards.
func (c *compiler) createNode(target *cypher.Node, in *intent.NodeInput, link cypher.Clause) (cypher.Sequence, error) {
	gs, err := c.guards(in.Node, schema.OperationCreate)
	if err != nil {
		return nil, err
	}
	seq := cypher.Sequence{cypher.Create{Pattern: cypher.Labeled(target), Set: createSets(target, in.Node, nil, func(field *schema.Field) (cypher.Expr, bool) {
		v, ok := in.Value(field.Name)
		if !ok {
			return nil, false
		}
		return cypher.NewParam(v), true
	})}}
	if link != nil {
		seq = append(seq, link)
	}
	nested, touched, err := c.nestedOps(target, in.Node, in.Relations)
	if err != nil {
		return nil, err
	}
	seq = append(seq, nested...)
	seq = append(seq, c.cardinality(target, in.Node, touched, true)...)
	return append(seq, c.checks(guardTarget{target, both(gs)})...), nil
}

// createSets assigns every field of node on create, in declaration order:
// generated values first come from the database, the rest from value.
// Fields in keep already hold their value and are never assigned.
func createSets(target cypher.Expr, node *schema.Node, keep map[string]bool, value func(*schema.Field) (cypher.Expr, bool)) []cypher.SetItem {
	var items []cypher.SetItem
	for i := range node.Fields {
		field := &node.Fields[i]
		prop := cypher.Prop(target, field.DBName())
		switch {
		case keep[field.Name]:
		case field.Autogenerate:
			items = append(items, cypher.SetItem{Target: prop, Value: cypher.RandomUUID()})
		case field.OnCreate():
			items = append(items, cypher.SetItem{Target: prop, Value: cypher.DateTime()})
		default:
			if v, ok := value(field); ok {
				items = append(items, cypher.SetItem{Target: prop, Value: v})
			}
		}
	}
	return items
}

// edgeSets assigns relationship properties on create. Generated values are
// returned apart so a MERGE can apply them on create only.
func edgeSets(relVar *cypher.Relationship, rel *schema.Relationship, value func(*schema.Field) (cypher.Expr, bool)) (generated, values []cypher.SetItem) {
	for i := range rel.Properties {
		field := &rel.Properties[i]
		prop := cypher.Prop(relVar, field.DBName())
		switch {
		case field.Autogenerate:
			generated = append(generated, cypher.SetItem{Target: prop, Value: cypher.RandomUUID()})
		case field.OnCreate():
			generated = append(generated, cypher.SetItem{Target: prop, Value: cypher.DateTime()})
		default:
			if v, ok := value(field); ok {
				values = append(values, cypher.SetItem{Target: prop, Value: v})
			}
		}
	}
	return generated, values
}

func paramsOf(values []intent.FieldValue) func(*schema.Field) (cypher.Expr, bool) {
	return func(field *schema.Field) (cypher.Expr, bool) {
		for _, fv := range values {
			if fv.Field.Name == field.Name {
				return cypher.NewParam(fv.Value), true
			}
		}
		return nil, false
	}
}

// both joins the before and after validations of a create, which can only
// be checked once the node exists.
func both(gs guards) []authz.Predicate {
	out := make([]authz.Predicate, 0, len(gs.before)+len(gs.after))
	out = append(out, gs.before...)
	return append(out, gs.after...)
}
