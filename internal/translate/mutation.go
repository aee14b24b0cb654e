package translate

import (
	"fmt"

	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// nestedOps lowers the nested operations on every relationship of parent.
// Per relationship they run disconnect, delete, update, create, connect and
// connectOrCreate, each behind a `WITH *`. It also reports which
// relationships were touched.
func (c *compiler) nestedOps(parent *cypher.Node, node *schema.Node, relations []intent.RelationInput) (cypher.Sequence, map[string]bool, error) {
	var seq cypher.Sequence
	touched := make(map[string]bool, len(relations))
	add := func(clauses ...cypher.Clause) {
		seq = append(seq, cypher.With{Star: true})
		seq = append(seq, clauses...)
	}
	for _, ri := range relations {
		rel := ri.Relationship
		touched[rel.Field] = true
		for _, op := range ri.Disconnect {
			for _, target := range op.Targets {
				call, err := c.disconnect(parent, node, rel, target, op.EdgeWhere)
				if err != nil {
					return nil, nil, err
				}
				add(call)
			}
		}
		for _, op := range ri.Delete {
			for _, target := range op.Targets {
				call, err := c.nestedDelete(parent, rel, target, op.EdgeWhere)
				if err != nil {
					return nil, nil, err
				}
				add(call)
			}
		}
		for _, op := range ri.Update {
			for _, target := range op.Targets {
				call, err := c.nestedUpdate(parent, rel, target, op)
				if err != nil {
					return nil, nil, err
				}
				add(call)
			}
		}
		for _, op := range ri.Create {
			child := cypher.NewNode(op.Node.Node.AllLabels()...)
			relVar := cypher.NewRelationship(rel.Type)
			generated, values := edgeSets(relVar, rel, paramsOf(op.Edge))
			link := relationshipPattern(parent, rel, relVar, cypher.Bare(child))
			link.HideVariable = len(generated)+len(values) == 0
			body, err := c.createNode(child, op.Node, cypher.Merge{Pattern: link, OnCreate: generated, Set: values})
			if err != nil {
				return nil, nil, err
			}
			add(body...)
		}
		for _, op := range ri.Connect {
			for _, target := range op.Targets {
				call, err := c.connect(parent, node, rel, target, op.Edge)
				if err != nil {
					return nil, nil, err
				}
				add(call)
			}
		}
		for _, op := range ri.ConnectOrCreate {
			call, err := c.connectOrCreate(parent, node, rel, op)
			if err != nil {
				return nil, nil, err
			}
			add(call)
		}
	}
	return seq, touched, nil
}

// connect links parent to every node matching target.
func (c *compiler) connect(parent *cypher.Node, node *schema.Node, rel *schema.Relationship, target intent.Target, edge []intent.FieldValue) (cypher.Clause, error) {
	parentGuards, err := c.guards(node, schema.OperationCreateRelationship)
	if err != nil {
		return nil, err
	}
	childGuards, err := c.guards(target.Node, schema.OperationCreateRelationship)
	if err != nil {
		return nil, err
	}
	child := cypher.NewNode(target.Node.AllLabels()...)
	relVar := cypher.NewRelationship(rel.Type)
	connected := cypher.NewVariable()

	body := cypher.Sequence(c.match(matchSpec{
		pattern: cypher.Labeled(child), target: child, filter: target.Where,
		auth: childGuards.filter, optional: true,
	}))
	body = append(body, c.checks(guardTarget{parent, parentGuards.before}, guardTarget{child, childGuards.before})...)

	generated, values := edgeSets(relVar, rel, paramsOf(edge))
	link := relationshipPattern(parent, rel, relVar, cypher.Bare(child))
	link.HideVariable = len(generated)+len(values) == 0
	body = append(body,
		cypher.With{Items: []cypher.Item{{Expr: parent}, cypher.As(cypher.Collect(child), connected)}},
		cypher.Unwind{List: connected, Alias: child},
		cypher.Merge{Pattern: link, OnCreate: generated, Set: values},
	)
	body = append(body, c.checks(guardTarget{parent, parentGuards.after}, guardTarget{child, childGuards.after})...)
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.CountAll(), cypher.NewVariable())}})
	return cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// disconnect deletes the relationships from parent to nodes matching target.
func (c *compiler) disconnect(parent *cypher.Node, node *schema.Node, rel *schema.Relationship, target intent.Target, edgeWhere *intent.Filter) (cypher.Clause, error) {
	parentGuards, err := c.guards(node, schema.OperationDeleteRelationship)
	if err != nil {
		return nil, err
	}
	childGuards, err := c.guards(target.Node, schema.OperationDeleteRelationship)
	if err != nil {
		return nil, err
	}
	child := cypher.NewNode(target.Node.AllLabels()...)
	relVar := cypher.NewRelationship(rel.Type)
	disconnected := cypher.NewVariable()

	body := cypher.Sequence(c.match(matchSpec{
		pattern: relationshipPattern(parent, rel, relVar, cypher.Labeled(child)),
		target:  child, filter: target.Where, rel: relVar, edge: edgeWhere,
		auth: childGuards.filter, optional: true,
	}))
	body = append(body, c.checks(guardTarget{parent, parentGuards.before}, guardTarget{child, childGuards.before})...)
	body = append(body,
		cypher.With{Items: []cypher.Item{cypher.As(cypher.Collect(relVar), disconnected)}},
		cypher.Unwind{List: disconnected, Alias: relVar},
		cypher.Delete{Targets: []cypher.Expr{relVar}},
		cypher.Return{Items: []cypher.Item{cypher.As(cypher.CountAll(), cypher.NewVariable())}},
	)
	return cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// nestedDelete detaches and deletes the neighbours of parent matching
// target, after their own nested deletes.
func (c *compiler) nestedDelete(parent *cypher.Node, rel *schema.Relationship, target intent.DeleteTarget, edgeWhere *intent.Filter) (cypher.Clause, error) {
	gs, err := c.guards(target.Node, schema.OperationDelete)
	if err != nil {
		return nil, err
	}
	child := cypher.NewNode(target.Node.AllLabels()...)
	relVar := cypher.NewRelationship(rel.Type)
	pattern := relationshipPattern(parent, rel, relVar, cypher.Labeled(child))
	pattern.HideVariable = edgeWhere == nil

	body := cypher.Sequence(c.match(matchSpec{
		pattern: pattern, target: child, filter: target.Where,
		rel: relVar, edge: edgeWhere, auth: gs.filter, optional: true,
	}))
	body = append(body, c.checks(guardTarget{child, gs.before})...)
	nested, _, err := c.nestedOps(child, target.Node, target.Delete)
	if err != nil {
		return nil, err
	}
	body = append(body, nested...)

	deleted := cypher.NewVariable()
	body = append(body,
		cypher.With{Items: []cypher.Item{cypher.As(cypher.CollectDistinct(child), deleted)}},
		cypher.Unwind{List: deleted, Alias: child},
		cypher.Delete{Targets: []cypher.Expr{child}, Detach: true},
		cypher.Return{Items: []cypher.Item{cypher.As(cypher.CountAll(), cypher.NewVariable())}},
	)
	return cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// nestedUpdate updates the neighbours of parent matching target and the
// properties of the relationships reaching them.
func (c *compiler) nestedUpdate(parent *cypher.Node, rel *schema.Relationship, target intent.UpdateTarget, op intent.UpdateOp) (cypher.Clause, error) {
	gs, err := c.guards(target.Node, schema.OperationUpdate)
	if err != nil {
		return nil, err
	}
	child := cypher.NewNode(target.Node.AllLabels()...)
	relVar := cypher.NewRelationship(rel.Type)
	pattern := relationshipPattern(parent, rel, relVar, cypher.Labeled(child))
	pattern.HideVariable = op.EdgeWhere == nil && len(op.Edge) == 0

	body := cypher.Sequence(c.match(matchSpec{
		pattern: pattern, target: child, filter: target.Where,
		rel: relVar, edge: op.EdgeWhere, auth: gs.filter,
	}))
	body = append(body, c.checks(guardTarget{child, gs.before})...)

	sets := updateSets(child, target.Node, target.Update)
	sets = append(sets, edgeUpdateSets(relVar, rel, op.Edge)...)
	if len(sets) > 0 {
		body = append(body, cypher.Set{Items: sets})
	}
	var relations []intent.RelationInput
	if target.Update != nil {
		relations = target.Update.Relations
	}
	nested, touched, err := c.nestedOps(child, target.Node, relations)
	if err != nil {
		return nil, err
	}
	body = append(body, nested...)
	body = append(body, c.cardinality(child, target.Node, touched, false)...)
	body = append(body, c.checks(guardTarget{child, gs.after})...)
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.CountAll(), cypher.NewVariable())}})
	return cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// connectOrCreate merges the related node on its unique fields, setting the
// remaining values only when it is created, and links it to parent. The
// merged node answers to its own create rules.
func (c *compiler) connectOrCreate(parent *cypher.Node, node *schema.Node, rel *schema.Relationship, op intent.ConnectOrCreateOp) (cypher.Clause, error) {
	gs, err := c.guards(node, schema.OperationCreateRelationship)
	if err != nil {
		return nil, err
	}
	childGuards, err := c.guards(op.Node, schema.OperationCreate)
	if err != nil {
		return nil, err
	}
	child := cypher.NewNode(op.Node.AllLabels()...)
	relVar := cypher.NewRelationship(rel.Type)

	keys := make([]cypher.MapEntry, 0, len(op.Match))
	matched := make(map[string]bool, len(op.Match))
	for _, fv := range op.Match {
		keys = append(keys, cypher.MapEntry{Key: fv.Field.DBName(), Value: cypher.NewParam(fv.Value)})
		matched[fv.Field.Name] = true
	}
	nodeSet := createSets(child, op.Node, matched, paramsOf(op.OnCreate))
	generated, values := edgeSets(relVar, rel, paramsOf(op.Edge))
	link := relationshipPattern(parent, rel, relVar, cypher.Bare(child))
	link.HideVariable = len(generated)+len(values) == 0

	body := cypher.Sequence{
		cypher.Merge{Pattern: cypher.NodePattern{Node: child, Properties: keys}, OnCreate: nodeSet},
		cypher.Merge{Pattern: link, OnCreate: append(generated, values...)},
	}
	body = append(body, c.checks(guardTarget{parent, both(gs)}, guardTarget{child, both(childGuards)})...)
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.CountAll(), cypher.NewVariable())}})
	return cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// cardinality asserts that singular relationships of node hold at most one
// neighbour, or exactly one when required. On create every required
// relationship is checked; otherwise only the touched ones.
func (c *compiler) cardinality(target *cypher.Node, node *schema.Node, touched map[string]bool, creating bool) []cypher.Clause {
	var out []cypher.Clause
	for i := range node.Relationships {
		rel := &node.Relationships[i]
		if rel.List {
			continue
		}
		if !touched[rel.Field] && !(creating && rel.Required) {
			continue
		}
		end := cypher.NodePattern{}
		if c.meta.Kind(rel.Target) == schema.KindNode {
			neighbour, _ := c.meta.Node(rel.Target)
			end = cypher.NodePattern{Node: cypher.NewNode(neighbour.AllLabels()...), HideVariable: true}
		}
		pattern := relationshipPattern(target, rel, cypher.NewRelationship(rel.Type), end)
		pattern.HideVariable = true
		count := cypher.CountSubquery{Pattern: pattern}

		cond, qualifier := cypher.Lte(count, cypher.Lit(1)), "at most once"
		if rel.Required {
			cond, qualifier = cypher.Eq(count, cypher.Lit(1)), "exactly once"
		}
		code := fmt.Sprintf("%s: %s.%s must be connected %s", CardinalityCode, node.Name, rel.Field, qualifier)
		out = append(out, validate(cond, code, nil)...)
	}
	return out
}

// updateSets assigns, increments, decrements and appends in input order,
// then stamps update timestamps when anything changes.
func updateSets(target cypher.Expr, node *schema.Node, in *intent.UpdateInput) []cypher.SetItem {
	if in.Empty() {
		return nil
	}
	var items []cypher.SetItem
	for _, fv := range in.Set {
		items = append(items, cypher.SetItem{Target: cypher.Prop(target, fv.Field.DBName()), Value: cypher.NewParam(fv.Value)})
	}
	for _, fv := range in.Increment {
		prop := cypher.Prop(target, fv.Field.DBName())
		items = append(items, cypher.SetItem{Target: prop, Value: cypher.Add(prop, cypher.NewParam(fv.Value))})
	}
	for _, fv := range in.Decrement {
		prop := cypher.Prop(target, fv.Field.DBName())
		items = append(items, cypher.SetItem{Target: prop, Value: cypher.Subtract(prop, cypher.NewParam(fv.Value))})
	}
	for _, fv := range in.Push {
		prop := cypher.Prop(target, fv.Field.DBName())
		items = append(items, cypher.SetItem{Target: prop, Value: cypher.Add(prop, cypher.NewParam(fv.Value))})
	}
	for i := range node.Fields {
		if field := &node.Fields[i]; field.OnUpdate() {
			items = append(items, cypher.SetItem{Target: cypher.Prop(target, field.DBName()), Value: cypher.DateTime()})
		}
	}
	return items
}

func edgeUpdateSets(relVar *cypher.Relationship, rel *schema.Relationship, values []intent.FieldValue) []cypher.SetItem {
	if len(values) == 0 {
		return nil
	}
	items := make([]cypher.SetItem, 0, len(values))
	for _, fv := range values {
		items = append(items, cypher.SetItem{Target: cypher.Prop(relVar, fv.Field.DBName()), Value: cypher.NewParam(fv.Value)})
	}
	for i := range rel.Properties {
		if field := &rel.Properties[i]; field.OnUpdate() {
			items = append(items, cypher.SetItem{Target: cypher.Prop(relVar, field.DBName()), Value: cypher.DateTime()})
		}
	}
	return items
}
