package translate

import (
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/schema"
)

const typenameField = "__typename"

// projection builds the map projection of target for sel together with the
// CALL subqueries that compute its relationship fields.
func (c *compiler) projection(target *cypher.Node, node *schema.Node, sel intent.Selection) (cypher.MapProjection, []cypher.Clause, error) {
	proj := cypher.MapProjection{Target: target}
	var calls []cypher.Clause
	for _, f := range sel {
		if f.Name == typenameField {
			proj.Entries = append(proj.Entries, cypher.MapEntry{Key: f.Key(), Value: cypher.Lit(node.Name)})
			continue
		}
		if field, ok := node.Field(f.Name); ok {
			projectScalar(&proj, target, field, f.Key())
			continue
		}
		base, kind := c.t.opts.namer.Split(f.Name)
		rel, ok := node.Relationship(base)
		if !ok {
			return cypher.MapProjection{}, nil, invalidf("unknown field %s on %s", f.Name, node.Name)
		}
		var (
			value cypher.Expr
			call  cypher.Clause
			err   error
		)
		switch kind {
		case naming.Connection:
			value, call, err = c.connectionField(target, rel, f)
		case naming.Aggregate:
			value, call, err = c.aggregateField(target, rel, f)
		default:
			value, call, err = c.relationField(target, rel, f)
		}
		if err != nil {
			return cypher.MapProjection{}, nil, err
		}
		proj.Entries = append(proj.Entries, cypher.MapEntry{Key: f.Key(), Value: value})
		calls = append(calls, call)
	}
	return proj, calls, nil
}

// projectScalar adds field under key, using the `.prop` shorthand when the
// key and stored property agree.
func projectScalar(proj *cypher.MapProjection, target cypher.Expr, field *schema.Field, key string) {
	if key == field.DBName() {
		proj.Properties = append(proj.Properties, key)
		return
	}
	proj.Entries = append(proj.Entries, cypher.MapEntry{Key: key, Value: cypher.Prop(target, field.DBName())})
}

// discriminators tag a polymorphic row with its type and a stable identity.
func discriminators(target *cypher.Node, node *schema.Node) []cypher.MapEntry {
	return []cypher.MapEntry{
		{Key: "__resolveType", Value: cypher.Lit(node.Name)},
		{Key: "__id", Value: cypher.ElementID(target)},
	}
}

func (c *compiler) selectable(node *schema.Node, name string) bool {
	if name == typenameField {
		return true
	}
	if _, ok := node.Field(name); ok {
		return true
	}
	base, _ := c.t.opts.namer.Split(name)
	_, ok := node.Relationship(base)
	return ok
}

// branchSelection keeps the shared fields node declares and adds the fields
// selected for node alone.
func (c *compiler) branchSelection(sel intent.Selection, on map[string]intent.Selection, node *schema.Node) intent.Selection {
	out := make(intent.Selection, 0, len(sel)+len(on[node.Name]))
	for _, f := range sel {
		if c.selectable(node, f.Name) {
			out = append(out, f)
		}
	}
	return append(out, on[node.Name]...)
}

// checkShared rejects shared fields that no concrete type declares.
func (c *compiler) checkShared(sel intent.Selection, nodes []*schema.Node) error {
	for _, f := range sel {
		found := false
		for _, n := range nodes {
			if c.selectable(n, f.Name) {
				found = true
				break
			}
		}
		if !found {
			return invalidf("unknown field %s on every concrete type", f.Name)
		}
	}
	return nil
}

// relationField projects the neighbours over rel as a list, or the first
// of them for a singular relationship.
func (c *compiler) relationField(parent *cypher.Node, rel *schema.Relationship, f intent.Field) (cypher.Expr, cypher.Clause, error) {
	targets, err := intent.ResolveTargets(c.meta, rel.Target, f.Where)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, invalidf("%s has no concrete targets", rel.Field)
	}
	skip, limit, err := c.paging(f.Limit, f.Offset, false)
	if err != nil {
		return nil, nil, err
	}
	out := cypher.NewVariable()
	collect := func(v cypher.Expr) cypher.Expr {
		if rel.List {
			return cypher.Collect(v)
		}
		return cypher.Head(cypher.Collect(v))
	}

	if c.meta.Kind(rel.Target) == schema.KindNode {
		target := targets[0]
		child := cypher.NewNode(target.Node.AllLabels()...)
		body, err := c.neighbourBody(parent, rel, target, child)
		if err != nil {
			return nil, nil, err
		}
		orders, err := orderBy(child, []*schema.Node{target.Node}, f.Sort)
		if err != nil {
			return nil, nil, err
		}
		if len(orders) > 0 || skip != nil || limit != nil {
			body = append(body, cypher.With{Star: true, OrderBy: orders, Skip: skip, Limit: limit})
		}
		proj, calls, err := c.projection(child, target.Node, concat(f.Selection, f.On[target.Node.Name]))
		if err != nil {
			return nil, nil, err
		}
		body = append(body, calls...)
		body = append(body,
			cypher.With{Items: []cypher.Item{cypher.As(proj, child)}},
			cypher.Return{Items: []cypher.Item{cypher.As(collect(child), out)}},
		)
		return out, cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
	}

	nodes := targetNodes(targets)
	if err := c.checkShared(f.Selection, nodes); err != nil {
		return nil, nil, err
	}
	row := cypher.NewVariable()
	branches := make([]cypher.Clause, 0, len(targets))
	for _, target := range targets {
		child := cypher.NewNode(target.Node.AllLabels()...)
		body, err := c.neighbourBody(parent, rel, target, child)
		if err != nil {
			return nil, nil, err
		}
		proj, calls, err := c.projection(child, target.Node, c.branchSelection(withSorted(f.Selection, f.Sort), f.On, target.Node))
		if err != nil {
			return nil, nil, err
		}
		proj.Entries = append(proj.Entries, discriminators(child, target.Node)...)
		branch := cypher.Sequence{cypher.WithVars(parent)}
		branch = append(branch, body...)
		branch = append(branch, calls...)
		branch = append(branch,
			cypher.With{Items: []cypher.Item{cypher.As(proj, child)}},
			cypher.Return{Items: []cypher.Item{cypher.As(child, row)}},
		)
		branches = append(branches, branch)
	}
	orders, err := projectedOrderBy(row, nodes, f.Sort)
	if err != nil {
		return nil, nil, err
	}
	body := cypher.Sequence{cypher.Call{Body: cypher.Union{Branches: branches}}}
	if len(orders) > 0 || skip != nil || limit != nil {
		body = append(body, cypher.With{Items: []cypher.Item{{Expr: row}}, OrderBy: orders, Skip: skip, Limit: limit})
	}
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(collect(row), out)}})
	return out, cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// neighbourBody matches child over rel from parent under the target filter
// and the read guards of its type.
func (c *compiler) neighbourBody(parent *cypher.Node, rel *schema.Relationship, target intent.Target, child *cypher.Node) (cypher.Sequence, error) {
	gs, err := c.guards(target.Node, schema.OperationRead)
	if err != nil {
		return nil, err
	}
	pattern := relationshipPattern(parent, rel, cypher.NewRelationship(rel.Type), cypher.Labeled(child))
	pattern.HideVariable = true
	body := cypher.Sequence(c.match(matchSpec{pattern: pattern, target: child, filter: target.Where, auth: gs.filter}))
	return append(body, c.checks(guardTarget{child, gs.before})...), nil
}
