package translate

import (
	"graphql-cypher/internal/cursor"
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// connectionWhere splits a connection filter into its node and edge parts.
func connectionWhere(where map[string]any) (node, edge map[string]any, err error) {
	for key, value := range where {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, nil, invalidf("connection filter %s must be an object", key)
		}
		switch key {
		case "node":
			node = m
		case "edge":
			edge = m
		default:
			return nil, nil, invalidf("unknown connection filter %s", key)
		}
	}
	return node, edge, nil
}

// connectionField projects rel as `{ edges, totalCount }`. Edges carry the
// neighbour under `node` and the relationship properties under
// `properties`. Sorting and paging apply to edges after totalCount is taken.
func (c *compiler) connectionField(parent *cypher.Node, rel *schema.Relationship, f intent.Field) (cypher.Expr, cypher.Clause, error) {
	nodeWhere, edgeWhere, err := connectionWhere(f.Where)
	if err != nil {
		return nil, nil, err
	}
	targets, err := intent.ResolveTargets(c.meta, rel.Target, nodeWhere)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, invalidf("%s has no concrete targets", rel.Field)
	}
	edgeFilter, err := intent.ParseEdgeWhere(rel, edgeWhere)
	if err != nil {
		return nil, nil, err
	}
	skip, limit, err := c.connectionPaging(f)
	if err != nil {
		return nil, nil, err
	}
	nodes := targetNodes(targets)
	polymorphic := c.meta.Kind(rel.Target) != schema.KindNode
	if polymorphic {
		if err := c.checkShared(f.Selection, nodes); err != nil {
			return nil, nil, err
		}
	}
	sel := withSorted(f.Selection, f.Sort)
	showRel := len(f.Properties) > 0 || edgeFilter != nil

	edgeOf := func(target intent.Target) (cypher.Sequence, cypher.Expr, error) {
		child := cypher.NewNode(target.Node.AllLabels()...)
		relVar := cypher.NewRelationship(rel.Type)
		pattern := relationshipPattern(parent, rel, relVar, cypher.Labeled(child))
		pattern.HideVariable = !showRel
		gs, err := c.guards(target.Node, schema.OperationRead)
		if err != nil {
			return nil, nil, err
		}
		body := cypher.Sequence(c.match(matchSpec{
			pattern: pattern, target: child, filter: target.Where,
			rel: relVar, edge: edgeFilter, auth: gs.filter,
		}))
		body = append(body, c.checks(guardTarget{child, gs.before})...)

		nodeSel := concat(sel, f.On[target.Node.Name])
		if polymorphic {
			nodeSel = c.branchSelection(sel, f.On, target.Node)
		}
		proj, calls, err := c.projection(child, target.Node, nodeSel)
		if err != nil {
			return nil, nil, err
		}
		if polymorphic {
			proj.Entries = append(proj.Entries, discriminators(child, target.Node)...)
		}
		body = append(body, calls...)
		edge := cypher.Map{Entries: []cypher.MapEntry{{Key: "node", Value: proj}}}
		if len(f.Properties) > 0 {
			props := cypher.MapProjection{Target: relVar}
			for _, p := range f.Properties {
				field, ok := rel.Property(p.Name)
				if !ok {
					return nil, nil, invalidf("unknown property %s on %s", p.Name, rel.Field)
				}
				projectScalar(&props, relVar, field, p.Key())
			}
			edge.Entries = append(edge.Entries, cypher.MapEntry{Key: "properties", Value: props})
		}
		return body, edge, nil
	}

	edges := cypher.NamedVariable("edges")
	edgeVar := cypher.NamedVariable("edge")
	var body cypher.Sequence
	if !polymorphic {
		matched, edge, err := edgeOf(targets[0])
		if err != nil {
			return nil, nil, err
		}
		body = append(matched, cypher.With{Items: []cypher.Item{cypher.As(cypher.Collect(edge), edges)}})
	} else {
		branches := make([]cypher.Clause, 0, len(targets))
		for _, target := range targets {
			matched, edge, err := edgeOf(target)
			if err != nil {
				return nil, nil, err
			}
			branch := cypher.Sequence{cypher.WithVars(parent)}
			branch = append(branch, matched...)
			branch = append(branch,
				cypher.With{Items: []cypher.Item{cypher.As(edge, edgeVar)}},
				cypher.Return{Items: []cypher.Item{{Expr: edgeVar}}},
			)
			branches = append(branches, branch)
		}
		body = cypher.Sequence{
			cypher.Call{Body: cypher.Union{Branches: branches}},
			cypher.With{Items: []cypher.Item{cypher.As(cypher.Collect(edgeVar), edges)}},
		}
	}

	orders, err := projectedOrderBy(edgeVar, nodes, f.Sort, "node")
	if err != nil {
		return nil, nil, err
	}
	out := cypher.NewVariable()
	withEdges := len(f.Selection) > 0 || len(f.Properties) > 0 || len(f.On) > 0 || !f.TotalCount
	if len(orders) == 0 && skip == nil && limit == nil {
		var entries []cypher.MapEntry
		if withEdges {
			entries = append(entries, cypher.MapEntry{Key: "edges", Value: edges})
		}
		if f.TotalCount {
			entries = append(entries, cypher.MapEntry{Key: "totalCount", Value: cypher.Size(edges)})
		}
		body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Map{Entries: entries}, out)}})
		return out, cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
	}

	total := cypher.NamedVariable("totalCount")
	paged := cypher.NewVariable()
	body = append(body,
		cypher.With{Items: []cypher.Item{{Expr: edges}, cypher.As(cypher.Size(edges), total)}},
		cypher.Call{
			Imports: []cypher.Expr{edges},
			Body: cypher.Sequence{
				cypher.Unwind{List: edges, Alias: edgeVar},
				cypher.With{Items: []cypher.Item{{Expr: edgeVar}}, OrderBy: orders, Skip: skip, Limit: limit},
				cypher.Return{Items: []cypher.Item{cypher.As(cypher.Collect(edgeVar), paged)}},
			},
		},
	)
	var entries []cypher.MapEntry
	if withEdges {
		entries = append(entries, cypher.MapEntry{Key: "edges", Value: paged})
	}
	if f.TotalCount {
		entries = append(entries, cypher.MapEntry{Key: "totalCount", Value: total})
	}
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Map{Entries: entries}, out)}})
	return out, cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// connectionPaging lowers first and after into LIMIT and SKIP operands.
func (c *compiler) connectionPaging(f intent.Field) (skip, limit cypher.Expr, err error) {
	after, err := cursor.SkipAfter(f.After)
	if err != nil {
		return nil, nil, invalidf("%v", err)
	}
	var offset *int
	if after > 0 {
		offset = &after
	}
	return c.paging(f.First, offset, false)
}
