package translate

import (
	"fmt"

	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

func (c *compiler) read(req intent.Read) (cypher.Clause, error) {
	depth := selectionDepth(req.Selection)
	for _, on := range req.On {
		depth = max(depth, selectionDepth(on))
	}
	if err := c.checkDepth(depth); err != nil {
		return nil, err
	}
	switch c.meta.Kind(req.Type) {
	case schema.KindUnknown:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	case schema.KindNode:
		node, _ := c.meta.Node(req.Type)
		return c.readNode(node, req)
	default:
		return c.readPolymorphic(req)
	}
}

// readNode matches the root node as `this`, narrows, guards, orders and
// pages it, then projects the selection.
func (c *compiler) readNode(node *schema.Node, req intent.Read) (cypher.Clause, error) {
	this := cypher.NamedNode("this", node.AllLabels()...)
	filter, err := intent.ParseWhere(c.meta, node, req.Where)
	if err != nil {
		return nil, err
	}
	gs, err := c.guards(node, schema.OperationRead)
	if err != nil {
		return nil, err
	}

	seq := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(this), target: this, filter: filter, auth: gs.filter}))
	seq = append(seq, c.checks(guardTarget{this, gs.before})...)

	orders, err := orderBy(this, []*schema.Node{node}, req.Sort)
	if err != nil {
		return nil, err
	}
	skip, limit, err := c.paging(req.Limit, req.Offset, true)
	if err != nil {
		return nil, err
	}
	if len(orders) > 0 || skip != nil || limit != nil {
		seq = append(seq, cypher.With{Star: true, OrderBy: orders, Skip: skip, Limit: limit})
	}

	proj, calls, err := c.projection(this, node, concat(req.Selection, req.On[node.Name]))
	if err != nil {
		return nil, err
	}
	seq = append(seq, calls...)
	return append(seq, cypher.Return{Items: []cypher.Item{cypher.As(proj, this)}}), nil
}

// readPolymorphic fans the read out into one UNION branch per concrete
// type. Each branch repeats the filter, guards and projection of its type
// and tags rows with the type name and element id.
func (c *compiler) readPolymorphic(req intent.Read) (cypher.Clause, error) {
	out := cypher.NamedVariable("this")
	targets, err := intent.ResolveTargets(c.meta, req.Type, req.Where)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, invalidf("%s has no concrete types", req.Type)
	}
	nodes := targetNodes(targets)
	if err := c.checkShared(req.Selection, nodes); err != nil {
		return nil, err
	}

	branches := make([]cypher.Clause, 0, len(targets))
	for _, target := range targets {
		child := cypher.NewNode(target.Node.AllLabels()...)
		gs, err := c.guards(target.Node, schema.OperationRead)
		if err != nil {
			return nil, err
		}
		branch := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(child), target: child, filter: target.Where, auth: gs.filter}))
		branch = append(branch, c.checks(guardTarget{child, gs.before})...)
		proj, calls, err := c.projection(child, target.Node, c.branchSelection(withSorted(req.Selection, req.Sort), req.On, target.Node))
		if err != nil {
			return nil, err
		}
		proj.Entries = append(proj.Entries, discriminators(child, target.Node)...)
		branch = append(branch, calls...)
		branch = append(branch,
			cypher.With{Items: []cypher.Item{cypher.As(proj, child)}},
			cypher.Return{Items: []cypher.Item{cypher.As(child, out)}},
		)
		branches = append(branches, branch)
	}

	seq := cypher.Sequence{cypher.Call{Body: cypher.Union{Branches: branches}}}
	orders, err := projectedOrderBy(out, nodes, req.Sort)
	if err != nil {
		return nil, err
	}
	skip, limit, err := c.paging(req.Limit, req.Offset, true)
	if err != nil {
		return nil, err
	}
	if len(orders) > 0 || skip != nil || limit != nil {
		seq = append(seq, cypher.With{Items: []cypher.Item{{Expr: out}}, OrderBy: orders, Skip: skip, Limit: limit})
	}
	return append(seq, cypher.Return{Items: []cypher.Item{{Expr: out}}}), nil
}

// aggregate compiles a root aggregation into a single map row.
func (c *compiler) aggregate(req intent.Aggregate) (cypher.Clause, error) {
	switch c.meta.Kind(req.Type) {
	case schema.KindUnknown:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, req.Type)
	case schema.KindNode:
		node, _ := c.meta.Node(req.Type)
		this := cypher.NamedNode("this", node.AllLabels()...)
		filter, err := intent.ParseWhere(c.meta, node, req.Where)
		if err != nil {
			return nil, err
		}
		gs, err := c.guards(node, schema.OperationRead)
		if err != nil {
			return nil, err
		}
		entries, err := aggregateEntries(this, nil, []*schema.Node{node}, nil, req.Count, req.Node, nil)
		if err != nil {
			return nil, err
		}
		seq := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(this), target: this, filter: filter, auth: gs.filter}))
		seq = append(seq, c.checks(guardTarget{this, gs.before})...)
		return append(seq, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Map{Entries: entries}, this)}}), nil
	}

	out := cypher.NamedVariable("this")
	targets, err := intent.ResolveTargets(c.meta, req.Type, req.Where)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, invalidf("%s has no concrete types", req.Type)
	}
	branches := make([]cypher.Clause, 0, len(targets))
	for _, target := range targets {
		child := cypher.NewNode(target.Node.AllLabels()...)
		gs, err := c.guards(target.Node, schema.OperationRead)
		if err != nil {
			return nil, err
		}
		branch := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(child), target: child, filter: target.Where, auth: gs.filter}))
		branch = append(branch, c.checks(guardTarget{child, gs.before})...)
		branches = append(branches, append(branch, cypher.Return{Items: []cypher.Item{cypher.As(child, out)}}))
	}
	entries, err := aggregateEntries(out, nil, targetNodes(targets), nil, req.Count, req.Node, nil)
	if err != nil {
		return nil, err
	}
	return cypher.Sequence{
		cypher.Call{Body: cypher.Union{Branches: branches}},
		cypher.Return{Items: []cypher.Item{cypher.As(cypher.Map{Entries: entries}, out)}},
	}, nil
}

// concat joins selections without aliasing either.
func concat(a, b intent.Selection) intent.Selection {
	out := make(intent.Selection, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
