package translate

import (
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// update matches every node under the filter, applies scalar changes and
// nested operations, then projects the updated nodes.
func (c *compiler) update(req intent.Update) (cypher.Clause, error) {
	node, err := c.concreteNode(req.Type)
	if err != nil {
		return nil, err
	}
	filter, err := intent.ParseWhere(c.meta, node, req.Where)
	if err != nil {
		return nil, err
	}
	in, err := intent.ParseUpdate(c.meta, node, req.Update)
	if err != nil {
		return nil, err
	}
	if err := c.checkDepth(max(selectionDepth(req.Selection), relationsDepth(in.Relations))); err != nil {
		return nil, err
	}
	gs, err := c.guards(node, schema.OperationUpdate)
	if err != nil {
		return nil, err
	}

	this := cypher.NamedNode("this", node.AllLabels()...)
	seq := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(this), target: this, filter: filter, auth: gs.filter}))
	seq = append(seq, c.checks(guardTarget{this, gs.before})...)
	if sets := updateSets(this, node, in); len(sets) > 0 {
		seq = append(seq, cypher.Set{Items: sets})
	}
	nested, touched, err := c.nestedOps(this, node, in.Relations)
	if err != nil {
		return nil, err
	}
	seq = append(seq, nested...)
	seq = append(seq, c.cardinality(this, node, touched, false)...)
	seq = append(seq, c.checks(guardTarget{this, gs.after})...)

	proj, calls, err := c.projection(this, node, req.Selection)
	if err != nil {
		return nil, err
	}
	seq = append(seq, calls...)
	return append(seq, cypher.Return{Items: []cypher.Item{cypher.As(cypher.CollectDistinct(proj), cypher.NamedVariable("data"))}}), nil
}

// delete detaches and deletes every node under the filter after its nested
// deletes.
func (c *compiler) delete(req intent.Delete) (cypher.Clause, error) {
	node, err := c.concreteNode(req.Type)
	if err != nil {
		return nil, err
	}
	filter, err := intent.ParseWhere(c.meta, node, req.Where)
	if err != nil {
		return nil, err
	}
	relations, err := intent.ParseDeletes(c.meta, node, req.Delete)
	if err != nil {
		return nil, err
	}
	if err := c.checkDepth(relationsDepth(relations)); err != nil {
		return nil, err
	}
	gs, err := c.guards(node, schema.OperationDelete)
	if err != nil {
		return nil, err
	}

	this := cypher.NamedNode("this", node.AllLabels()...)
	seq := cypher.Sequence(c.match(matchSpec{pattern: cypher.Labeled(this), target: this, filter: filter, auth: gs.filter}))
	seq = append(seq, c.checks(guardTarget{this, gs.before})...)
	nested, _, err := c.nestedOps(this, node, relations)
	if err != nil {
		return nil, err
	}
	seq = append(seq, nested...)
	return append(seq, cypher.Delete{Targets: []cypher.Expr{this}, Detach: true}), nil
}
