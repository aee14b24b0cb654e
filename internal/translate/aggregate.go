package translate

import (
	"fmt"

	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// aggregateField projects aggregations over the neighbours of rel.
func (c *compiler) aggregateField(parent *cypher.Node, rel *schema.Relationship, f intent.Field) (cypher.Expr, cypher.Clause, error) {
	targets, err := intent.ResolveTargets(c.meta, rel.Target, f.Where)
	if err != nil {
		return nil, nil, err
	}
	if len(targets) == 0 {
		return nil, nil, invalidf("%s has no concrete targets", rel.Field)
	}
	nodes := targetNodes(targets)
	node, end, _ := neighbourNode(nodes)
	relVar := cypher.NewRelationship(rel.Type)
	pattern := relationshipPattern(parent, rel, relVar, end)
	pattern.HideVariable = len(f.Edge) == 0

	sq := &subqueries{}
	var where cypher.Expr
	if len(targets) == 1 {
		gs, err := c.guards(targets[0].Node, schema.OperationRead)
		if err != nil {
			return nil, nil, err
		}
		where = cypher.And(c.filter(node, targets[0].Where, sq), c.allOf(node, gs.filter, sq))
	} else {
		alternatives := make([]cypher.Expr, 0, len(targets))
		for _, target := range targets {
			gs, err := c.guards(target.Node, schema.OperationRead)
			if err != nil {
				return nil, nil, err
			}
			alternatives = append(alternatives, cypher.And(
				cypher.HasLabels{Target: node, Labels: target.Node.AllLabels()},
				c.filter(node, target.Where, sq),
				c.allOf(node, gs.filter, sq),
			))
		}
		where = cypher.Or(alternatives...)
	}

	entries, err := aggregateEntries(node, relVar, nodes, rel, f.Count, f.Node, f.Edge)
	if err != nil {
		return nil, nil, err
	}
	out := cypher.NewVariable()
	body := cypher.Sequence(matchWhere(pattern, false, where, sq))
	body = append(body, cypher.Return{Items: []cypher.Item{cypher.As(cypher.Map{Entries: entries}, out)}})
	return out, cypher.Call{Imports: []cypher.Expr{parent}, Body: body}, nil
}

// aggregateEntries builds `{ count, node: {...}, edge: {...} }`. A request
// naming nothing counts.
func aggregateEntries(node, rel cypher.Expr, nodes []*schema.Node, srel *schema.Relationship, count bool, nodeFields, edgeFields []intent.AggregateField) ([]cypher.MapEntry, error) {
	var entries []cypher.MapEntry
	if count || (len(nodeFields) == 0 && len(edgeFields) == 0) {
		entries = append(entries, cypher.MapEntry{Key: "count", Value: cypher.Count(node)})
	}
	if len(nodeFields) > 0 {
		m, err := aggregateMap(node, nodeFields, func(name string) (*schema.Field, bool) {
			return intent.SharedField(nodes, name)
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, cypher.MapEntry{Key: "node", Value: m})
	}
	if len(edgeFields) > 0 {
		if srel == nil {
			return nil, invalidf("edge aggregations need a relationship")
		}
		m, err := aggregateMap(rel, edgeFields, srel.Property)
		if err != nil {
			return nil, err
		}
		entries = append(entries, cypher.MapEntry{Key: "edge", Value: m})
	}
	return entries, nil
}

func aggregateMap(target cypher.Expr, fields []intent.AggregateField, lookup func(string) (*schema.Field, bool)) (cypher.Map, error) {
	var out cypher.Map
	for _, af := range fields {
		field, ok := lookup(af.Field)
		if !ok {
			return cypher.Map{}, invalidf("unknown aggregate field %s", af.Field)
		}
		functions := intent.DefaultAggregations(field)
		if len(af.Functions) > 0 {
			functions = functions[:0:0]
			for _, name := range af.Functions {
				functions = append(functions, intent.AggregateFunction(name))
			}
		}
		var inner cypher.Map
		for _, fn := range functions {
			if err := intent.CheckAggregation(field, fn); err != nil {
				return cypher.Map{}, fmt.Errorf("aggregate %s: %w", af.Field, err)
			}
			inner.Entries = append(inner.Entries, cypher.MapEntry{Key: string(fn), Value: aggregation(fn, cypher.Prop(target, field.DBName()))})
		}
		out.Entries = append(out.Entries, cypher.MapEntry{Key: af.Field, Value: inner})
	}
	return out, nil
}
