package translate

import (
	"fmt"

	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// filter lowers f evaluated against target. Subqueries required by
// aggregate terms are appended to sq. A nil filter lowers to nil.
func (c *compiler) filter(target cypher.Expr, f *intent.Filter, sq *subqueries) cypher.Expr {
	if f == nil {
		return nil
	}
	exprs := make([]cypher.Expr, 0, len(f.Terms))
	for _, term := range f.Terms {
		exprs = append(exprs, c.term(target, term, sq))
	}
	return cypher.And(exprs...)
}

func (c *compiler) term(target cypher.Expr, term intent.Term, sq *subqueries) cypher.Expr {
	switch t := term.(type) {
	case intent.Condition:
		return condition(target, t)
	case intent.Group:
		parts := make([]cypher.Expr, 0, len(t.Filters))
		for _, f := range t.Filters {
			parts = append(parts, c.filter(target, f, sq))
		}
		if t.Or {
			return cypher.Or(parts...)
		}
		return cypher.And(parts...)
	case intent.Negation:
		return cypher.Not(c.filter(target, t.Filter, sq))
	case intent.RelationFilter:
		return c.relationFilter(nodeTarget(target), t)
	case intent.AggregateFilter:
		return c.aggregateFilter(nodeTarget(target), t, sq)
	default:
		panic(fmt.Sprintf("translate: unknown filter term %T", term))
	}
}

func nodeTarget(target cypher.Expr) *cypher.Node {
	node, ok := target.(*cypher.Node)
	if !ok {
		panic(fmt.Sprintf("translate: relationship filter on %T", target))
	}
	return node
}

func condition(target cypher.Expr, cond intent.Condition) cypher.Expr {
	prop := cypher.Prop(target, cond.Field.DBName())
	switch cond.Op {
	case intent.OpEq:
		if cond.Value == nil {
			return cypher.IsNull(prop)
		}
		return cypher.Eq(prop, cypher.NewParam(cond.Value))
	case intent.OpNe:
		if cond.Value == nil {
			return cypher.IsNotNull(prop)
		}
		return cypher.Neq(prop, cypher.NewParam(cond.Value))
	case intent.OpLt:
		return cypher.Lt(prop, cypher.NewParam(cond.Value))
	case intent.OpLte:
		return cypher.Lte(prop, cypher.NewParam(cond.Value))
	case intent.OpGt:
		return cypher.Gt(prop, cypher.NewParam(cond.Value))
	case intent.OpGte:
		return cypher.Gte(prop, cypher.NewParam(cond.Value))
	case intent.OpIn:
		return cypher.In(prop, cypher.NewParam(cond.Value))
	case intent.OpNotIn:
		return cypher.Not(cypher.In(prop, cypher.NewParam(cond.Value)))
	case intent.OpContains:
		return cypher.Contains(prop, cypher.NewParam(cond.Value))
	case intent.OpStartsWith:
		return cypher.StartsWith(prop, cypher.NewParam(cond.Value))
	case intent.OpEndsWith:
		return cypher.EndsWith(prop, cypher.NewParam(cond.Value))
	case intent.OpMatches:
		return cypher.Matches(prop, cypher.NewParam(cond.Value))
	case intent.OpIncludes:
		return cypher.In(cypher.NewParam(cond.Value), prop)
	case intent.OpIsNull:
		if isNull, _ := cond.Value.(bool); isNull {
			return cypher.IsNull(prop)
		}
		return cypher.IsNotNull(prop)
	default:
		panic(fmt.Sprintf("translate: unknown operator %q", cond.Op))
	}
}

// relationFilter lowers a quantified neighbour filter. Polymorphic targets
// contribute one subquery each: some holds when any target matches, none and
// all when every target does, single when the matches sum to one.
func (c *compiler) relationFilter(parent *cypher.Node, rf intent.RelationFilter) cypher.Expr {
	parts := make([]cypher.Expr, 0, len(rf.Targets))
	for _, target := range rf.Targets {
		parts = append(parts, c.quantified(parent, rf, target))
	}
	switch rf.Quantifier {
	case intent.QuantifierSome:
		return cypher.Or(parts...)
	case intent.QuantifierNone, intent.QuantifierAll:
		return cypher.And(parts...)
	case intent.QuantifierSingle:
		return cypher.Eq(cypher.Add(parts...), cypher.Lit(1))
	default:
		panic(fmt.Sprintf("translate: unknown quantifier %q", rf.Quantifier))
	}
}

// neighbourMatch is the pattern and predicate matching one target of rf.
type neighbourMatch struct {
	pattern cypher.RelationshipPattern
	pred    cypher.Expr
	sq      *subqueries
}

func (c *compiler) neighbour(parent *cypher.Node, rf intent.RelationFilter, target intent.Target, negate bool) neighbourMatch {
	node := cypher.NewNode(target.Node.AllLabels()...)
	rel := cypher.NewRelationship(rf.Relationship.Type)
	pattern := relationshipPattern(parent, rf.Relationship, rel, cypher.Labeled(node))
	pattern.HideVariable = rf.Edge == nil
	sq := &subqueries{}
	pred := cypher.And(c.filter(node, target.Where, sq), c.filter(rel, rf.Edge, sq))
	if negate {
		pred = cypher.Not(pred)
	}
	return neighbourMatch{pattern: pattern, pred: pred, sq: sq}
}

func (m neighbourMatch) body() cypher.Clause {
	return cypher.Sequence(matchWhere(m.pattern, false, m.pred, m.sq))
}

func (c *compiler) quantified(parent *cypher.Node, rf intent.RelationFilter, target intent.Target) cypher.Expr {
	switch rf.Quantifier {
	case intent.QuantifierSome:
		return cypher.Exists{Body: c.neighbour(parent, rf, target, false).body()}
	case intent.QuantifierNone:
		return cypher.Not(cypher.Exists{Body: c.neighbour(parent, rf, target, false).body()})
	case intent.QuantifierAll:
		if target.Where == nil && rf.Edge == nil {
			return nil
		}
		matching := c.neighbour(parent, rf, target, false)
		failing := c.neighbour(parent, rf, target, true)
		return cypher.And(cypher.Exists{Body: matching.body()}, cypher.Not(cypher.Exists{Body: failing.body()}))
	case intent.QuantifierSingle:
		m := c.neighbour(parent, rf, target, false)
		if len(m.sq.clauses) > 0 {
			return cypher.CountSubquery{Body: m.body()}
		}
		return cypher.Size(cypher.PatternComprehension{Pattern: m.pattern, Where: m.pred, Projection: cypher.Lit(1)})
	default:
		panic(fmt.Sprintf("translate: unknown quantifier %q", rf.Quantifier))
	}
}

// aggregateFilter binds the aggregations af compares in a CALL subquery
// appended to sq and returns the comparisons against them.
func (c *compiler) aggregateFilter(parent *cypher.Node, af intent.AggregateFilter, sq *subqueries) cypher.Expr {
	node, end, labels := neighbourNode(af.Targets)
	rel := cypher.NewRelationship(af.Relationship.Type)

	var items []cypher.Item
	var preds []cypher.Expr
	if len(af.Count) > 0 {
		count := cypher.NewVariable()
		items = append(items, cypher.As(cypher.Count(node), count))
		for _, cmp := range af.Count {
			preds = append(preds, compare(cmp.Op, count, cypher.NewParam(cmp.Value)))
		}
	}
	for _, cond := range af.Node {
		v := cypher.NewVariable()
		items = append(items, cypher.As(aggregation(cond.Function, cypher.Prop(node, cond.Field.DBName())), v))
		preds = append(preds, compare(cond.Op, v, cypher.NewParam(cond.Value)))
	}
	for _, cond := range af.Edge {
		v := cypher.NewVariable()
		items = append(items, cypher.As(aggregation(cond.Function, cypher.Prop(rel, cond.Field.DBName())), v))
		preds = append(preds, compare(cond.Op, v, cypher.NewParam(cond.Value)))
	}
	if len(items) == 0 {
		return nil
	}
	sq.add(cypher.Call{
		Imports: []cypher.Expr{parent},
		Body: cypher.Sequence{
			cypher.Match{Pattern: relationshipPattern(parent, af.Relationship, rel, end), Where: labels},
			cypher.Return{Items: items},
		},
	})
	return cypher.And(preds...)
}

// neighbourNode binds the far node of a possibly polymorphic relationship.
// Several targets leave the node unlabelled and return a label disjunction.
func neighbourNode(targets []*schema.Node) (*cypher.Node, cypher.NodePattern, cypher.Expr) {
	if len(targets) == 1 {
		node := cypher.NewNode(targets[0].AllLabels()...)
		return node, cypher.Labeled(node), nil
	}
	node := cypher.NewNode()
	alternatives := make([]cypher.Expr, 0, len(targets))
	for _, t := range targets {
		alternatives = append(alternatives, cypher.HasLabels{Target: node, Labels: t.AllLabels()})
	}
	return node, cypher.Bare(node), cypher.Or(alternatives...)
}

func compare(op intent.Operator, left, right cypher.Expr) cypher.Expr {
	switch op {
	case intent.OpEq:
		return cypher.Eq(left, right)
	case intent.OpLt:
		return cypher.Lt(left, right)
	case intent.OpLte:
		return cypher.Lte(left, right)
	case intent.OpGt:
		return cypher.Gt(left, right)
	case intent.OpGte:
		return cypher.Gte(left, right)
	default:
		panic(fmt.Sprintf("translate: unknown aggregate operator %q", op))
	}
}

func aggregation(fn intent.AggregateFunction, value cypher.Expr) cypher.Expr {
	switch fn {
	case intent.AggMin:
		return cypher.Fn("min", value)
	case intent.AggMax:
		return cypher.Fn("max", value)
	case intent.AggAverage:
		return cypher.Fn("avg", value)
	case intent.AggSum:
		return cypher.Fn("sum", value)
	case intent.AggShortestLen:
		return cypher.Fn("min", cypher.Size(value))
	case intent.AggLongestLen:
		return cypher.Fn("max", cypher.Size(value))
	case intent.AggAverageLength:
		return cypher.Fn("avg", cypher.Size(value))
	default:
		panic(fmt.Sprintf("translate: unknown aggregation %q", fn))
	}
}
