package translate

import (
	"context"
	"fmt"

	"graphql-cypher/internal/authz"
	"graphql-cypher/internal/cypher"
	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"
)

// compiler holds the state of one compilation.
type compiler struct {
	ctx     context.Context
	t       *Translator
	meta    Metadata
	claims  authz.Claims
	batched bool
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidIntent, fmt.Sprintf(format, args...))
}

// concreteNode looks up a node type, rejecting abstract and unknown names.
func (c *compiler) concreteNode(name string) (*schema.Node, error) {
	switch c.meta.Kind(name) {
	case schema.KindNode:
		node, _ := c.meta.Node(name)
		return node, nil
	case schema.KindUnknown:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	default:
		return nil, invalidf("%s is abstract and has no concrete node", name)
	}
}

// guards are the predicates resolved for one node and operation, by placement.
type guards struct {
	filter []authz.Predicate
	before []authz.Predicate
	after  []authz.Predicate
}

func (c *compiler) guards(node *schema.Node, op schema.Operation) (guards, error) {
	var gs guards
	for _, rule := range node.Authorization {
		if !rule.AppliesTo(op) {
			continue
		}
		resolved, err := c.t.opts.resolver.Resolve(rule, node, c.claims)
		if err != nil {
			return guards{}, err
		}
		for _, g := range resolved {
			switch g.Placement {
			case authz.PlacementFilter:
				gs.filter = append(gs.filter, g.Predicate)
			case authz.PlacementValidateBefore:
				gs.before = append(gs.before, g.Predicate)
			case authz.PlacementValidateAfter:
				gs.after = append(gs.after, g.Predicate)
			default:
				panic(fmt.Sprintf("translate: unknown guard placement %d", int(g.Placement)))
			}
		}
	}
	return gs, nil
}

// subqueries collects the CALL blocks a predicate needs bound before it is
// evaluated.
type subqueries struct {
	clauses []cypher.Clause
}

func (s *subqueries) add(clause cypher.Clause) {
	s.clauses = append(s.clauses, clause)
}

// predicate lowers an authorization predicate evaluated against target.
func (c *compiler) predicate(target *cypher.Node, p authz.Predicate, sq *subqueries) cypher.Expr {
	switch p.Kind {
	case authz.KindConst:
		return cypher.NewParam(p.Value)
	case authz.KindNode:
		expr := c.filter(target, p.Filter, sq)
		if expr == nil {
			return cypher.NewParam(true)
		}
		return expr
	case authz.KindAnd, authz.KindOr:
		operands := make([]cypher.Expr, 0, len(p.Operands))
		for _, operand := range p.Operands {
			operands = append(operands, c.predicate(target, operand, sq))
		}
		if p.Kind == authz.KindAnd {
			return cypher.And(operands...)
		}
		return cypher.Or(operands...)
	case authz.KindNot:
		return cypher.Not(c.predicate(target, p.Operands[0], sq))
	default:
		panic(fmt.Sprintf("translate: unknown predicate kind %d", int(p.Kind)))
	}
}

// allOf lowers same-placement predicates joined with AND in declaration order.
func (c *compiler) allOf(target *cypher.Node, preds []authz.Predicate, sq *subqueries) cypher.Expr {
	exprs := make([]cypher.Expr, 0, len(preds))
	for _, p := range preds {
		exprs = append(exprs, c.predicate(target, p, sq))
	}
	return cypher.And(exprs...)
}

// validate asserts pred, raising code when it does not hold.
func validate(pred cypher.Expr, code string, sq *subqueries) []cypher.Clause {
	if pred == nil {
		return nil
	}
	var out []cypher.Clause
	if sq != nil {
		out = append(out, sq.clauses...)
	}
	return append(out,
		cypher.With{Star: true},
		cypher.Procedure{Name: "apoc.util.validate", Args: []cypher.Expr{
			cypher.Not(pred),
			cypher.Lit(code),
			cypher.List{Items: []cypher.Expr{cypher.Lit(0)}},
		}},
	)
}

// checks lowers the validate guards of several nodes into one assertion.
func (c *compiler) checks(pairs ...guardTarget) []cypher.Clause {
	sq := &subqueries{}
	var exprs []cypher.Expr
	for _, p := range pairs {
		exprs = append(exprs, c.allOf(p.node, p.preds, sq))
	}
	return validate(cypher.And(exprs...), ForbiddenCode, sq)
}

type guardTarget struct {
	node  *cypher.Node
	preds []authz.Predicate
}

// matchWhere emits a match narrowed by where. When the predicate needs
// subqueries they are bound after the match and the filter moves to a
// WITH * WHERE.
func matchWhere(pattern cypher.Pattern, optional bool, where cypher.Expr, sq *subqueries) []cypher.Clause {
	if len(sq.clauses) == 0 {
		return []cypher.Clause{cypher.Match{Pattern: pattern, Optional: optional, Where: where}}
	}
	out := []cypher.Clause{cypher.Match{Pattern: pattern, Optional: optional}}
	out = append(out, sq.clauses...)
	return append(out, cypher.With{Star: true, Where: where})
}

// matchSpec describes a match of target narrowed by a node filter, an
// optional edge filter and the filter-placed authorization predicates.
type matchSpec struct {
	pattern  cypher.Pattern
	target   *cypher.Node
	filter   *intent.Filter
	rel      *cypher.Relationship
	edge     *intent.Filter
	auth     []authz.Predicate
	optional bool
}

func (c *compiler) match(spec matchSpec) []cypher.Clause {
	sq := &subqueries{}
	where := cypher.And(
		c.filter(spec.target, spec.filter, sq),
		c.filter(spec.rel, spec.edge, sq),
		c.allOf(spec.target, spec.auth, sq),
	)
	return matchWhere(spec.pattern, spec.optional, where, sq)
}

// relationshipPattern links from to end over rel as seen from the owner.
func relationshipPattern(from *cypher.Node, rel *schema.Relationship, relVar *cypher.Relationship, end cypher.NodePattern) cypher.RelationshipPattern {
	direction := cypher.DirectionRight
	if rel.Direction == schema.DirectionIn {
		direction = cypher.DirectionLeft
	}
	return cypher.RelationshipPattern{Start: cypher.Bare(from), Rel: relVar, End: end, Direction: direction}
}

func (c *compiler) checkDepth(depth int) error {
	limit := c.t.opts.limits.MaxDepth
	if limit > 0 && depth > limit {
		return fmt.Errorf("%w: query exceeds maximum depth of %d (depth: %d)", ErrLimitExceeded, limit, depth)
	}
	return nil
}

// selectionDepth counts the levels of nested selections below sel.
func selectionDepth(sel intent.Selection) int {
	depth := 0
	for _, f := range sel {
		if !nested(f) {
			continue
		}
		child := max(selectionDepth(f.Selection), selectionDepth(f.Properties))
		for _, on := range f.On {
			child = max(child, selectionDepth(on))
		}
		depth = max(depth, 1+child)
	}
	return depth
}

func nested(f intent.Field) bool {
	return len(f.Selection) > 0 || len(f.On) > 0 || len(f.Properties) > 0 ||
		f.TotalCount || f.Count || len(f.Node) > 0 || len(f.Edge) > 0
}

// relationsDepth counts the levels of nested operations below relations.
func relationsDepth(relations []intent.RelationInput) int {
	depth := 0
	for _, ri := range relations {
		child := 0
		for _, op := range ri.Create {
			child = max(child, relationsDepth(op.Node.Relations))
		}
		for _, op := range ri.Update {
			for _, target := range op.Targets {
				if target.Update != nil {
					child = max(child, relationsDepth(target.Update.Relations))
				}
			}
		}
		for _, op := range ri.Delete {
			for _, target := range op.Targets {
				child = max(child, relationsDepth(target.Delete))
			}
		}
		depth = max(depth, 1+child)
	}
	return depth
}

// paging lowers limit and offset into SKIP and LIMIT operands.
func (c *compiler) paging(limit, offset *int, root bool) (skip, lim cypher.Expr, err error) {
	limits := c.t.opts.limits
	if offset != nil {
		if *offset < 0 {
			return nil, nil, invalidf("offset must not be negative")
		}
		skip = cypher.NewParam(int64(*offset))
	}
	switch {
	case limit != nil:
		if *limit < 0 {
			return nil, nil, invalidf("limit must not be negative")
		}
		if limits.MaxLimit > 0 && *limit > limits.MaxLimit {
			return nil, nil, fmt.Errorf("%w: limit %d exceeds maximum of %d", ErrLimitExceeded, *limit, limits.MaxLimit)
		}
		lim = cypher.NewParam(int64(*limit))
	case root && limits.DefaultLimit > 0:
		lim = cypher.NewParam(int64(limits.DefaultLimit))
	}
	return skip, lim, nil
}

// orderBy lowers sorts on the fields of node.
func orderBy(target cypher.Expr, nodes []*schema.Node, sorts []intent.Sort) ([]cypher.Order, error) {
	out := make([]cypher.Order, 0, len(sorts))
	for _, s := range sorts {
		field, ok := intent.SharedField(nodes, s.Field)
		if !ok {
			return nil, invalidf("cannot sort on unknown field %s", s.Field)
		}
		if field.List {
			return nil, invalidf("cannot sort on list field %s", s.Field)
		}
		out = append(out, cypher.Order{Expr: cypher.Prop(target, field.DBName()), Descending: s.Descending()})
	}
	return out, nil
}

// projectedOrderBy sorts projected maps on their output keys.
func projectedOrderBy(target cypher.Expr, nodes []*schema.Node, sorts []intent.Sort, path ...string) ([]cypher.Order, error) {
	out := make([]cypher.Order, 0, len(sorts))
	for _, s := range sorts {
		field, ok := intent.SharedField(nodes, s.Field)
		if !ok {
			return nil, invalidf("cannot sort on unknown field %s", s.Field)
		}
		if field.List {
			return nil, invalidf("cannot sort on list field %s", s.Field)
		}
		keys := append(append([]string{}, path...), s.Field)
		out = append(out, cypher.Order{Expr: cypher.Prop(target, keys...), Descending: s.Descending()})
	}
	return out, nil
}

// withSorted makes sure every sort field is projected.
func withSorted(sel intent.Selection, sorts []intent.Sort) intent.Selection {
	out := sel
	for _, s := range sorts {
		found := false
		for _, f := range sel {
			if f.Key() == s.Field {
				found = true
				break
			}
		}
		if !found {
			out = append(append(intent.Selection{}, out...), intent.Field{Name: s.Field})
		}
	}
	return out
}

func targetNodes(targets []intent.Target) []*schema.Node {
	out := make([]*schema.Node, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.Node)
	}
	return out
}
