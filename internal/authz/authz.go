// Package authz resolves declarative authorization rules against request
// claims into guards: predicate trees tagged with where in a query they must
// be enforced.
package authz

import (
	"context"
	"fmt"
	"strings"

	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the decoded JWT claims of a request.
type Claims = jwt.MapClaims

type claimsKey struct{}

// WithClaims attaches claims to a context.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims attached to ctx.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(Claims)
	return claims, ok && claims != nil
}

// ParseUnverified decodes a bearer token without checking its signature.
// Verification belongs to whatever issued the request.
func ParseUnverified(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse token: unexpected claims type %T", parsed.Claims)
	}
	return claims, nil
}

// Placement is where a guard is enforced.
type Placement int

const (
	// PlacementFilter joins the predicate into the match filter.
	PlacementFilter Placement = iota + 1
	// PlacementValidateBefore asserts the predicate before the operation.
	PlacementValidateBefore
	// PlacementValidateAfter asserts the predicate after the operation.
	PlacementValidateAfter
)

func (p Placement) String() string {
	switch p {
	case PlacementFilter:
		return "filter"
	case PlacementValidateBefore:
		return "validate_before"
	case PlacementValidateAfter:
		return "validate_after"
	default:
		panic(fmt.Sprintf("authz: unknown placement %d", int(p)))
	}
}

// PredicateKind tags a Predicate node.
type PredicateKind int

const (
	KindConst PredicateKind = iota + 1
	KindNode
	KindAnd
	KindOr
	KindNot
)

// Predicate is a boolean tree over constants and node filters.
type Predicate struct {
	Kind     PredicateKind
	Value    bool
	Filter   *intent.Filter
	Operands []Predicate
}

// Const is a statically known truth value.
func Const(value bool) Predicate {
	return Predicate{Kind: KindConst, Value: value}
}

// NodeFilter is a filter evaluated against the guarded node.
func NodeFilter(f *intent.Filter) Predicate {
	return Predicate{Kind: KindNode, Filter: f}
}

// AllOf is the conjunction of operands; a single operand is returned as is.
func AllOf(operands ...Predicate) Predicate {
	if len(operands) == 1 {
		return operands[0]
	}
	return Predicate{Kind: KindAnd, Operands: operands}
}

// AnyOf is the disjunction of operands; a single operand is returned as is.
func AnyOf(operands ...Predicate) Predicate {
	if len(operands) == 1 {
		return operands[0]
	}
	return Predicate{Kind: KindOr, Operands: operands}
}

// Negate negates p.
func Negate(p Predicate) Predicate {
	return Predicate{Kind: KindNot, Operands: []Predicate{p}}
}

// Guard is a resolved predicate with its enforcement point.
type Guard struct {
	Placement Placement
	Predicate Predicate
}

// Resolver turns a rule into guards for a node and request.
type Resolver interface {
	Resolve(rule schema.AuthRule, node *schema.Node, claims Claims) ([]Guard, error)
}

// ClaimsResolver resolves rules by substituting "$jwt.<path>" references
// with claim values. A reference to a missing claim makes the filter part of
// the rule statically false.
type ClaimsResolver struct {
	Types intent.TypeResolver
	// RolesClaim is the dotted claim path holding the role list.
	RolesClaim string
}

// NewResolver returns a ClaimsResolver reading roles from rolesClaim.
func NewResolver(types intent.TypeResolver, rolesClaim string) *ClaimsResolver {
	if rolesClaim == "" {
		rolesClaim = "roles"
	}
	return &ClaimsResolver{Types: types, RolesClaim: rolesClaim}
}

// Resolve implements Resolver.
func (r *ClaimsResolver) Resolve(rule schema.AuthRule, node *schema.Node, claims Claims) ([]Guard, error) {
	predicate, err := r.predicate(rule, node, claims)
	if err != nil {
		return nil, err
	}
	if rule.Kind == schema.RuleFilter {
		return []Guard{{Placement: PlacementFilter, Predicate: predicate}}, nil
	}
	var guards []Guard
	if rule.ValidatesAt(schema.WhenBefore) {
		guards = append(guards, Guard{Placement: PlacementValidateBefore, Predicate: predicate})
	}
	if rule.ValidatesAt(schema.WhenAfter) {
		guards = append(guards, Guard{Placement: PlacementValidateAfter, Predicate: predicate})
	}
	return guards, nil
}

func (r *ClaimsResolver) predicate(rule schema.AuthRule, node *schema.Node, claims Claims) (Predicate, error) {
	var parts []Predicate
	if rule.Authenticated || len(rule.Roles) > 0 {
		parts = append(parts, Const(claims != nil && r.hasRoles(claims, rule.Roles)))
	}
	if len(rule.Where) > 0 {
		where, ok := substitute(rule.Where, claims).(map[string]any)
		if !ok {
			parts = append(parts, Const(false))
		} else {
			f, err := intent.ParseWhere(r.Types, node, where)
			if err != nil {
				return Predicate{}, fmt.Errorf("authorization rule on %s: %w", node.Name, err)
			}
			parts = append(parts, NodeFilter(f))
		}
	}
	if len(parts) == 0 {
		return Const(true), nil
	}
	return AllOf(parts...), nil
}

func (r *ClaimsResolver) hasRoles(claims Claims, required []string) bool {
	if len(required) == 0 {
		return true
	}
	raw, ok := lookup(claims, r.RolesClaim)
	if !ok {
		return false
	}
	held := make(map[string]struct{})
	switch v := raw.(type) {
	case string:
		held[v] = struct{}{}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				held[s] = struct{}{}
			}
		}
	case []string:
		for _, s := range v {
			held[s] = struct{}{}
		}
	}
	for _, role := range required {
		if _, ok := held[role]; ok {
			return true
		}
	}
	return false
}

const jwtPrefix = "$jwt."

type missing struct{}

// substitute replaces claim references in a where tree. It returns
// missing{} when any referenced claim is absent.
func substitute(value any, claims Claims) any {
	switch v := value.(type) {
	case string:
		path, ok := strings.CutPrefix(v, jwtPrefix)
		if !ok {
			return v
		}
		resolved, found := lookup(claims, path)
		if !found {
			return missing{}
		}
		return resolved
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved := substitute(item, claims)
			if _, gone := resolved.(missing); gone {
				return missing{}
			}
			out[key] = resolved
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			resolved := substitute(item, claims)
			if _, gone := resolved.(missing); gone {
				return missing{}
			}
			out = append(out, resolved)
		}
		return out
	default:
		return v
	}
}

// lookup walks a dotted claim path.
func lookup(claims Claims, path string) (any, bool) {
	if claims == nil {
		return nil, false
	}
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}
