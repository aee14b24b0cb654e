package authz

import (
	"context"
	"testing"

	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/schema"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewNode(t *testing.T) (*schema.Schema, *schema.Node) {
	t.Helper()
	s, err := schema.LoadFile("testdata/schema.yaml")
	require.NoError(t, err)
	n, ok := s.Node("Review")
	require.True(t, ok)
	return s, n
}

func TestResolveFilterRuleSubstitutesClaims(t *testing.T) {
	s, review := reviewNode(t)
	r := NewResolver(s, "")

	guards, err := r.Resolve(review.Authorization[0], review, Claims{"sub": "user-1"})
	require.NoError(t, err)
	require.Len(t, guards, 1)
	assert.Equal(t, PlacementFilter, guards[0].Placement)

	p := guards[0].Predicate
	require.Equal(t, KindNode, p.Kind)
	cond := p.Filter.Terms[0].(intent.Condition)
	assert.Equal(t, "ownerId", cond.Field.Name)
	assert.Equal(t, "user-1", cond.Value)
}

func TestMissingClaimIsStaticallyFalse(t *testing.T) {
	s, review := reviewNode(t)
	r := NewResolver(s, "")

	guards, err := r.Resolve(review.Authorization[0], review, Claims{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, Const(false), guards[0].Predicate)

	guards, err = r.Resolve(review.Authorization[0], review, nil)
	require.NoError(t, err)
	assert.Equal(t, Const(false), guards[0].Predicate)
}

func TestValidateRulePlacements(t *testing.T) {
	s, review := reviewNode(t)
	r := NewResolver(s, "")

	before, err := r.Resolve(review.Authorization[1], review, Claims{"sub": "u"})
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, PlacementValidateBefore, before[0].Placement)

	after, err := r.Resolve(review.Authorization[2], review, Claims{"sub": "u"})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, PlacementValidateAfter, after[0].Placement)
	assert.Equal(t, KindAnd, after[0].Predicate.Kind)
	assert.Equal(t, Const(true), after[0].Predicate.Operands[0])

	both, err := r.Resolve(schema.AuthRule{Kind: schema.RuleValidate}, review, nil)
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, PlacementValidateBefore, both[0].Placement)
	assert.Equal(t, PlacementValidateAfter, both[1].Placement)
	assert.Equal(t, Const(true), both[0].Predicate)
}

func TestRoles(t *testing.T) {
	s, review := reviewNode(t)
	r := NewResolver(s, "app.roles")
	rule := schema.AuthRule{Kind: schema.RuleValidate, When: []schema.When{schema.WhenBefore}, Roles: []string{"admin"}}

	tests := []struct {
		name   string
		claims Claims
		want   bool
	}{
		{"list", Claims{"app": map[string]any{"roles": []any{"editor", "admin"}}}, true},
		{"single", Claims{"app": map[string]any{"roles": "admin"}}, true},
		{"other role", Claims{"app": map[string]any{"roles": []any{"editor"}}}, false},
		{"no claim", Claims{"sub": "u"}, false},
		{"anonymous", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guards, err := r.Resolve(rule, review, tt.claims)
			require.NoError(t, err)
			assert.Equal(t, Const(tt.want), guards[0].Predicate)
		})
	}
}

func TestSubstituteNested(t *testing.T) {
	claims := Claims{"sub": "u1", "org": map[string]any{"id": "o1"}, "groups": []any{"a", "b"}}
	where := map[string]any{
		"OR": []any{
			map[string]any{"ownerId": "$jwt.sub"},
			map[string]any{"orgId": map[string]any{"eq": "$jwt.org.id"}},
		},
		"groups": map[string]any{"in": "$jwt.groups"},
		"plain":  "$notjwt",
	}
	got := substitute(where, claims)
	assert.Equal(t, map[string]any{
		"OR": []any{
			map[string]any{"ownerId": "u1"},
			map[string]any{"orgId": map[string]any{"eq": "o1"}},
		},
		"groups": map[string]any{"in": []any{"a", "b"}},
		"plain":  "$notjwt",
	}, got)

	_, gone := substitute(map[string]any{"a": []any{"$jwt.nope"}}, claims).(missing)
	assert.True(t, gone)
}

func TestClaimsContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), Claims{"sub": "u"})
	claims, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", claims["sub"])
}

func TestParseUnverified(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-9", "roles": []string{"admin"}}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := ParseUnverified("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims["sub"])
	assert.Equal(t, []any{"admin"}, claims["roles"])

	_, err = ParseUnverified("not-a-token")
	assert.Error(t, err)
}

func TestPlacementString(t *testing.T) {
	assert.Equal(t, "filter", PlacementFilter.String())
	assert.Equal(t, "validate_after", PlacementValidateAfter.String())
	assert.Panics(t, func() { _ = Placement(42).String() })
}
