package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSimpleMatch(t *testing.T) {
	movie := NewNode("Movie")
	query := Sequence{
		Match{Pattern: Labeled(movie), Where: Eq(movie.Property("title"), NewParam("Up"))},
		Return{Items: []Item{{Expr: movie.Property("title")}}},
	}

	result := Build(query)
	assert.Equal(t, "MATCH (this0:`Movie`)\nWHERE this0.title = $param0\nRETURN this0.title", result.Cypher)
	assert.Equal(t, map[string]any{"param0": "Up"}, result.Params)
	assert.Equal(t, []string{"param0"}, result.Order)
}

func TestBuildIsIdempotent(t *testing.T) {
	movie := NewNode("Movie")
	query := Match{Pattern: Labeled(movie), Where: Eq(movie.Property("title"), NewParam("Up"))}

	first := Build(query)
	second := Build(query)
	assert.Equal(t, first, second)
}

func TestPrefixIsApplied(t *testing.T) {
	movie := NewNode("Movie")
	query := Create{
		Pattern: Labeled(movie),
		Set:     []SetItem{{Target: movie.Property("id"), Value: NewParam("1")}},
	}

	result := Build(query, WithPrefix("create_"))
	assert.Equal(t, "CREATE (create_this0:`Movie`)\nSET\n    create_this0.id = $create_param0", result.Cypher)
	assert.Equal(t, map[string]any{"create_param0": "1"}, result.Params)
}

func TestVariableAndParameterCountersAreIndependent(t *testing.T) {
	a := NewNode("A")
	b := NewVariable()
	p1 := NewParam(1)
	p2 := NewParam(2)
	query := Sequence{
		Match{Pattern: Labeled(a), Where: And(Gt(a.Property("x"), p1), Lt(a.Property("x"), p2))},
		Return{Items: []Item{As(Count(a), b)}},
	}

	result := Build(query)
	assert.Equal(t, "MATCH (this0:`A`)\nWHERE (this0.x > $param0 AND this0.x < $param1)\nRETURN count(this0) AS var1", result.Cypher)
	assert.Equal(t, []string{"param0", "param1"}, result.Order)
}

func TestParameterRegisteredOnce(t *testing.T) {
	n := NewNode("A")
	p := NewParam("v")
	query := Match{Pattern: Labeled(n), Where: Or(Eq(n.Property("a"), p), Eq(n.Property("b"), p))}

	result := Build(query)
	assert.Equal(t, "MATCH (this0:`A`)\nWHERE (this0.a = $param0 OR this0.b = $param0)", result.Cypher)
	assert.Len(t, result.Params, 1)
}

func TestNamedVariablesKeepTheirNames(t *testing.T) {
	this := NamedNode("this", "Movie")
	edges := NamedVariable("edges")
	query := Sequence{
		Match{Pattern: Labeled(this)},
		With{Items: []Item{As(Collect(this), edges)}},
		Return{Items: []Item{{Expr: edges}}},
	}
	result := Build(query)
	assert.Equal(t, "MATCH (this:`Movie`)\nWITH collect(this) AS edges\nRETURN edges", result.Cypher)
}

func TestBooleanComposition(t *testing.T) {
	n := NamedNode("n")
	tests := []struct {
		name string
		expr Expr
		want string
	}{
		{"single operand", And(IsNull(n.Property("a"))), "n.a IS NULL"},
		{"nil operands dropped", And(nil, IsNull(n.Property("a")), nil), "n.a IS NULL"},
		{"nested", Or(And(IsNull(n.Property("a")), IsNotNull(n.Property("b"))), Not(IsNull(n.Property("c")))), "((n.a IS NULL AND n.b IS NOT NULL) OR NOT n.c IS NULL)"},
		{"addition", Add(Lit(1), Lit(2), Lit(3)), "(1 + 2 + 3)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Cypher(NewEnvironment("")))
		})
	}

	assert.Nil(t, And())
	assert.Nil(t, Or(nil, nil))
	assert.Nil(t, Not(nil))
}

func TestComparisonOperators(t *testing.T) {
	n := NamedNode("n")
	v := Lit("x")
	tests := []struct {
		expr Expr
		want string
	}{
		{Eq(n.Property("a"), v), `n.a = "x"`},
		{Neq(n.Property("a"), v), `n.a <> "x"`},
		{Lte(n.Property("a"), Lit(1)), `n.a <= 1`},
		{Gte(n.Property("a"), Lit(1.5)), `n.a >= 1.5`},
		{In(n.Property("a"), Lit([]any{"a", "b"})), `n.a IN ["a", "b"]`},
		{Contains(n.Property("a"), v), `n.a CONTAINS "x"`},
		{StartsWith(n.Property("a"), v), `n.a STARTS WITH "x"`},
		{EndsWith(n.Property("a"), v), `n.a ENDS WITH "x"`},
		{Matches(n.Property("a"), v), `n.a =~ "x"`},
		{Eq(n.Property("my prop"), Lit(nil)), "n.`my prop` = NULL"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Cypher(NewEnvironment("")))
		})
	}
}

func TestPatterns(t *testing.T) {
	movie := NamedNode("this", "Movie")
	actor := NewNode("Actor", "Person")
	rel := NewRelationship("ACTED_IN")

	tests := []struct {
		name    string
		pattern Pattern
		want    string
	}{
		{"labeled node", Labeled(actor), "(this0:`Actor`:`Person`)"},
		{"bare node", Bare(movie), "(this)"},
		{"anonymous node", NodePattern{Node: actor, HideVariable: true}, "(:`Actor`:`Person`)"},
		{"inline properties", NodePattern{Node: movie, Properties: []MapEntry{{Key: "id", Value: Lit("1")}}}, "(this:`Movie` { id: \"1\" })"},
		{"left", RelationshipPattern{Start: Bare(movie), Rel: rel, End: Labeled(actor), Direction: DirectionLeft}, "(this)<-[this1:`ACTED_IN`]-(this0:`Actor`:`Person`)"},
		{"right anonymous", RelationshipPattern{Start: Bare(movie), Rel: rel, End: Bare(actor), HideVariable: true}, "(this)-[:`ACTED_IN`]->(this0)"},
		{"undirected", RelationshipPattern{Start: Bare(movie), Rel: rel, End: Bare(actor), Direction: DirectionUndirected, HideType: true}, "(this)-[this1]-(this0)"},
	}

	env := NewEnvironment("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderPattern(env, tt.pattern))
		})
	}
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, "`Movie`", EscapeName("Movie"))
	assert.Equal(t, "`a``b`", EscapeName("a`b"))
	assert.Equal(t, "title", EscapeProperty("title"))
	assert.Equal(t, "`first name`", EscapeProperty("first name"))
	assert.Equal(t, "`1st`", EscapeProperty("1st"))
	assert.Equal(t, `"say \"hi\" \\ bye"`, QuoteString(`say "hi" \ bye`))
}

func TestCallIndentsBody(t *testing.T) {
	this := NamedNode("this", "Movie")
	actor := NewNode("Actor")
	rel := NewRelationship("ACTED_IN")
	result := NewVariable()

	query := Sequence{
		Match{Pattern: Labeled(this)},
		Call{
			Imports: []Expr{this},
			Body: Sequence{
				Match{Pattern: RelationshipPattern{Start: Bare(this), Rel: rel, End: Labeled(actor), Direction: DirectionLeft}},
				With{Items: []Item{As(MapProjection{Target: actor, Properties: []string{"name"}}, actor)}},
				Return{Items: []Item{As(Collect(actor), result)}},
			},
		},
		Return{Items: []Item{As(MapProjection{Target: this, Properties: []string{"title"}, Entries: []MapEntry{{Key: "actors", Value: result}}}, this)}},
	}

	want := "MATCH (this:`Movie`)\n" +
		"CALL {\n" +
		"    WITH this\n" +
		"    MATCH (this)<-[this0:`ACTED_IN`]-(this1:`Actor`)\n" +
		"    WITH this1 { .name } AS this1\n" +
		"    RETURN collect(this1) AS var2\n" +
		"}\n" +
		"RETURN this { .title, actors: var2 } AS this"
	assert.Equal(t, want, Build(query).Cypher)
}

func TestUnionAndConcat(t *testing.T) {
	a := NewNode("A")
	b := NewNode("B")
	out := NamedVariable("this")
	union := Call{Body: Union{Branches: []Clause{
		Sequence{Match{Pattern: Labeled(a)}, Return{Items: []Item{As(a, out)}}},
		Sequence{Match{Pattern: Labeled(b)}, Return{Items: []Item{As(b, out)}}},
	}}}
	want := "CALL {\n    MATCH (this0:`A`)\n    RETURN this0 AS this\n    UNION\n    MATCH (this1:`B`)\n    RETURN this1 AS this\n}"
	assert.Equal(t, want, Build(union).Cypher)

	concat := Concat{
		Call{Body: Create{Pattern: Labeled(NewNode("A"))}},
		nil,
		Call{Body: Create{Pattern: Labeled(NewNode("B"))}},
	}
	assert.Equal(t, "CALL {\n    CREATE (this0:`A`)\n}\n\nCALL {\n    CREATE (this1:`B`)\n}", Build(concat).Cypher)
}

func TestProjectionClauses(t *testing.T) {
	this := NamedNode("this")
	limit := NewParam(int64(10))
	with := With{
		Star:    true,
		OrderBy: []Order{{Expr: this.Property("title")}, {Expr: this.Property("year"), Descending: true}},
		Skip:    NewParam(int64(5)),
		Limit:   limit,
	}
	result := Build(with)
	assert.Equal(t, "WITH *\nORDER BY this.title ASC, this.year DESC\nSKIP $param0\nLIMIT $param1", result.Cypher)
	assert.Equal(t, int64(10), result.Params["param1"])

	ret := Return{Distinct: true, Items: []Item{As(this, this)}}
	assert.Equal(t, "RETURN DISTINCT this", Build(ret).Cypher)

	filtered := With{Items: []Item{{Expr: this}}, Where: IsNotNull(this.Property("a"))}
	assert.Equal(t, "WITH this\nWHERE this.a IS NOT NULL", Build(filtered).Cypher)

	paged := With{Star: true, Limit: Lit(1), Where: IsNotNull(this.Property("a"))}
	assert.Equal(t, "WITH *\nLIMIT 1\nWHERE this.a IS NOT NULL", Build(paged).Cypher)
}

func TestMutationClauses(t *testing.T) {
	this := NamedNode("this", "Movie")
	rel := NewRelationship("ACTED_IN")
	actor := NewNode("Actor")

	merge := Merge{
		Pattern:  NodePattern{Node: actor, Properties: []MapEntry{{Key: "id", Value: NewParam("a1")}}},
		OnCreate: []SetItem{{Target: actor.Property("name"), Value: NewParam("Tom")}},
	}
	result := Build(merge)
	assert.Equal(t, "MERGE (this0:`Actor` { id: $param0 })\nON CREATE SET\n    this0.name = $param1", result.Cypher)

	link := Merge{
		Pattern: RelationshipPattern{Start: Bare(this), Rel: rel, End: Bare(actor), Direction: DirectionLeft},
		Set:     []SetItem{{Target: rel.Property("role"), Value: Lit("Lead")}},
	}
	assert.Equal(t, "MERGE (this)<-[this0:`ACTED_IN`]-(this1)\nSET\n    this0.role = \"Lead\"", Build(link).Cypher)

	del := Delete{Targets: []Expr{this}, Detach: true}
	assert.Equal(t, "DETACH DELETE this", Build(del).Cypher)

	unwind := Unwind{List: NewParam([]any{1}), Alias: NewVariable()}
	assert.Equal(t, "UNWIND $param0 AS var0", Build(unwind).Cypher)
}

func TestSubqueryExpressions(t *testing.T) {
	this := NamedNode("this", "Movie")
	actor := NewNode("Actor")
	rel := NewRelationship("ACTED_IN")
	pattern := RelationshipPattern{Start: Bare(this), Rel: rel, End: Labeled(actor), Direction: DirectionLeft, HideVariable: true}

	exists := Exists{Body: Match{Pattern: pattern, Where: Eq(actor.Property("name"), NewParam("Tom"))}}
	result := Build(Match{Pattern: Labeled(this), Where: Not(exists)})
	assert.Equal(t, "MATCH (this:`Movie`)\nWHERE NOT EXISTS {\n    MATCH (this)<-[:`ACTED_IN`]-(this0:`Actor`)\n    WHERE this0.name = $param0\n}", result.Cypher)

	comprehension := Eq(Size(PatternComprehension{Pattern: pattern, Where: IsNotNull(actor.Property("name")), Projection: Lit(1)}), Lit(1))
	assert.Equal(t, "size([(this)<-[:`ACTED_IN`]-(this0:`Actor`) WHERE this0.name IS NOT NULL | 1]) = 1", comprehension.Cypher(NewEnvironment("")))

	count := CountSubquery{Pattern: RelationshipPattern{Start: Bare(this), Rel: rel, End: NodePattern{Node: actor, HideVariable: true}, HideVariable: true}}
	assert.Equal(t, "COUNT { (this)-[:`ACTED_IN`]->(:`Actor`) }", count.Cypher(NewEnvironment("")))

	body := CountSubquery{Body: Match{Pattern: pattern, Where: IsNotNull(actor.Property("born"))}}
	assert.Equal(t, "COUNT {\n    MATCH (this)<-[:`ACTED_IN`]-(this0:`Actor`)\n    WHERE this0.born IS NOT NULL\n}", body.Cypher(NewEnvironment("")))
}

func TestProcedureAndFunctions(t *testing.T) {
	this := NamedNode("this")
	proc := Procedure{Name: "apoc.util.validate", Args: []Expr{Not(NewParam(true)), Lit("FORBIDDEN"), List{Items: []Expr{Lit(0)}}}}
	result := Build(proc)
	assert.Equal(t, `CALL apoc.util.validate(NOT $param0, "FORBIDDEN", [0])`, result.Cypher)

	assert.Equal(t, "collect(DISTINCT this)", CollectDistinct(this).Cypher(NewEnvironment("")))
	assert.Equal(t, "count(*)", CountAll().Cypher(NewEnvironment("")))
	assert.Equal(t, "this:`Actor`", HasLabels{Target: this, Labels: []string{"Actor"}}.Cypher(NewEnvironment("")))
	assert.Equal(t, "{}", Map{}.Cypher(NewEnvironment("")))
	assert.Equal(t, "this {}", MapProjection{Target: this}.Cypher(NewEnvironment("")))
}

func TestUnknownPatternPanics(t *testing.T) {
	require.Panics(t, func() {
		renderPattern(NewEnvironment(""), nil)
	})
}

func TestHandlesAreUniqueAcrossGoroutines(t *testing.T) {
	const n = 64
	seen := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() {
			seen <- NewVariable().handle
		}()
	}
	unique := make(map[uint64]struct{}, n)
	for i := 0; i < n; i++ {
		unique[<-seen] = struct{}{}
	}
	assert.Len(t, unique, n)
}
