package intent

import (
	"os"
	"strings"
	"testing"

	"graphql-cypher/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.LoadFile("testdata/schema.yaml")
	require.NoError(t, err)
	return s
}

func node(t *testing.T, s *schema.Schema, name string) *schema.Node {
	t.Helper()
	n, ok := s.Node(name)
	require.True(t, ok, "node %s", name)
	return n
}

func TestParseWhereConditions(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	f, err := ParseWhere(s, movie, map[string]any{
		"title":    "Up",
		"released": map[string]any{"lt": 2000, "gte": 1990},
		"tags":     map[string]any{"includes": "family"},
	})
	require.NoError(t, err)
	require.Len(t, f.Terms, 4)

	released := f.Terms[0].(Condition)
	assert.Equal(t, "released", released.Field.Name)
	assert.Equal(t, OpGte, released.Op)
	assert.Equal(t, int64(1990), released.Value)

	assert.Equal(t, OpLt, f.Terms[1].(Condition).Op)
	assert.Equal(t, int64(2000), f.Terms[1].(Condition).Value)

	tags := f.Terms[2].(Condition)
	assert.Equal(t, OpIncludes, tags.Op)
	assert.Equal(t, "family", tags.Value)

	title := f.Terms[3].(Condition)
	assert.Equal(t, OpEq, title.Op)
	assert.Equal(t, "Up", title.Value)
}

func TestParseWhereEmptyIsNil(t *testing.T) {
	s := loadSchema(t)
	f, err := ParseWhere(s, node(t, s, "Movie"), nil)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestParseWhereBooleanGroups(t *testing.T) {
	s := loadSchema(t)
	f, err := ParseWhere(s, node(t, s, "Movie"), map[string]any{
		"OR": []any{
			map[string]any{"title": "Up"},
			map[string]any{"title": "Cars"},
		},
		"NOT": map[string]any{"views": map[string]any{"is_null": true}},
	})
	require.NoError(t, err)
	require.Len(t, f.Terms, 2)

	not, ok := f.Terms[0].(Negation)
	require.True(t, ok)
	assert.Equal(t, OpIsNull, not.Filter.Terms[0].(Condition).Op)

	or, ok := f.Terms[1].(Group)
	require.True(t, ok)
	assert.True(t, or.Or)
	assert.Len(t, or.Filters, 2)
}

func TestParseWhereRelationships(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	f, err := ParseWhere(s, movie, map[string]any{
		"actors":   map[string]any{"all": map[string]any{"name": "Tom"}, "some": nil},
		"director": map[string]any{"name": "Pete"},
	})
	require.NoError(t, err)
	require.Len(t, f.Terms, 3)

	all := f.Terms[0].(RelationFilter)
	assert.Equal(t, QuantifierAll, all.Quantifier)
	require.Len(t, all.Targets, 1)
	assert.Equal(t, "Actor", all.Targets[0].Node.Name)
	assert.NotNil(t, all.Targets[0].Where)

	some := f.Terms[1].(RelationFilter)
	assert.Equal(t, QuantifierSome, some.Quantifier)
	assert.Nil(t, some.Targets[0].Where)

	director := f.Terms[2].(RelationFilter)
	assert.Equal(t, QuantifierSome, director.Quantifier)
	assert.Equal(t, "director", director.Relationship.Field)
}

func TestParseWhereConnectionAndAggregate(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	f, err := ParseWhere(s, movie, map[string]any{
		"actorsConnection": map[string]any{"some": map[string]any{
			"edge": map[string]any{"role": map[string]any{"starts_with": "Lead"}},
			"node": map[string]any{"born": map[string]any{"gt": 1960}},
		}},
		"actorsAggregate": map[string]any{
			"count": map[string]any{"gt": 1},
			"node":  map[string]any{"born": map[string]any{"average": map[string]any{"lt": 1980}}},
			"edge":  map[string]any{"role": map[string]any{"longest_length": 12}},
		},
	})
	require.NoError(t, err)
	require.Len(t, f.Terms, 2)

	agg := f.Terms[0].(AggregateFilter)
	assert.Equal(t, []Comparison{{Op: OpGt, Value: int64(1)}}, agg.Count)
	require.Len(t, agg.Node, 1)
	assert.Equal(t, AggAverage, agg.Node[0].Function)
	assert.Equal(t, float64(1980), agg.Node[0].Value)
	require.Len(t, agg.Edge, 1)
	assert.Equal(t, OpEq, agg.Edge[0].Op)
	assert.Equal(t, int64(12), agg.Edge[0].Value)

	conn := f.Terms[1].(RelationFilter)
	require.NotNil(t, conn.Edge)
	assert.Equal(t, OpStartsWith, conn.Edge.Terms[0].(Condition).Op)
	assert.Equal(t, int64(1960), conn.Targets[0].Where.Terms[0].(Condition).Value)
}

func TestResolveTargets(t *testing.T) {
	s := loadSchema(t)

	targets, err := ResolveTargets(s, "Production", map[string]any{"title": "Up"})
	require.NoError(t, err)
	require.Len(t, targets, 3)
	for _, target := range targets {
		require.NotNil(t, target.Where)
		assert.Equal(t, "title", target.Where.Terms[0].(Condition).Field.Name)
	}

	union, err := ResolveTargets(s, "Contributor", map[string]any{"Director": map[string]any{"name": "Pete"}})
	require.NoError(t, err)
	require.Len(t, union, 1)
	assert.Equal(t, "Director", union[0].Node.Name)

	all, err := ResolveTargets(s, "Contributor", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = ResolveTargets(s, "Contributor", map[string]any{"Movie": map[string]any{}})
	assert.ErrorIs(t, err, ErrInvalidIntent)
}

func TestParseWhereErrors(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	tests := []struct {
		name  string
		where map[string]any
		err   string
	}{
		{"unknown field", map[string]any{"nope": 1}, "unknown filter field nope"},
		{"bad operator", map[string]any{"title": map[string]any{"like": "x"}}, "unknown operator like"},
		{"string op on int", map[string]any{"released": map[string]any{"contains": "1"}}, "not supported"},
		{"in needs list", map[string]any{"title": map[string]any{"in": "x"}}, "must be an array"},
		{"bad int", map[string]any{"released": "x"}, "expects an integer"},
		{"AND not list", map[string]any{"AND": map[string]any{}}, "AND must be an array"},
		{"bad quantifier", map[string]any{"actors": map[string]any{"most": map[string]any{}}}, "unknown quantifier"},
		{"length on int", map[string]any{"actorsAggregate": map[string]any{"node": map[string]any{"born": map[string]any{"shortest_length": 1}}}}, "requires a string field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWhere(s, movie, tt.where)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidIntent)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestParseCreate(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	in, err := ParseCreate(s, movie, map[string]any{
		"title":    "Up",
		"id":       "1",
		"released": 2009,
		"actors": map[string]any{
			"create": []any{
				map[string]any{"node": map[string]any{"name": "Ed"}, "edge": map[string]any{"role": "Carl"}},
			},
			"connect": map[string]any{"where": map[string]any{"name": "Jordan"}},
		},
		"genres": map[string]any{
			"connect_or_create": []any{
				map[string]any{"where": map[string]any{"name": "Family"}, "on_create": map[string]any{"node": map[string]any{"description": "All ages"}}},
			},
		},
	})
	require.NoError(t, err)

	require.Len(t, in.Fields, 3)
	assert.Equal(t, "id", in.Fields[0].Field.Name)
	assert.Equal(t, "title", in.Fields[1].Field.Name)
	assert.Equal(t, int64(2009), in.Fields[2].Value)

	require.Len(t, in.Relations, 2)
	actors := in.Relations[0]
	assert.Equal(t, "actors", actors.Relationship.Field)
	require.Len(t, actors.Create, 1)
	assert.Equal(t, "Actor", actors.Create[0].Node.Node.Name)
	assert.Equal(t, []FieldValue{{Field: actors.Create[0].Edge[0].Field, Value: "Carl"}}, actors.Create[0].Edge)
	require.Len(t, actors.Connect, 1)
	assert.Equal(t, "Actor", actors.Connect[0].Targets[0].Node.Name)

	genres := in.Relations[1]
	require.Len(t, genres.ConnectOrCreate, 1)
	coc := genres.ConnectOrCreate[0]
	assert.Equal(t, "Family", coc.Match[0].Value)
	assert.Equal(t, "All ages", coc.OnCreate[0].Value)
}

func TestParseCreateErrors(t *testing.T) {
	s := loadSchema(t)

	_, err := ParseCreate(s, node(t, s, "Actor"), map[string]any{"id": "x"})
	assert.ErrorContains(t, err, "generated")

	_, err = ParseCreate(s, node(t, s, "Movie"), map[string]any{"actors": map[string]any{"delete": []any{}}})
	assert.ErrorContains(t, err, "not allowed")

	_, err = ParseCreate(s, node(t, s, "Movie"), map[string]any{"contributors": map[string]any{"create": map[string]any{"node": map[string]any{"name": "x"}}}})
	assert.ErrorContains(t, err, "needs a type")

	_, err = ParseCreate(s, node(t, s, "Movie"), map[string]any{"genres": map[string]any{"connect_or_create": map[string]any{"where": map[string]any{"description": "x"}}}})
	assert.ErrorContains(t, err, "unique fields")
}

func TestParseCreateAppliesDefaults(t *testing.T) {
	n := &schema.Node{Name: "Task", Fields: []schema.Field{
		{Name: "title", Type: schema.TypeString, Required: true},
		{Name: "priority", Type: schema.TypeInt, Default: 3},
	}}
	in, err := ParseCreate(nil, n, map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), in.Fields[1].Value)

	_, err = ParseCreate(nil, n, map[string]any{})
	assert.ErrorContains(t, err, "missing required field Task.title")
}

func TestParseUpdate(t *testing.T) {
	s := loadSchema(t)
	movie := node(t, s, "Movie")

	in, err := ParseUpdate(s, movie, map[string]any{
		"title": "Up!",
		"views": map[string]any{"increment": 1},
		"tags":  map[string]any{"push": "pixar"},
		"actors": map[string]any{
			"disconnect": map[string]any{"where": map[string]any{"name": "Ed"}},
			"update": map[string]any{
				"where": map[string]any{"name": "Jordan"},
				"node":  map[string]any{"born": 1990},
				"edge":  map[string]any{"role": "Russell"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []FieldValue{{Field: in.Set[0].Field, Value: "Up!"}}, in.Set)
	assert.Equal(t, int64(1), in.Increment[0].Value)
	assert.Equal(t, []any{"pixar"}, in.Push[0].Value)

	require.Len(t, in.Relations, 1)
	rel := in.Relations[0]
	require.Len(t, rel.Disconnect, 1)
	require.Len(t, rel.Update, 1)
	assert.Equal(t, int64(1990), rel.Update[0].Targets[0].Update.Set[0].Value)
	assert.Equal(t, "Russell", rel.Update[0].Edge[0].Value)
	assert.False(t, in.Empty())

	_, err = ParseUpdate(s, movie, map[string]any{"title": map[string]any{"increment": 1}})
	assert.ErrorContains(t, err, "requires a numeric field")
}

func TestParseDeletes(t *testing.T) {
	s := loadSchema(t)
	deletes, err := ParseDeletes(s, node(t, s, "Movie"), map[string]any{
		"actors": map[string]any{"where": map[string]any{"name": "Ed"}},
	})
	require.NoError(t, err)
	require.Len(t, deletes, 1)
	require.Len(t, deletes[0].Delete, 1)
	assert.Equal(t, "Actor", deletes[0].Delete[0].Targets[0].Node.Name)
}

func TestDecodeDocument(t *testing.T) {
	f, err := os.Open("testdata/create.yaml")
	require.NoError(t, err)
	defer f.Close()

	doc, err := Decode(f)
	require.NoError(t, err)
	assert.Equal(t, OperationCreate, doc.Operation)

	create := doc.CreateIntent()
	assert.Equal(t, "Movie", create.Type)
	require.Len(t, create.Input, 1)
	assert.Equal(t, "Up", create.Input[0]["title"])
	require.Len(t, create.Selection, 2)
	assert.Equal(t, Field{Name: "id"}, create.Selection[0])
	assert.Equal(t, "actors", create.Selection[1].Name)
	assert.Equal(t, Fields("name"), create.Selection[1].Selection)
}

func TestDecodeRejectsUnknownOperation(t *testing.T) {
	_, err := Decode(strings.NewReader("operation: upsert\ntype: Movie\n"))
	assert.ErrorIs(t, err, ErrInvalidIntent)

	doc, err := Decode(strings.NewReader("type: Movie\nselection: [title]\n"))
	require.NoError(t, err)
	assert.Equal(t, OperationRead, doc.Operation)
	assert.Equal(t, "title", doc.ReadIntent().Selection[0].Key())
}

func TestDecodeUpdateAndDeleteDocuments(t *testing.T) {
	doc, err := Decode(strings.NewReader(`operation: update
type: Movie
where: {title: Up}
update: {title: Down}
selection: [title]
`))
	require.NoError(t, err)
	update := doc.UpdateIntent()
	assert.Equal(t, "Movie", update.Type)
	assert.Equal(t, map[string]any{"title": "Up"}, update.Where)
	assert.Equal(t, map[string]any{"title": "Down"}, update.Update)
	assert.Equal(t, "title", update.Selection[0].Key())

	doc, err = Decode(strings.NewReader(`operation: delete
type: Movie
where: {title: Up}
delete:
  actors: {where: {name: Ed}}
`))
	require.NoError(t, err)
	del := doc.DeleteIntent()
	assert.Equal(t, OperationDelete, doc.Operation)
	assert.Equal(t, map[string]any{"title": "Up"}, del.Where)
	assert.Contains(t, del.Delete, "actors")
}
