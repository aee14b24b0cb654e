package gqlselect

import (
	"errors"
	"testing"

	"graphql-cypher/internal/intent"
	"graphql-cypher/internal/naming"
	"graphql-cypher/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConverter(t *testing.T) *Converter {
	t.Helper()
	s, err := schema.LoadFile("testdata/schema.yaml")
	require.NoError(t, err)
	return NewConverter(s, naming.Default())
}

func convert(t *testing.T, req Request) []Root {
	t.Helper()
	doc, err := Parse(req)
	require.NoError(t, err)
	roots, err := newConverter(t).Convert(doc)
	require.NoError(t, err)
	return roots
}

func intPtr(v int) *int { return &v }

func TestParse_Metadata(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		operationName string
		wantName      string
		wantDepth     int
		wantErr       string
	}{
		{
			name:      "anonymous",
			query:     `{ movies { title } }`,
			wantName:  "<anonymous>",
			wantDepth: 2,
		},
		{
			name:      "named with fragment",
			query:     `query Q { movies { ...M } } fragment M on Movie { actors { name } }`,
			wantName:  "Q",
			wantDepth: 3,
		},
		{
			name:          "selects by name",
			query:         `query A { movies { title } } query B { actors { name } }`,
			operationName: "B",
			wantName:      "B",
			wantDepth:     2,
		},
		{
			name:    "multiple without name",
			query:   `query A { movies { title } } query B { actors { name } }`,
			wantErr: "operation name is required",
		},
		{
			name:          "unknown name",
			query:         `query A { movies { title } }`,
			operationName: "Z",
			wantErr:       `unknown operation named "Z"`,
		},
		{
			name:    "mutation",
			query:   `mutation { createMovies { info } }`,
			wantErr: "mutation operations",
		},
		{
			name:    "syntax error",
			query:   `{ movies { title }`,
			wantErr: "parse graphql",
		},
		{
			name:    "empty",
			query:   "  ",
			wantErr: "empty document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(Request{Query: tt.query, OperationName: tt.operationName})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, doc.Name)
			assert.Equal(t, tt.wantDepth, doc.Depth)
			assert.Len(t, doc.Hash, 64)
		})
	}
}

func TestParse_HashIgnoresFormattingAndUnusedFragments(t *testing.T) {
	a, err := Parse(Request{Query: `query Q { movies { ...M } } fragment M on Movie { title }`})
	require.NoError(t, err)
	b, err := Parse(Request{Query: "query Q {\n  movies {\n    ...M\n  }\n}\nfragment M on Movie { title }\nfragment Unused on Actor { name }"})
	require.NoError(t, err)
	c, err := Parse(Request{Query: `query Q { movies { ...M } } fragment M on Movie { released }`})
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash)
}

func TestParse_Variables(t *testing.T) {
	doc, err := Parse(Request{
		Query:     `query ($title: String, $limit: Int = 5, $offset: Int) { movies { title } }`,
		Variables: map[string]any{"title": "Up"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Up", "limit": int64(5)}, doc.Variables)

	_, err = Parse(Request{Query: `query ($id: ID!) { movies { title } }`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$id")
}

func TestConvert_Read(t *testing.T) {
	roots := convert(t, Request{
		Query: `query ($title: String) {
			recent: movies(where: {title: $title, released: {gt: 2000}}, sort: [{released: DESC}], limit: 10, offset: 5) {
				id
				name: title
				actors(where: {born: {lt: 1970}}, limit: 2) { name }
			}
		}`,
		Variables: map[string]any{"title": "Up"},
	})
	require.Len(t, roots, 1)
	root := roots[0]
	assert.Equal(t, "recent", root.Key)
	assert.Equal(t, intent.OperationRead, root.Operation)
	assert.Equal(t, intent.Read{
		Type:  "Movie",
		Where: map[string]any{"title": "Up", "released": map[string]any{"gt": int64(2000)}},
		Selection: intent.Selection{
			{Name: "id"},
			{Name: "title", Alias: "name"},
			{Name: "actors", Where: map[string]any{"born": map[string]any{"lt": int64(1970)}}, Limit: intPtr(2), Selection: intent.Fields("name")},
		},
		Sort:   []intent.Sort{{Field: "released", Direction: "DESC"}},
		Limit:  intPtr(10),
		Offset: intPtr(5),
	}, root.Read)
}

func TestConvert_OptionsArgument(t *testing.T) {
	roots := convert(t, Request{Query: `{ movies(options: {limit: 3, sort: [{title: ASC}]}) { title } }`})
	require.Len(t, roots, 1)
	assert.Equal(t, intPtr(3), roots[0].Read.Limit)
	assert.Equal(t, []intent.Sort{{Field: "title", Direction: "ASC"}}, roots[0].Read.Sort)
}

func TestConvert_Polymorphic(t *testing.T) {
	roots := convert(t, Request{Query: `
		{
			productions {
				__typename
				title
				... on Movie { released }
				...SeriesFields
			}
		}
		fragment SeriesFields on Series { episodes }`})
	require.Len(t, roots, 1)
	read := roots[0].Read
	assert.Equal(t, "Production", read.Type)
	assert.Equal(t, intent.Fields("__typename", "title"), read.Selection)
	assert.Equal(t, map[string]intent.Selection{
		"Movie":  intent.Fields("released"),
		"Series": intent.Fields("episodes"),
	}, read.On)
}

func TestConvert_FragmentOnSameTypeMerges(t *testing.T) {
	roots := convert(t, Request{Query: `{ movies { ... on Movie { title } ...F } } fragment F on Movie { released }`})
	require.Len(t, roots, 1)
	assert.Equal(t, intent.Fields("title", "released"), roots[0].Read.Selection)
	assert.Nil(t, roots[0].Read.On)
}

func TestConvert_Connection(t *testing.T) {
	roots := convert(t, Request{
		Query: `query ($after: String) {
			movies {
				actorsConnection(first: 5, after: $after, where: {node: {name: "Tom"}}, sort: [{node: {name: ASC}}]) {
					totalCount
					edges {
						cursor
						node { name }
						properties { role }
					}
					pageInfo { hasNextPage }
				}
			}
		}`,
		Variables: map[string]any{"after": "YXJyYXljb25uZWN0aW9uOjQ="},
	})
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Read.Selection, 1)
	assert.Equal(t, intent.Field{
		Name:       "actorsConnection",
		Where:      map[string]any{"node": map[string]any{"name": "Tom"}},
		Sort:       []intent.Sort{{Field: "name", Direction: "ASC"}},
		First:      intPtr(5),
		After:      "YXJyYXljb25uZWN0aW9uOjQ=",
		TotalCount: true,
		Selection:  intent.Fields("name"),
		Properties: intent.Fields("role"),
	}, roots[0].Read.Selection[0])
}

func TestConvert_Aggregates(t *testing.T) {
	roots := convert(t, Request{Query: `
		{
			moviesAggregate(where: {released: {gte: 1990}}) {
				count
				title { shortest longest }
			}
			movies {
				actorsAggregate {
					count
					node { born { min max average } }
					edge { role { longest } }
				}
			}
		}`})
	require.Len(t, roots, 2)

	assert.Equal(t, intent.OperationAggregate, roots[0].Operation)
	assert.Equal(t, "moviesAggregate", roots[0].Key)
	assert.Equal(t, intent.Aggregate{
		Type:  "Movie",
		Where: map[string]any{"released": map[string]any{"gte": int64(1990)}},
		Count: true,
		Node:  []intent.AggregateField{{Field: "title", Functions: []string{"shortest_length", "longest_length"}}},
	}, roots[0].Aggregate)

	assert.Equal(t, intent.Field{
		Name:  "actorsAggregate",
		Count: true,
		Node:  []intent.AggregateField{{Field: "born", Functions: []string{"min", "max", "average"}}},
		Edge:  []intent.AggregateField{{Field: "role", Functions: []string{"longest_length"}}},
	}, roots[1].Read.Selection[0])
}

func TestConvert_Directives(t *testing.T) {
	roots := convert(t, Request{
		Query:     `query ($withActors: Boolean!) { movies { title @skip(if: true) released actors @include(if: $withActors) { name } } }`,
		Variables: map[string]any{"withActors": false},
	})
	require.Len(t, roots, 1)
	assert.Equal(t, intent.Fields("released"), roots[0].Read.Selection)
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"unknown root", `{ films { title } }`, `unknown root field "films"`},
		{"scalar with selection", `{ movies { title { x } } }`, "has no relationship"},
		{"bad sort", `{ movies(sort: [1]) { title } }`, "sort entries must be objects"},
		{"negative limit", `{ movies(limit: -1) { title } }`, "must not be negative"},
		{"unknown aggregation", `{ moviesAggregate { title { median } } }`, `unknown aggregation "median"`},
		{"unknown edge field", `{ movies { actorsConnection { edges { weight } } } }`, `unknown edge field "weight"`},
		{"edge sort", `{ movies { actorsConnection(sort: [{edge: {role: ASC}}]) { totalCount } } }`, "connection sort on edge"},
		{"only typename", `{ __typename }`, "no root fields selected"},
	}
	c := newConverter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse(Request{Query: tt.query})
			require.NoError(t, err)
			_, err = c.Convert(doc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.Is(err, intent.ErrInvalidIntent) || errors.Is(err, ErrUnsupported))
		})
	}
}

func TestConverter_RootFields(t *testing.T) {
	names := newConverter(t).RootFields()
	assert.Contains(t, names, "movies")
	assert.Contains(t, names, "moviesAggregate")
	assert.Contains(t, names, "productions")
	assert.Contains(t, names, "contributors")
}
