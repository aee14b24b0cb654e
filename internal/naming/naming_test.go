package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPluralize(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"movie", "movies"},
		{"category", "categories"},
		{"person", "people"},
		{"series", "series"},
		{"analysis", "analyses"},
		{"orderItem", "orderItems"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.Pluralize(tt.input))
		})
	}
}

func TestOverrides(t *testing.T) {
	namer := New(Config{
		PluralOverrides: map[string]string{"staff": "staff"},
		RootFields:      map[string]string{"Person": "allPeople"},
	})

	assert.Equal(t, "staff", namer.Pluralize("staff"))
	assert.Equal(t, "movies", namer.Pluralize("movie"))
	assert.Equal(t, "staff", namer.RootField("Staff"))
	assert.Equal(t, "allPeople", namer.RootField("Person"))
	assert.Equal(t, "allPeopleAggregate", namer.RootAggregateField("Person"))

	loaded := New(Config{RootFields: map[string]string{"productioncompany": "studios"}})
	assert.Equal(t, "studios", loaded.RootField("ProductionCompany"))
}

func TestRootFields(t *testing.T) {
	namer := Default()

	assert.Equal(t, "movies", namer.RootField("Movie"))
	assert.Equal(t, "people", namer.RootField("Person"))
	assert.Equal(t, "productionCompanies", namer.RootField("ProductionCompany"))
	assert.Equal(t, "moviesAggregate", namer.RootAggregateField("Movie"))
}

func TestSplit(t *testing.T) {
	namer := Default()

	tests := []struct {
		input string
		base  string
		kind  DerivedKind
	}{
		{"actors", "actors", Plain},
		{"actorsConnection", "actors", Connection},
		{"actorsAggregate", "actors", Aggregate},
		{"Connection", "Connection", Plain},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			base, kind := namer.Split(tt.input)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.kind, kind)
		})
	}

	assert.Equal(t, "actorsConnection", namer.ConnectionField("actors"))
	assert.Equal(t, "actorsAggregate", namer.AggregateField("actors"))
}

func TestIsReservedFieldName(t *testing.T) {
	assert.True(t, IsReservedFieldName("__typename"))
	assert.True(t, IsReservedFieldName("friendsConnection"))
	assert.True(t, IsReservedFieldName("friendsAggregate"))
	assert.False(t, IsReservedFieldName("friends"))
}
