// Package naming derives the field names the query surface exposes from
// declared type and relationship names: root query fields, connection and
// aggregate companions, and plural forms.
package naming

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Config customizes derived names.
type Config struct {
	// PluralOverrides maps a lower camel word to its plural.
	// Example: {"staff": "staff"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// RootFields pins the root query field of a type, bypassing
	// pluralization. Example: {"Person": "allPeople"}
	RootFields map[string]string `mapstructure:"root_fields"`
}

// DefaultConfig returns a Config without overrides.
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
		RootFields:      make(map[string]string),
	}
}

// Namer provides all name transformation functions for the query surface.
type Namer struct {
	config Config
}

// New creates a Namer with the given configuration
func New(cfg Config) *Namer {
	return &Namer{config: cfg}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig())
}

// DerivedKind classifies a selected field name.
type DerivedKind int

const (
	// Plain is a declared field.
	Plain DerivedKind = iota
	// Connection is <relationship>Connection.
	Connection
	// Aggregate is <relationship>Aggregate.
	Aggregate
)

// ConnectionField returns the connection field name for a relationship.
// Example: "actors" -> "actorsConnection"
func (n *Namer) ConnectionField(field string) string {
	return field + ConnectionSuffix
}

// AggregateField returns the aggregate field name for a relationship.
// Example: "actors" -> "actorsAggregate"
func (n *Namer) AggregateField(field string) string {
	return field + AggregateSuffix
}

// Split resolves a possibly derived field name into its base field.
// Example: "actorsConnection" -> ("actors", Connection)
func (n *Namer) Split(name string) (string, DerivedKind) {
	if base, ok := strings.CutSuffix(name, ConnectionSuffix); ok && base != "" {
		return base, Connection
	}
	if base, ok := strings.CutSuffix(name, AggregateSuffix); ok && base != "" {
		return base, Aggregate
	}
	return name, Plain
}

// RootField returns the root query field for a type name.
// Example: "Movie" -> "movies", "Person" -> "people"
func (n *Namer) RootField(typeName string) string {
	if field, ok := n.config.RootFields[typeName]; ok {
		return field
	}
	// Keys loaded through viper arrive lowercased.
	if field, ok := n.config.RootFields[strings.ToLower(typeName)]; ok {
		return field
	}
	return n.Pluralize(lowerFirst(typeName))
}

// Pluralize returns the plural of word, preferring configured overrides.
func (n *Namer) Pluralize(word string) string {
	if plural, ok := n.config.PluralOverrides[word]; ok {
		return plural
	}
	return inflection.Plural(word)
}

// RootAggregateField returns the root aggregate query field for a type name.
// Example: "Movie" -> "moviesAggregate"
func (n *Namer) RootAggregateField(typeName string) string {
	return n.AggregateField(n.RootField(typeName))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
