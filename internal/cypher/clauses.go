package cypher

import "strings"

// Clause is a renderable Cypher clause or clause sequence.
type Clause interface {
	Cypher(env *Environment) string
}

// Match is MATCH or OPTIONAL MATCH with an optional WHERE.
type Match struct {
	Pattern  Pattern
	Optional bool
	Where    Expr
}

// Cypher renders the match.
func (m Match) Cypher(env *Environment) string {
	keyword := "MATCH "
	if m.Optional {
		keyword = "OPTIONAL MATCH "
	}
	text := keyword + renderPattern(env, m.Pattern)
	if m.Where != nil {
		text += "\nWHERE " + m.Where.Cypher(env)
	}
	return text
}

// SetItem assigns Value to a property reference.
type SetItem struct {
	Target Expr
	Value  Expr
}

func renderSet(env *Environment, keyword string, items []SetItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.Target.Cypher(env)+" = "+item.Value.Cypher(env))
	}
	return keyword + "\n    " + strings.Join(parts, ",\n    ")
}

// Create is CREATE with an optional trailing SET.
type Create struct {
	Pattern Pattern
	Set     []SetItem
}

// Cypher renders the create.
func (c Create) Cypher(env *Environment) string {
	text := "CREATE " + renderPattern(env, c.Pattern)
	if len(c.Set) > 0 {
		text += "\n" + renderSet(env, "SET", c.Set)
	}
	return text
}

// Merge is MERGE with optional ON CREATE SET and SET parts.
type Merge struct {
	Pattern  Pattern
	OnCreate []SetItem
	Set      []SetItem
}

// Cypher renders the merge.
func (m Merge) Cypher(env *Environment) string {
	text := "MERGE " + renderPattern(env, m.Pattern)
	if len(m.OnCreate) > 0 {
		text += "\n" + renderSet(env, "ON CREATE SET", m.OnCreate)
	}
	if len(m.Set) > 0 {
		text += "\n" + renderSet(env, "SET", m.Set)
	}
	return text
}

// Set is a standalone SET clause.
type Set struct {
	Items []SetItem
}

// Cypher renders the set.
func (s Set) Cypher(env *Environment) string {
	return renderSet(env, "SET", s.Items)
}

// Item is a projection item, `expr AS alias`.
type Item struct {
	Expr  Expr
	Alias Expr
}

// As builds a projection item.
func As(expr, alias Expr) Item {
	return Item{Expr: expr, Alias: alias}
}

// Order is an ORDER BY entry.
type Order struct {
	Expr       Expr
	Descending bool
}

type projection struct {
	Items    []Item
	Star     bool
	Distinct bool
	OrderBy  []Order
	Skip     Expr
	Limit    Expr
}

func (p projection) render(env *Environment, keyword string) string {
	var b strings.Builder
	b.WriteString(keyword)
	if p.Distinct {
		b.WriteString(" DISTINCT")
	}
	parts := make([]string, 0, len(p.Items)+1)
	if p.Star {
		parts = append(parts, "*")
	}
	for _, item := range p.Items {
		text := item.Expr.Cypher(env)
		if item.Alias != nil {
			if alias := item.Alias.Cypher(env); alias != text {
				text += " AS " + alias
			}
		}
		parts = append(parts, text)
	}
	b.WriteString(" ")
	b.WriteString(strings.Join(parts, ", "))
	return b.String()
}

func (p projection) renderTail(env *Environment) string {
	var b strings.Builder
	if len(p.OrderBy) > 0 {
		parts := make([]string, 0, len(p.OrderBy))
		for _, order := range p.OrderBy {
			direction := " ASC"
			if order.Descending {
				direction = " DESC"
			}
			parts = append(parts, order.Expr.Cypher(env)+direction)
		}
		b.WriteString("\nORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if p.Skip != nil {
		b.WriteString("\nSKIP ")
		b.WriteString(p.Skip.Cypher(env))
	}
	if p.Limit != nil {
		b.WriteString("\nLIMIT ")
		b.WriteString(p.Limit.Cypher(env))
	}
	return b.String()
}

// With is a WITH clause. Where filters the projected rows and is rendered
// after ordering and paging.
type With struct {
	Items    []Item
	Star     bool
	Distinct bool
	Where    Expr
	OrderBy  []Order
	Skip     Expr
	Limit    Expr
}

// Cypher renders the with.
func (w With) Cypher(env *Environment) string {
	p := projection{Items: w.Items, Star: w.Star, Distinct: w.Distinct, OrderBy: w.OrderBy, Skip: w.Skip, Limit: w.Limit}
	text := p.render(env, "WITH") + p.renderTail(env)
	if w.Where != nil {
		text += "\nWHERE " + w.Where.Cypher(env)
	}
	return text
}

// WithVars is WITH over bare variables.
func WithVars(vars ...Expr) With {
	items := make([]Item, 0, len(vars))
	for _, v := range vars {
		items = append(items, Item{Expr: v})
	}
	return With{Items: items}
}

// Return is a RETURN clause.
type Return struct {
	Items    []Item
	Star     bool
	Distinct bool
	OrderBy  []Order
	Skip     Expr
	Limit    Expr
}

// Cypher renders the return.
func (r Return) Cypher(env *Environment) string {
	p := projection{Items: r.Items, Star: r.Star, Distinct: r.Distinct, OrderBy: r.OrderBy, Skip: r.Skip, Limit: r.Limit}
	return p.render(env, "RETURN") + p.renderTail(env)
}

// Unwind is `UNWIND list AS alias`.
type Unwind struct {
	List  Expr
	Alias Expr
}

// Cypher renders the unwind.
func (u Unwind) Cypher(env *Environment) string {
	return "UNWIND " + u.List.Cypher(env) + " AS " + u.Alias.Cypher(env)
}

// Call is a `CALL { ... }` subquery. Imports become the leading WITH inside
// the block.
type Call struct {
	Imports []Expr
	Body    Clause
}

// Cypher renders the subquery.
func (c Call) Cypher(env *Environment) string {
	var inner strings.Builder
	if len(c.Imports) > 0 {
		inner.WriteString(WithVars(c.Imports...).Cypher(env))
		inner.WriteString("\n")
	}
	inner.WriteString(c.Body.Cypher(env))
	return "CALL {\n" + indent(inner.String()) + "\n}"
}

// Union joins branches with UNION.
type Union struct {
	Branches []Clause
	All      bool
}

// Cypher renders the union.
func (u Union) Cypher(env *Environment) string {
	sep := "\nUNION\n"
	if u.All {
		sep = "\nUNION ALL\n"
	}
	parts := make([]string, 0, len(u.Branches))
	for _, branch := range u.Branches {
		parts = append(parts, branch.Cypher(env))
	}
	return strings.Join(parts, sep)
}

// Delete is DELETE or DETACH DELETE.
type Delete struct {
	Targets []Expr
	Detach  bool
}

// Cypher renders the delete.
func (d Delete) Cypher(env *Environment) string {
	targets := make([]string, 0, len(d.Targets))
	for _, target := range d.Targets {
		targets = append(targets, target.Cypher(env))
	}
	keyword := "DELETE "
	if d.Detach {
		keyword = "DETACH DELETE "
	}
	return keyword + strings.Join(targets, ", ")
}

// Procedure is a standalone procedure call.
type Procedure struct {
	Name string
	Args []Expr
}

// Cypher renders `CALL name(args)`.
func (p Procedure) Cypher(env *Environment) string {
	return "CALL " + Fn(p.Name, p.Args...).Cypher(env)
}

// RawClause renders arbitrary clause text.
type RawClause func(env *Environment) string

// Cypher renders the raw clause.
func (r RawClause) Cypher(env *Environment) string {
	return r(env)
}

// Sequence renders clauses one per line, skipping nil and empty entries.
type Sequence []Clause

// Cypher renders the sequence.
func (s Sequence) Cypher(env *Environment) string {
	return joinClauses(env, s, "\n")
}

// Concat renders clauses separated by a blank line.
type Concat []Clause

// Cypher renders the concatenation.
func (c Concat) Cypher(env *Environment) string {
	return joinClauses(env, c, "\n\n")
}

func joinClauses(env *Environment, clauses []Clause, sep string) string {
	parts := make([]string, 0, len(clauses))
	for _, clause := range clauses {
		if clause == nil {
			continue
		}
		if text := clause.Cypher(env); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, sep)
}
