package cypher

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is any renderable Cypher expression.
type Expr interface {
	Cypher(env *Environment) string
}

// RawExpr renders arbitrary text. It may still resolve variables through env.
type RawExpr func(env *Environment) string

// Cypher renders the raw text.
func (r RawExpr) Cypher(env *Environment) string {
	return r(env)
}

// Raw returns a fixed text expression.
func Raw(text string) Expr {
	return RawExpr(func(*Environment) string { return text })
}

// Star is the `*` projection.
var Star = Raw("*")

// PropertyRef is target.key[.key...].
type PropertyRef struct {
	Target Expr
	Path   []string
}

// Cypher renders the property access.
func (p PropertyRef) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString(p.Target.Cypher(env))
	for _, key := range p.Path {
		b.WriteString(".")
		b.WriteString(EscapeProperty(key))
	}
	return b.String()
}

// Prop accesses a property path on an arbitrary expression.
func Prop(target Expr, path ...string) PropertyRef {
	return PropertyRef{Target: target, Path: path}
}

// Literal is an inlined constant.
type Literal struct {
	Value any
}

// Lit wraps a constant.
func Lit(value any) Literal {
	return Literal{Value: value}
}

// Cypher renders the constant.
func (l Literal) Cypher(env *Environment) string {
	return renderLiteral(l.Value)
}

func renderLiteral(value any) string {
	switch v := value.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, renderLiteral(item))
		}
		return "[" + strings.Join(items, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

// Comparison is a binary or postfix operator application.
type Comparison struct {
	Op    string
	Left  Expr
	Right Expr
}

// Cypher renders `left OP right`, or `left OP` when Right is nil.
func (c Comparison) Cypher(env *Environment) string {
	left := c.Left.Cypher(env)
	if c.Right == nil {
		return left + " " + c.Op
	}
	return left + " " + c.Op + " " + c.Right.Cypher(env)
}

func Eq(left, right Expr) Expr         { return Comparison{Op: "=", Left: left, Right: right} }
func Neq(left, right Expr) Expr        { return Comparison{Op: "<>", Left: left, Right: right} }
func Lt(left, right Expr) Expr         { return Comparison{Op: "<", Left: left, Right: right} }
func Lte(left, right Expr) Expr        { return Comparison{Op: "<=", Left: left, Right: right} }
func Gt(left, right Expr) Expr         { return Comparison{Op: ">", Left: left, Right: right} }
func Gte(left, right Expr) Expr        { return Comparison{Op: ">=", Left: left, Right: right} }
func In(left, right Expr) Expr         { return Comparison{Op: "IN", Left: left, Right: right} }
func Contains(left, right Expr) Expr   { return Comparison{Op: "CONTAINS", Left: left, Right: right} }
func StartsWith(left, right Expr) Expr { return Comparison{Op: "STARTS WITH", Left: left, Right: right} }
func EndsWith(left, right Expr) Expr   { return Comparison{Op: "ENDS WITH", Left: left, Right: right} }
func Matches(left, right Expr) Expr    { return Comparison{Op: "=~", Left: left, Right: right} }
func IsNull(operand Expr) Expr         { return Comparison{Op: "IS NULL", Left: operand} }
func IsNotNull(operand Expr) Expr      { return Comparison{Op: "IS NOT NULL", Left: operand} }

// Arithmetic is an n-ary arithmetic operator, always parenthesized.
type Arithmetic struct {
	Op       string
	Operands []Expr
}

// Cypher renders `(a OP b ...)`.
func (a Arithmetic) Cypher(env *Environment) string {
	parts := make([]string, 0, len(a.Operands))
	for _, operand := range a.Operands {
		parts = append(parts, operand.Cypher(env))
	}
	return "(" + strings.Join(parts, " "+a.Op+" ") + ")"
}

// Add sums operands.
func Add(operands ...Expr) Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	return Arithmetic{Op: "+", Operands: operands}
}

// Subtract renders `(left - right)`.
func Subtract(left, right Expr) Expr {
	return Arithmetic{Op: "-", Operands: []Expr{left, right}}
}

// Boolean is an n-ary AND/OR, always parenthesized.
type Boolean struct {
	Op       string
	Operands []Expr
}

// Cypher renders `(a OP b ...)`.
func (b Boolean) Cypher(env *Environment) string {
	parts := make([]string, 0, len(b.Operands))
	for _, operand := range b.Operands {
		parts = append(parts, operand.Cypher(env))
	}
	return "(" + strings.Join(parts, " "+b.Op+" ") + ")"
}

func compact(exprs []Expr) []Expr {
	out := make([]Expr, 0, len(exprs))
	for _, expr := range exprs {
		if expr != nil {
			out = append(out, expr)
		}
	}
	return out
}

// And combines operands. Nil operands are dropped; a single operand is
// returned as is and no operands yield nil.
func And(operands ...Expr) Expr {
	return combine("AND", operands)
}

// Or combines operands with the same rules as And.
func Or(operands ...Expr) Expr {
	return combine("OR", operands)
}

func combine(op string, operands []Expr) Expr {
	operands = compact(operands)
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return Boolean{Op: op, Operands: operands}
	}
}

// Negation is `NOT operand`.
type Negation struct {
	Operand Expr
}

// Cypher renders the negation.
func (n Negation) Cypher(env *Environment) string {
	return "NOT " + n.Operand.Cypher(env)
}

// Not negates operand; a nil operand stays nil.
func Not(operand Expr) Expr {
	if operand == nil {
		return nil
	}
	return Negation{Operand: operand}
}

// Paren wraps an expression in parentheses.
type Paren struct {
	Inner Expr
}

// Cypher renders `(inner)`.
func (p Paren) Cypher(env *Environment) string {
	return "(" + p.Inner.Cypher(env) + ")"
}

// Function is a function call.
type Function struct {
	Name     string
	Args     []Expr
	Distinct bool
}

// Cypher renders `name(args)`.
func (f Function) Cypher(env *Environment) string {
	args := make([]string, 0, len(f.Args))
	for _, arg := range f.Args {
		args = append(args, arg.Cypher(env))
	}
	prefix := ""
	if f.Distinct {
		prefix = "DISTINCT "
	}
	return f.Name + "(" + prefix + strings.Join(args, ", ") + ")"
}

// Fn calls a function by name.
func Fn(name string, args ...Expr) Function {
	return Function{Name: name, Args: args}
}

func Count(arg Expr) Function           { return Fn("count", arg) }
func CountAll() Function                { return Fn("count", Star) }
func Collect(arg Expr) Function         { return Fn("collect", arg) }
func Head(arg Expr) Function            { return Fn("head", arg) }
func Size(arg Expr) Function            { return Fn("size", arg) }
func ElementID(arg Expr) Function       { return Fn("elementId", arg) }
func RandomUUID() Function              { return Fn("randomUUID") }
func DateTime() Function                { return Fn("datetime") }
func Coalesce(args ...Expr) Function    { return Fn("coalesce", args...) }
func CollectDistinct(arg Expr) Function { return Function{Name: "collect", Args: []Expr{arg}, Distinct: true} }

// List is a list literal of expressions.
type List struct {
	Items []Expr
}

// Cypher renders `[a, b]`.
func (l List) Cypher(env *Environment) string {
	items := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		items = append(items, item.Cypher(env))
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// MapEntry is a key/value pair in a map literal or projection.
type MapEntry struct {
	Key   string
	Value Expr
}

// Map is a map literal.
type Map struct {
	Entries []MapEntry
}

// Cypher renders `{ k: v, ... }`.
func (m Map) Cypher(env *Environment) string {
	if len(m.Entries) == 0 {
		return "{}"
	}
	return "{ " + renderEntries(env, m.Entries) + " }"
}

func renderEntries(env *Environment, entries []MapEntry) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, EscapeProperty(entry.Key)+": "+entry.Value.Cypher(env))
	}
	return strings.Join(parts, ", ")
}

// MapProjection is `target { .a, key: value }`.
type MapProjection struct {
	Target     Expr
	Properties []string
	Entries    []MapEntry
}

// Cypher renders the projection.
func (m MapProjection) Cypher(env *Environment) string {
	target := m.Target.Cypher(env)
	parts := make([]string, 0, len(m.Properties)+len(m.Entries))
	for _, prop := range m.Properties {
		parts = append(parts, "."+EscapeProperty(prop))
	}
	if len(m.Entries) > 0 {
		parts = append(parts, renderEntries(env, m.Entries))
	}
	if len(parts) == 0 {
		return target + " {}"
	}
	return target + " { " + strings.Join(parts, ", ") + " }"
}

// HasLabels is the label predicate `n:A:B`.
type HasLabels struct {
	Target Expr
	Labels []string
}

// Cypher renders the predicate.
func (h HasLabels) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString(h.Target.Cypher(env))
	for _, label := range h.Labels {
		b.WriteString(":")
		b.WriteString(EscapeName(label))
	}
	return b.String()
}

// Exists is an `EXISTS { ... }` subquery.
type Exists struct {
	Body Clause
}

// Cypher renders the subquery.
func (e Exists) Cypher(env *Environment) string {
	return "EXISTS {\n" + indent(e.Body.Cypher(env)) + "\n}"
}

// CountSubquery is a `COUNT { pattern }` expression, or a `COUNT { ... }`
// over a full subquery body when Body is set.
type CountSubquery struct {
	Pattern Pattern
	Body    Clause
}

// Cypher renders the count.
func (c CountSubquery) Cypher(env *Environment) string {
	if c.Body != nil {
		return "COUNT {\n" + indent(c.Body.Cypher(env)) + "\n}"
	}
	return "COUNT { " + renderPattern(env, c.Pattern) + " }"
}

// PatternComprehension is `[pattern WHERE pred | projection]`.
type PatternComprehension struct {
	Pattern    Pattern
	Where      Expr
	Projection Expr
}

// Cypher renders the comprehension.
func (p PatternComprehension) Cypher(env *Environment) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(renderPattern(env, p.Pattern))
	if p.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(p.Where.Cypher(env))
	}
	b.WriteString(" | ")
	b.WriteString(p.Projection.Cypher(env))
	b.WriteString("]")
	return b.String()
}
