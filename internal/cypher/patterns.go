package cypher

import (
	"fmt"
	"strings"
)

// Pattern is a graph pattern usable in MATCH, CREATE and MERGE. The set of
// pattern shapes is closed.
type Pattern interface {
	pattern()
}

// NodePattern renders `(var:Label { props })`.
type NodePattern struct {
	Node         *Node
	HideLabels   bool
	HideVariable bool
	Properties   []MapEntry
}

func (NodePattern) pattern() {}

// Direction of a relationship pattern, read from Start to End.
type Direction int

const (
	DirectionRight Direction = iota
	DirectionLeft
	DirectionUndirected
)

// RelationshipPattern renders `(start)-[var:TYPE { props }]->(end)`.
type RelationshipPattern struct {
	Start        NodePattern
	Rel          *Relationship
	End          NodePattern
	Direction    Direction
	HideType     bool
	HideVariable bool
	Properties   []MapEntry
}

func (RelationshipPattern) pattern() {}

// Bare is a node pattern showing only the variable, for nodes already bound.
func Bare(n *Node) NodePattern {
	return NodePattern{Node: n, HideLabels: true}
}

// Labeled is a node pattern showing variable and labels.
func Labeled(n *Node) NodePattern {
	return NodePattern{Node: n}
}

func renderPattern(env *Environment, p Pattern) string {
	switch p := p.(type) {
	case NodePattern:
		return renderNodePattern(env, p)
	case RelationshipPattern:
		return renderRelationshipPattern(env, p)
	default:
		panic(fmt.Sprintf("cypher: unknown pattern %T", p))
	}
}

func renderNodePattern(env *Environment, p NodePattern) string {
	var b strings.Builder
	b.WriteString("(")
	if p.Node != nil {
		if !p.HideVariable {
			b.WriteString(p.Node.Cypher(env))
		}
		if !p.HideLabels {
			for _, label := range p.Node.Labels {
				b.WriteString(":")
				b.WriteString(EscapeName(label))
			}
		}
	}
	if len(p.Properties) > 0 {
		b.WriteString(" ")
		b.WriteString(Map{Entries: p.Properties}.Cypher(env))
	}
	b.WriteString(")")
	return b.String()
}

func renderRelationshipPattern(env *Environment, p RelationshipPattern) string {
	var b strings.Builder
	b.WriteString(renderNodePattern(env, p.Start))
	if p.Direction == DirectionLeft {
		b.WriteString("<-[")
	} else {
		b.WriteString("-[")
	}
	if p.Rel != nil {
		if !p.HideVariable {
			b.WriteString(p.Rel.Cypher(env))
		}
		if !p.HideType && p.Rel.Type != "" {
			b.WriteString(":")
			b.WriteString(EscapeName(p.Rel.Type))
		}
	}
	if len(p.Properties) > 0 {
		b.WriteString(" ")
		b.WriteString(Map{Entries: p.Properties}.Cypher(env))
	}
	if p.Direction == DirectionRight {
		b.WriteString("]->")
	} else {
		b.WriteString("]-")
	}
	b.WriteString(renderNodePattern(env, p.End))
	return b.String()
}
