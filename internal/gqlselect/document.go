// Package gqlselect turns GraphQL query text into read intents. Root fields
// name a type through its plural (`movies`) or aggregate (`moviesAggregate`)
// field; arguments and selection sets become filters, paging and nested
// selections.
package gqlselect

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
)

// ErrUnsupported reports a GraphQL construct with no read intent equivalent.
var ErrUnsupported = errors.New("unsupported graphql")

const anonymousOperationName = "<anonymous>"

// Request is a GraphQL document with the operation to run and its variables.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
}

// Document is a parsed request narrowed to one query operation.
type Document struct {
	Operation *ast.OperationDefinition
	Fragments map[string]*ast.FragmentDefinition
	Variables map[string]any

	// Name is the operation name, or "<anonymous>".
	Name string
	// Hash identifies the operation and the fragments it uses.
	Hash  string
	Depth int
}

// Parse parses req and selects its operation. Only queries are accepted.
func Parse(req Request) (*Document, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrUnsupported)
	}
	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(req.Query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("parse graphql: %w", err)
	}

	fragments := buildFragmentMap(doc)
	op, err := selectOperation(doc, req.OperationName)
	if err != nil {
		return nil, err
	}
	if op.Operation != ast.OperationTypeQuery {
		return nil, fmt.Errorf("%w: %s operations", ErrUnsupported, op.Operation)
	}

	variables, err := bindVariables(op, req.Variables)
	if err != nil {
		return nil, err
	}
	hash, err := operationHash(op, fragments)
	if err != nil {
		return nil, err
	}
	return &Document{
		Operation: op,
		Fragments: fragments,
		Variables: variables,
		Name:      effectiveOperationName(op),
		Hash:      hash,
		Depth:     selectionDepth(op.SelectionSet, fragments, 1, map[string]bool{}),
	}, nil
}

func buildFragmentMap(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := map[string]*ast.FragmentDefinition{}
	for _, def := range doc.Definitions {
		fragment, ok := def.(*ast.FragmentDefinition)
		if !ok || fragment == nil || fragment.Name == nil || fragment.Name.Value == "" {
			continue
		}
		fragments[fragment.Name.Value] = fragment
	}
	return fragments
}

func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	operations := make([]*ast.OperationDefinition, 0)
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if ok && op != nil {
			operations = append(operations, op)
		}
	}

	if operationName != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == operationName {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", operationName)
	}
	switch len(operations) {
	case 1:
		return operations[0], nil
	case 0:
		return nil, fmt.Errorf("document does not include an operation")
	default:
		return nil, fmt.Errorf("operation name is required when the document has multiple operations")
	}
}

// bindVariables merges provided values over declared defaults and rejects
// missing non-null variables.
func bindVariables(op *ast.OperationDefinition, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		if def.Variable == nil || def.Variable.Name == nil {
			continue
		}
		name := def.Variable.Name.Value
		if value, ok := provided[name]; ok {
			out[name] = value
			continue
		}
		if def.DefaultValue != nil {
			value, err := valueOf(def.DefaultValue, nil)
			if err != nil {
				return nil, err
			}
			out[name] = value
			continue
		}
		if _, nonNull := def.Type.(*ast.NonNull); nonNull {
			return nil, fmt.Errorf("missing value for required variable $%s", name)
		}
	}
	return out, nil
}

func effectiveOperationName(op *ast.OperationDefinition) string {
	if op.Name == nil || op.Name.Value == "" {
		return anonymousOperationName
	}
	return op.Name.Value
}

// operationHash hashes the printed operation together with the fragments it
// references, in name order.
func operationHash(op *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition) (string, error) {
	visited := map[string]bool{}
	collectFragments(op.SelectionSet, fragments, visited)
	names := make([]string, 0, len(visited))
	for name := range visited {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]ast.Node, 0, 1+len(names))
	definitions = append(definitions, op)
	for _, name := range names {
		fragment, ok := fragments[name]
		if !ok {
			return "", fmt.Errorf("fragment %q not found", name)
		}
		definitions = append(definitions, fragment)
	}
	printed, ok := printer.Print(ast.NewDocument(&ast.Document{Definitions: definitions})).(string)
	if !ok {
		return "", fmt.Errorf("unexpected printed document")
	}

	hash := sha256.New()
	for _, part := range []string{printed, effectiveOperationName(op)} {
		_, _ = fmt.Fprintf(hash, "%d:%s|", len(part), part)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func collectFragments(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, visited map[string]bool) {
	if set == nil {
		return
	}
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			collectFragments(sel.SelectionSet, fragments, visited)
		case *ast.InlineFragment:
			collectFragments(sel.SelectionSet, fragments, visited)
		case *ast.FragmentSpread:
			if sel.Name == nil || visited[sel.Name.Value] {
				continue
			}
			visited[sel.Name.Value] = true
			if fragment, ok := fragments[sel.Name.Value]; ok {
				collectFragments(fragment.SelectionSet, fragments, visited)
			}
		}
	}
}

// selectionDepth is the deepest field level below set, counting the root
// fields as depth one.
func selectionDepth(set *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, inFlight map[string]bool) int {
	if set == nil {
		return depth - 1
	}
	deepest := depth
	for _, selection := range set.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			deepest = max(deepest, selectionDepth(sel.SelectionSet, fragments, depth+1, inFlight))
		case *ast.InlineFragment:
			deepest = max(deepest, selectionDepth(sel.SelectionSet, fragments, depth, inFlight))
		case *ast.FragmentSpread:
			if sel.Name == nil || inFlight[sel.Name.Value] {
				continue
			}
			if fragment, ok := fragments[sel.Name.Value]; ok {
				inFlight[sel.Name.Value] = true
				deepest = max(deepest, selectionDepth(fragment.SelectionSet, fragments, depth, inFlight))
				delete(inFlight, sel.Name.Value)
			}
		}
	}
	return deepest
}
