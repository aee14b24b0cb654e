package schema

import "fmt"

// Operation is an operation an authorization rule applies to.
type Operation string

const (
	OperationRead               Operation = "READ"
	OperationCreate             Operation = "CREATE"
	OperationUpdate             Operation = "UPDATE"
	OperationDelete             Operation = "DELETE"
	OperationCreateRelationship Operation = "CREATE_RELATIONSHIP"
	OperationDeleteRelationship Operation = "DELETE_RELATIONSHIP"
)

var operations = map[Operation]struct{}{
	OperationRead:               {},
	OperationCreate:             {},
	OperationUpdate:             {},
	OperationDelete:             {},
	OperationCreateRelationship: {},
	OperationDeleteRelationship: {},
}

// RuleKind selects how a rule is enforced.
type RuleKind string

const (
	// RuleFilter silently removes unauthorized nodes.
	RuleFilter RuleKind = "filter"
	// RuleValidate fails the query when a node is unauthorized.
	RuleValidate RuleKind = "validate"
)

// When selects the validation moment of a validate rule.
type When string

const (
	WhenBefore When = "before"
	WhenAfter  When = "after"
)

// AuthRule is a declarative authorization rule on a node type. Where is a
// filter over the node whose string values may reference JWT claims as
// "$jwt.<path>".
type AuthRule struct {
	Kind          RuleKind       `yaml:"kind"`
	Operations    []Operation    `yaml:"operations"`
	When          []When         `yaml:"when"`
	Authenticated bool           `yaml:"authenticated"`
	Roles         []string       `yaml:"roles"`
	Where         map[string]any `yaml:"where"`
}

// AppliesTo reports whether the rule covers op. A rule without operations
// covers all of them.
func (r AuthRule) AppliesTo(op Operation) bool {
	if len(r.Operations) == 0 {
		return true
	}
	for _, candidate := range r.Operations {
		if candidate == op {
			return true
		}
	}
	return false
}

// ValidatesAt reports whether a validate rule runs at moment w. A rule
// without moments runs at both.
func (r AuthRule) ValidatesAt(w When) bool {
	if len(r.When) == 0 {
		return true
	}
	for _, candidate := range r.When {
		if candidate == w {
			return true
		}
	}
	return false
}

func (r AuthRule) validate() error {
	switch r.Kind {
	case RuleFilter, RuleValidate:
	default:
		return fmt.Errorf("invalid kind %q", r.Kind)
	}
	for _, op := range r.Operations {
		if _, ok := operations[op]; !ok {
			return fmt.Errorf("invalid operation %q", op)
		}
	}
	for _, w := range r.When {
		if w != WhenBefore && w != WhenAfter {
			return fmt.Errorf("invalid when %q", w)
		}
	}
	if r.Kind == RuleFilter && len(r.When) > 0 {
		return fmt.Errorf("filter rules do not take when")
	}
	return nil
}
