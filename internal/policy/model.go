// Package policy holds the access policy model and the resolver that turns a
// caller's group memberships into per-table access decisions: table
// allow/deny, row filters and column masks.
package policy

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"vectorgate/internal/policy/expr"
)

// Kind is the kind of a policy action.
type Kind string

// Action kinds.
const (
	KindTableAccess  Kind = "TABLE_ACCESS"
	KindRowFilter    Kind = "ROW_FILTER"
	KindColumnAccess Kind = "COLUMN_ACCESS"
)

// Verb is ALLOW or DENY.
type Verb string

// Verbs.
const (
	VerbAllow Verb = "ALLOW"
	VerbDeny  Verb = "DENY"
)

// ColumnsMode selects how a COLUMN_ACCESS action's patterns are applied.
type ColumnsMode string

// Column modes. INCLUDE denies every column matching none of the patterns;
// EXCLUDE denies every column matching any of them.
const (
	ColumnsInclude ColumnsMode = "INCLUDE"
	ColumnsExclude ColumnsMode = "EXCLUDE"
)

// Action is one rule of a policy.
type Action struct {
	Kind  Kind
	Verb  Verb
	Table []string // table path pattern, one glob per segment

	// ROW_FILTER: a structured expression, raw dialect text, or both.
	Expression    expr.Node
	RawExpression string

	// COLUMN_ACCESS
	Columns     []string
	ColumnsMode ColumnsMode

	// Exclusive row filters also apply, negated, to non-members.
	Exclusive bool
}

// HasColumns reports whether the action lists column patterns.
func (a Action) HasColumns() bool { return len(a.Columns) > 0 }

// Policy is a named, ordered list of actions. Callers are members of a
// policy when their group memberships include its name.
type Policy struct {
	Name    string
	Actions []Action
}

// Set is an immutable ordered list of policies. Order matters for column
// access resolution.
type Set struct {
	policies []Policy
	byName   map[string]int
}

// NewSet validates policies and returns them as a Set.
func NewSet(policies ...Policy) (*Set, error) {
	s := &Set{policies: slices.Clone(policies), byName: make(map[string]int, len(policies))}
	for i, p := range s.policies {
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d: empty name", i)
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %q", p.Name)
		}
		s.byName[p.Name] = i
		for j, a := range p.Actions {
			if err := validateAction(a); err != nil {
				return nil, fmt.Errorf("policy %q action %d: %w", p.Name, j, err)
			}
		}
	}
	return s, nil
}

// Empty returns a set with no policies.
func Empty() *Set {
	return &Set{byName: map[string]int{}}
}

// Policies returns a copy of the policies in order.
func (s *Set) Policies() []Policy { return slices.Clone(s.policies) }

// Len returns the number of policies.
func (s *Set) Len() int { return len(s.policies) }

// Policy returns the named policy.
func (s *Set) Policy(name string) (Policy, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Policy{}, false
	}
	return s.policies[i], true
}

func validateAction(a Action) error {
	if len(a.Table) == 0 {
		return fmt.Errorf("empty table pattern")
	}
	for _, seg := range a.Table {
		if seg == "" || !doublestar.ValidatePattern(seg) {
			return fmt.Errorf("invalid table pattern segment %q", seg)
		}
	}
	switch a.Verb {
	case VerbAllow, VerbDeny:
	default:
		return fmt.Errorf("invalid verb %q", a.Verb)
	}
	switch a.Kind {
	case KindTableAccess:
	case KindRowFilter:
		if a.Expression == nil && a.RawExpression == "" {
			return fmt.Errorf("row filter needs an expression or raw expression")
		}
		if a.Expression != nil {
			if err := expr.Validate(a.Expression); err != nil {
				return fmt.Errorf("row filter: %w", err)
			}
		}
	case KindColumnAccess:
		if a.ColumnsMode != ColumnsInclude && a.ColumnsMode != ColumnsExclude {
			return fmt.Errorf("invalid columns mode %q", a.ColumnsMode)
		}
		if !a.HasColumns() {
			return fmt.Errorf("column access needs at least one column pattern")
		}
		for _, c := range a.Columns {
			if !doublestar.ValidatePattern(c) {
				return fmt.Errorf("invalid column pattern %q", c)
			}
		}
	default:
		return fmt.Errorf("invalid action kind %q", a.Kind)
	}
	return nil
}
