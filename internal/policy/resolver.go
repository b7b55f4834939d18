package policy

import (
	"encoding/json"
	"slices"

	"vectorgate/internal/policy/expr"
)

// Decision is the outcome of an access check.
type Decision string

// Decisions.
const (
	Allowed Decision = "ALLOWED"
	Denied  Decision = "DENIED"
)

// RowFilter is a row filter that applies to the caller. Negated filters come
// from exclusive actions of policies the caller is not a member of; their
// expression is wrapped in not() and their raw text in NOT (...).
type RowFilter struct {
	Policy        string
	Verb          Verb
	Expression    expr.Node
	RawExpression string
	Negated       bool
}

// MarshalJSON emits the expression in its canonical tagged form.
func (f RowFilter) MarshalJSON() ([]byte, error) {
	var e any
	if f.Expression != nil {
		e = expr.ToWire(f.Expression)
	}
	return json.Marshal(struct {
		Policy        string `json:"policy"`
		Verb          Verb   `json:"verb"`
		Expression    any    `json:"expression,omitempty"`
		RawExpression string `json:"rawExpression,omitempty"`
		Negated       bool   `json:"negated"`
	}{f.Policy, f.Verb, e, f.RawExpression, f.Negated})
}

// ColumnAccess is one COLUMN_ACCESS action that applies to the caller.
type ColumnAccess struct {
	Policy  string      `json:"policy"`
	Mode    ColumnsMode `json:"mode"`
	Columns []string    `json:"columns"`
}

func (c ColumnAccess) denies(column string) bool {
	matched := false
	for _, p := range c.Columns {
		if MatchColumn(p, column) {
			matched = true
			break
		}
	}
	if c.Mode == ColumnsExclude {
		return matched
	}
	return !matched
}

// ColumnResult is the access decision for one column.
type ColumnResult struct {
	Column string   `json:"column"`
	Access Decision `json:"access"`
	Policy string   `json:"policy,omitempty"` // policy that denied the column
}

// Allowed reports whether the column is accessible.
func (c ColumnResult) Allowed() bool { return c.Access == Allowed }

// ResolvedActions is the merged access decision for one table and one caller.
// It is computed per request and never cached, since memberships change.
type ResolvedActions struct {
	Table       []string
	TableAccess Decision
	RowFilters  []RowFilter

	// ColumnAccess is the last COLUMN_ACCESS action of a member policy that
	// matched the table, or nil.
	ColumnAccess *ColumnAccess

	columnRules []ColumnAccess
}

// IsDenied reports whether access to the table is denied.
func (r ResolvedActions) IsDenied() bool { return r.TableAccess == Denied }

// HasRowFilters reports whether any row filter applies.
func (r ResolvedActions) HasRowFilters() bool { return len(r.RowFilters) > 0 }

// HasColumnRules reports whether any column access action applies.
func (r ResolvedActions) HasColumnRules() bool { return len(r.columnRules) > 0 }

// Column decides access to one column. Member policies are consulted in set
// order and the first denial wins; with no denial the column is allowed.
func (r ResolvedActions) Column(column string) ColumnResult {
	for _, rule := range r.columnRules {
		if rule.denies(column) {
			return ColumnResult{Column: column, Access: Denied, Policy: rule.Policy}
		}
	}
	return ColumnResult{Column: column, Access: Allowed}
}

// ColumnAllowed reports whether column is accessible and, if not, which
// policy denied it.
func (r ResolvedActions) ColumnAllowed(column string) (bool, string) {
	res := r.Column(column)
	return res.Allowed(), res.Policy
}

// TableResult bundles an evaluation for one table.
type TableResult struct {
	Table       []string       `json:"table"`
	TableAccess Decision       `json:"tableAccess"`
	RowFilters  []RowFilter    `json:"rowFilters"`
	Columns     []ColumnResult `json:"columns"`
}

// Resolve computes the access decision for table given the caller's
// memberships (policy names).
//
//   - Table access is ALLOWED unless a member policy has a matching DENY
//     TABLE_ACCESS action. ALLOW actions of non-member policies have no effect.
//   - A matching ROW_FILTER applies to members, and negated to non-members
//     when the action is exclusive.
//   - Matching COLUMN_ACCESS actions of member policies are kept in set order.
func (s *Set) Resolve(memberships []string, table []string) ResolvedActions {
	member := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		member[m] = true
	}

	out := ResolvedActions{Table: slices.Clone(table), TableAccess: Allowed}
	for _, p := range s.policies {
		isMember := member[p.Name]
		for _, a := range p.Actions {
			if !MatchTable(a.Table, table) {
				continue
			}
			switch a.Kind {
			case KindTableAccess:
				if isMember && a.Verb == VerbDeny {
					out.TableAccess = Denied
				}
			case KindRowFilter:
				if isMember {
					out.RowFilters = append(out.RowFilters, rowFilter(p.Name, a, false))
				} else if a.Exclusive {
					out.RowFilters = append(out.RowFilters, rowFilter(p.Name, a, true))
				}
			case KindColumnAccess:
				if isMember && a.HasColumns() {
					rule := ColumnAccess{Policy: p.Name, Mode: a.ColumnsMode, Columns: slices.Clone(a.Columns)}
					out.columnRules = append(out.columnRules, rule)
					last := rule
					out.ColumnAccess = &last
				}
			}
		}
	}
	return out
}

// Evaluate resolves table for groups and decides every requested column.
func (s *Set) Evaluate(groups []string, table []string, columns []string) TableResult {
	resolved := s.Resolve(groups, table)
	res := TableResult{
		Table:       resolved.Table,
		TableAccess: resolved.TableAccess,
		RowFilters:  resolved.RowFilters,
		Columns:     make([]ColumnResult, 0, len(columns)),
	}
	if res.RowFilters == nil {
		res.RowFilters = []RowFilter{}
	}
	for _, c := range columns {
		res.Columns = append(res.Columns, resolved.Column(c))
	}
	return res
}

func rowFilter(policyName string, a Action, negate bool) RowFilter {
	f := RowFilter{
		Policy:        policyName,
		Verb:          a.Verb,
		Expression:    a.Expression,
		RawExpression: a.RawExpression,
		Negated:       negate,
	}
	if negate && f.Expression != nil {
		f.Expression = expr.Not(f.Expression)
	}
	if negate && f.RawExpression != "" {
		f.RawExpression = "NOT (" + f.RawExpression + ")"
	}
	return f
}
