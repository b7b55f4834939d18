// Package expr defines the predicate expression tree used by row-filter
// policies. The tree is a closed set of node types; consumers dispatch over it
// with Accept and a Visitor so the tree never depends on them.
package expr

import (
	"fmt"

	"vectorgate/internal/vector"
)

// Node is one expression tree node. The set of implementations is closed:
// Literal, FieldRef, Call, Cast, NullCheck and Raw.
type Node interface {
	node()
}

// Op is a call operator symbol.
type Op string

// Known operators.
const (
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGt      Op = "gt"
	OpLt      Op = "lt"
	OpGe      Op = "ge"
	OpLe      Op = "le"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
	OpBetween Op = "between"
	OpIn      Op = "in"
)

// Known reports whether op is one of the declared operators.
func (op Op) Known() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe, OpAnd, OpOr, OpNot, OpBetween, OpIn:
		return true
	}
	return false
}

// Literal is a constant. Value is nil, bool, int64, float64 or string. Type
// is the optional declared logical type (TypeInvalid when undeclared).
type Literal struct {
	Value any
	Type  vector.LogicalType
}

// FieldRef references a column either by name or by position, never both.
type FieldRef struct {
	Name  string
	Index *int
}

// Call applies an operator to operands.
type Call struct {
	Op       Op
	Operands []Node
}

// Cast converts its operand to a logical type.
type Cast struct {
	Operand Node
	Target  vector.LogicalType
}

// NullCheck is IS NULL, or IS NOT NULL when Negated.
type NullCheck struct {
	Operand Node
	Negated bool
}

// Raw is backend-dialect predicate text that cannot be interpreted
// structurally.
type Raw struct {
	Expression string
}

func (Literal) node()   {}
func (FieldRef) node()  {}
func (Call) node()      {}
func (Cast) node()      {}
func (NullCheck) node() {}
func (Raw) node()       {}

// Lit returns an untyped literal. Integer and float values are normalized to
// int64 and float64.
func Lit(v any) Literal {
	return Literal{Value: normalizeValue(v)}
}

// TypedLit returns a literal with a declared logical type.
func TypedLit(v any, t vector.LogicalType) Literal {
	return Literal{Value: normalizeValue(v), Type: t}
}

// Field references a column by name.
func Field(name string) FieldRef { return FieldRef{Name: name} }

// FieldAt references a column by position.
func FieldAt(i int) FieldRef { return FieldRef{Index: &i} }

// Eq returns a = b.
func Eq(a, b Node) Call { return Call{Op: OpEq, Operands: []Node{a, b}} }

// Ne returns a <> b.
func Ne(a, b Node) Call { return Call{Op: OpNe, Operands: []Node{a, b}} }

// Gt returns a > b.
func Gt(a, b Node) Call { return Call{Op: OpGt, Operands: []Node{a, b}} }

// Lt returns a < b.
func Lt(a, b Node) Call { return Call{Op: OpLt, Operands: []Node{a, b}} }

// Ge returns a >= b.
func Ge(a, b Node) Call { return Call{Op: OpGe, Operands: []Node{a, b}} }

// Le returns a <= b.
func Le(a, b Node) Call { return Call{Op: OpLe, Operands: []Node{a, b}} }

// And conjoins operands.
func And(operands ...Node) Call { return Call{Op: OpAnd, Operands: operands} }

// Or disjoins operands.
func Or(operands ...Node) Call { return Call{Op: OpOr, Operands: operands} }

// Not negates n.
func Not(n Node) Call { return Call{Op: OpNot, Operands: []Node{n}} }

// Between returns low <= v <= high.
func Between(v, low, high Node) Call { return Call{Op: OpBetween, Operands: []Node{v, low, high}} }

// In returns v IN (values...).
func In(v Node, values ...Node) Call {
	return Call{Op: OpIn, Operands: append([]Node{v}, values...)}
}

// IsNull returns n IS NULL.
func IsNull(n Node) NullCheck { return NullCheck{Operand: n} }

// IsNotNull returns n IS NOT NULL.
func IsNotNull(n Node) NullCheck { return NullCheck{Operand: n, Negated: true} }

// CastTo returns CAST(n AS t).
func CastTo(n Node, t vector.LogicalType) Cast { return Cast{Operand: n, Target: t} }

// RawExpr wraps dialect text.
func RawExpr(text string) Raw { return Raw{Expression: text} }

// Validate checks arity of known operators and field reference exclusivity.
func Validate(n Node) error {
	switch x := n.(type) {
	case nil:
		return fmt.Errorf("nil expression")
	case Literal:
		switch x.Value.(type) {
		case nil, bool, int64, float64, string:
			return nil
		default:
			return fmt.Errorf("literal: unsupported value %T", x.Value)
		}
	case FieldRef:
		if (x.Name == "") == (x.Index == nil) {
			return fmt.Errorf("field reference needs exactly one of name or index")
		}
		if x.Index != nil && *x.Index < 0 {
			return fmt.Errorf("field reference: negative index %d", *x.Index)
		}
		return nil
	case Call:
		if x.Op == "" {
			return fmt.Errorf("call: empty operator")
		}
		if err := checkArity(x); err != nil {
			return err
		}
		for _, o := range x.Operands {
			if err := Validate(o); err != nil {
				return err
			}
		}
		return nil
	case Cast:
		if !x.Target.Valid() {
			return fmt.Errorf("cast: invalid target type")
		}
		return Validate(x.Operand)
	case NullCheck:
		return Validate(x.Operand)
	case Raw:
		if x.Expression == "" {
			return fmt.Errorf("raw expression is empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown node %T", n)
	}
}

func checkArity(c Call) error {
	n := len(c.Operands)
	switch c.Op {
	case OpEq, OpNe, OpGt, OpLt, OpGe, OpLe:
		if n != 2 {
			return fmt.Errorf("%s expects 2 operands, got %d", c.Op, n)
		}
	case OpNot:
		if n != 1 {
			return fmt.Errorf("not expects 1 operand, got %d", n)
		}
	case OpBetween:
		if n != 3 {
			return fmt.Errorf("between expects 3 operands, got %d", n)
		}
	case OpAnd, OpOr, OpIn:
		if n < 2 {
			return fmt.Errorf("%s expects at least 2 operands, got %d", c.Op, n)
		}
	}
	return nil
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
