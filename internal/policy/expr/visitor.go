package expr

import (
	"fmt"
	"reflect"
)

// Visitor has one method per node type.
type Visitor[T any] interface {
	VisitLiteral(n Literal) T
	VisitFieldRef(n FieldRef) T
	VisitCall(n Call) T
	VisitCast(n Cast) T
	VisitNullCheck(n NullCheck) T
	VisitRaw(n Raw) T
}

// Accept dispatches n to the matching visitor method. It panics on a nil
// node or a type outside the closed set.
func Accept[T any](n Node, v Visitor[T]) T {
	switch x := n.(type) {
	case Literal:
		return v.VisitLiteral(x)
	case FieldRef:
		return v.VisitFieldRef(x)
	case Call:
		return v.VisitCall(x)
	case Cast:
		return v.VisitCast(x)
	case NullCheck:
		return v.VisitNullCheck(x)
	case Raw:
		return v.VisitRaw(x)
	default:
		panic(fmt.Sprintf("expr: unknown node %T", n))
	}
}

// Equal reports structural equality.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Literal:
		y, ok := b.(Literal)
		return ok && x.Type == y.Type && reflect.DeepEqual(normalizeValue(x.Value), normalizeValue(y.Value))
	case FieldRef:
		y, ok := b.(FieldRef)
		if !ok || x.Name != y.Name || (x.Index == nil) != (y.Index == nil) {
			return false
		}
		return x.Index == nil || *x.Index == *y.Index
	case Call:
		y, ok := b.(Call)
		if !ok || x.Op != y.Op || len(x.Operands) != len(y.Operands) {
			return false
		}
		for i := range x.Operands {
			if !Equal(x.Operands[i], y.Operands[i]) {
				return false
			}
		}
		return true
	case Cast:
		y, ok := b.(Cast)
		return ok && x.Target == y.Target && Equal(x.Operand, y.Operand)
	case NullCheck:
		y, ok := b.(NullCheck)
		return ok && x.Negated == y.Negated && Equal(x.Operand, y.Operand)
	case Raw:
		y, ok := b.(Raw)
		return ok && x.Expression == y.Expression
	default:
		return false
	}
}

// FieldNames returns the distinct field names referenced by n, in first-seen
// order.
func FieldNames(n Node) []string {
	c := &fieldCollector{seen: map[string]bool{}}
	Accept[struct{}](n, c)
	return c.names
}

type fieldCollector struct {
	seen  map[string]bool
	names []string
}

func (c *fieldCollector) VisitLiteral(Literal) struct{} { return struct{}{} }

func (c *fieldCollector) VisitFieldRef(n FieldRef) struct{} {
	if n.Name != "" && !c.seen[n.Name] {
		c.seen[n.Name] = true
		c.names = append(c.names, n.Name)
	}
	return struct{}{}
}

func (c *fieldCollector) VisitCall(n Call) struct{} {
	for _, o := range n.Operands {
		Accept[struct{}](o, c)
	}
	return struct{}{}
}

func (c *fieldCollector) VisitCast(n Cast) struct{} { return Accept[struct{}](n.Operand, c) }

func (c *fieldCollector) VisitNullCheck(n NullCheck) struct{} { return Accept[struct{}](n.Operand, c) }

func (c *fieldCollector) VisitRaw(Raw) struct{} { return struct{}{} }
