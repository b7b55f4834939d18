package expr

import (
	"fmt"
	"strconv"
	"strings"

	"vectorgate/internal/vector"
)

var sqlOps = map[Op]string{
	OpEq: "=",
	OpNe: "<>",
	OpGt: ">",
	OpLt: "<",
	OpGe: ">=",
	OpLe: "<=",
}

// SQLTypeName returns the SQL spelling of a logical type.
func SQLTypeName(t vector.LogicalType) string {
	switch t {
	case vector.TinyInt:
		return "TINYINT"
	case vector.SmallInt:
		return "SMALLINT"
	case vector.Int:
		return "INTEGER"
	case vector.BigInt:
		return "BIGINT"
	case vector.Float:
		return "REAL"
	case vector.Double:
		return "DOUBLE"
	case vector.Bool:
		return "BOOLEAN"
	case vector.String:
		return "VARCHAR"
	case vector.Binary:
		return "BLOB"
	case vector.Date:
		return "DATE"
	case vector.Time:
		return "TIME"
	case vector.Timestamp:
		return "TIMESTAMP"
	case vector.TimestampTZ:
		return "TIMESTAMPTZ"
	case vector.IntervalDay, vector.IntervalYear:
		return "INTERVAL"
	case vector.UUID:
		return "UUID"
	default:
		return t.String()
	}
}

// SQL renders n as SQL predicate text, for audit records and the raw text of
// structured filters.
func SQL(n Node) string {
	return Accept[string](n, sqlRenderer{})
}

type sqlRenderer struct{}

func (r sqlRenderer) VisitLiteral(n Literal) string {
	text := literalSQL(n.Value)
	switch n.Type {
	case vector.Date, vector.Time, vector.Timestamp, vector.TimestampTZ:
		if _, ok := n.Value.(string); ok {
			return SQLTypeName(n.Type) + " " + text
		}
	}
	return text
}

func literalSQL(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (r sqlRenderer) VisitFieldRef(n FieldRef) string {
	if n.Index != nil {
		return "$" + strconv.Itoa(*n.Index)
	}
	return n.Name
}

func (r sqlRenderer) VisitCall(n Call) string {
	ops := make([]string, len(n.Operands))
	for i, o := range n.Operands {
		ops[i] = Accept[string](o, r)
	}
	if sym, ok := sqlOps[n.Op]; ok && len(ops) == 2 {
		return ops[0] + " " + sym + " " + ops[1]
	}
	switch n.Op {
	case OpAnd, OpOr:
		for i := range ops {
			ops[i] = "(" + ops[i] + ")"
		}
		return strings.Join(ops, " "+strings.ToUpper(string(n.Op))+" ")
	case OpNot:
		if len(ops) == 1 {
			return "NOT (" + ops[0] + ")"
		}
	case OpBetween:
		if len(ops) == 3 {
			return ops[0] + " BETWEEN " + ops[1] + " AND " + ops[2]
		}
	case OpIn:
		if len(ops) >= 1 {
			return ops[0] + " IN (" + strings.Join(ops[1:], ", ") + ")"
		}
	}
	return string(n.Op) + "(" + strings.Join(ops, ", ") + ")"
}

func (r sqlRenderer) VisitCast(n Cast) string {
	return "CAST(" + Accept[string](n.Operand, r) + " AS " + SQLTypeName(n.Target) + ")"
}

func (r sqlRenderer) VisitNullCheck(n NullCheck) string {
	if n.Negated {
		return Accept[string](n.Operand, r) + " IS NOT NULL"
	}
	return Accept[string](n.Operand, r) + " IS NULL"
}

func (r sqlRenderer) VisitRaw(n Raw) string { return n.Expression }
