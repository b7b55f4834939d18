package rewrite

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	"google.golang.org/protobuf/proto"

	"vectorgate/internal/plan"
	"vectorgate/internal/policy/expr"
)

var comparisonFunctions = map[expr.Op]string{
	expr.OpEq: "equal",
	expr.OpNe: "not_equal",
	expr.OpGt: "gt",
	expr.OpLt: "lt",
	expr.OpGe: "gte",
	expr.OpLe: "lte",
}

// converted is the result of converting one expression node. Untyped
// literals stay pending until a sibling operand supplies their type.
type converted struct {
	expr    *pb.Expression
	typ     *pb.Type
	pending *expr.Literal
	err     error
}

func failed(format string, args ...any) converted {
	return converted{err: fmt.Errorf(format, args...)}
}

// exprConverter turns policy expressions into Substrait expressions over the
// base schema of one read relation.
type exprConverter struct {
	plan    *pb.Plan
	anchors *anchors
	names   []string
	types   []*pb.Type
}

// convert converts n into a boolean Substrait expression.
func (c *exprConverter) convert(n expr.Node) (*pb.Expression, error) {
	res := c.resolve(expr.Accept[converted](n, c), plan.BoolType())
	if res.err != nil {
		return nil, res.err
	}
	return res.expr, nil
}

func (c *exprConverter) resolve(r converted, hint *pb.Type) converted {
	if r.err != nil || r.pending == nil {
		return r
	}
	e, t, err := literalOf(r.pending.Value, hint)
	if err != nil {
		return converted{err: err}
	}
	return converted{expr: e, typ: t}
}

func (c *exprConverter) VisitLiteral(n expr.Literal) converted {
	if !n.Type.Valid() {
		lit := n
		return converted{pending: &lit}
	}
	t, err := plan.TypeFor(n.Type)
	if err != nil {
		return converted{err: err}
	}
	e, t, err := literalOf(n.Value, t)
	if err != nil {
		return converted{err: err}
	}
	return converted{expr: e, typ: t}
}

func (c *exprConverter) VisitFieldRef(n expr.FieldRef) converted {
	idx := -1
	if n.Index != nil {
		idx = *n.Index
		if idx < 0 || idx >= len(c.types) {
			return failed("field index %d out of range", idx)
		}
	} else {
		for i, name := range c.names {
			if strings.EqualFold(name, n.Name) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return failed("column %q not found in schema", n.Name)
		}
	}
	return converted{expr: fieldReference(int32(idx)), typ: c.types[idx]}
}

func (c *exprConverter) VisitCall(n expr.Call) converted {
	ops := make([]converted, len(n.Operands))
	var hint *pb.Type
	for i, o := range n.Operands {
		ops[i] = expr.Accept[converted](o, c)
		if ops[i].err != nil {
			return ops[i]
		}
		if hint == nil && ops[i].pending == nil {
			hint = ops[i].typ
		}
	}

	switch n.Op {
	case expr.OpAnd, expr.OpOr, expr.OpNot:
		args := make([]*pb.Expression, len(ops))
		for i, o := range ops {
			r := c.resolve(o, plan.BoolType())
			if r.err != nil {
				return r
			}
			args[i] = r.expr
		}
		return c.boolean(string(n.Op), args...)
	case expr.OpEq, expr.OpNe, expr.OpGt, expr.OpLt, expr.OpGe, expr.OpLe:
		l, r := c.resolve(ops[0], hint), c.resolve(ops[1], hint)
		if l.err != nil {
			return l
		}
		if r.err != nil {
			return r
		}
		return c.compare(comparisonFunctions[n.Op], l, r)
	case expr.OpBetween:
		v, lo, hi := c.resolve(ops[0], hint), c.resolve(ops[1], hint), c.resolve(ops[2], hint)
		for _, o := range []converted{v, lo, hi} {
			if o.err != nil {
				return o
			}
		}
		ge := c.compare("gte", v, lo)
		le := c.compare("lte", converted{expr: cloneExpr(v.expr), typ: v.typ}, hi)
		return c.boolean("and", ge.expr, le.expr)
	case expr.OpIn:
		v := c.resolve(ops[0], hint)
		if v.err != nil {
			return v
		}
		eqs := make([]*pb.Expression, 0, len(ops)-1)
		for i, o := range ops[1:] {
			item := c.resolve(o, v.typ)
			if item.err != nil {
				return item
			}
			lhs := v
			if i > 0 {
				lhs = converted{expr: cloneExpr(v.expr), typ: v.typ}
			}
			eqs = append(eqs, c.compare("equal", lhs, item).expr)
		}
		if len(eqs) == 1 {
			return converted{expr: eqs[0], typ: plan.BoolType()}
		}
		return c.boolean("or", eqs...)
	}
	return failed("operator %q cannot be converted", n.Op)
}

func (c *exprConverter) VisitCast(n expr.Cast) converted {
	in := c.resolve(expr.Accept[converted](n.Operand, c), nil)
	if in.err != nil {
		return in
	}
	t, err := plan.TypeFor(n.Target)
	if err != nil {
		return converted{err: err}
	}
	return converted{
		expr: &pb.Expression{
			RexType: &pb.Expression_Cast_{
				Cast: &pb.Expression_Cast{
					Type:            t,
					Input:           in.expr,
					FailureBehavior: pb.Expression_Cast_FAILURE_BEHAVIOR_THROW_EXCEPTION,
				},
			},
		},
		typ: t,
	}
}

func (c *exprConverter) VisitNullCheck(n expr.NullCheck) converted {
	in := c.resolve(expr.Accept[converted](n.Operand, c), nil)
	if in.err != nil {
		return in
	}
	name := "is_null"
	if n.Negated {
		name = "is_not_null"
	}
	uri := c.anchors.extensionURI(c.plan, extensionURIComparison)
	fn := c.anchors.function(c.plan, name+":any", uri)
	out := &pb.Type{Kind: &pb.Type_Bool{Bool: &pb.Type_Boolean{Nullability: pb.Type_NULLABILITY_REQUIRED}}}
	return converted{expr: scalarFunction(fn, out, in.expr), typ: out}
}

func (c *exprConverter) VisitRaw(n expr.Raw) converted {
	return failed("raw expression %q cannot be converted", n.Expression)
}

func (c *exprConverter) compare(name string, l, r converted) converted {
	uri := c.anchors.extensionURI(c.plan, extensionURIComparison)
	fn := c.anchors.function(c.plan, name+":"+signature(l.typ)+"_"+signature(r.typ), uri)
	out := plan.BoolType()
	return converted{expr: scalarFunction(fn, out, l.expr, r.expr), typ: out}
}

func (c *exprConverter) boolean(name string, args ...*pb.Expression) converted {
	uri := c.anchors.extensionURI(c.plan, extensionURIBoolean)
	fn := c.anchors.function(c.plan, name+":bool", uri)
	out := plan.BoolType()
	return converted{expr: scalarFunction(fn, out, args...), typ: out}
}

// and conjoins conditions; a single condition is returned as is.
func (c *exprConverter) and(conds ...*pb.Expression) *pb.Expression {
	if len(conds) == 1 {
		return conds[0]
	}
	return c.boolean("and", conds...).expr
}

func (c *exprConverter) not(e *pb.Expression) *pb.Expression {
	return c.boolean("not", e).expr
}

func cloneExpr(e *pb.Expression) *pb.Expression {
	return proto.Clone(e).(*pb.Expression)
}

// signature returns the short type name used in function signatures.
func signature(t *pb.Type) string {
	switch t.GetKind().(type) {
	case *pb.Type_I8_:
		return "i8"
	case *pb.Type_I16_:
		return "i16"
	case *pb.Type_I32_:
		return "i32"
	case *pb.Type_I64_:
		return "i64"
	case *pb.Type_Fp32:
		return "fp32"
	case *pb.Type_Fp64:
		return "fp64"
	case *pb.Type_Bool:
		return "bool"
	case *pb.Type_String_:
		return "str"
	case *pb.Type_Varchar:
		return "vchar"
	case *pb.Type_FixedChar_:
		return "fchar"
	case *pb.Type_Binary_:
		return "vbin"
	case *pb.Type_FixedBinary_:
		return "fbin"
	case *pb.Type_Decimal_:
		return "dec"
	case *pb.Type_Date_:
		return "date"
	case *pb.Type_Time_:
		return "time"
	case *pb.Type_Timestamp_:
		return "ts"
	case *pb.Type_TimestampTz:
		return "tstz"
	case *pb.Type_IntervalYear_:
		return "iyear"
	case *pb.Type_IntervalDay_:
		return "iday"
	case *pb.Type_Uuid:
		return "uuid"
	}
	return "any"
}

// literalOf builds a literal for v. With a target type the value is coerced
// to it; without one the type follows the Go value.
func literalOf(v any, target *pb.Type) (*pb.Expression, *pb.Type, error) {
	if v == nil {
		if target == nil {
			return nil, nil, fmt.Errorf("untyped NULL literal")
		}
		t := plan.Nullable(target)
		return literal(&pb.Expression_Literal{Nullable: true, LiteralType: &pb.Expression_Literal_Null{Null: t}}), t, nil
	}
	if target == nil {
		t, err := inferType(v)
		if err != nil {
			return nil, nil, err
		}
		target = t
	}

	var lit *pb.Expression_Literal
	switch k := target.GetKind().(type) {
	case *pb.Type_I8_:
		i, err := toInt(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_I8{I8: int32(i)}}
	case *pb.Type_I16_:
		i, err := toInt(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_I16{I16: int32(i)}}
	case *pb.Type_I32_:
		i, err := toInt(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_I32{I32: int32(i)}}
	case *pb.Type_I64_:
		i, err := toInt(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_I64{I64: i}}
	case *pb.Type_Fp32:
		f, err := toFloat(v)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Fp32{Fp32: float32(f)}}
	case *pb.Type_Fp64:
		f, err := toFloat(v)
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Fp64{Fp64: f}}
	case *pb.Type_Decimal_:
		b, err := decimalBytes(v, k.Decimal.GetScale())
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Decimal_{
			Decimal: &pb.Expression_Literal_Decimal{Value: b, Precision: k.Decimal.GetPrecision(), Scale: k.Decimal.GetScale()},
		}}
	case *pb.Type_Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, nil, fmt.Errorf("expected boolean literal, got %T", v)
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Boolean{Boolean: b}}
	case *pb.Type_String_, *pb.Type_Varchar, *pb.Type_FixedChar_:
		s, ok := v.(string)
		if !ok {
			return nil, nil, fmt.Errorf("expected string literal, got %T", v)
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_String_{String_: s}}
		target = &pb.Type{Kind: &pb.Type_String_{String_: &pb.Type_String{Nullability: pb.Type_NULLABILITY_NULLABLE}}}
	case *pb.Type_Binary_:
		var b []byte
		switch x := v.(type) {
		case []byte:
			b = x
		case string:
			b = []byte(x)
		default:
			return nil, nil, fmt.Errorf("expected binary literal, got %T", v)
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Binary{Binary: b}}
	case *pb.Type_Date_:
		ts, err := toTime(v, "2006-01-02")
		if err != nil {
			return nil, nil, err
		}
		secs := ts.UTC().Unix()
		days := secs / 86400
		if secs%86400 < 0 {
			days--
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Date{Date: int32(days)}}
	case *pb.Type_Time_:
		ts, err := toTime(v, "15:04:05.999999", "15:04:05", "15:04")
		if err != nil {
			return nil, nil, err
		}
		micros := int64(ts.Hour())*3600e6 + int64(ts.Minute())*60e6 + int64(ts.Second())*1e6 + int64(ts.Nanosecond()/1000)
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Time{Time: micros}}
	case *pb.Type_Timestamp_:
		ts, err := toTime(v, time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05", "2006-01-02")
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Timestamp{Timestamp: ts.UnixMicro()}}
	case *pb.Type_TimestampTz:
		ts, err := toTime(v, time.RFC3339Nano, "2006-01-02 15:04:05.999999Z07:00", "2006-01-02 15:04:05", "2006-01-02")
		if err != nil {
			return nil, nil, err
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_TimestampTz{TimestampTz: ts.UnixMicro()}}
	case *pb.Type_Uuid:
		var id uuid.UUID
		switch x := v.(type) {
		case uuid.UUID:
			id = x
		case string:
			parsed, err := uuid.Parse(x)
			if err != nil {
				return nil, nil, fmt.Errorf("uuid literal: %w", err)
			}
			id = parsed
		default:
			return nil, nil, fmt.Errorf("expected uuid literal, got %T", v)
		}
		lit = &pb.Expression_Literal{LiteralType: &pb.Expression_Literal_Uuid{Uuid: id[:]}}
	default:
		return nil, nil, fmt.Errorf("literals of type %s are not supported", signature(target))
	}
	return literal(lit), target, nil
}

func inferType(v any) (*pb.Type, error) {
	switch v.(type) {
	case bool:
		return plan.BoolType(), nil
	case int, int8, int16, int32, int64:
		return &pb.Type{Kind: &pb.Type_I64_{I64: &pb.Type_I64{Nullability: pb.Type_NULLABILITY_NULLABLE}}}, nil
	case float32, float64:
		return &pb.Type{Kind: &pb.Type_Fp64{Fp64: &pb.Type_FP64{Nullability: pb.Type_NULLABILITY_NULLABLE}}}, nil
	case string:
		return &pb.Type{Kind: &pb.Type_String_{String_: &pb.Type_String{Nullability: pb.Type_NULLABILITY_NULLABLE}}}, nil
	case []byte:
		return &pb.Type{Kind: &pb.Type_Binary_{Binary: &pb.Type_Binary{Nullability: pb.Type_NULLABILITY_NULLABLE}}}, nil
	case time.Time:
		return &pb.Type{Kind: &pb.Type_Timestamp_{Timestamp: &pb.Type_Timestamp{Nullability: pb.Type_NULLABILITY_NULLABLE}}}, nil
	}
	return nil, fmt.Errorf("cannot infer literal type for %T", v)
}

func toInt(v any, lo, hi int64) (int64, error) {
	var i int64
	switch x := v.(type) {
	case int:
		i = int64(x)
	case int8:
		i = int64(x)
	case int16:
		i = int64(x)
	case int32:
		i = int64(x)
	case int64:
		i = x
	case float64:
		if x != math.Trunc(x) || x < float64(lo) || x > float64(hi) {
			return 0, fmt.Errorf("literal %v is not an integer in range", x)
		}
		i = int64(x)
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, fmt.Errorf("literal %s: %w", x, err)
		}
		i = n
	default:
		return 0, fmt.Errorf("expected integer literal, got %T", v)
	}
	if i < lo || i > hi {
		return 0, fmt.Errorf("literal %d out of range [%d, %d]", i, lo, hi)
	}
	return i, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	}
	return 0, fmt.Errorf("expected numeric literal, got %T", v)
}

func toTime(v any, layouts ...string) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		for _, layout := range layouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a temporal literal", x)
	}
	return time.Time{}, fmt.Errorf("expected temporal literal, got %T", v)
}

var twoTo128 = new(big.Int).Lsh(big.NewInt(1), 128)
var twoTo127 = new(big.Int).Lsh(big.NewInt(1), 127)

// decimalBytes encodes v as a 16-byte little-endian two's complement
// unscaled integer.
func decimalBytes(v any, scale int32) ([]byte, error) {
	r := new(big.Rat)
	switch x := v.(type) {
	case int64:
		r.SetInt64(x)
	case int:
		r.SetInt64(int64(x))
	case float64:
		if _, ok := r.SetString(strconv.FormatFloat(x, 'g', -1, 64)); !ok {
			return nil, fmt.Errorf("decimal literal %v is not finite", x)
		}
	case string:
		if _, ok := r.SetString(x); !ok {
			return nil, fmt.Errorf("cannot parse %q as a decimal", x)
		}
	default:
		return nil, fmt.Errorf("expected decimal literal, got %T", v)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)))
	if !r.IsInt() {
		return nil, fmt.Errorf("decimal literal has more than %d fractional digits", scale)
	}
	u := new(big.Int).Set(r.Num())
	if u.Cmp(twoTo127) >= 0 || u.Cmp(new(big.Int).Neg(twoTo127)) < 0 {
		return nil, fmt.Errorf("decimal literal out of range")
	}
	if u.Sign() < 0 {
		u.Add(u, twoTo128)
	}
	be := u.FillBytes(make([]byte, 16))
	le := make([]byte, 16)
	for i := range be {
		le[i] = be[15-i]
	}
	return le, nil
}
