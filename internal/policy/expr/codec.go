package expr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"vectorgate/internal/vector"
)

// Canonical serialized form, discriminated by nodeType:
//
//	{"nodeType":"literal","value":1,"dataType":"INT"}
//	{"nodeType":"fieldRef","fieldName":"region"}   or {"nodeType":"fieldRef","fieldIndex":2}
//	{"nodeType":"call","operator":"eq","operands":[...]}
//	{"nodeType":"cast","operand":{...},"targetType":"BIG_INT"}
//	{"nodeType":"nullCheck","operand":{...},"negated":false}
//	{"nodeType":"raw","expression":"region = 'US'"}
//
// Decoding also accepts the shorthand authoring forms {"eq":["#ref.region","US"]},
// {"ref":"region"}, {"const":1}, {"call":{"function":"eq","args":[...]}} and
// {"between":{"field":"x","low":1,"high":2}}. Encoding always emits the
// canonical form, so decode-then-encode of canonical input is byte-identical.

// RefPrefix marks a shorthand string operand as a field reference.
const RefPrefix = "#ref."

type wireLiteral struct {
	NodeType string       `json:"nodeType" yaml:"nodeType"`
	Value    literalValue `json:"value" yaml:"value"`
	DataType string       `json:"dataType,omitempty" yaml:"dataType,omitempty"`
}

type wireFieldRef struct {
	NodeType   string `json:"nodeType" yaml:"nodeType"`
	FieldName  string `json:"fieldName,omitempty" yaml:"fieldName,omitempty"`
	FieldIndex *int   `json:"fieldIndex,omitempty" yaml:"fieldIndex,omitempty"`
}

type wireCall struct {
	NodeType string `json:"nodeType" yaml:"nodeType"`
	Operator string `json:"operator" yaml:"operator"`
	Operands []any  `json:"operands" yaml:"operands"`
}

type wireCast struct {
	NodeType   string `json:"nodeType" yaml:"nodeType"`
	Operand    any    `json:"operand" yaml:"operand"`
	TargetType string `json:"targetType" yaml:"targetType"`
}

type wireNullCheck struct {
	NodeType string `json:"nodeType" yaml:"nodeType"`
	Operand  any    `json:"operand" yaml:"operand"`
	Negated  bool   `json:"negated" yaml:"negated"`
}

type wireRaw struct {
	NodeType   string `json:"nodeType" yaml:"nodeType"`
	Expression string `json:"expression" yaml:"expression"`
}

// literalValue keeps floats distinguishable from integers in text form:
// a float always carries a '.' or exponent.
type literalValue struct{ v any }

func (l literalValue) MarshalJSON() ([]byte, error) {
	if f, ok := l.v.(float64); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("literal: non-finite float %v", f)
		}
		return []byte(formatFloat(f)), nil
	}
	return json.Marshal(l.v)
}

func (l literalValue) MarshalYAML() (interface{}, error) {
	if f, ok := l.v.(float64); ok {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(f)}, nil
	}
	return l.v, nil
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// ToWire converts n to its canonical serializable form. The result marshals
// with encoding/json and gopkg.in/yaml.v3.
func ToWire(n Node) any {
	return Accept[any](n, wireEncoder{})
}

type wireEncoder struct{}

func (e wireEncoder) VisitLiteral(n Literal) any {
	w := wireLiteral{NodeType: "literal", Value: literalValue{normalizeValue(n.Value)}}
	if n.Type.Valid() {
		w.DataType = n.Type.String()
	}
	return w
}

func (e wireEncoder) VisitFieldRef(n FieldRef) any {
	return wireFieldRef{NodeType: "fieldRef", FieldName: n.Name, FieldIndex: n.Index}
}

func (e wireEncoder) VisitCall(n Call) any {
	ops := make([]any, len(n.Operands))
	for i, o := range n.Operands {
		ops[i] = Accept[any](o, e)
	}
	return wireCall{NodeType: "call", Operator: string(n.Op), Operands: ops}
}

func (e wireEncoder) VisitCast(n Cast) any {
	return wireCast{NodeType: "cast", Operand: Accept[any](n.Operand, e), TargetType: n.Target.String()}
}

func (e wireEncoder) VisitNullCheck(n NullCheck) any {
	return wireNullCheck{NodeType: "nullCheck", Operand: Accept[any](n.Operand, e), Negated: n.Negated}
}

func (e wireEncoder) VisitRaw(n Raw) any {
	return wireRaw{NodeType: "raw", Expression: n.Expression}
}

// MarshalJSON encodes n in canonical JSON.
func MarshalJSON(n Node) ([]byte, error) {
	return json.Marshal(ToWire(n))
}

// ParseJSON decodes an expression from JSON in canonical or shorthand form.
func ParseJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return FromValue(v)
}

// ParseYAML decodes an expression from YAML in canonical or shorthand form.
func ParseYAML(data []byte) (Node, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return FromValue(v)
}

// FromValue builds a node from a generic decoded document: JSON decoded with
// UseNumber, or YAML decoded into interface{}.
func FromValue(v any) (Node, error) {
	switch x := v.(type) {
	case nil:
		return Literal{}, nil
	case string:
		if strings.HasPrefix(x, RefPrefix) && len(x) > len(RefPrefix) {
			return Field(strings.TrimPrefix(x, RefPrefix)), nil
		}
		return Lit(x), nil
	case bool:
		return Lit(x), nil
	case json.Number, int, int64, uint64, float64:
		val, err := scalarValue(x)
		if err != nil {
			return nil, err
		}
		return Literal{Value: val}, nil
	case []any:
		return nil, fmt.Errorf("unexpected array expression")
	case map[string]any:
		return fromMap(x)
	default:
		return nil, fmt.Errorf("unsupported expression value %T", v)
	}
}

func fromMap(m map[string]any) (Node, error) {
	if nt, ok := m["nodeType"]; ok {
		return fromTyped(fmt.Sprint(nt), m)
	}
	if ref, ok := m["ref"]; ok {
		return Field(fmt.Sprint(ref)), nil
	}
	if _, ok := m["fieldName"]; ok {
		return fromTyped("fieldRef", m)
	}
	if _, ok := m["fieldIndex"]; ok {
		return fromTyped("fieldRef", m)
	}
	if f, ok := m["field"]; ok && len(m) == 1 {
		return Field(fmt.Sprint(f)), nil
	}
	if _, ok := m["value"]; ok {
		return fromTyped("literal", m)
	}
	if c, ok := m["const"]; ok {
		val, err := scalarValue(c)
		if err != nil {
			return nil, err
		}
		return Literal{Value: val}, nil
	}
	if _, ok := m["operator"]; ok {
		return fromTyped("call", m)
	}
	if c, ok := m["call"]; ok {
		return fromCallObject(c)
	}
	if b, ok := m["between"]; ok {
		return fromBetweenObject(b)
	}
	if len(m) == 1 {
		for op, operands := range m {
			return fromOperatorCall(op, operands)
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return nil, fmt.Errorf("cannot parse expression object with keys %v", keys)
}

func fromTyped(nodeType string, m map[string]any) (Node, error) {
	switch nodeType {
	case "literal":
		val, err := scalarValue(m["value"])
		if err != nil {
			return nil, err
		}
		lit := Literal{Value: val}
		if dt, ok := m["dataType"]; ok && dt != nil {
			t, err := parseType(fmt.Sprint(dt))
			if err != nil {
				return nil, fmt.Errorf("literal: %w", err)
			}
			lit.Type = t
		}
		return lit, nil
	case "fieldRef":
		ref := FieldRef{}
		if name, ok := m["fieldName"]; ok && name != nil {
			ref.Name = fmt.Sprint(name)
		}
		if idx, ok := m["fieldIndex"]; ok && idx != nil {
			val, err := scalarValue(idx)
			if err != nil {
				return nil, err
			}
			i, ok := val.(int64)
			if !ok {
				return nil, fmt.Errorf("fieldRef: fieldIndex must be an integer")
			}
			n := int(i)
			ref.Index = &n
		}
		if (ref.Name == "") == (ref.Index == nil) {
			return nil, fmt.Errorf("fieldRef needs exactly one of fieldName or fieldIndex")
		}
		return ref, nil
	case "call":
		op := fmt.Sprint(m["operator"])
		if m["operator"] == nil || op == "" {
			return nil, fmt.Errorf("call requires an operator")
		}
		operands, err := fromOperands(m["operands"])
		if err != nil {
			return nil, err
		}
		return Call{Op: Op(op), Operands: operands}, nil
	case "cast":
		operand, err := FromValue(m["operand"])
		if err != nil {
			return nil, err
		}
		t, err := parseType(fmt.Sprint(m["targetType"]))
		if err != nil {
			return nil, fmt.Errorf("cast: %w", err)
		}
		return Cast{Operand: operand, Target: t}, nil
	case "nullCheck":
		operand, err := FromValue(m["operand"])
		if err != nil {
			return nil, err
		}
		negated, _ := m["negated"].(bool)
		return NullCheck{Operand: operand, Negated: negated}, nil
	case "raw":
		text, _ := m["expression"].(string)
		if text == "" {
			return nil, fmt.Errorf("raw expression is empty")
		}
		return Raw{Expression: text}, nil
	default:
		return nil, fmt.Errorf("unknown expression nodeType %q", nodeType)
	}
}

func fromCallObject(v any) (Node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("call expression must be an object")
	}
	op, _ := m["function"].(string)
	if op == "" {
		op, _ = m["operator"].(string)
	}
	if op == "" {
		return nil, fmt.Errorf("call expression requires function/operator")
	}
	operands, err := fromOperands(m["args"])
	if err != nil {
		return nil, err
	}
	return Call{Op: Op(op), Operands: operands}, nil
}

func fromBetweenObject(v any) (Node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("between expression must be an object")
	}
	field, ok := m["field"]
	if !ok {
		return nil, fmt.Errorf("between expression requires field")
	}
	value, err := FromValue(field)
	if err != nil {
		return nil, err
	}
	low, err := FromValue(m["low"])
	if err != nil {
		return nil, err
	}
	high, err := FromValue(m["high"])
	if err != nil {
		return nil, err
	}
	return Between(value, low, high), nil
}

func fromOperatorCall(op string, operands any) (Node, error) {
	if strings.EqualFold(op, string(OpNot)) {
		if list, ok := operands.([]any); ok {
			if len(list) != 1 {
				return nil, fmt.Errorf("not expects exactly one operand")
			}
			operands = list[0]
		}
		n, err := FromValue(operands)
		if err != nil {
			return nil, err
		}
		return Not(n), nil
	}
	ops, err := fromOperands(operands)
	if err != nil {
		return nil, err
	}
	return Call{Op: Op(strings.ToLower(op)), Operands: ops}, nil
}

func fromOperands(v any) ([]Node, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		n, err := FromValue(v)
		if err != nil {
			return nil, err
		}
		return []Node{n}, nil
	}
	out := make([]Node, len(list))
	for i, item := range list {
		n, err := FromValue(item)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

func scalarValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string:
		return x, nil
	case json.Number:
		s := x.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := x.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("literal number %s: %w", s, err)
		}
		return f, nil
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return float64(x), nil
		}
		return int64(x), nil
	case float64:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported literal value %T", v)
	}
}

func parseType(name string) (vector.LogicalType, error) {
	if t, err := vector.ParseLogicalType(name); err == nil {
		return t, nil
	}
	if tm := vector.MapDatabaseType(name); !tm.Lossy {
		return tm.Logical, nil
	}
	return vector.TypeInvalid, fmt.Errorf("unknown type %q", name)
}
