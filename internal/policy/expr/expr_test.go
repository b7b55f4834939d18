package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"vectorgate/internal/vector"
)

func sampleTree() Node {
	return And(
		Eq(Field("region"), Lit("US")),
		Between(FieldAt(2), Lit(1), TypedLit(9.5, vector.Double)),
		In(Field("tier"), Lit("gold"), Lit("silver")),
		Not(IsNull(CastTo(Field("amount"), vector.BigInt))),
		IsNotNull(Field("owner")),
		RawExpr("length(name) > 3"),
		Gt(Field("active"), Lit(false)),
		Eq(Field("deleted_at"), Lit(nil)),
	)
}

func TestCodec_JSONRoundTripIsByteIdentical(t *testing.T) {
	first, err := MarshalJSON(sampleTree())
	require.NoError(t, err)

	parsed, err := ParseJSON(first)
	require.NoError(t, err)
	assert.True(t, Equal(sampleTree(), parsed))

	second, err := MarshalJSON(parsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCodec_JSONCanonicalShape(t *testing.T) {
	data, err := MarshalJSON(Eq(Field("region"), Lit("US")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodeType":"call","operator":"eq","operands":[
		{"nodeType":"fieldRef","fieldName":"region"},
		{"nodeType":"literal","value":"US"}]}`, string(data))
}

func TestCodec_FloatsStayFloats(t *testing.T) {
	data, err := MarshalJSON(Lit(2.0))
	require.NoError(t, err)
	assert.Equal(t, `{"nodeType":"literal","value":2.0}`, string(data))

	n, err := ParseJSON(data)
	require.NoError(t, err)
	assert.Equal(t, Literal{Value: 2.0}, n)

	n, err = ParseJSON([]byte(`{"nodeType":"literal","value":2}`))
	require.NoError(t, err)
	assert.Equal(t, Literal{Value: int64(2)}, n)
}

func TestCodec_YAMLRoundTripIsByteIdentical(t *testing.T) {
	first, err := yaml.Marshal(ToWire(sampleTree()))
	require.NoError(t, err)

	parsed, err := ParseYAML(first)
	require.NoError(t, err)
	assert.True(t, Equal(sampleTree(), parsed))

	second, err := yaml.Marshal(ToWire(parsed))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestCodec_Shorthand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Node
	}{
		{"operator map", `{"eq":["#ref.region","US"]}`, Eq(Field("region"), Lit("US"))},
		{"ref and const", `{"gt":[{"ref":"amount"},{"const":10}]}`, Gt(Field("amount"), Lit(10))},
		{"not single operand", `{"not":{"eq":["#ref.a",1]}}`, Not(Eq(Field("a"), Lit(1)))},
		{"not in list", `{"not":[{"eq":["#ref.a",1]}]}`, Not(Eq(Field("a"), Lit(1)))},
		{"call object", `{"call":{"function":"ne","args":["#ref.a","x"]}}`, Ne(Field("a"), Lit("x"))},
		{"between object", `{"between":{"field":"#ref.age","low":18,"high":65}}`, Between(Field("age"), Lit(18), Lit(65))},
		{"field index", `{"fieldIndex":3}`, FieldAt(3)},
		{"typed value", `{"value":"2024-01-01","dataType":"DATE"}`, TypedLit("2024-01-01", vector.Date)},
		{"sql type alias", `{"nodeType":"cast","operand":"#ref.x","targetType":"INTEGER"}`, CastTo(Field("x"), vector.Int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON([]byte(tt.in))
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %#v", got)
		})
	}
}

func TestCodec_Errors(t *testing.T) {
	for _, in := range []string{
		`[1,2]`,
		`{"nodeType":"bogus"}`,
		`{"nodeType":"fieldRef","fieldName":"a","fieldIndex":1}`,
		`{"nodeType":"fieldRef"}`,
		`{"nodeType":"raw","expression":""}`,
		`{"nodeType":"cast","operand":1,"targetType":"NOPE"}`,
		`{"a":1,"b":2}`,
		`{"not":[1,2]}`,
	} {
		_, err := ParseJSON([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Lit(1), Lit(int64(1))))
	assert.False(t, Equal(Lit(1), Lit(1.0)))
	assert.False(t, Equal(Lit(1), TypedLit(1, vector.Int)))
	assert.False(t, Equal(Field("a"), FieldAt(0)))
	assert.True(t, Equal(FieldAt(0), FieldAt(0)))
	assert.False(t, Equal(And(Lit(true), Lit(false)), Or(Lit(true), Lit(false))))
	assert.False(t, Equal(IsNull(Field("a")), IsNotNull(Field("a"))))
	assert.True(t, Equal(sampleTree(), sampleTree()))
}

type kindCounter struct{ counts map[string]int }

func (k *kindCounter) VisitLiteral(Literal) int { k.counts["literal"]++; return 1 }

func (k *kindCounter) VisitFieldRef(FieldRef) int { k.counts["fieldRef"]++; return 1 }

func (k *kindCounter) VisitCall(n Call) int {
	k.counts["call"]++
	total := 1
	for _, o := range n.Operands {
		total += Accept[int](o, k)
	}
	return total
}

func (k *kindCounter) VisitCast(n Cast) int { k.counts["cast"]++; return 1 + Accept[int](n.Operand, k) }

func (k *kindCounter) VisitNullCheck(n NullCheck) int {
	k.counts["nullCheck"]++
	return 1 + Accept[int](n.Operand, k)
}

func (k *kindCounter) VisitRaw(Raw) int { k.counts["raw"]++; return 1 }

func TestAccept_DispatchesEveryVariant(t *testing.T) {
	k := &kindCounter{counts: map[string]int{}}
	total := Accept[int](sampleTree(), k)

	assert.Equal(t, 25, total)
	assert.Equal(t, map[string]int{
		"call": 7, "fieldRef": 7, "literal": 7, "cast": 1, "nullCheck": 2, "raw": 1,
	}, k.counts)
}

func TestSQL(t *testing.T) {
	tests := []struct {
		node Node
		want string
	}{
		{Eq(Field("region"), Lit("US")), "region = 'US'"},
		{Eq(Field("name"), Lit("O'Brien")), "name = 'O''Brien'"},
		{Not(RawExpr("region = 'US'")), "NOT (region = 'US')"},
		{And(Gt(Field("a"), Lit(1)), Le(Field("b"), Lit(2.5))), "(a > 1) AND (b <= 2.5)"},
		{Between(Field("d"), TypedLit("2024-01-01", vector.Date), TypedLit("2024-12-31", vector.Date)), "d BETWEEN DATE '2024-01-01' AND DATE '2024-12-31'"},
		{In(Field("t"), Lit("a"), Lit("b")), "t IN ('a', 'b')"},
		{IsNotNull(CastTo(Field("x"), vector.BigInt)), "CAST(x AS BIGINT) IS NOT NULL"},
		{Eq(FieldAt(1), Lit(true)), "$1 = TRUE"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SQL(tt.node))
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sampleTree()))
	assert.Error(t, Validate(Call{Op: OpEq, Operands: []Node{Field("a")}}))
	assert.Error(t, Validate(Call{Op: OpNot}))
	assert.Error(t, Validate(FieldRef{}))
	assert.Error(t, Validate(Literal{Value: []int{1}}))
	assert.Error(t, Validate(nil))
	assert.NoError(t, Validate(Call{Op: "like", Operands: []Node{Field("a"), Lit("x%")}}))
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, []string{"region", "tier", "amount", "owner", "active", "deleted_at"}, FieldNames(sampleTree()))
}
