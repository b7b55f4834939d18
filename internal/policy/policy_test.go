package policy

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vectorgate/internal/policy/expr"
)

var orders = []string{"sales", "orders"}

func mustSet(t *testing.T, policies ...Policy) *Set {
	t.Helper()
	s, err := NewSet(policies...)
	require.NoError(t, err)
	return s
}

func tableAccess(verb Verb, table ...string) Action {
	return Action{Kind: KindTableAccess, Verb: verb, Table: table}
}

func columns(mode ColumnsMode, cols ...string) Action {
	return Action{Kind: KindColumnAccess, Verb: VerbAllow, Table: orders, ColumnsMode: mode, Columns: cols}
}

func TestResolve_TableDenyIsMonotonic(t *testing.T) {
	deny := Policy{Name: "blocked", Actions: []Action{tableAccess(VerbDeny, "sales", "orders")}}
	allow := Policy{Name: "readers", Actions: []Action{tableAccess(VerbAllow, "sales", "orders")}}

	for _, set := range []*Set{mustSet(t, deny, allow), mustSet(t, allow, deny)} {
		r := set.Resolve([]string{"readers", "blocked"}, orders)
		assert.True(t, r.IsDenied())
		assert.Equal(t, Denied, r.TableAccess)
	}

	// A deny only affects members.
	r := mustSet(t, deny, allow).Resolve([]string{"readers"}, orders)
	assert.False(t, r.IsDenied())
}

func TestResolve_NonMemberAllowHasNoEffect(t *testing.T) {
	set := mustSet(t, Policy{Name: "readers", Actions: []Action{tableAccess(VerbAllow, "sales", "orders")}})
	r := set.Resolve(nil, orders)
	assert.Equal(t, Allowed, r.TableAccess)
	assert.False(t, r.HasRowFilters())
	assert.Nil(t, r.ColumnAccess)
}

func TestResolve_ExclusiveRowFilterIsNegatedForNonMembers(t *testing.T) {
	set := mustSet(t, Policy{Name: "analyst", Actions: []Action{{
		Kind:          KindRowFilter,
		Verb:          VerbAllow,
		Table:         orders,
		Expression:    expr.Eq(expr.Field("region"), expr.Lit("US")),
		RawExpression: "region = 'US'",
		Exclusive:     true,
	}}})

	r := set.Resolve([]string{"someone-else"}, orders)
	require.Len(t, r.RowFilters, 1)
	f := r.RowFilters[0]
	assert.True(t, f.Negated)
	assert.Equal(t, "analyst", f.Policy)
	assert.Equal(t, "NOT (region = 'US')", f.RawExpression)
	assert.True(t, expr.Equal(expr.Not(expr.Eq(expr.Field("region"), expr.Lit("US"))), f.Expression))

	r = set.Resolve([]string{"analyst"}, orders)
	require.Len(t, r.RowFilters, 1)
	assert.False(t, r.RowFilters[0].Negated)
	assert.Equal(t, "region = 'US'", r.RowFilters[0].RawExpression)
}

func TestResolve_NonExclusiveRowFilterSkipsNonMembers(t *testing.T) {
	set := mustSet(t, Policy{Name: "analyst", Actions: []Action{{
		Kind: KindRowFilter, Verb: VerbAllow, Table: orders, RawExpression: "region = 'US'",
	}}})
	assert.Empty(t, set.Resolve(nil, orders).RowFilters)
}

func TestResolve_ExclusiveExpressionOnlyKeepsRawEmpty(t *testing.T) {
	set := mustSet(t, Policy{Name: "analyst", Actions: []Action{{
		Kind: KindRowFilter, Verb: VerbAllow, Table: orders,
		Expression: expr.Eq(expr.Field("region"), expr.Lit("US")), Exclusive: true,
	}}})
	f := set.Resolve(nil, orders).RowFilters[0]
	assert.Empty(t, f.RawExpression)
	assert.Equal(t, "NOT (region = 'US')", expr.SQL(f.Expression))
}

func TestResolve_ColumnAccessIsOrderDependent(t *testing.T) {
	p1 := Policy{Name: "p1", Actions: []Action{columns(ColumnsInclude, "id", "name")}}
	p2 := Policy{Name: "p2", Actions: []Action{columns(ColumnsExclude, "name")}}

	r := mustSet(t, p1, p2).Resolve([]string{"p1", "p2"}, orders)
	require.NotNil(t, r.ColumnAccess)
	assert.Equal(t, "p2", r.ColumnAccess.Policy)

	r = mustSet(t, p2, p1).Resolve([]string{"p1", "p2"}, orders)
	assert.Equal(t, "p1", r.ColumnAccess.Policy)
	assert.Equal(t, ColumnsInclude, r.ColumnAccess.Mode)
}

func TestResolve_TableWildcard(t *testing.T) {
	set := mustSet(t, Policy{Name: "p", Actions: []Action{tableAccess(VerbDeny, "SALES", "*")}})
	assert.True(t, set.Resolve([]string{"p"}, []string{"sales", "anything"}).IsDenied())
	assert.False(t, set.Resolve([]string{"p"}, []string{"hr", "anything"}).IsDenied())
	assert.False(t, set.Resolve([]string{"p"}, []string{"sales", "a", "b"}).IsDenied())
}

func TestEvaluate_ColumnDecisions(t *testing.T) {
	set := mustSet(t,
		Policy{Name: "pii", Actions: []Action{columns(ColumnsExclude, "pii_*")}},
		Policy{Name: "narrow", Actions: []Action{columns(ColumnsInclude, "id", "pii_*", "amount")}},
	)

	res := set.Evaluate([]string{"pii", "narrow", "not-a-policy"}, orders, []string{"id", "PII_email", "region", "amount"})
	assert.Equal(t, Allowed, res.TableAccess)
	assert.NotNil(t, res.RowFilters)
	assert.Equal(t, []ColumnResult{
		{Column: "id", Access: Allowed},
		{Column: "PII_email", Access: Denied, Policy: "pii"},
		{Column: "region", Access: Denied, Policy: "narrow"},
		{Column: "amount", Access: Allowed},
	}, res.Columns)

	res = set.Evaluate(nil, orders, []string{"pii_email"})
	assert.True(t, res.Columns[0].Allowed())
}

func TestEvaluate_TagsRowFiltersWithPolicy(t *testing.T) {
	set := mustSet(t,
		Policy{Name: "eu", Actions: []Action{{Kind: KindRowFilter, Verb: VerbAllow, Table: orders, RawExpression: "region = 'EU'"}}},
		Policy{Name: "open", Actions: []Action{{Kind: KindRowFilter, Verb: VerbAllow, Table: orders, RawExpression: "status = 'open'"}}},
	)
	res := set.Evaluate([]string{"eu", "open"}, orders, nil)
	require.Len(t, res.RowFilters, 2)
	assert.Equal(t, "eu", res.RowFilters[0].Policy)
	assert.Equal(t, "open", res.RowFilters[1].Policy)
}

func TestMatchTable(t *testing.T) {
	assert.True(t, MatchTable([]string{"sales", "fact_*"}, []string{"Sales", "FACT_orders"}))
	assert.False(t, MatchTable([]string{"sales", "fact_*"}, []string{"sales", "dim_orders"}))
	assert.True(t, MatchTable([]string{"*"}, []string{"x"}))
	assert.False(t, MatchTable([]string{"*"}, []string{"a", "b"}))
	assert.True(t, MatchColumn("pii_*", "PII_SSN"))
	assert.False(t, MatchColumn("pii_*", "email"))
}

func TestNewSet_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    []Policy
	}{
		{"empty name", []Policy{{}}},
		{"duplicate", []Policy{{Name: "a"}, {Name: "a"}}},
		{"no table", []Policy{{Name: "a", Actions: []Action{{Kind: KindTableAccess, Verb: VerbAllow}}}}},
		{"bad verb", []Policy{{Name: "a", Actions: []Action{{Kind: KindTableAccess, Verb: "MAYBE", Table: orders}}}}},
		{"row filter without body", []Policy{{Name: "a", Actions: []Action{{Kind: KindRowFilter, Verb: VerbAllow, Table: orders}}}}},
		{"columns without mode", []Policy{{Name: "a", Actions: []Action{{Kind: KindColumnAccess, Verb: VerbAllow, Table: orders, Columns: []string{"x"}}}}}},
		{"columns without patterns", []Policy{{Name: "a", Actions: []Action{{Kind: KindColumnAccess, Verb: VerbAllow, Table: orders, ColumnsMode: ColumnsInclude}}}}},
		{"bad glob", []Policy{{Name: "a", Actions: []Action{tableAccess(VerbAllow, "sales", "[")}}}},
		{"bad kind", []Policy{{Name: "a", Actions: []Action{{Kind: "OTHER", Verb: VerbAllow, Table: orders}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSet(tt.p...)
			assert.Error(t, err)
		})
	}
}

const sampleJSON = `[
  {
    "name": "analyst",
    "actions": [
      {
        "verb": "ALLOW",
        "type": "ROW_FILTER",
        "table": [
          "sales",
          "orders"
        ],
        "expression": {
          "nodeType": "call",
          "operator": "eq",
          "operands": [
            {
              "nodeType": "fieldRef",
              "fieldName": "region"
            },
            {
              "nodeType": "literal",
              "value": "US"
            }
          ]
        },
        "rawExpression": "region = 'US'",
        "exclusive": true
      },
      {
        "verb": "ALLOW",
        "type": "COLUMN_ACCESS",
        "table": [
          "sales",
          "*"
        ],
        "columns": [
          "pii_*"
        ],
        "columnsMode": "EXCLUDE"
      }
    ]
  },
  {
    "name": "blocked",
    "actions": [
      {
        "verb": "DENY",
        "type": "TABLE_ACCESS",
        "table": [
          "hr",
          "salaries"
        ]
      }
    ]
  }
]
`

func TestIO_JSONRoundTripIsByteIdentical(t *testing.T) {
	set, err := ReadJSON([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())

	out, err := WriteJSON(set)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(out))
}

func TestIO_YAMLRoundTrip(t *testing.T) {
	set, err := ReadJSON([]byte(sampleJSON))
	require.NoError(t, err)

	y, err := WriteYAML(set)
	require.NoError(t, err)

	back, err := ReadYAML(y)
	require.NoError(t, err)
	y2, err := WriteYAML(back)
	require.NoError(t, err)
	assert.Equal(t, string(y), string(y2))

	j, err := WriteJSON(back)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(j))
}

func TestIO_YAMLShorthand(t *testing.T) {
	doc := `
- name: analyst
  actions:
    - verb: allow
      type: row_filter
      table: [sales, orders]
      expression:
        eq: ["#ref.region", "US"]
`
	set, err := ReadYAML([]byte(doc))
	require.NoError(t, err)
	p, ok := set.Policy("analyst")
	require.True(t, ok)
	a := p.Actions[0]
	assert.Equal(t, KindRowFilter, a.Kind)
	assert.Equal(t, VerbAllow, a.Verb)
	assert.True(t, expr.Equal(expr.Eq(expr.Field("region"), expr.Lit("US")), a.Expression))
}

func TestIO_EmptyDocument(t *testing.T) {
	out, err := WriteJSON(Empty())
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(out))

	set, err := ReadYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestIO_RejectsInvalid(t *testing.T) {
	_, err := ReadJSON([]byte(`{"name":"x"}`))
	assert.Error(t, err)
	_, err = ReadJSON([]byte(`[{"name":"x","actions":[{"type":"ROW_FILTER","table":["a"]}]}]`))
	assert.Error(t, err)
	_, err = ReadJSON([]byte(`[{"name":"x","bogus":1}]`))
	assert.Error(t, err)
}

func TestStore_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o600))

	src, err := NewSource(path, S3Config{})
	require.NoError(t, err)
	store := NewStore(nil, src, nil)
	assert.Equal(t, 0, store.Current().Len())

	require.NoError(t, store.Reload(context.Background()))
	assert.Equal(t, 2, store.Current().Len())

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))
	assert.Error(t, store.Reload(context.Background()))
	assert.Equal(t, 2, store.Current().Len())
}

func TestNewSource(t *testing.T) {
	src, err := NewSource("file:///etc/policies.yaml", S3Config{})
	require.NoError(t, err)
	assert.Equal(t, FileSource{Path: "/etc/policies.yaml"}, src)

	src, err = NewSource("s3://bucket/dir/policies.json", S3Config{})
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/dir/policies.json", src.String())

	_, err = NewSource("s3://bucket", S3Config{})
	assert.Error(t, err)
	_, err = NewSource("ftp://host/x", S3Config{})
	assert.Error(t, err)
	_, err = NewSource("", S3Config{})
	assert.Error(t, err)
}

func TestS3Source_Load(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleJSON))
	}))
	defer srv.Close()

	src := NewS3Source("policies", "prod/policies.json", S3Config{
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		KeyID:     "key",
		Secret:    "secret",
		PathStyle: true,
	})
	set, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "/policies/prod/policies.json", gotPath)
}

func TestWrite_FormatSelection(t *testing.T) {
	set, err := Read(strings.NewReader(sampleJSON), FormatFromPath("p.json"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, set, FormatFromPath("p.YML")))
	assert.Contains(t, buf.String(), "name: analyst")

	f, err := ParseFormat("yml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}
