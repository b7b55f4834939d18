package vector

import "strings"

// TypeMapping documents how one database type name maps onto a logical type.
type TypeMapping struct {
	DatabaseType string
	Logical      LogicalType
	Lossy        bool
	Note         string
}

// DatabaseTypeMappings is the mapping table for relational source types, as
// reported by database/sql ColumnType.DatabaseTypeName (DuckDB and generic
// SQL names). Lossy rows collapse a wider or richer source type onto a
// narrower logical type; that is accepted, not a defect.
var DatabaseTypeMappings = []TypeMapping{
	{DatabaseType: "TINYINT", Logical: TinyInt},
	{DatabaseType: "INT1", Logical: TinyInt},
	{DatabaseType: "UTINYINT", Logical: SmallInt},
	{DatabaseType: "SMALLINT", Logical: SmallInt},
	{DatabaseType: "INT2", Logical: SmallInt},
	{DatabaseType: "USMALLINT", Logical: Int},
	{DatabaseType: "INTEGER", Logical: Int},
	{DatabaseType: "INT", Logical: Int},
	{DatabaseType: "INT4", Logical: Int},
	{DatabaseType: "UINTEGER", Logical: BigInt},
	{DatabaseType: "BIGINT", Logical: BigInt},
	{DatabaseType: "INT8", Logical: BigInt},
	{DatabaseType: "UBIGINT", Logical: BigInt, Lossy: true, Note: "values above 2^63-1 fail to convert"},
	{DatabaseType: "HUGEINT", Logical: Double, Lossy: true, Note: "128-bit integer collapsed to float64"},
	{DatabaseType: "UHUGEINT", Logical: Double, Lossy: true, Note: "128-bit integer collapsed to float64"},
	{DatabaseType: "FLOAT", Logical: Float},
	{DatabaseType: "FLOAT4", Logical: Float},
	{DatabaseType: "REAL", Logical: Double, Lossy: true, Note: "JDBC REAL widened to float64"},
	{DatabaseType: "DOUBLE", Logical: Double},
	{DatabaseType: "FLOAT8", Logical: Double},
	{DatabaseType: "DECIMAL", Logical: Double, Lossy: true, Note: "exact decimal collapsed to float64"},
	{DatabaseType: "NUMERIC", Logical: Double, Lossy: true, Note: "exact decimal collapsed to float64"},
	{DatabaseType: "BOOLEAN", Logical: Bool},
	{DatabaseType: "BOOL", Logical: Bool},
	{DatabaseType: "VARCHAR", Logical: String},
	{DatabaseType: "CHAR", Logical: String},
	{DatabaseType: "TEXT", Logical: String},
	{DatabaseType: "CLOB", Logical: String},
	{DatabaseType: "JSON", Logical: String, Lossy: true, Note: "document rendered as text"},
	{DatabaseType: "ENUM", Logical: String, Lossy: true, Note: "enum label as text"},
	{DatabaseType: "BLOB", Logical: Binary},
	{DatabaseType: "BYTEA", Logical: Binary},
	{DatabaseType: "BINARY", Logical: Binary},
	{DatabaseType: "VARBINARY", Logical: Binary},
	{DatabaseType: "UUID", Logical: UUID},
	{DatabaseType: "DATE", Logical: Date},
	{DatabaseType: "TIME", Logical: Time},
	{DatabaseType: "TIMESTAMP", Logical: Timestamp},
	{DatabaseType: "DATETIME", Logical: Timestamp},
	{DatabaseType: "TIMESTAMP_S", Logical: Timestamp, Lossy: true, Note: "second precision widened to micros"},
	{DatabaseType: "TIMESTAMP_MS", Logical: Timestamp, Lossy: true, Note: "milli precision widened to micros"},
	{DatabaseType: "TIMESTAMP_NS", Logical: Timestamp, Lossy: true, Note: "nanos truncated to micros"},
	{DatabaseType: "TIMESTAMPTZ", Logical: TimestampTZ},
	{DatabaseType: "TIMESTAMP WITH TIME ZONE", Logical: TimestampTZ},
	{DatabaseType: "INTERVAL", Logical: IntervalDay, Lossy: true, Note: "months folded in at 30 days"},
}

var databaseTypeIndex = func() map[string]TypeMapping {
	m := make(map[string]TypeMapping, len(DatabaseTypeMappings))
	for _, tm := range DatabaseTypeMappings {
		m[tm.DatabaseType] = tm
	}
	return m
}()

// MapDatabaseType maps a database type name onto a logical type. Parameterized
// names such as DECIMAL(18,3) or VARCHAR(20) match on their base name.
// Composite and unknown types (LIST, STRUCT, MAP, ...) fall back to String,
// rendered as text, and are reported lossy.
func MapDatabaseType(name string) TypeMapping {
	base := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if tm, ok := databaseTypeIndex[base]; ok {
		return tm
	}
	return TypeMapping{DatabaseType: base, Logical: String, Lossy: true, Note: "unsupported type rendered as text"}
}
