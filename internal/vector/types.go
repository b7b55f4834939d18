// Package vector implements the typed columnar batch format used for every
// query result: logical and physical types, null-aware vectors, blocks and
// the producers, readers and codecs built around them.
package vector

import (
	"fmt"
	"strings"
)

// PhysicalType is the wire representation of a column's values.
type PhysicalType uint8

// Physical types.
const (
	PhysicalInvalid PhysicalType = iota
	PhysicalInt32
	PhysicalInt64
	PhysicalFloat32
	PhysicalFloat64
	PhysicalBool
	PhysicalString
	PhysicalBytes
)

var physicalNames = [...]string{
	PhysicalInvalid: "invalid",
	PhysicalInt32:   "i32",
	PhysicalInt64:   "i64",
	PhysicalFloat32: "fp32",
	PhysicalFloat64: "fp64",
	PhysicalBool:    "bool",
	PhysicalString:  "string",
	PhysicalBytes:   "bytes",
}

func (p PhysicalType) String() string {
	if int(p) < len(physicalNames) {
		return physicalNames[p]
	}
	return fmt.Sprintf("PhysicalType(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p PhysicalType) MarshalText() ([]byte, error) {
	if p == PhysicalInvalid || int(p) >= len(physicalNames) {
		return nil, fmt.Errorf("invalid physical type %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PhysicalType) UnmarshalText(b []byte) error {
	for i, name := range physicalNames {
		if i > 0 && name == string(b) {
			*p = PhysicalType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown physical type %q", string(b))
}

// LogicalType is the semantic type of a column. Every logical type maps onto
// exactly one PhysicalType.
type LogicalType uint8

// Logical types.
const (
	TypeInvalid LogicalType = iota
	TinyInt
	SmallInt
	Int
	BigInt
	Float
	Double
	Bool
	String
	Binary
	Date
	Time
	Timestamp
	TimestampTZ
	IntervalDay
	IntervalYear
	UUID
)

var logicalNames = [...]string{
	TypeInvalid:  "INVALID",
	TinyInt:      "TINY_INT",
	SmallInt:     "SMALL_INT",
	Int:          "INT",
	BigInt:       "BIG_INT",
	Float:        "FLOAT",
	Double:       "DOUBLE",
	Bool:         "BOOL",
	String:       "STRING",
	Binary:       "BINARY",
	Date:         "DATE",
	Time:         "TIME",
	Timestamp:    "TIMESTAMP",
	TimestampTZ:  "TIMESTAMP_TZ",
	IntervalDay:  "INTERVAL_DAY",
	IntervalYear: "INTERVAL_YEAR",
	UUID:         "UUID",
}

// LogicalTypes lists every valid logical type in declaration order.
func LogicalTypes() []LogicalType {
	out := make([]LogicalType, 0, len(logicalNames)-1)
	for i := 1; i < len(logicalNames); i++ {
		out = append(out, LogicalType(i))
	}
	return out
}

func (t LogicalType) String() string {
	if int(t) < len(logicalNames) {
		return logicalNames[t]
	}
	return fmt.Sprintf("LogicalType(%d)", uint8(t))
}

// Valid reports whether t is one of the declared logical types.
func (t LogicalType) Valid() bool {
	return t > TypeInvalid && int(t) < len(logicalNames)
}

// ParseLogicalType parses a logical type name, case-insensitively.
func ParseLogicalType(s string) (LogicalType, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i := 1; i < len(logicalNames); i++ {
		if logicalNames[i] == upper {
			return LogicalType(i), nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown logical type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t LogicalType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid logical type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LogicalType) UnmarshalText(b []byte) error {
	parsed, err := ParseLogicalType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Physical returns the wire representation for t.
//
//	TinyInt, SmallInt, Int, IntervalYear(months)  -> i32
//	BigInt, Date(days), Time(µs of day),
//	Timestamp(µs), TimestampTZ(µs, UTC),
//	IntervalDay(µs)                               -> i64
//	Float -> fp32, Double -> fp64, Bool -> bool
//	String -> string, Binary, UUID(16 bytes)      -> bytes
func (t LogicalType) Physical() PhysicalType {
	switch t {
	case TinyInt, SmallInt, Int, IntervalYear:
		return PhysicalInt32
	case BigInt, Date, Time, Timestamp, TimestampTZ, IntervalDay:
		return PhysicalInt64
	case Float:
		return PhysicalFloat32
	case Double:
		return PhysicalFloat64
	case Bool:
		return PhysicalBool
	case String:
		return PhysicalString
	case Binary, UUID:
		return PhysicalBytes
	default:
		return PhysicalInvalid
	}
}
