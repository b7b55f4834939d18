package vector

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Vector holds one column's values for one block. Exactly one values slice,
// selected by Type, is populated; Nulls runs parallel to it. The value at a
// null position is the zero value of the physical type and carries no
// meaning.
type Vector struct {
	Type     PhysicalType
	Int32s   []int32
	Int64s   []int64
	Float32s []float32
	Float64s []float64
	Bools    []bool
	Strings  []string
	Bytes    [][]byte
	Nulls    []bool
}

// Len returns the number of values in the populated slice.
func (v *Vector) Len() int {
	switch v.Type {
	case PhysicalInt32:
		return len(v.Int32s)
	case PhysicalInt64:
		return len(v.Int64s)
	case PhysicalFloat32:
		return len(v.Float32s)
	case PhysicalFloat64:
		return len(v.Float64s)
	case PhysicalBool:
		return len(v.Bools)
	case PhysicalString:
		return len(v.Strings)
	case PhysicalBytes:
		return len(v.Bytes)
	default:
		return 0
	}
}

// IsNull reports whether row is null.
func (v *Vector) IsNull(row int) bool { return v.Nulls[row] }

// Raw returns the physical value at row, or nil when the row is null.
func (v *Vector) Raw(row int) any {
	if v.Nulls[row] {
		return nil
	}
	switch v.Type {
	case PhysicalInt32:
		return v.Int32s[row]
	case PhysicalInt64:
		return v.Int64s[row]
	case PhysicalFloat32:
		return v.Float32s[row]
	case PhysicalFloat64:
		return v.Float64s[row]
	case PhysicalBool:
		return v.Bools[row]
	case PhysicalString:
		return v.Strings[row]
	case PhysicalBytes:
		return v.Bytes[row]
	default:
		return nil
	}
}

func (v *Vector) validate(rows int) error {
	if v.Type == PhysicalInvalid {
		return fmt.Errorf("vector has no physical type")
	}
	if n := v.Len(); n != rows {
		return fmt.Errorf("vector has %d values, want %d", n, rows)
	}
	if len(v.Nulls) != rows {
		return fmt.Errorf("vector has %d null flags, want %d", len(v.Nulls), rows)
	}
	return nil
}

// checkValues rejects values the logical type cannot represent: narrow
// integers outside their range and strings that are not UTF-8.
func (v *Vector) checkValues(t LogicalType) error {
	switch t {
	case TinyInt, SmallInt:
		lo, hi := intRange(t)
		for row, n := range v.Int32s {
			if !v.Nulls[row] && (int64(n) < lo || int64(n) > hi) {
				return fmt.Errorf("row %d: value %d out of range for %s", row, n, t)
			}
		}
	case String:
		for row, s := range v.Strings {
			if !v.Nulls[row] && !utf8.ValidString(s) {
				return fmt.Errorf("row %d: string is not valid UTF-8", row)
			}
		}
	}
	return nil
}

// Reader gives random access to a vector's values, decoded into the Go
// representation of the field's logical type.
type Reader struct {
	field Field
	vec   *Vector
}

// NewReader returns a reader for vec interpreted as field.
func NewReader(field Field, vec *Vector) Reader {
	return Reader{field: field, vec: vec}
}

// Len returns the number of rows.
func (r Reader) Len() int { return len(r.vec.Nulls) }

// IsNull reports whether row is null.
func (r Reader) IsNull(row int) bool { return r.vec.Nulls[row] }

// Value returns the logical value at row, or nil when null:
//
//	TinyInt int8, SmallInt int16, Int int32, BigInt int64,
//	Float float32, Double float64, Bool bool, String string,
//	Binary []byte, UUID uuid.UUID, Date/Timestamp/TimestampTZ time.Time (UTC),
//	Time/IntervalDay time.Duration, IntervalYear int32 (months).
func (r Reader) Value(row int) any {
	if r.vec.Nulls[row] {
		return nil
	}
	switch r.field.Type {
	case TinyInt:
		return int8(r.vec.Int32s[row])
	case SmallInt:
		return int16(r.vec.Int32s[row])
	case Int, IntervalYear:
		return r.vec.Int32s[row]
	case BigInt:
		return r.vec.Int64s[row]
	case Float:
		return r.vec.Float32s[row]
	case Double:
		return r.vec.Float64s[row]
	case Bool:
		return r.vec.Bools[row]
	case String:
		return r.vec.Strings[row]
	case Binary:
		return r.vec.Bytes[row]
	case UUID:
		id, err := uuid.FromBytes(r.vec.Bytes[row])
		if err != nil {
			return r.vec.Bytes[row]
		}
		return id
	case Date:
		return time.Unix(r.vec.Int64s[row]*secondsPerDay, 0).UTC()
	case Time, IntervalDay:
		return time.Duration(r.vec.Int64s[row]) * time.Microsecond
	case Timestamp, TimestampTZ:
		return time.UnixMicro(r.vec.Int64s[row]).UTC()
	default:
		return r.vec.Raw(row)
	}
}
