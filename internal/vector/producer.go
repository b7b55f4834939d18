package vector

import (
	"fmt"
	"math"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const secondsPerDay = 86400

// Producer accumulates one column's values during batch assembly.
type Producer struct {
	typ LogicalType
	vec Vector
}

// NewProducer returns an empty producer for the given logical type.
func NewProducer(t LogicalType) *Producer {
	p := &Producer{typ: t}
	p.Reset()
	return p
}

// Type returns the producer's logical type.
func (p *Producer) Type() LogicalType { return p.typ }

// Len returns the number of values appended since the last reset.
func (p *Producer) Len() int { return len(p.vec.Nulls) }

// Reset discards accumulated values.
func (p *Producer) Reset() {
	p.vec = Vector{Type: p.typ.Physical()}
}

// Build hands the accumulated vector to the caller and resets the producer,
// so values never leak into the next batch.
func (p *Producer) Build() Vector {
	v := p.vec
	p.Reset()
	return v
}

// Append adds one value. When isNull is set (or value is nil) the physical
// zero value is stored as placeholder.
func (p *Producer) Append(value any, isNull bool) error {
	if value == nil {
		isNull = true
	}
	if isNull {
		p.appendZero()
		return nil
	}
	if err := p.appendValue(value); err != nil {
		return fmt.Errorf("%s column: %w", p.typ, err)
	}
	p.vec.Nulls = append(p.vec.Nulls, false)
	return nil
}

func (p *Producer) appendZero() {
	switch p.vec.Type {
	case PhysicalInt32:
		p.vec.Int32s = append(p.vec.Int32s, 0)
	case PhysicalInt64:
		p.vec.Int64s = append(p.vec.Int64s, 0)
	case PhysicalFloat32:
		p.vec.Float32s = append(p.vec.Float32s, 0)
	case PhysicalFloat64:
		p.vec.Float64s = append(p.vec.Float64s, 0)
	case PhysicalBool:
		p.vec.Bools = append(p.vec.Bools, false)
	case PhysicalString:
		p.vec.Strings = append(p.vec.Strings, "")
	case PhysicalBytes:
		p.vec.Bytes = append(p.vec.Bytes, nil)
	}
	p.vec.Nulls = append(p.vec.Nulls, true)
}

func (p *Producer) appendValue(value any) error {
	switch p.typ {
	case TinyInt, SmallInt, Int, IntervalYear:
		n, err := toInt64(value)
		if err != nil {
			return err
		}
		lo, hi := intRange(p.typ)
		if n < lo || n > hi {
			return fmt.Errorf("value %d out of range for %s", n, p.typ)
		}
		p.vec.Int32s = append(p.vec.Int32s, int32(n))
	case BigInt:
		n, err := toInt64(value)
		if err != nil {
			return err
		}
		p.vec.Int64s = append(p.vec.Int64s, n)
	case Float:
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		p.vec.Float32s = append(p.vec.Float32s, float32(f))
	case Double:
		f, err := toFloat64(value)
		if err != nil {
			return err
		}
		p.vec.Float64s = append(p.vec.Float64s, f)
	case Bool:
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("unsupported value %T", value)
		}
		p.vec.Bools = append(p.vec.Bools, b)
	case String:
		var str string
		switch v := value.(type) {
		case string:
			str = v
		case []byte:
			str = string(v)
		case fmt.Stringer:
			str = v.String()
		default:
			return fmt.Errorf("unsupported value %T", value)
		}
		if !utf8.ValidString(str) {
			return fmt.Errorf("string value is not valid UTF-8, use BINARY for raw bytes")
		}
		p.vec.Strings = append(p.vec.Strings, str)
	case Binary:
		switch v := value.(type) {
		case []byte:
			p.vec.Bytes = append(p.vec.Bytes, v)
		case string:
			p.vec.Bytes = append(p.vec.Bytes, []byte(v))
		default:
			return fmt.Errorf("unsupported value %T", value)
		}
	case UUID:
		id, err := toUUID(value)
		if err != nil {
			return err
		}
		p.vec.Bytes = append(p.vec.Bytes, id[:])
	case Date:
		switch v := value.(type) {
		case time.Time:
			y, m, d := v.Date()
			p.vec.Int64s = append(p.vec.Int64s, time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()/secondsPerDay)
		default:
			n, err := toInt64(value)
			if err != nil {
				return err
			}
			p.vec.Int64s = append(p.vec.Int64s, n)
		}
	case Time:
		switch v := value.(type) {
		case time.Time:
			micros := int64(v.Hour())*3600e6 + int64(v.Minute())*60e6 + int64(v.Second())*1e6 + int64(v.Nanosecond())/1e3
			p.vec.Int64s = append(p.vec.Int64s, micros)
		case time.Duration:
			p.vec.Int64s = append(p.vec.Int64s, v.Microseconds())
		default:
			n, err := toInt64(value)
			if err != nil {
				return err
			}
			p.vec.Int64s = append(p.vec.Int64s, n)
		}
	case Timestamp, TimestampTZ:
		switch v := value.(type) {
		case time.Time:
			p.vec.Int64s = append(p.vec.Int64s, v.UnixMicro())
		default:
			n, err := toInt64(value)
			if err != nil {
				return err
			}
			p.vec.Int64s = append(p.vec.Int64s, n)
		}
	case IntervalDay:
		switch v := value.(type) {
		case time.Duration:
			p.vec.Int64s = append(p.vec.Int64s, v.Microseconds())
		default:
			n, err := toInt64(value)
			if err != nil {
				return err
			}
			p.vec.Int64s = append(p.vec.Int64s, n)
		}
	default:
		return fmt.Errorf("invalid logical type")
	}
	return nil
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case *big.Int:
		if !v.IsInt64() {
			return 0, fmt.Errorf("value %s overflows int64", v)
		}
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("unsupported value %T", value)
	}
}

// floater matches decimal types that expose a float conversion, such as the
// DuckDB driver's Decimal.
type floater interface {
	Float64() float64
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(v).Float64()
		return f, nil
	case floater:
		return v.Float64(), nil
	default:
		n, err := toInt64(value)
		if err != nil {
			return 0, err
		}
		return float64(n), nil
	}
}

func toUUID(value any) (uuid.UUID, error) {
	switch v := value.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	case string:
		return uuid.Parse(v)
	case fmt.Stringer:
		return uuid.Parse(v.String())
	default:
		return uuid.UUID{}, fmt.Errorf("unsupported value %T", value)
	}
}

// intRange is the value range of the logical types stored as int32.
func intRange(t LogicalType) (int64, int64) {
	switch t {
	case TinyInt:
		return math.MinInt8, math.MaxInt8
	case SmallInt:
		return math.MinInt16, math.MaxInt16
	}
	return math.MinInt32, math.MaxInt32
}
