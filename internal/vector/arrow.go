package vector

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// LogicalTypeMetadataKey is the Arrow field metadata key carrying the
// logical type, so a round trip through Arrow is exact.
const LogicalTypeMetadataKey = "vectorgate.logical_type"

var timestampUTC = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// ArrowType returns the Arrow type used for t.
func ArrowType(t LogicalType) (arrow.DataType, error) {
	switch t {
	case TinyInt:
		return arrow.PrimitiveTypes.Int8, nil
	case SmallInt:
		return arrow.PrimitiveTypes.Int16, nil
	case Int:
		return arrow.PrimitiveTypes.Int32, nil
	case BigInt:
		return arrow.PrimitiveTypes.Int64, nil
	case Float:
		return arrow.PrimitiveTypes.Float32, nil
	case Double:
		return arrow.PrimitiveTypes.Float64, nil
	case Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case String:
		return arrow.BinaryTypes.String, nil
	case Binary:
		return arrow.BinaryTypes.Binary, nil
	case UUID:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	case Date:
		return arrow.FixedWidthTypes.Date32, nil
	case Time:
		return arrow.FixedWidthTypes.Time64us, nil
	case Timestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond}, nil
	case TimestampTZ:
		return timestampUTC, nil
	case IntervalDay:
		return arrow.FixedWidthTypes.Duration_us, nil
	case IntervalYear:
		return arrow.FixedWidthTypes.MonthInterval, nil
	default:
		return nil, fmt.Errorf("no arrow type for %s", t)
	}
}

// logicalFromArrow infers a logical type for Arrow fields that carry no
// logical type metadata.
func logicalFromArrow(dt arrow.DataType) (LogicalType, error) {
	switch dt.ID() {
	case arrow.INT8:
		return TinyInt, nil
	case arrow.INT16, arrow.UINT8:
		return SmallInt, nil
	case arrow.INT32, arrow.UINT16:
		return Int, nil
	case arrow.INT64, arrow.UINT32:
		return BigInt, nil
	case arrow.FLOAT32:
		return Float, nil
	case arrow.FLOAT64:
		return Double, nil
	case arrow.BOOL:
		return Bool, nil
	case arrow.STRING:
		return String, nil
	case arrow.BINARY:
		return Binary, nil
	case arrow.FIXED_SIZE_BINARY:
		if dt.(*arrow.FixedSizeBinaryType).ByteWidth == 16 {
			return UUID, nil
		}
		return Binary, nil
	case arrow.DATE32:
		return Date, nil
	case arrow.TIME64:
		return Time, nil
	case arrow.TIMESTAMP:
		if dt.(*arrow.TimestampType).TimeZone != "" {
			return TimestampTZ, nil
		}
		return Timestamp, nil
	case arrow.DURATION:
		return IntervalDay, nil
	case arrow.INTERVAL_MONTHS:
		return IntervalYear, nil
	default:
		return TypeInvalid, fmt.Errorf("unsupported arrow type %s", dt)
	}
}

// ToArrowSchema converts a schema, tagging each field with its logical type.
func ToArrowSchema(s Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     dt,
			Nullable: f.Nullable,
			Metadata: arrow.NewMetadata([]string{LogicalTypeMetadataKey}, []string{f.Type.String()}),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrowSchema converts an Arrow schema back to a Schema.
func FromArrowSchema(as *arrow.Schema) (Schema, error) {
	fields := make([]Field, as.NumFields())
	for i, af := range as.Fields() {
		t, err := fieldLogicalType(af)
		if err != nil {
			return Schema{}, fmt.Errorf("field %q: %w", af.Name, err)
		}
		fields[i] = Field{Index: i, Name: af.Name, Type: t, Nullable: af.Nullable}
	}
	return Schema{Fields: fields}, nil
}

func fieldLogicalType(af arrow.Field) (LogicalType, error) {
	if idx := af.Metadata.FindKey(LogicalTypeMetadataKey); idx >= 0 {
		return ParseLogicalType(af.Metadata.Values()[idx])
	}
	return logicalFromArrow(af.Type)
}

// ToRecord converts a block into an Arrow record. The caller releases it.
func ToRecord(mem memory.Allocator, as *arrow.Schema, b *Block) (arrow.Record, error) {
	rb := array.NewRecordBuilder(mem, as)
	defer rb.Release()

	for c, f := range b.Schema.Fields {
		v := &b.Vectors[c]
		fb := rb.Field(c)
		for r := 0; r < b.RowCount; r++ {
			if v.Nulls[r] {
				fb.AppendNull()
				continue
			}
			switch bld := fb.(type) {
			case *array.Int8Builder:
				bld.Append(int8(v.Int32s[r]))
			case *array.Int16Builder:
				bld.Append(int16(v.Int32s[r]))
			case *array.Int32Builder:
				bld.Append(v.Int32s[r])
			case *array.Int64Builder:
				bld.Append(v.Int64s[r])
			case *array.Float32Builder:
				bld.Append(v.Float32s[r])
			case *array.Float64Builder:
				bld.Append(v.Float64s[r])
			case *array.BooleanBuilder:
				bld.Append(v.Bools[r])
			case *array.StringBuilder:
				bld.Append(v.Strings[r])
			case *array.BinaryBuilder:
				bld.Append(v.Bytes[r])
			case *array.FixedSizeBinaryBuilder:
				bld.Append(v.Bytes[r])
			case *array.Date32Builder:
				bld.Append(arrow.Date32(v.Int64s[r]))
			case *array.Time64Builder:
				bld.Append(arrow.Time64(v.Int64s[r]))
			case *array.TimestampBuilder:
				bld.Append(arrow.Timestamp(v.Int64s[r]))
			case *array.DurationBuilder:
				bld.Append(arrow.Duration(v.Int64s[r]))
			case *array.MonthIntervalBuilder:
				bld.Append(arrow.MonthInterval(v.Int32s[r]))
			default:
				return nil, fmt.Errorf("field %q: unsupported builder %T", f.Name, fb)
			}
		}
	}
	return rb.NewRecord(), nil
}

// FromRecord converts an Arrow record into a block for schema s.
func FromRecord(s Schema, rec arrow.Record) (*Block, error) {
	rows := int(rec.NumRows())
	if int(rec.NumCols()) != s.Len() {
		return nil, fmt.Errorf("record has %d columns for %d fields", rec.NumCols(), s.Len())
	}
	vectors := make([]Vector, s.Len())
	for c, f := range s.Fields {
		col := rec.Column(c)
		p := NewProducer(f.Type)
		for r := 0; r < rows; r++ {
			if col.IsNull(r) {
				p.appendZero()
				continue
			}
			if err := appendArrowValue(p, col, r); err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			p.vec.Nulls = append(p.vec.Nulls, false)
		}
		vectors[c] = p.Build()
	}
	return NewBlock(s, rows, vectors)
}

func appendArrowValue(p *Producer, col arrow.Array, r int) error {
	v := &p.vec
	switch a := col.(type) {
	case *array.Int8:
		v.Int32s = append(v.Int32s, int32(a.Value(r)))
	case *array.Int16:
		v.Int32s = append(v.Int32s, int32(a.Value(r)))
	case *array.Uint8:
		v.Int32s = append(v.Int32s, int32(a.Value(r)))
	case *array.Uint16:
		v.Int32s = append(v.Int32s, int32(a.Value(r)))
	case *array.Int32:
		v.Int32s = append(v.Int32s, a.Value(r))
	case *array.Int64:
		v.Int64s = append(v.Int64s, a.Value(r))
	case *array.Uint32:
		v.Int64s = append(v.Int64s, int64(a.Value(r)))
	case *array.Float32:
		v.Float32s = append(v.Float32s, a.Value(r))
	case *array.Float64:
		v.Float64s = append(v.Float64s, a.Value(r))
	case *array.Boolean:
		v.Bools = append(v.Bools, a.Value(r))
	case *array.String:
		v.Strings = append(v.Strings, a.Value(r))
	case *array.Binary:
		v.Bytes = append(v.Bytes, append([]byte(nil), a.Value(r)...))
	case *array.FixedSizeBinary:
		v.Bytes = append(v.Bytes, append([]byte(nil), a.Value(r)...))
	case *array.Date32:
		v.Int64s = append(v.Int64s, int64(a.Value(r)))
	case *array.Time64:
		v.Int64s = append(v.Int64s, int64(a.Value(r)))
	case *array.Timestamp:
		v.Int64s = append(v.Int64s, int64(a.Value(r)))
	case *array.Duration:
		v.Int64s = append(v.Int64s, int64(a.Value(r)))
	case *array.MonthInterval:
		v.Int32s = append(v.Int32s, int32(a.Value(r)))
	default:
		return fmt.Errorf("unsupported arrow array %T", col)
	}
	return nil
}

// WriteIPC writes blocks as an Arrow IPC stream.
func WriteIPC(w io.Writer, s Schema, blocks ...*Block) error {
	as, err := ToArrowSchema(s)
	if err != nil {
		return err
	}
	mem := memory.DefaultAllocator
	wr := ipc.NewWriter(w, ipc.WithSchema(as), ipc.WithAllocator(mem))
	for _, b := range blocks {
		rec, err := ToRecord(mem, as, b)
		if err != nil {
			_ = wr.Close()
			return err
		}
		err = wr.Write(rec)
		rec.Release()
		if err != nil {
			_ = wr.Close()
			return fmt.Errorf("write ipc record: %w", err)
		}
	}
	return wr.Close()
}

// ReadIPC reads every block from an Arrow IPC stream.
func ReadIPC(r io.Reader) (Schema, []*Block, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return Schema{}, nil, fmt.Errorf("open ipc stream: %w", err)
	}
	defer rdr.Release()

	s, err := FromArrowSchema(rdr.Schema())
	if err != nil {
		return Schema{}, nil, err
	}
	var blocks []*Block
	for rdr.Next() {
		b, err := FromRecord(s, rdr.Record())
		if err != nil {
			return Schema{}, nil, err
		}
		if b.RowCount > 0 {
			blocks = append(blocks, b)
		}
	}
	if err := rdr.Err(); err != nil && err != io.EOF {
		return Schema{}, nil, fmt.Errorf("read ipc stream: %w", err)
	}
	return s, blocks, nil
}
