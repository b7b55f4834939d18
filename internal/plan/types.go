package plan

import (
	"fmt"

	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"vectorgate/internal/vector"
)

const nullable = pb.Type_NULLABILITY_NULLABLE

// TypeFor returns the nullable Substrait type for a logical type.
func TypeFor(t vector.LogicalType) (*pb.Type, error) {
	switch t {
	case vector.TinyInt:
		return &pb.Type{Kind: &pb.Type_I8_{I8: &pb.Type_I8{Nullability: nullable}}}, nil
	case vector.SmallInt:
		return &pb.Type{Kind: &pb.Type_I16_{I16: &pb.Type_I16{Nullability: nullable}}}, nil
	case vector.Int:
		return &pb.Type{Kind: &pb.Type_I32_{I32: &pb.Type_I32{Nullability: nullable}}}, nil
	case vector.BigInt:
		return &pb.Type{Kind: &pb.Type_I64_{I64: &pb.Type_I64{Nullability: nullable}}}, nil
	case vector.Float:
		return &pb.Type{Kind: &pb.Type_Fp32{Fp32: &pb.Type_FP32{Nullability: nullable}}}, nil
	case vector.Double:
		return &pb.Type{Kind: &pb.Type_Fp64{Fp64: &pb.Type_FP64{Nullability: nullable}}}, nil
	case vector.Bool:
		return &pb.Type{Kind: &pb.Type_Bool{Bool: &pb.Type_Boolean{Nullability: nullable}}}, nil
	case vector.String:
		return &pb.Type{Kind: &pb.Type_String_{String_: &pb.Type_String{Nullability: nullable}}}, nil
	case vector.Binary:
		return &pb.Type{Kind: &pb.Type_Binary_{Binary: &pb.Type_Binary{Nullability: nullable}}}, nil
	case vector.Date:
		return &pb.Type{Kind: &pb.Type_Date_{Date: &pb.Type_Date{Nullability: nullable}}}, nil
	case vector.Time:
		return &pb.Type{Kind: &pb.Type_Time_{Time: &pb.Type_Time{Nullability: nullable}}}, nil
	case vector.Timestamp:
		return &pb.Type{Kind: &pb.Type_Timestamp_{Timestamp: &pb.Type_Timestamp{Nullability: nullable}}}, nil
	case vector.TimestampTZ:
		return &pb.Type{Kind: &pb.Type_TimestampTz{TimestampTz: &pb.Type_TimestampTZ{Nullability: nullable}}}, nil
	case vector.IntervalDay:
		return &pb.Type{Kind: &pb.Type_IntervalDay_{IntervalDay: &pb.Type_IntervalDay{Nullability: nullable}}}, nil
	case vector.IntervalYear:
		return &pb.Type{Kind: &pb.Type_IntervalYear_{IntervalYear: &pb.Type_IntervalYear{Nullability: nullable}}}, nil
	case vector.UUID:
		return &pb.Type{Kind: &pb.Type_Uuid{Uuid: &pb.Type_UUID{Nullability: nullable}}}, nil
	}
	return nil, fmt.Errorf("no substrait type for %s", t)
}

// LogicalFor maps a Substrait type onto a logical type. Decimal collapses to
// Double and the character types to String.
func LogicalFor(t *pb.Type) (vector.LogicalType, bool) {
	switch t.GetKind().(type) {
	case *pb.Type_I8_:
		return vector.TinyInt, true
	case *pb.Type_I16_:
		return vector.SmallInt, true
	case *pb.Type_I32_:
		return vector.Int, true
	case *pb.Type_I64_:
		return vector.BigInt, true
	case *pb.Type_Fp32:
		return vector.Float, true
	case *pb.Type_Fp64, *pb.Type_Decimal_:
		return vector.Double, true
	case *pb.Type_Bool:
		return vector.Bool, true
	case *pb.Type_String_, *pb.Type_Varchar, *pb.Type_FixedChar_:
		return vector.String, true
	case *pb.Type_Binary_, *pb.Type_FixedBinary_:
		return vector.Binary, true
	case *pb.Type_Date_:
		return vector.Date, true
	case *pb.Type_Time_:
		return vector.Time, true
	case *pb.Type_Timestamp_:
		return vector.Timestamp, true
	case *pb.Type_TimestampTz:
		return vector.TimestampTZ, true
	case *pb.Type_IntervalDay_:
		return vector.IntervalDay, true
	case *pb.Type_IntervalYear_:
		return vector.IntervalYear, true
	case *pb.Type_Uuid:
		return vector.UUID, true
	}
	return vector.TypeInvalid, false
}

// Nullable returns a copy of t marked nullable.
func Nullable(t *pb.Type) *pb.Type {
	c := proto.Clone(t).(*pb.Type)
	m := c.ProtoReflect()
	od := m.Descriptor().Oneofs().ByName("kind")
	if od == nil {
		return c
	}
	fd := m.WhichOneof(od)
	if fd == nil || fd.Message() == nil {
		return c
	}
	inner := m.Mutable(fd).Message()
	if nf := inner.Descriptor().Fields().ByName("nullability"); nf != nil {
		inner.Set(nf, protoreflect.ValueOfEnum(protoreflect.EnumNumber(pb.Type_NULLABILITY_NULLABLE)))
	}
	return c
}

// BoolType is the nullable boolean type.
func BoolType() *pb.Type {
	return &pb.Type{Kind: &pb.Type_Bool{Bool: &pb.Type_Boolean{Nullability: nullable}}}
}

// Column is a named, typed column used when building plans by hand.
type Column struct {
	Name string
	Type vector.LogicalType
}

// NewRead builds a read relation over a named table.
func NewRead(table []string, columns ...Column) (*pb.Rel, error) {
	names := make([]string, len(columns))
	types := make([]*pb.Type, len(columns))
	for i, c := range columns {
		t, err := TypeFor(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		names[i] = c.Name
		types[i] = t
	}
	return &pb.Rel{
		RelType: &pb.Rel_Read{
			Read: &pb.ReadRel{
				BaseSchema: &pb.NamedStruct{
					Names:  names,
					Struct: &pb.Type_Struct{Types: types, Nullability: pb.Type_NULLABILITY_REQUIRED},
				},
				ReadType: &pb.ReadRel_NamedTable_{
					NamedTable: &pb.ReadRel_NamedTable{Names: append([]string(nil), table...)},
				},
			},
		},
	}, nil
}

// NewRoot builds a plan with input as its single root relation.
func NewRoot(input *pb.Rel, names ...string) *Plan {
	return New(&pb.Plan{
		Relations: []*pb.PlanRel{{
			RelType: &pb.PlanRel_Root{Root: &pb.RelRoot{Input: input, Names: names}},
		}},
	})
}

// ScanTable builds a plan that reads every column of table.
func ScanTable(table []string, columns ...Column) (*Plan, error) {
	read, err := NewRead(table, columns...)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return NewRoot(read, names...), nil
}
