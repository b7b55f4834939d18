package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idNameSchema() Schema {
	return NewSchema(
		Field{Name: "id", Type: Int},
		Field{Name: "name", Type: String, Nullable: true},
	)
}

func idNameBlock(t *testing.T) *Block {
	t.Helper()
	b, err := NewBlock(idNameSchema(), 2, []Vector{
		{Type: PhysicalInt32, Int32s: []int32{1, 2}, Nulls: []bool{false, false}},
		{Type: PhysicalString, Strings: []string{"a", ""}, Nulls: []bool{false, true}},
	})
	require.NoError(t, err)
	return b
}

func TestBlock_IDNameScenario(t *testing.T) {
	b := idNameBlock(t)

	col, ok := b.Column("name")
	require.True(t, ok)
	assert.True(t, b.IsNull(1, col))
	assert.Nil(t, b.Value(1, col))
	assert.Equal(t, "a", b.Value(0, col))
	assert.Equal(t, int32(2), b.Value(1, 0))

	data, err := Encode(b)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, b, decoded)

	again, err := Encode(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestBlock_Validate(t *testing.T) {
	tests := []struct {
		name    string
		block   Block
		wantErr string
	}{
		{
			name: "vector count mismatch",
			block: Block{Schema: idNameSchema(), RowCount: 1, Vectors: []Vector{
				{Type: PhysicalInt32, Int32s: []int32{1}, Nulls: []bool{false}},
			}},
			wantErr: "1 vectors for 2 fields",
		},
		{
			name: "short values",
			block: Block{Schema: NewSchema(Field{Name: "id", Type: BigInt}), RowCount: 2, Vectors: []Vector{
				{Type: PhysicalInt64, Int64s: []int64{1}, Nulls: []bool{false, false}},
			}},
			wantErr: "1 values, want 2",
		},
		{
			name: "short nulls",
			block: Block{Schema: NewSchema(Field{Name: "id", Type: BigInt}), RowCount: 2, Vectors: []Vector{
				{Type: PhysicalInt64, Int64s: []int64{1, 2}, Nulls: []bool{false}},
			}},
			wantErr: "1 null flags, want 2",
		},
		{
			name: "wrong physical type",
			block: Block{Schema: NewSchema(Field{Name: "d", Type: Date}), RowCount: 1, Vectors: []Vector{
				{Type: PhysicalInt32, Int32s: []int32{1}, Nulls: []bool{false}},
			}},
			wantErr: "vector type i32, want i64",
		},
		{
			name: "non positional index",
			block: Block{Schema: Schema{Fields: []Field{{Index: 1, Name: "x", Type: Int}}}, RowCount: 0, Vectors: []Vector{
				{Type: PhysicalInt32},
			}},
			wantErr: "index 1 at position 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.block.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogicalType_PhysicalMapping(t *testing.T) {
	want := map[LogicalType]PhysicalType{
		TinyInt:      PhysicalInt32,
		SmallInt:     PhysicalInt32,
		Int:          PhysicalInt32,
		BigInt:       PhysicalInt64,
		Float:        PhysicalFloat32,
		Double:       PhysicalFloat64,
		Bool:         PhysicalBool,
		String:       PhysicalString,
		Binary:       PhysicalBytes,
		Date:         PhysicalInt64,
		Time:         PhysicalInt64,
		Timestamp:    PhysicalInt64,
		TimestampTZ:  PhysicalInt64,
		IntervalDay:  PhysicalInt64,
		IntervalYear: PhysicalInt32,
		UUID:         PhysicalBytes,
	}
	for _, lt := range LogicalTypes() {
		assert.Equal(t, want[lt], lt.Physical(), lt.String())
	}
	assert.Len(t, LogicalTypes(), len(want))
	assert.Equal(t, PhysicalInvalid, TypeInvalid.Physical())
}

func TestParseLogicalType(t *testing.T) {
	lt, err := ParseLogicalType("timestamp_tz")
	require.NoError(t, err)
	assert.Equal(t, TimestampTZ, lt)

	_, err = ParseLogicalType("DECIMAL")
	require.Error(t, err)
}

func TestProducer_Conversions(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 45, 123456000, time.UTC)
	id := uuid.MustParse("0190f0c4-7c4f-7b0a-8a52-1b2a3c4d5e6f")

	tests := []struct {
		name  string
		typ   LogicalType
		in    any
		check func(t *testing.T, v Vector)
	}{
		{"tinyint widened", TinyInt, int8(-3), func(t *testing.T, v Vector) { assert.Equal(t, []int32{-3}, v.Int32s) }},
		{"bigint from uint32", BigInt, uint32(7), func(t *testing.T, v Vector) { assert.Equal(t, []int64{7}, v.Int64s) }},
		{"double from int", Double, 3, func(t *testing.T, v Vector) { assert.Equal(t, []float64{3}, v.Float64s) }},
		{"float narrowed", Float, 1.5, func(t *testing.T, v Vector) { assert.Equal(t, []float32{1.5}, v.Float32s) }},
		{"date days", Date, ts, func(t *testing.T, v Vector) { assert.Equal(t, []int64{19797}, v.Int64s) }},
		{"time micros", Time, ts, func(t *testing.T, v Vector) {
			assert.Equal(t, []int64{(10*3600+30*60+45)*1_000_000 + 123456}, v.Int64s)
		}},
		{"timestamp micros", Timestamp, ts, func(t *testing.T, v Vector) { assert.Equal(t, []int64{ts.UnixMicro()}, v.Int64s) }},
		{"interval duration", IntervalDay, 90 * time.Second, func(t *testing.T, v Vector) { assert.Equal(t, []int64{90_000_000}, v.Int64s) }},
		{"uuid string", UUID, id.String(), func(t *testing.T, v Vector) { assert.Equal(t, [][]byte{id[:]}, v.Bytes) }},
		{"string from bytes", String, []byte("hi"), func(t *testing.T, v Vector) { assert.Equal(t, []string{"hi"}, v.Strings) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProducer(tt.typ)
			require.NoError(t, p.Append(tt.in, false))
			v := p.Build()
			assert.Equal(t, []bool{false}, v.Nulls)
			tt.check(t, v)
		})
	}
}

func TestProducer_Errors(t *testing.T) {
	p := NewProducer(Int)
	err := p.Append(int64(math.MaxInt32)+1, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	require.Error(t, NewProducer(Bool).Append("true", false))
	require.Error(t, NewProducer(BigInt).Append(uint64(math.MaxUint64), false))
}

func TestProducer_NarrowIntegerRange(t *testing.T) {
	tests := []struct {
		typ    LogicalType
		ok, no int64
	}{
		{TinyInt, math.MaxInt8, math.MaxInt8 + 1},
		{TinyInt, math.MinInt8, math.MinInt8 - 1},
		{SmallInt, math.MaxInt16, math.MaxInt16 + 1},
		{SmallInt, math.MinInt16, math.MinInt16 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			p := NewProducer(tt.typ)
			require.NoError(t, p.Append(tt.ok, false))
			err := p.Append(tt.no, false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "out of range")
			assert.Equal(t, 1, p.Len())
		})
	}

	bld := NewBuilder(NewSchema(Field{Name: "t", Type: TinyInt}))
	require.Error(t, bld.AppendRow(300))
	require.NoError(t, bld.AppendRow(-128))
	b, ok := bld.Flush()
	require.True(t, ok)
	assert.Equal(t, int8(-128), b.Value(0, 0))
}

func TestProducer_StringMustBeUTF8(t *testing.T) {
	bld := NewBuilder(NewSchema(Field{Name: "s", Type: String}))
	err := bld.AppendRow([]byte{0xff, 'a'})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")
	require.NoError(t, bld.AppendRow("grüße"))

	b, ok := bld.Flush()
	require.True(t, ok)
	data, err := Encode(b)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "grüße", decoded.Value(0, 0))

	bin := NewProducer(Binary)
	require.NoError(t, bin.Append([]byte{0xff, 'a'}, false))
}

func TestBlock_ValidateRejectsUnrepresentableValues(t *testing.T) {
	_, err := NewBlock(NewSchema(Field{Name: "t", Type: TinyInt}), 1, []Vector{
		{Type: PhysicalInt32, Int32s: []int32{300}, Nulls: []bool{false}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = NewBlock(NewSchema(Field{Name: "s", Type: String, Nullable: true}), 2, []Vector{
		{Type: PhysicalString, Strings: []string{"\xffa", ""}, Nulls: []bool{false, true}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")

	_, err = Decode([]byte(`{"schema":{"fields":[{"index":0,"name":"t","logicalType":"SMALL_INT","nullable":false}]},"rowCount":1,"vectors":[{"type":"i32","i32Values":[70000],"nulls":[false]}]}`))
	require.Error(t, err)
}

func TestProducer_NullPlaceholder(t *testing.T) {
	p := NewProducer(BigInt)
	require.NoError(t, p.Append(int64(5), false))
	require.NoError(t, p.Append(int64(9), true))
	require.NoError(t, p.Append(nil, false))

	v := p.Build()
	assert.Equal(t, []int64{5, 0, 0}, v.Int64s)
	assert.Equal(t, []bool{false, true, true}, v.Nulls)
	assert.Equal(t, 0, p.Len(), "build resets the producer")
}

func TestReader_LogicalValues(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	id := uuid.New()
	schema := NewSchema(
		Field{Name: "d", Type: Date},
		Field{Name: "ts", Type: TimestampTZ},
		Field{Name: "u", Type: UUID},
		Field{Name: "small", Type: SmallInt},
	)
	bld := NewBuilder(schema)
	require.NoError(t, bld.AppendRow(ts, ts, id, int16(12)))
	b, ok := bld.Flush()
	require.True(t, ok)

	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), b.Value(0, 0))
	assert.Equal(t, ts, b.Value(0, 1))
	assert.Equal(t, id, b.Value(0, 2))
	assert.Equal(t, int16(12), b.Value(0, 3))
}

func TestBuilder_FlushResets(t *testing.T) {
	bld := NewBuilder(idNameSchema())

	_, ok := bld.Flush()
	assert.False(t, ok, "empty builder never emits a block")

	require.NoError(t, bld.AppendRow(1, "a"))
	require.NoError(t, bld.AppendRow(2, nil))
	first, ok := bld.Flush()
	require.True(t, ok)
	require.NoError(t, first.Validate())
	assert.Equal(t, 2, first.RowCount)

	require.NoError(t, bld.AppendRow(3, "c"))
	second, ok := bld.Flush()
	require.True(t, ok)
	assert.Equal(t, 1, second.RowCount)
	assert.Equal(t, []int32{3}, second.Vectors[0].Int32s)
	assert.Equal(t, []int32{1, 2}, first.Vectors[0].Int32s, "earlier block unchanged")
}

func TestBuilder_BadRowKeepsAlignment(t *testing.T) {
	bld := NewBuilder(idNameSchema())
	require.NoError(t, bld.AppendRow(1, "a"))
	require.Error(t, bld.AppendRow(2, 3.5))
	require.Error(t, bld.AppendRow(1))

	b, ok := bld.Flush()
	require.True(t, ok)
	require.NoError(t, b.Validate())
	assert.Equal(t, 1, b.RowCount)
}

func TestCodec_RoundTripAllTypes(t *testing.T) {
	schema := NewSchema(
		Field{Name: "ti", Type: TinyInt, Nullable: true},
		Field{Name: "bi", Type: BigInt, Nullable: true},
		Field{Name: "f", Type: Float, Nullable: true},
		Field{Name: "d", Type: Double, Nullable: true},
		Field{Name: "b", Type: Bool, Nullable: true},
		Field{Name: "s", Type: String, Nullable: true},
		Field{Name: "bin", Type: Binary, Nullable: true},
		Field{Name: "u", Type: UUID, Nullable: true},
		Field{Name: "dt", Type: Date, Nullable: true},
		Field{Name: "iy", Type: IntervalYear, Nullable: true},
	)
	bld := NewBuilder(schema)
	require.NoError(t, bld.AppendRow(int8(1), int64(math.MaxInt64), float32(1.25), math.NaN(), true, "x", []byte{}, uuid.New(), int64(-1), int32(14)))
	require.NoError(t, bld.AppendRow(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil))
	require.NoError(t, bld.AppendRow(int8(-1), int64(0), float32(math.Inf(1)), 0.1, false, "", []byte{0, 1}, uuid.Nil, int64(0), int32(0)))
	b, ok := bld.Flush()
	require.True(t, ok)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var decoded Block
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, b.RowCount, decoded.RowCount)
	for c := range b.Vectors {
		for r := 0; r < b.RowCount; r++ {
			assert.Equal(t, b.IsNull(r, c), decoded.IsNull(r, c))
			if c == 3 && r == 0 {
				assert.True(t, math.IsNaN(decoded.Vectors[c].Float64s[r]))
				continue
			}
			assert.Equal(t, b.Vectors[c].Raw(r), decoded.Vectors[c].Raw(r), "row %d col %d", r, c)
		}
	}
	assert.Equal(t, []bool{false, true, false}, decoded.Vectors[6].Nulls)
	assert.Nil(t, decoded.Vectors[6].Bytes[1], "placeholder at null position")
	assert.Equal(t, []byte{}, decoded.Vectors[6].Bytes[0])
}

func TestCodec_RejectsInvalid(t *testing.T) {
	_, err := Decode([]byte(`{"schema":{"fields":[{"index":0,"name":"id","logicalType":"INT","nullable":false}]},"rowCount":2,"vectors":[{"type":"i32","i32Values":[1],"nulls":[false,false]}]}`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"schema":{"fields":[{"index":0,"name":"id","logicalType":"NOPE","nullable":false}]},"rowCount":0,"vectors":[]}`))
	require.Error(t, err)
}

func TestArrow_IPCRoundTrip(t *testing.T) {
	ts := time.Date(2023, 1, 2, 3, 4, 5, 6000, time.UTC)
	schema := NewSchema(
		Field{Name: "id", Type: Int},
		Field{Name: "name", Type: String, Nullable: true},
		Field{Name: "ts", Type: Timestamp, Nullable: true},
		Field{Name: "t", Type: Time},
		Field{Name: "u", Type: UUID},
		Field{Name: "ivl", Type: IntervalDay},
		Field{Name: "m", Type: IntervalYear},
	)
	bld := NewBuilder(schema)
	require.NoError(t, bld.AppendRow(1, "a", ts, ts, uuid.New(), time.Hour, 3))
	require.NoError(t, bld.AppendRow(2, nil, nil, ts, uuid.New(), time.Minute, 4))
	b1, _ := bld.Flush()
	require.NoError(t, bld.AppendRow(3, "c", ts, ts, uuid.New(), time.Second, 5))
	b2, _ := bld.Flush()

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, schema, b1, b2))

	gotSchema, blocks, err := ReadIPC(&buf)
	require.NoError(t, err)
	assert.True(t, schema.Equal(gotSchema))
	require.Len(t, blocks, 2)
	assert.Equal(t, b1, blocks[0])
	assert.Equal(t, b2, blocks[1])
}

type fakeRows struct {
	rows   [][]any
	pos    int
	closed bool
}

func (f *fakeRows) NextRow(_ context.Context, dst []any) (bool, error) {
	if f.pos >= len(f.rows) {
		return false, nil
	}
	copy(dst, f.rows[f.pos])
	f.pos++
	return true, nil
}

func (f *fakeRows) Close() error {
	f.closed = true
	return nil
}

func TestBatchIterator_FlushesAtThreshold(t *testing.T) {
	src := &fakeRows{rows: [][]any{{1, "a"}, {2, "b"}, {3, nil}, {4, "d"}, {5, "e"}}}
	it := NewBatchIterator(idNameSchema(), src, 2)

	blocks, err := Drain(context.Background(), it)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{blocks[0].RowCount, blocks[1].RowCount, blocks[2].RowCount})
	assert.Equal(t, []int32{5}, blocks[2].Vectors[0].Int32s)
	assert.True(t, blocks[1].IsNull(0, 1))
	assert.True(t, src.closed)
}

func TestBatchIterator_EmptySourceYieldsNoBlock(t *testing.T) {
	it := NewBatchIterator(idNameSchema(), &fakeRows{}, 10)
	_, err := it.Next(context.Background())
	assert.True(t, errors.Is(err, io.EOF))
}

func TestBatchIterator_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewBatchIterator(idNameSchema(), &fakeRows{rows: [][]any{{1, "a"}}}, 10)
	_, err := it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapDatabaseType(t *testing.T) {
	tests := []struct {
		in    string
		want  LogicalType
		lossy bool
	}{
		{"INTEGER", Int, false},
		{"decimal(18,3)", Double, true},
		{"NUMERIC", Double, true},
		{"REAL", Double, true},
		{"VARCHAR", String, false},
		{"TIMESTAMP WITH TIME ZONE", TimestampTZ, false},
		{"INTEGER[]", String, true},
		{"STRUCT(a INTEGER)", String, true},
		{"TINYINT", TinyInt, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := MapDatabaseType(tt.in)
			assert.Equal(t, tt.want, got.Logical)
			assert.Equal(t, tt.lossy, got.Lossy)
		})
	}
}
