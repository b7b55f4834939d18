package vector

import (
	"fmt"
	"strings"
)

// Block is one immutable columnar batch of query results. Vectors are
// positionally aligned with Schema.Fields and each holds RowCount values.
// Blocks are never mutated after construction; share them freely.
type Block struct {
	Schema   Schema
	RowCount int
	Vectors  []Vector
}

// NewBlock builds and validates a block.
func NewBlock(schema Schema, rowCount int, vectors []Vector) (*Block, error) {
	b := &Block{Schema: schema, RowCount: rowCount, Vectors: vectors}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the block invariants.
func (b *Block) Validate() error {
	if err := b.Schema.Validate(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if b.RowCount < 0 {
		return fmt.Errorf("negative row count %d", b.RowCount)
	}
	if len(b.Vectors) != len(b.Schema.Fields) {
		return fmt.Errorf("block has %d vectors for %d fields", len(b.Vectors), len(b.Schema.Fields))
	}
	for i := range b.Vectors {
		f := b.Schema.Fields[i]
		if want := f.Type.Physical(); b.Vectors[i].Type != want {
			return fmt.Errorf("field %q: vector type %s, want %s", f.Name, b.Vectors[i].Type, want)
		}
		if err := b.Vectors[i].validate(b.RowCount); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if err := b.Vectors[i].checkValues(f.Type); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

// Column returns the position of the named column, compared case-insensitively.
func (b *Block) Column(name string) (int, bool) {
	for i, f := range b.Schema.Fields {
		if strings.EqualFold(f.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Reader returns a reader over column col.
func (b *Block) Reader(col int) Reader {
	return NewReader(b.Schema.Fields[col], &b.Vectors[col])
}

// IsNull reports whether (row, col) is null.
func (b *Block) IsNull(row, col int) bool { return b.Vectors[col].Nulls[row] }

// Value returns the logical value at (row, col), or nil when null.
func (b *Block) Value(row, col int) any { return b.Reader(col).Value(row) }

// Rows materializes the block row by row as logical values.
func (b *Block) Rows() [][]any {
	out := make([][]any, b.RowCount)
	readers := make([]Reader, len(b.Vectors))
	for c := range b.Vectors {
		readers[c] = b.Reader(c)
	}
	for r := 0; r < b.RowCount; r++ {
		row := make([]any, len(readers))
		for c, rd := range readers {
			row[c] = rd.Value(r)
		}
		out[r] = row
	}
	return out
}

// Builder assembles blocks from rows with one producer per field. Flush
// resets every producer so partial batches never leak into the next block.
type Builder struct {
	schema    Schema
	producers []*Producer
	rows      int
}

// NewBuilder returns a builder for schema.
func NewBuilder(schema Schema) *Builder {
	producers := make([]*Producer, len(schema.Fields))
	for i, f := range schema.Fields {
		producers[i] = NewProducer(f.Type)
	}
	return &Builder{schema: schema, producers: producers}
}

// Rows returns the number of rows buffered since the last flush.
func (b *Builder) Rows() int { return b.rows }

// AppendRow adds one row. A nil value is null.
func (b *Builder) AppendRow(values ...any) error {
	if len(values) != len(b.producers) {
		return fmt.Errorf("row has %d values for %d fields", len(values), len(b.producers))
	}
	for i, v := range values {
		if err := b.producers[i].Append(v, v == nil); err != nil {
			// Keep producers aligned: drop the partial row.
			b.truncate()
			return fmt.Errorf("field %q: %w", b.schema.Fields[i].Name, err)
		}
	}
	b.rows++
	return nil
}

// Flush returns the buffered rows as a block. It returns false, and no
// block, when nothing is buffered.
func (b *Builder) Flush() (*Block, bool) {
	if b.rows == 0 {
		return nil, false
	}
	vectors := make([]Vector, len(b.producers))
	for i, p := range b.producers {
		vectors[i] = p.Build()
	}
	block := &Block{Schema: b.schema, RowCount: b.rows, Vectors: vectors}
	b.rows = 0
	return block, true
}

func (b *Builder) truncate() {
	for _, p := range b.producers {
		if p.Len() > b.rows {
			v := p.vec
			p.vec = truncateVector(v, b.rows)
		}
	}
}

func truncateVector(v Vector, n int) Vector {
	v.Nulls = v.Nulls[:n]
	switch v.Type {
	case PhysicalInt32:
		v.Int32s = v.Int32s[:n]
	case PhysicalInt64:
		v.Int64s = v.Int64s[:n]
	case PhysicalFloat32:
		v.Float32s = v.Float32s[:n]
	case PhysicalFloat64:
		v.Float64s = v.Float64s[:n]
	case PhysicalBool:
		v.Bools = v.Bools[:n]
	case PhysicalString:
		v.Strings = v.Strings[:n]
	case PhysicalBytes:
		v.Bytes = v.Bytes[:n]
	}
	return v
}
