package vector

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Iterator yields blocks one at a time. Next returns io.EOF once the data is
// exhausted; end of data is never signaled with an empty block. Next may block
// on I/O. Close releases backend resources and is safe to call more than once.
type Iterator interface {
	Schema() Schema
	Next(ctx context.Context) (*Block, error)
	Close() error
}

// SliceIterator iterates over a fixed list of blocks.
type SliceIterator struct {
	schema Schema
	blocks []*Block

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewSliceIterator returns an iterator over blocks. Empty blocks are skipped.
func NewSliceIterator(schema Schema, blocks ...*Block) *SliceIterator {
	kept := make([]*Block, 0, len(blocks))
	for _, b := range blocks {
		if b != nil && b.RowCount > 0 {
			kept = append(kept, b)
		}
	}
	return &SliceIterator{schema: schema, blocks: kept}
}

// Schema implements Iterator.
func (it *SliceIterator) Schema() Schema { return it.schema }

// Next implements Iterator.
func (it *SliceIterator) Next(ctx context.Context) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.closed || it.pos >= len(it.blocks) {
		return nil, io.EOF
	}
	b := it.blocks[it.pos]
	it.pos++
	return b, nil
}

// Close implements Iterator.
func (it *SliceIterator) Close() error {
	it.mu.Lock()
	it.closed = true
	it.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (it *SliceIterator) Closed() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.closed
}

// RowSource produces rows one at a time, e.g. from a database cursor.
// NextRow fills dst (len == schema length) and returns false at end of data.
type RowSource interface {
	NextRow(ctx context.Context, dst []any) (bool, error)
	Close() error
}

// BatchIterator turns a RowSource into blocks of at most maxRows rows. A
// block is flushed when the threshold is reached or the source is exhausted.
type BatchIterator struct {
	schema  Schema
	src     RowSource
	maxRows int
	builder *Builder
	row     []any
	done    bool

	closeOnce sync.Once
	closeErr  error
}

// NewBatchIterator wraps src. maxRows <= 0 means one block per 1024 rows.
func NewBatchIterator(schema Schema, src RowSource, maxRows int) *BatchIterator {
	if maxRows <= 0 {
		maxRows = 1024
	}
	return &BatchIterator{
		schema:  schema,
		src:     src,
		maxRows: maxRows,
		builder: NewBuilder(schema),
		row:     make([]any, schema.Len()),
	}
}

// Schema implements Iterator.
func (it *BatchIterator) Schema() Schema { return it.schema }

// Next implements Iterator.
func (it *BatchIterator) Next(ctx context.Context) (*Block, error) {
	for !it.done && it.builder.Rows() < it.maxRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range it.row {
			it.row[i] = nil
		}
		ok, err := it.src.NextRow(ctx, it.row)
		if err != nil {
			return nil, err
		}
		if !ok {
			it.done = true
			break
		}
		if err := it.builder.AppendRow(it.row...); err != nil {
			return nil, err
		}
	}
	if b, ok := it.builder.Flush(); ok {
		return b, nil
	}
	return nil, io.EOF
}

// Close implements Iterator.
func (it *BatchIterator) Close() error {
	it.closeOnce.Do(func() { it.closeErr = it.src.Close() })
	return it.closeErr
}

// Drain reads every remaining block and closes the iterator.
func Drain(ctx context.Context, it Iterator) ([]*Block, error) {
	defer it.Close() //nolint:errcheck
	var out []*Block
	for {
		b, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
}
