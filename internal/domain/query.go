package domain

import (
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// DefaultMaxRowsPerBlock is the batch size used when a request sets none.
const DefaultMaxRowsPerBlock = 1024

// QueryConfig carries per-request execution settings.
type QueryConfig struct {
	MaxRowsPerBlock int `json:"maxRowsPerBlock,omitempty"`
}

// RowsPerBlock returns the effective batch size.
func (c QueryConfig) RowsPerBlock() int {
	if c.MaxRowsPerBlock <= 0 {
		return DefaultMaxRowsPerBlock
	}
	return c.MaxRowsPerBlock
}

// Capabilities is returned from a handshake.
type Capabilities struct {
	SupportSQL      bool   `json:"supportSql"`
	Principal       string `json:"principal"`
	Version         string `json:"version"`
	MaxRowsPerBlock int    `json:"maxRowsPerBlock"`
}

// SubmitResult is the first page of a paged query. Block is nil and PagingID
// empty when the result has no rows.
type SubmitResult struct {
	PagingID string        `json:"pagingId,omitempty"`
	Block    *vector.Block `json:"block,omitempty"`
}

// FetchResult is one subsequent page. A nil Block means no more results.
type FetchResult struct {
	Block        *vector.Block `json:"block,omitempty"`
	NextPagingID string        `json:"nextPagingId,omitempty"`
}

// QueryRequest is a query to submit. Exactly one of SQL and Plan is set.
type QueryRequest struct {
	SQL    string
	Plan   *plan.Plan
	Config QueryConfig
}
