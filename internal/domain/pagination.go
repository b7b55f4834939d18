package domain

import (
	"encoding/base64"
	"strconv"
)

// Page size bounds for audit listings.
const (
	DefaultMaxResults = 100
	MaxMaxResults     = 1000
)

// PageRequest selects one page of a listing. PageToken is opaque to
// callers and encodes a row offset.
type PageRequest struct {
	MaxResults int
	PageToken  string
}

// Offset returns the row offset carried by the token; a missing or
// malformed token starts from the beginning.
func (p PageRequest) Offset() int {
	raw, err := base64.RawURLEncoding.DecodeString(p.PageToken)
	if err != nil || len(raw) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Limit clamps MaxResults to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	switch {
	case p.MaxResults <= 0:
		return DefaultMaxResults
	case p.MaxResults > MaxMaxResults:
		return MaxMaxResults
	}
	return p.MaxResults
}

// Next returns the token of the page after this one, or "" when total rows
// are exhausted.
func (p PageRequest) Next(total int64) string {
	next := p.Offset() + p.Limit()
	if int64(next) >= total {
		return ""
	}
	return EncodePageToken(next)
}

// EncodePageToken turns a row offset into a page token.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}
