package rpc

import (
	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// Plans travel as binary Substrait; []byte fields are base64 in JSON.

// HandshakeRequest is empty.
type HandshakeRequest struct{}

// ListSchemasRequest is empty.
type ListSchemasRequest struct{}

// ListSchemasResponse lists schema names. The root schema is "".
type ListSchemasResponse struct {
	Schemas []string `json:"schemas"`
}

// GetSchemaRequest names one schema.
type GetSchemaRequest struct {
	Name string `json:"name"`
}

// ParseSQLRequest carries SQL text to compile.
type ParseSQLRequest struct {
	SQL string `json:"sql"`
}

// ParseSQLResponse carries the compiled plan.
type ParseSQLResponse struct {
	Plan        []byte   `json:"plan"`
	OutputNames []string `json:"outputNames"`
}

// SubmitQueryRequest submits SQL or a plan for paged retrieval.
type SubmitQueryRequest struct {
	SQL    string             `json:"sql,omitempty"`
	Plan   []byte             `json:"plan,omitempty"`
	Config domain.QueryConfig `json:"config"`
}

// FetchResultRequest asks for the page behind a paging id.
type FetchResultRequest struct {
	PagingID string `json:"pagingId"`
}

// ExecSQLRequest streams the result of SQL text.
type ExecSQLRequest struct {
	SQL    string             `json:"sql"`
	Config domain.QueryConfig `json:"config"`
}

// ExecPlanRequest streams the result of a plan.
type ExecPlanRequest struct {
	Plan   []byte             `json:"plan"`
	Config domain.QueryConfig `json:"config"`
}

// ListAuditRequest filters and pages the audit log. Empty strings match
// anything.
type ListAuditRequest struct {
	Principal  string `json:"principal,omitempty"`
	Action     string `json:"action,omitempty"`
	Status     string `json:"status,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
	PageToken  string `json:"pageToken,omitempty"`
}

func (r *ListAuditRequest) filter() domain.AuditFilter {
	opt := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	return domain.AuditFilter{
		PrincipalName: opt(r.Principal),
		Action:        opt(r.Action),
		Status:        opt(r.Status),
		Page:          domain.PageRequest{MaxResults: r.MaxResults, PageToken: r.PageToken},
	}
}

// BlockMessage is one streamed block.
type BlockMessage struct {
	Block *vector.Block `json:"block"`
}

func decodePlan(data []byte) (*plan.Plan, error) {
	p, err := plan.Decode(data)
	if err != nil {
		return nil, domain.ErrValidation("invalid plan: %v", err)
	}
	return p, nil
}
