package domain

import "time"

// Audit statuses.
const (
	AuditAllowed = "ALLOWED"
	AuditDenied  = "DENIED"
	AuditError   = "ERROR"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID             string    `json:"id"`
	PrincipalName  string    `json:"principalName"`
	Action         string    `json:"action"` // "SUBMIT", "EXEC_SQL", "EXEC_PLAN"
	OriginalSQL    *string   `json:"originalSql,omitempty"`
	TablesAccessed []string  `json:"tablesAccessed"`
	Status         string    `json:"status"` // "ALLOWED", "DENIED", "ERROR"
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	DurationMs     *int64    `json:"durationMs,omitempty"`
	RowsReturned   *int64    `json:"rowsReturned,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	PrincipalName *string
	Action        *string
	Status        *string
	Page          PageRequest
}

// AuditPage is one page of an audit listing, newest first.
type AuditPage struct {
	Entries       []AuditEntry `json:"entries"`
	Total         int64        `json:"total"`
	NextPageToken string       `json:"nextPageToken,omitempty"`
}
