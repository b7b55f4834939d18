// Package api provides the HTTP transport of the data service.
package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vectorgate/internal/dispatch"
	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// RootSchemaPath addresses the root schema in GET /v1/schemas/{name}.
const RootSchemaPath = "_root"

// maxBodyBytes bounds request bodies. Plans can be large.
const maxBodyBytes = 16 << 20

// Handler serves the /v1 routes on top of a Dispatcher.
type Handler struct {
	d      *dispatch.Dispatcher
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d *dispatch.Dispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{d: d, logger: logger.With("component", "api")}
}

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/handshake", h.handshake)
	r.Get("/schemas", h.listSchemas)
	r.Get("/schemas/{name}", h.getSchema)
	r.Post("/parse", h.parse)
	r.Post("/query", h.submit)
	r.Get("/results/{pagingId}", h.fetch)
	r.Delete("/results/{pagingId}", h.release)
	r.Post("/exec", h.exec)
	r.Post("/policy/evaluate", h.evaluatePolicy)
	r.Get("/audit", h.listAudit)
}

// QueryRequest is the body of POST /v1/query and POST /v1/exec. Plan uses
// the Substrait protobuf JSON mapping.
type QueryRequest struct {
	SQL    string             `json:"sql,omitempty"`
	Plan   json.RawMessage    `json:"plan,omitempty"`
	Config domain.QueryConfig `json:"config"`
}

func (q QueryRequest) toDomain() (domain.QueryRequest, error) {
	req := domain.QueryRequest{SQL: q.SQL, Config: q.Config}
	if len(q.Plan) > 0 && !bytes.Equal(bytes.TrimSpace(q.Plan), []byte("null")) {
		p, err := plan.DecodeJSON(q.Plan)
		if err != nil {
			return domain.QueryRequest{}, domain.ErrValidation("invalid plan: %v", err)
		}
		req.Plan = p
	}
	if req.Plan == nil && req.SQL == "" {
		return domain.QueryRequest{}, domain.ErrValidation("one of sql and plan is required")
	}
	return req, nil
}

// ParseRequest is the body of POST /v1/parse.
type ParseRequest struct {
	SQL string `json:"sql"`
}

// ParseResponse carries a compiled plan in the Substrait JSON mapping.
type ParseResponse struct {
	Plan        json.RawMessage `json:"plan"`
	OutputNames []string        `json:"outputNames"`
}

// EvaluateRequest is the body of POST /v1/policy/evaluate.
type EvaluateRequest struct {
	Table   []string `json:"table"`
	Columns []string `json:"columns"`
}

// ExecLine is one line of the POST /v1/exec NDJSON stream. A failure after
// the first block is reported as a final line with Error set.
type ExecLine struct {
	Block *vector.Block `json:"block,omitempty"`
	Error *errorBody    `json:"error,omitempty"`
}

func (h *Handler) handshake(w http.ResponseWriter, r *http.Request) {
	caps, err := h.d.Handshake(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	names, err := h.d.ListSchemas(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemas": names})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == RootSchemaPath {
		name = domain.RootSchema
	}
	s, err := h.d.GetSchema(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.d.ParseSQL(r.Context(), req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := p.JSON()
	if err != nil {
		writeError(w, domain.ErrInternal(err, "encode plan failed"))
		return
	}
	writeJSON(w, http.StatusOK, ParseResponse{Plan: raw, OutputNames: p.OutputNames()})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.d.SubmitQuery(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.FetchResult(r.Context(), chi.URLParam(r, "pagingId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	if err := h.d.ReleaseResult(r.Context(), chi.URLParam(r, "pagingId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// exec streams every block as one NDJSON line, flushing after each.
func (h *Handler) exec(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toDomain()
	if err != nil {
		writeError(w, err)
		return
	}

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	sink := func(b *vector.Block) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(ExecLine{Block: b}); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if req.Plan != nil {
		err = h.d.ExecPlan(r.Context(), req.Plan, req.Config, sink)
	} else {
		err = h.d.ExecSQL(r.Context(), req.SQL, req.Config, sink)
	}
	switch {
	case err != nil && !started:
		writeError(w, err)
	case err != nil:
		h.logger.Warn("exec stream aborted", "error", err)
		status := httpStatusFromDomainError(err)
		_ = enc.Encode(ExecLine{Error: &errorBody{Code: status, Message: err.Error()}})
	case !started:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) evaluatePolicy(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.d.EvaluatePolicy(r.Context(), req.Table, req.Columns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listAudit serves GET /v1/audit?principal=&action=&status=&max_results=&page_token=.
func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AuditFilter{
		PrincipalName: optParam(q.Get("principal")),
		Action:        optParam(q.Get("action")),
		Status:        optParam(q.Get("status")),
		Page:          domain.PageRequest{PageToken: q.Get("page_token")},
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, domain.ErrValidation("max_results must be an integer"))
			return
		}
		filter.Page.MaxResults = n
	}
	page, err := h.d.ListAudit(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func optParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, domain.ErrValidation("invalid request body: %v", err))
		return false
	}
	return true
}
