package flightsql

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/apache/arrow-go/v18/arrow/flight/flightsql/schema_ref"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vectorgate/internal/dispatch"
	"vectorgate/internal/domain"
	"vectorgate/internal/rpc"
	"vectorgate/internal/vector"
)

// catalogName is reported for every schema; the backend has one catalog.
const catalogName = "vectorgate"

// pending is a submitted statement whose first block has not been read.
type pending struct {
	first   *vector.Block
	created time.Time
}

// queryServer answers Flight SQL statements through the dispatcher. The
// statement handle of a ticket is the allocator paging id; the first block,
// produced by submit, waits in pending until DoGet.
type queryServer struct {
	arrowflightsql.BaseServer

	d          *dispatch.Dispatcher
	mem        memory.Allocator
	pendingTTL time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]pending
	tickets map[string]string // serialized ticket -> handle
}

func newQueryServer(d *dispatch.Dispatcher, version string, pendingTTL time.Duration, logger *slog.Logger) *queryServer {
	srv := &queryServer{
		d:          d,
		mem:        memory.DefaultAllocator,
		pendingTTL: pendingTTL,
		logger:     logger,
		pending:    make(map[string]pending),
		tickets:    make(map[string]string),
	}
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerName, "vectorgate")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerVersion, version)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerArrowVersion, "18")
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerSql, true)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerReadOnly, true)
	_ = srv.RegisterSqlInfo(arrowflightsql.SqlInfoFlightSqlServerCancel, true)
	return srv
}

func (s *queryServer) GetFlightInfoStatement(ctx context.Context, stmt arrowflightsql.StatementQuery, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	res, err := s.d.SubmitQuery(ctx, domain.QueryRequest{SQL: stmt.GetQuery()})
	if err != nil {
		return nil, rpc.StatusFromError(err)
	}

	schema := arrow.NewSchema(nil, nil)
	if res.Block != nil {
		if schema, err = vector.ToArrowSchema(res.Block.Schema); err != nil {
			s.d.ReleaseResult(ctx, res.PagingID) //nolint:errcheck
			return nil, status.Error(codes.Internal, "convert result schema failed")
		}
	}

	ticket, err := arrowflightsql.CreateStatementQueryTicket([]byte(res.PagingID))
	if err != nil {
		return nil, fmt.Errorf("create statement query ticket: %w", err)
	}
	if res.Block != nil {
		s.mu.Lock()
		s.prune(time.Now())
		s.pending[res.PagingID] = pending{first: res.Block, created: time.Now()}
		s.tickets[string(ticket)] = res.PagingID
		s.mu.Unlock()
	}

	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(schema, s.mem),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket: &arrowflight.Ticket{Ticket: ticket},
			Location: []*arrowflight.Location{{
				Uri: arrowflight.LocationReuseConnection,
			}},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		Ordered:      true,
	}, nil
}

func (s *queryServer) DoGetStatement(ctx context.Context, queryTicket arrowflightsql.StatementQueryTicket) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	handle := string(queryTicket.GetStatementHandle())
	if handle == "" {
		schema := arrow.NewSchema(nil, nil)
		ch := make(chan arrowflight.StreamChunk)
		close(ch)
		return schema, ch, nil
	}

	s.mu.Lock()
	p, ok := s.pending[handle]
	delete(s.pending, handle)
	for t, h := range s.tickets {
		if h == handle {
			delete(s.tickets, t)
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil, status.Error(codes.NotFound, "unknown statement handle")
	}

	schema, err := vector.ToArrowSchema(p.first.Schema)
	if err != nil {
		return nil, nil, status.Error(codes.Internal, "convert result schema failed")
	}
	ch := make(chan arrowflight.StreamChunk)
	go s.drain(ctx, schema, p.first, handle, ch)
	return schema, ch, nil
}

// drain sends the first block, then pages through the cursor until it is
// exhausted. The cursor is released if the client goes away.
func (s *queryServer) drain(ctx context.Context, schema *arrow.Schema, first *vector.Block, id string, ch chan<- arrowflight.StreamChunk) {
	defer close(ch)
	b := first
	for b != nil {
		rec, err := vector.ToRecord(s.mem, schema, b)
		if err != nil {
			s.d.ReleaseResult(context.WithoutCancel(ctx), id) //nolint:errcheck
			send(ctx, ch, arrowflight.StreamChunk{Err: status.Error(codes.Internal, "convert block failed")})
			return
		}
		if !send(ctx, ch, arrowflight.StreamChunk{Data: rec}) {
			rec.Release()
			s.d.ReleaseResult(context.WithoutCancel(ctx), id) //nolint:errcheck
			return
		}

		page, err := s.d.FetchResult(ctx, id)
		if err != nil {
			send(ctx, ch, arrowflight.StreamChunk{Err: rpc.StatusFromError(err)})
			return
		}
		b, id = page.Block, page.NextPagingID
	}
}

func send(ctx context.Context, ch chan<- arrowflight.StreamChunk, chunk arrowflight.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *queryServer) CancelFlightInfo(ctx context.Context, req *arrowflight.CancelFlightInfoRequest) (arrowflight.CancelFlightInfoResult, error) {
	if !s.cancel(ctx, req.GetInfo()) {
		return arrowflight.CancelFlightInfoResult{Status: arrowflight.CancelStatusNotCancellable}, nil
	}
	return arrowflight.CancelFlightInfoResult{Status: arrowflight.CancelStatusCancelled}, nil
}

// CancelQuery serves the pre-13.0 cancel action.
func (s *queryServer) CancelQuery(ctx context.Context, req arrowflightsql.ActionCancelQueryRequest) (arrowflightsql.CancelResult, error) {
	if !s.cancel(ctx, req.GetInfo()) {
		return arrowflightsql.CancelResultNotCancellable, nil
	}
	return arrowflightsql.CancelResultCancelled, nil
}

// cancel releases the cursors behind every statement ticket of info and
// reports whether any was still open.
func (s *queryServer) cancel(ctx context.Context, info *arrowflight.FlightInfo) bool {
	canceled := false
	for _, ep := range info.GetEndpoint() {
		key := string(ep.GetTicket().GetTicket())
		s.mu.Lock()
		handle, ok := s.tickets[key]
		if ok {
			delete(s.tickets, key)
			delete(s.pending, handle)
		}
		s.mu.Unlock()
		if ok {
			s.d.ReleaseResult(ctx, handle) //nolint:errcheck
			canceled = true
		}
	}
	return canceled
}

// prune drops first blocks nobody fetched. Callers hold s.mu.
func (s *queryServer) prune(now time.Time) {
	if s.pendingTTL <= 0 {
		return
	}
	for handle, p := range s.pending {
		if now.Sub(p.created) > s.pendingTTL {
			delete(s.pending, handle)
		}
	}
	for t, h := range s.tickets {
		if _, ok := s.pending[h]; !ok {
			delete(s.tickets, t)
		}
	}
}

// === Metadata ===

func (s *queryServer) GetFlightInfoCatalogs(_ context.Context, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	return s.metadataInfo(schema_ref.Catalogs, desc), nil
}

func (s *queryServer) DoGetCatalogs(ctx context.Context) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	b := array.NewStringBuilder(s.mem)
	defer b.Release()
	b.Append(catalogName)
	return streamColumns(ctx, schema_ref.Catalogs, b.NewArray())
}

func (s *queryServer) GetFlightInfoSchemas(_ context.Context, _ arrowflightsql.GetDBSchemas, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	return s.metadataInfo(schema_ref.DBSchemas, desc), nil
}

func (s *queryServer) DoGetDBSchemas(ctx context.Context, req arrowflightsql.GetDBSchemas) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	names, err := s.schemaNames(ctx, req.GetCatalog(), req.GetDBSchemaFilterPattern())
	if err != nil {
		return nil, nil, err
	}
	catalogs := array.NewStringBuilder(s.mem)
	schemas := array.NewStringBuilder(s.mem)
	defer catalogs.Release()
	defer schemas.Release()
	for _, name := range names {
		catalogs.Append(catalogName)
		schemas.Append(name)
	}
	return streamColumns(ctx, schema_ref.DBSchemas, catalogs.NewArray(), schemas.NewArray())
}

func (s *queryServer) GetFlightInfoTables(_ context.Context, req arrowflightsql.GetTables, desc *arrowflight.FlightDescriptor) (*arrowflight.FlightInfo, error) {
	return s.metadataInfo(tablesSchema(req.GetIncludeSchema()), desc), nil
}

func (s *queryServer) DoGetTables(ctx context.Context, req arrowflightsql.GetTables) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	if types := req.GetTableTypes(); len(types) > 0 && !containsFold(types, "TABLE") && !containsFold(types, "BASE TABLE") {
		return streamColumns(ctx, tablesSchema(req.GetIncludeSchema()), s.emptyTableColumns(req.GetIncludeSchema())...)
	}
	names, err := s.schemaNames(ctx, req.GetCatalog(), req.GetDBSchemaFilterPattern())
	if err != nil {
		return nil, nil, err
	}

	catalogs := array.NewStringBuilder(s.mem)
	schemas := array.NewStringBuilder(s.mem)
	tables := array.NewStringBuilder(s.mem)
	types := array.NewStringBuilder(s.mem)
	tableSchemas := array.NewBinaryBuilder(s.mem, arrow.BinaryTypes.Binary)
	defer func() {
		catalogs.Release()
		schemas.Release()
		tables.Release()
		types.Release()
		tableSchemas.Release()
	}()

	for _, name := range names {
		sc, err := s.d.GetSchema(ctx, name)
		if err != nil {
			return nil, nil, rpc.StatusFromError(err)
		}
		for _, t := range sc.Tables {
			if p := req.GetTableNameFilterPattern(); p != nil && !likeMatch(*p, t.Name) {
				continue
			}
			catalogs.Append(catalogName)
			schemas.Append(name)
			tables.Append(t.Name)
			types.Append("TABLE")
			if req.GetIncludeSchema() {
				as, err := tableArrowSchema(t)
				if err != nil {
					return nil, nil, status.Error(codes.Internal, err.Error())
				}
				tableSchemas.Append(arrowflight.SerializeSchema(as, s.mem))
			}
		}
	}

	cols := []arrow.Array{catalogs.NewArray(), schemas.NewArray(), tables.NewArray(), types.NewArray()}
	if req.GetIncludeSchema() {
		cols = append(cols, tableSchemas.NewArray())
	}
	return streamColumns(ctx, tablesSchema(req.GetIncludeSchema()), cols...)
}

func (s *queryServer) GetSchemaTables(_ context.Context, req arrowflightsql.GetTables, _ *arrowflight.FlightDescriptor) (*arrowflight.SchemaResult, error) {
	return &arrowflight.SchemaResult{Schema: arrowflight.SerializeSchema(tablesSchema(req.GetIncludeSchema()), s.mem)}, nil
}

func (s *queryServer) metadataInfo(schema *arrow.Schema, desc *arrowflight.FlightDescriptor) *arrowflight.FlightInfo {
	return &arrowflight.FlightInfo{
		Schema:           arrowflight.SerializeSchema(schema, s.mem),
		FlightDescriptor: desc,
		Endpoint: []*arrowflight.FlightEndpoint{{
			Ticket: &arrowflight.Ticket{Ticket: desc.Cmd},
			Location: []*arrowflight.Location{{
				Uri: arrowflight.LocationReuseConnection,
			}},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
		Ordered:      true,
	}
}

// schemaNames lists schemas matching the catalog and LIKE pattern filters.
func (s *queryServer) schemaNames(ctx context.Context, catalog, pattern *string) ([]string, error) {
	if catalog != nil && *catalog != "" && *catalog != catalogName {
		return nil, nil
	}
	names, err := s.d.ListSchemas(ctx)
	if err != nil {
		return nil, rpc.StatusFromError(err)
	}
	out := names[:0:0]
	for _, name := range names {
		if pattern == nil || likeMatch(*pattern, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *queryServer) emptyTableColumns(includeSchema bool) []arrow.Array {
	n := 4
	if includeSchema {
		n = 5
	}
	cols := make([]arrow.Array, 0, n)
	for i := 0; i < 4; i++ {
		cols = append(cols, array.MakeArrayOfNull(s.mem, arrow.BinaryTypes.String, 0))
	}
	if includeSchema {
		cols = append(cols, array.MakeArrayOfNull(s.mem, arrow.BinaryTypes.Binary, 0))
	}
	return cols
}

func tablesSchema(includeSchema bool) *arrow.Schema {
	if includeSchema {
		return schema_ref.TablesWithIncludedSchema
	}
	return schema_ref.Tables
}

func tableArrowSchema(t domain.Table) (*arrow.Schema, error) {
	fields := make([]vector.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = vector.Field{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	}
	as, err := vector.ToArrowSchema(vector.NewSchema(fields...))
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", t.Name, err)
	}
	return as, nil
}

// streamColumns wraps cols in one record and streams it. It takes ownership
// of cols.
func streamColumns(ctx context.Context, schema *arrow.Schema, cols ...arrow.Array) (*arrow.Schema, <-chan arrowflight.StreamChunk, error) {
	rows := int64(0)
	if len(cols) > 0 {
		rows = int64(cols[0].Len())
	}
	record := array.NewRecord(schema, cols, rows)
	for _, c := range cols {
		c.Release()
	}
	rdr, err := array.NewRecordReader(schema, []arrow.Record{record})
	record.Release()
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan arrowflight.StreamChunk)
	go arrowflight.StreamChunksFromReader(ctx, rdr, ch)
	return schema, ch, nil
}

// likeMatch evaluates a SQL LIKE pattern with % and _ wildcards.
func likeMatch(pattern, s string) bool {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	ok, err := path.Match(b.String(), s)
	return err == nil && ok
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
