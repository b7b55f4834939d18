package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

// ClientOptions identify the caller. Token takes precedence; Principal and
// Groups are only honored by servers that trust identity headers.
type ClientOptions struct {
	Token     string
	Principal string
	Groups    []string
}

// Client calls the data service.
type Client struct {
	conn *grpc.ClientConn
	opts ClientOptions
}

// Dial connects to target without transport security.
func Dial(target string, opts ClientOptions, dialOpts ...grpc.DialOption) (*Client, error) {
	EnsureJSONCodec()
	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, dialOpts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial data service: %w", err)
	}
	return &Client{conn: conn, opts: opts}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) withMetadata(ctx context.Context) context.Context {
	var pairs []string
	if c.opts.Token != "" {
		pairs = append(pairs, MetadataAuthorization, "Bearer "+c.opts.Token)
	}
	if c.opts.Principal != "" {
		pairs = append(pairs, MetadataPrincipal, c.opts.Principal)
	}
	if len(c.opts.Groups) > 0 {
		pairs = append(pairs, MetadataGroups, strings.Join(c.opts.Groups, ","))
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(c.withMetadata(ctx), method, in, out, grpc.CallContentSubtype(CodecName))
}

// Handshake returns the server capabilities.
func (c *Client) Handshake(ctx context.Context) (domain.Capabilities, error) {
	var out domain.Capabilities
	err := c.invoke(ctx, MethodHandshake, &HandshakeRequest{}, &out)
	return out, err
}

// ListSchemas returns the schema names.
func (c *Client) ListSchemas(ctx context.Context) ([]string, error) {
	var out ListSchemasResponse
	if err := c.invoke(ctx, MethodListSchemas, &ListSchemasRequest{}, &out); err != nil {
		return nil, err
	}
	return out.Schemas, nil
}

// GetSchema returns one schema.
func (c *Client) GetSchema(ctx context.Context, name string) (*domain.Schema, error) {
	out := &domain.Schema{}
	if err := c.invoke(ctx, MethodGetSchema, &GetSchemaRequest{Name: name}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseSQL compiles sql on the server.
func (c *Client) ParseSQL(ctx context.Context, sql string) (*plan.Plan, error) {
	var out ParseSQLResponse
	if err := c.invoke(ctx, MethodParseSQL, &ParseSQLRequest{SQL: sql}, &out); err != nil {
		return nil, err
	}
	return plan.Decode(out.Plan)
}

// SubmitQuery submits req and returns the first page.
func (c *Client) SubmitQuery(ctx context.Context, req domain.QueryRequest) (domain.SubmitResult, error) {
	in := &SubmitQueryRequest{SQL: req.SQL, Config: req.Config}
	if req.Plan != nil {
		data, err := req.Plan.Encode()
		if err != nil {
			return domain.SubmitResult{}, err
		}
		in.Plan = data
	}
	var out domain.SubmitResult
	err := c.invoke(ctx, MethodSubmitQuery, in, &out)
	return out, err
}

// FetchResult fetches the page behind id.
func (c *Client) FetchResult(ctx context.Context, id string) (domain.FetchResult, error) {
	var out domain.FetchResult
	err := c.invoke(ctx, MethodFetchResult, &FetchResultRequest{PagingID: id}, &out)
	return out, err
}

// ListAudit returns one page of the audit log.
func (c *Client) ListAudit(ctx context.Context, req ListAuditRequest) (domain.AuditPage, error) {
	var out domain.AuditPage
	err := c.invoke(ctx, MethodListAudit, &req, &out)
	return out, err
}

// ExecSQL streams the result of sql to fn.
func (c *Client) ExecSQL(ctx context.Context, sql string, cfg domain.QueryConfig, fn func(*vector.Block) error) error {
	return c.stream(ctx, MethodExecSQL, &ExecSQLRequest{SQL: sql, Config: cfg}, fn)
}

// ExecPlan streams the result of p to fn.
func (c *Client) ExecPlan(ctx context.Context, p *plan.Plan, cfg domain.QueryConfig, fn func(*vector.Block) error) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	return c.stream(ctx, MethodExecPlan, &ExecPlanRequest{Plan: data, Config: cfg}, fn)
}

func (c *Client) stream(ctx context.Context, method string, in interface{}, fn func(*vector.Block) error) error {
	ctx, cancel := context.WithCancel(c.withMetadata(ctx))
	defer cancel()

	st, err := c.conn.NewStream(ctx, &execStreamDesc, method, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := st.SendMsg(in); err != nil {
		return err
	}
	if err := st.CloseSend(); err != nil {
		return err
	}
	for {
		var msg BlockMessage
		err := st.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg.Block); err != nil {
			return err
		}
	}
}

// Drain pages through a submitted query until it is exhausted.
func (c *Client) Drain(ctx context.Context, req domain.QueryRequest) ([]*vector.Block, error) {
	first, err := c.SubmitQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	if first.Block == nil {
		return nil, nil
	}
	blocks := []*vector.Block{first.Block}
	for id := first.PagingID; id != ""; {
		page, err := c.FetchResult(ctx, id)
		if err != nil {
			return blocks, err
		}
		if page.Block == nil {
			break
		}
		blocks = append(blocks, page.Block)
		id = page.NextPagingID
	}
	return blocks, nil
}
