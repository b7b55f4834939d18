// Package rpc exposes the dispatcher as the vectorgate.v1.DataService gRPC
// service. Messages are plain Go structs carried by a JSON codec.
package rpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vectorgate/internal/dispatch"
	"vectorgate/internal/domain"
	"vectorgate/internal/vector"
)

type dataServiceServer interface {
	Handshake(context.Context, *HandshakeRequest) (*domain.Capabilities, error)
	ListSchemas(context.Context, *ListSchemasRequest) (*ListSchemasResponse, error)
	GetSchema(context.Context, *GetSchemaRequest) (*domain.Schema, error)
	ParseSQL(context.Context, *ParseSQLRequest) (*ParseSQLResponse, error)
	SubmitQuery(context.Context, *SubmitQueryRequest) (*domain.SubmitResult, error)
	FetchResult(context.Context, *FetchResultRequest) (*domain.FetchResult, error)
	ExecSQL(*ExecSQLRequest, grpc.ServerStream) error
	ExecPlan(*ExecPlanRequest, grpc.ServerStream) error
	ListAudit(context.Context, *ListAuditRequest) (*domain.AuditPage, error)
}

// Server implements the data service on top of a Dispatcher.
type Server struct {
	d      *dispatch.Dispatcher
	logger *slog.Logger
}

// NewServer creates a Server.
func NewServer(d *dispatch.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{d: d, logger: logger.With("component", "rpc")}
}

// Register registers the data service with registrar.
func Register(registrar grpc.ServiceRegistrar, s *Server) {
	EnsureJSONCodec()
	registrar.RegisterService(&dataServiceDesc, s)
}

// Handshake implements the Handshake method.
func (s *Server) Handshake(ctx context.Context, _ *HandshakeRequest) (*domain.Capabilities, error) {
	caps, err := s.d.Handshake(ctx)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &caps, nil
}

// ListSchemas implements the ListSchemas method.
func (s *Server) ListSchemas(ctx context.Context, _ *ListSchemasRequest) (*ListSchemasResponse, error) {
	names, err := s.d.ListSchemas(ctx)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &ListSchemasResponse{Schemas: names}, nil
}

// GetSchema implements the GetSchema method.
func (s *Server) GetSchema(ctx context.Context, req *GetSchemaRequest) (*domain.Schema, error) {
	schema, err := s.d.GetSchema(ctx, req.Name)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return schema, nil
}

// ParseSQL implements the ParseSQL method.
func (s *Server) ParseSQL(ctx context.Context, req *ParseSQLRequest) (*ParseSQLResponse, error) {
	p, err := s.d.ParseSQL(ctx, req.SQL)
	if err != nil {
		return nil, StatusFromError(err)
	}
	data, err := p.Encode()
	if err != nil {
		return nil, status.Error(codes.Internal, "encode plan failed")
	}
	return &ParseSQLResponse{Plan: data, OutputNames: p.OutputNames()}, nil
}

// SubmitQuery implements the SubmitQuery method.
func (s *Server) SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*domain.SubmitResult, error) {
	q := domain.QueryRequest{SQL: req.SQL, Config: req.Config}
	if len(req.Plan) > 0 {
		p, err := decodePlan(req.Plan)
		if err != nil {
			return nil, StatusFromError(err)
		}
		q.Plan = p
	} else if req.SQL == "" {
		return nil, status.Error(codes.InvalidArgument, "one of sql and plan is required")
	}
	res, err := s.d.SubmitQuery(ctx, q)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &res, nil
}

// FetchResult implements the FetchResult method.
func (s *Server) FetchResult(ctx context.Context, req *FetchResultRequest) (*domain.FetchResult, error) {
	res, err := s.d.FetchResult(ctx, req.PagingID)
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &res, nil
}

// ExecSQL implements the server-streaming ExecSQL method.
func (s *Server) ExecSQL(req *ExecSQLRequest, stream grpc.ServerStream) error {
	return StatusFromError(s.d.ExecSQL(stream.Context(), req.SQL, req.Config, sendBlocks(stream)))
}

// ExecPlan implements the server-streaming ExecPlan method.
func (s *Server) ExecPlan(req *ExecPlanRequest, stream grpc.ServerStream) error {
	p, err := decodePlan(req.Plan)
	if err != nil {
		return StatusFromError(err)
	}
	return StatusFromError(s.d.ExecPlan(stream.Context(), p, req.Config, sendBlocks(stream)))
}

// ListAudit implements the ListAudit method.
func (s *Server) ListAudit(ctx context.Context, req *ListAuditRequest) (*domain.AuditPage, error) {
	page, err := s.d.ListAudit(ctx, req.filter())
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &page, nil
}

func sendBlocks(stream grpc.ServerStream) dispatch.Sink {
	return func(b *vector.Block) error {
		return stream.SendMsg(&BlockMessage{Block: b})
	}
}

const serviceName = "vectorgate.v1.DataService"

// Full method names.
const (
	MethodHandshake   = "/" + serviceName + "/Handshake"
	MethodListSchemas = "/" + serviceName + "/ListSchemas"
	MethodGetSchema   = "/" + serviceName + "/GetSchema"
	MethodParseSQL    = "/" + serviceName + "/ParseSQL"
	MethodSubmitQuery = "/" + serviceName + "/SubmitQuery"
	MethodFetchResult = "/" + serviceName + "/FetchResult"
	MethodExecSQL     = "/" + serviceName + "/ExecSQL"
	MethodExecPlan    = "/" + serviceName + "/ExecPlan"
	MethodListAudit   = "/" + serviceName + "/ListAudit"
)

var dataServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*dataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handshake", Handler: unaryHandler(MethodHandshake, dataServiceServer.Handshake)},
		{MethodName: "ListSchemas", Handler: unaryHandler(MethodListSchemas, dataServiceServer.ListSchemas)},
		{MethodName: "GetSchema", Handler: unaryHandler(MethodGetSchema, dataServiceServer.GetSchema)},
		{MethodName: "ParseSQL", Handler: unaryHandler(MethodParseSQL, dataServiceServer.ParseSQL)},
		{MethodName: "SubmitQuery", Handler: unaryHandler(MethodSubmitQuery, dataServiceServer.SubmitQuery)},
		{MethodName: "FetchResult", Handler: unaryHandler(MethodFetchResult, dataServiceServer.FetchResult)},
		{MethodName: "ListAudit", Handler: unaryHandler(MethodListAudit, dataServiceServer.ListAudit)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecSQL", Handler: streamHandler(dataServiceServer.ExecSQL), ServerStreams: true},
		{StreamName: "ExecPlan", Handler: streamHandler(dataServiceServer.ExecPlan), ServerStreams: true},
	},
	Metadata: "vectorgate/v1/data_service.json",
}

// execStreamDesc describes both streaming methods for the client.
var execStreamDesc = grpc.StreamDesc{ServerStreams: true}

func unaryHandler[Req, Resp any](fullMethod string, call func(dataServiceServer, context.Context, *Req) (*Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(dataServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(dataServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamHandler[Req any](call func(dataServiceServer, *Req, grpc.ServerStream) error) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		in := new(Req)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		return call(srv.(dataServiceServer), in, stream)
	}
}
