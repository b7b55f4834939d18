package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"vectorgate/internal/domain"
	"vectorgate/internal/middleware"
)

// Metadata keys carrying identity. gRPC lower-cases header names.
const (
	MetadataAuthorization = "authorization"
	MetadataPrincipal     = "x-principal"
	MetadataGroups        = "x-groups"
	MetadataRequestID     = "x-request-id"
)

// healthPrefix is exempt from authentication and rate limiting.
const healthPrefix = "/grpc.health.v1.Health/"

// ServerOptions returns the interceptor chain shared by the data service and
// the Flight SQL server: rate limiting, then authentication. Both
// arguments are optional.
func ServerOptions(auth *middleware.Authenticator, limiter *middleware.RateLimiter) []grpc.ServerOption {
	if auth == nil {
		auth = middleware.NewAuthenticator(nil, false, false)
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			unaryRateLimit(limiter),
			unaryAuth(auth),
		),
		grpc.ChainStreamInterceptor(
			streamRateLimit(limiter),
			streamAuth(auth),
		),
	}
}

// CredentialsFromMetadata extracts the identity inputs of an incoming call.
func CredentialsFromMetadata(ctx context.Context) middleware.Credentials {
	return middleware.Credentials{
		Authorization: metadataValue(ctx, MetadataAuthorization),
		Principal:     metadataValue(ctx, MetadataPrincipal),
		Groups:        metadataValue(ctx, MetadataGroups),
	}
}

func authenticate(ctx context.Context, auth *middleware.Authenticator) (context.Context, error) {
	p, err := auth.Authenticate(ctx, CredentialsFromMetadata(ctx))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "unauthorized: provide a valid bearer token")
	}
	ctx = domain.WithPrincipal(ctx, p)
	if id := metadataValue(ctx, MetadataRequestID); id != "" {
		ctx = middleware.WithRequestID(ctx, id)
	}
	return ctx, nil
}

func unaryAuth(auth *middleware.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, auth)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func streamAuth(auth *middleware.Authenticator) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), auth)
		if err != nil {
			return err
		}
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func unaryRateLimit(limiter *middleware.RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := allow(ctx, limiter, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func streamRateLimit(limiter *middleware.RateLimiter) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := allow(ss.Context(), limiter, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func allow(ctx context.Context, limiter *middleware.RateLimiter, method string) error {
	if !limiter.Enabled() || strings.HasPrefix(method, healthPrefix) {
		return nil
	}
	if ok, _ := limiter.Allow(peerKey(ctx)); !ok {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

// peerKey keys rate limiting by the peer's host.
func peerKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	return addr
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
