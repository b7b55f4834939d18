package rpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vectorgate/internal/domain"
)

// StatusFromError maps domain errors to gRPC status errors. Errors that
// already carry a status pass through.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codeFromError(err), err.Error())
}

func codeFromError(err error) codes.Code {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var notImplemented *domain.NotImplementedError

	switch {
	case errors.As(err, &notFound):
		return codes.NotFound
	case errors.As(err, &accessDenied):
		return codes.PermissionDenied
	case errors.As(err, &validation):
		return codes.InvalidArgument
	case errors.As(err, &notImplemented):
		return codes.Unimplemented
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
