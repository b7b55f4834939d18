// Package domain defines core types, interfaces, and errors for the query federation service.
package domain

import "fmt"

// NotFoundError indicates a schema, table or result was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates the policy set refused the request. It is
// always raised before any execution or data transfer.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input, such as SQL that fails to compile
// or a malformed plan. The message carries the diagnostic for the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotImplementedError indicates an operation the current deployment cannot
// serve, e.g. SQL ingestion with no compiler configured.
type NotImplementedError struct {
	Message string
}

func (e *NotImplementedError) Error() string { return e.Message }

// InternalError wraps a backend failure. Error() returns only the public
// message; the cause is reachable through Unwrap for server-side logging.
type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string { return e.Message }

func (e *InternalError) Unwrap() error { return e.Cause }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented creates a NotImplementedError with a formatted message.
func ErrNotImplemented(format string, args ...interface{}) *NotImplementedError {
	return &NotImplementedError{Message: fmt.Sprintf(format, args...)}
}

// ErrInternal wraps cause in an InternalError with a generic public message.
func ErrInternal(cause error, format string, args ...interface{}) *InternalError {
	return &InternalError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
