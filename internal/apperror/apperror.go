// Package apperror defines the domain error taxonomy shared by the service and
// HTTP layers.
//
// ERROR CLASSES:
//
//	ErrValidation  → the request was rejected before any resource was committed
//	ErrUnavailable → admission control refused the request (pool saturated)
//	ErrInternal    → the sandbox environment itself failed
//	ErrNotFound    → a lookup (execution log) found nothing
//
// The service layer returns these; handler/response.go translates them to HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("Validation Error")
	ErrUnavailable = errors.New("unavailable")
	ErrInternal    = errors.New("internal")
)

type AppError struct {
	Err     error  // sentinel class
	Message string // Human-readable error message, safe to show to callers
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, server-side only
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Unavailable reports that a request was refused by admission control.
// HTTP handlers map this to 503 Service Unavailable.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}

// Internal wraps an infrastructure failure. Message is the generic text shown
// to callers; cause is kept for logs and the execution log only.
func Internal(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrInternal,
		Message: message,
		Cause:   cause,
	}
}
