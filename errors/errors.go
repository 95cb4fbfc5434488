package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Request-level failures, surfaced to the caller as-is.
	ErrValidation           = fmt.Errorf("validation failed")
	ErrUnauthorized         = fmt.Errorf("unauthorized")
	ErrForbidden            = fmt.Errorf("forbidden")
	ErrNotFound             = fmt.Errorf("not found")
	ErrMethodNotAllowed     = fmt.Errorf("method not allowed")
	ErrMessageAlreadyExists = fmt.Errorf("message already exists")
	ErrRateLimited          = fmt.Errorf("too many requests")

	// Infrastructure failures. The caller may retry.
	ErrTransient = fmt.Errorf("transient infrastructure error")

	// ErrGone means the delivery target will never accept a payload again.
	ErrGone = fmt.Errorf("connection gone")

	ErrConfiguration = fmt.Errorf("configuration error")
	ErrQueueClosed   = fmt.Errorf("publish channel closed")
)

// Machine-readable codes returned in the errorCode field.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// ValidationError lists every rule a request broke.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Details, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(details ...string) error {
	return &ValidationError{Details: details}
}

// Unauthorized wraps ErrUnauthorized with the rejection reason.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}

// Transient wraps a downstream failure so it classifies as ErrTransient.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsTerminal reports whether a delivery error means the target is permanently gone.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrGone)
}

// Classify maps an error to its HTTP status and machine-readable code.
// Anything unknown is an internal error.
func Classify(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, CodeMethodNotAllowed
	case errors.Is(err, ErrMessageAlreadyExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeTooManyRequests
	default:
		return http.StatusInternalServerError, CodeInternalServerError
	}
}

// Is, As and Join re-export the standard helpers so callers only import one errors package.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
