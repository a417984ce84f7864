package handle

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"homework-grader/api/internal/controller"
	"homework-grader/api/internal/grading"
	"homework-grader/api/internal/grading/types"
)

// ErrorType represents different categories of request failures
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTooLarge   ErrorType = "too_large"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeUpstream   ErrorType = "upstream"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeInternal   ErrorType = "internal"
)

// AppError carries the HTTP status for a failure; Kind is the grading error
// kind when the failure came from the grading call.
type AppError struct {
	Type       ErrorType
	Kind       string
	Message    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func NewValidationError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeValidation, Message: message, StatusCode: http.StatusBadRequest, Cause: cause}
}

func NewTooLargeError(message string, cause error) *AppError {
	return &AppError{Type: ErrorTypeTooLarge, Message: message, StatusCode: http.StatusRequestEntityTooLarge, Cause: cause}
}

// FromSubmitError maps controller.SubmitImage failures.
func FromSubmitError(err error) *AppError {
	switch {
	case errors.Is(err, controller.ErrBusy):
		return &AppError{Type: ErrorTypeConflict, Kind: "busy", Message: "a submission is already being graded", StatusCode: http.StatusConflict, Cause: err}
	case errors.Is(err, controller.ErrNotIdle):
		return &AppError{Type: ErrorTypeConflict, Kind: "not_idle", Message: "reset before submitting a new image", StatusCode: http.StatusConflict, Cause: err}
	case errors.Is(err, controller.ErrEmptyImage):
		return NewValidationError("empty image", err)
	default:
		return &AppError{Type: ErrorTypeInternal, Message: "submit failed", StatusCode: http.StatusInternalServerError, Cause: err}
	}
}

// FromGradingError maps an engine failure for the stateless endpoint.
func FromGradingError(err error) *AppError {
	kind := types.Kind(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Type: ErrorTypeTimeout, Kind: kind, Message: "grading timed out", StatusCode: http.StatusGatewayTimeout, Cause: err}
	case errors.Is(err, grading.ErrUnknownEngine):
		return NewValidationError("unknown engine", err)
	case kind == types.KindUnknown:
		return &AppError{Type: ErrorTypeInternal, Message: "grading failed", StatusCode: http.StatusInternalServerError, Cause: err}
	default:
		return &AppError{Type: ErrorTypeUpstream, Kind: kind, Message: "grading failed", StatusCode: http.StatusBadGateway, Cause: err}
	}
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
