// Package errors defines the typed error taxonomy shared by the gateway and
// the synchronizer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeTransport  = "TRANSPORT"
	CodeAuth       = "AUTH"
	CodeValidation = "VALIDATION"
	CodeConflict   = "CONFLICT"
	CodeNotFound   = "NOT_FOUND"
	CodeInternal   = "INTERNAL"
)

// AppError carries a machine-readable code alongside the wrapped cause.
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Transport wraps a network-level failure reaching the REST gateway or channel.
func Transport(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransport,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// Auth marks an expired or invalid credential. Not retried here; session
// management owns recovery.
func Auth(message string, err error) *AppError {
	return &AppError{
		Code:    CodeAuth,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

// Validation marks a payload rejected by the gateway.
func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Conflict marks a mutation against an entity that no longer exists.
func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
		Err:     nil,
	}
}

// NotFound marks a missing entity.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     nil,
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// FromStatus maps an HTTP status code to the matching taxonomy entry.
func FromStatus(status int, message string) *AppError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth(message, nil)
	case status == http.StatusNotFound:
		return NotFound(message)
	case status == http.StatusConflict || status == http.StatusGone:
		return Conflict(message)
	case status >= 400 && status < 500:
		return Validation(message, nil)
	default:
		return New(CodeInternal, message, status, nil)
	}
}
