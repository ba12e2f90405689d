// Package errors defines the application error carried to HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels matched by errors.Is through an AppError.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrConflict       = errors.New("resource conflict")
	ErrGone           = errors.New("resource gone")
	ErrServiceUnavail = errors.New("service unavailable")
)

type kind struct {
	code     string
	status   int
	sentinel error
	fallback string
}

var (
	kindNotFound     = kind{"NOT_FOUND", http.StatusNotFound, ErrNotFound, "resource not found"}
	kindUnauthorized = kind{"UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized, "authentication required"}
	kindForbidden    = kind{"FORBIDDEN", http.StatusForbidden, ErrForbidden, "access denied"}
	kindBadRequest   = kind{"BAD_REQUEST", http.StatusBadRequest, ErrBadRequest, "bad request"}
	kindConflict     = kind{"CONFLICT", http.StatusConflict, ErrConflict, "resource conflict"}
	kindGone         = kind{"GONE", http.StatusGone, ErrGone, "resource gone"}
	kindUnavailable  = kind{"SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail, "service temporarily unavailable"}

	kinds = []kind{kindNotFound, kindUnauthorized, kindForbidden, kindBadRequest, kindConflict, kindGone, kindUnavailable}
)

func (k kind) new(message string) *AppError {
	if message == "" {
		message = k.fallback
	}
	return &AppError{Code: k.code, Message: message, StatusCode: k.status, Err: k.sentinel}
}

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another AppError by code, or the wrapped error.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// WithDetails attaches details and returns e.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the payload of ErrorResponse.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse renders e for the wire.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: e.Code, Message: e.Message, Details: e.Details}}
}

// NewAppError builds an AppError with an explicit code and status.
func NewAppError(code, message string, statusCode int, err error) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode, Err: err}
}

// NotFound reports a missing resource by name.
func NotFound(resource string) *AppError {
	return kindNotFound.new(resource + " not found")
}

func Unauthorized(message string) *AppError       { return kindUnauthorized.new(message) }
func Forbidden(message string) *AppError          { return kindForbidden.new(message) }
func BadRequest(message string) *AppError         { return kindBadRequest.new(message) }
func Conflict(message string) *AppError           { return kindConflict.new(message) }
func Gone(message string) *AppError               { return kindGone.new(message) }
func ServiceUnavailable(message string) *AppError { return kindUnavailable.new(message) }

// Internal wraps err as a 500.
func Internal(message string, err error) *AppError {
	return NewAppError("INTERNAL_ERROR", message, http.StatusInternalServerError, err)
}

// GetStatusCode maps err to an HTTP status, defaulting to 500.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
