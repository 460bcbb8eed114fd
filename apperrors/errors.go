package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes failures surfaced by the service.
type ErrorType string

const (
	TypeDataUnavailable ErrorType = "data_unavailable"
	TypeInvalidImage    ErrorType = "invalid_image"
	TypeMissingInput    ErrorType = "missing_input"
	TypeDetectorFailure ErrorType = "detector_failure"
	TypeInvalidInput    ErrorType = "invalid_input"
	TypePayloadTooLarge ErrorType = "payload_too_large"
	TypeNotFound        ErrorType = "not_found"
	TypeUnavailable     ErrorType = "unavailable"
	TypeInternal        ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type, so the
// package sentinels work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

var (
	ErrDataUnavailable = &AppError{Type: TypeDataUnavailable, StatusCode: http.StatusServiceUnavailable}
	ErrInvalidImage    = &AppError{Type: TypeInvalidImage, StatusCode: http.StatusBadRequest}
	ErrMissingInput    = &AppError{Type: TypeMissingInput, StatusCode: http.StatusBadRequest}
	ErrDetectorFailure = &AppError{Type: TypeDetectorFailure, StatusCode: http.StatusInternalServerError}
	ErrInvalidInput    = &AppError{Type: TypeInvalidInput, StatusCode: http.StatusBadRequest}
	ErrPayloadTooLarge = &AppError{Type: TypePayloadTooLarge, StatusCode: http.StatusRequestEntityTooLarge}
	ErrNotFound        = &AppError{Type: TypeNotFound, StatusCode: http.StatusNotFound}
	ErrUnavailable     = &AppError{Type: TypeUnavailable, StatusCode: http.StatusServiceUnavailable}
)

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewDataUnavailableError is returned when the color reference source cannot be read.
func NewDataUnavailableError(message string, cause error) *AppError {
	return newError(TypeDataUnavailable, http.StatusServiceUnavailable, message, cause)
}

func NewInvalidImageError(message string, cause error) *AppError {
	return newError(TypeInvalidImage, http.StatusBadRequest, message, cause)
}

func NewMissingInputError(message string) *AppError {
	return newError(TypeMissingInput, http.StatusBadRequest, message, nil)
}

// NewDetectorFailureError wraps an error raised by the detection model.
func NewDetectorFailureError(message string, cause error) *AppError {
	return newError(TypeDetectorFailure, http.StatusInternalServerError, message, cause)
}

// NewInvalidInputError covers malformed request fields other than the image.
func NewInvalidInputError(message string) *AppError {
	return newError(TypeInvalidInput, http.StatusBadRequest, message, nil)
}

func NewPayloadTooLargeError(message string, cause error) *AppError {
	return newError(TypePayloadTooLarge, http.StatusRequestEntityTooLarge, message, cause)
}

func NewNotFoundError(message string) *AppError {
	return newError(TypeNotFound, http.StatusNotFound, message, nil)
}

func NewUnavailableError(message string) *AppError {
	return newError(TypeUnavailable, http.StatusServiceUnavailable, message, nil)
}

func NewInternalError(message string, cause error) *AppError {
	return newError(TypeInternal, http.StatusInternalServerError, message, cause)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// StatusCode returns the HTTP status code for an error, 500 for foreign errors.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// TypeOf returns the error type, or TypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return TypeInternal
}
