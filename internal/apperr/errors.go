// Package apperr defines the typed errors returned across pipeline stages.
// Each error carries a stable code and a caller-safe message; the wrapped
// cause is kept for logging only and never rendered by Error().
package apperr

import (
	"errors"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	// content validation
	CodeFileRequired         Code = "FILE_REQUIRED"
	CodeFileTooLarge         Code = "FILE_TOO_LARGE"
	CodeFileUnreadable       Code = "FILE_UNREADABLE"
	CodeUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"

	// normalization
	CodeImageReadFailed     Code = "IMAGE_READ_FAILED"
	CodePreprocessingFailed Code = "PREPROCESSING_FAILED"

	// analysis
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodePayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeAnalysisFailed     Code = "ANALYSIS_FAILED"
	CodeInvalidResponse    Code = "INVALID_RESPONSE"

	// lookup / lifecycle
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
	CodeInternal Code = "INTERNAL_ERROR"
)

// Fixed messages for failures whose cause must not reach the caller.
const (
	MsgServiceUnavailable = "The analysis service is temporarily unavailable, please try again later"
	MsgAnalysisFailed     = "The document could not be analyzed"
	MsgInternal           = "An internal error occurred"
)

// Error is a classified pipeline failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the error code to the status the routing layer responds with.
func (e *Error) HTTPStatus() int {
	return StatusOf(e.Code)
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal when err is unclassified.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

func StatusOf(code Code) int {
	switch code {
	case CodeFileRequired, CodeFileUnreadable, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeFileTooLarge, CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMediaType, CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case CodeImageReadFailed:
		return http.StatusUnprocessableEntity
	case CodeAnalysisFailed, CodeInvalidResponse:
		return http.StatusBadGateway
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
