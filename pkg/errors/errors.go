package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeDuplicateKey        ErrorCode = "DUPLICATE_KEY"
	CodeCast                ErrorCode = "CAST_ERROR"
	CodeInvalidCredential   ErrorCode = "INVALID_CREDENTIAL"
	CodeExpiredCredential   ErrorCode = "EXPIRED_CREDENTIAL"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeIdempotencyRequired ErrorCode = "IDEMPOTENCY_REQUIRED"
	CodeIdempotencyConflict ErrorCode = "IDEMPOTENCY_CONFLICT"
	CodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeDeliveryFailed      ErrorCode = "DELIVERY_FAILED"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatusMap maps error codes to HTTP status codes
var HTTPStatusMap = map[ErrorCode]int{
	CodeValidation:          http.StatusBadRequest,
	CodeDuplicateKey:        http.StatusBadRequest,
	CodeCast:                http.StatusBadRequest,
	CodeInvalidCredential:   http.StatusUnauthorized,
	CodeExpiredCredential:   http.StatusUnauthorized,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeUnauthenticated:     http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeIdempotencyRequired: http.StatusBadRequest,
	CodeIdempotencyConflict: http.StatusConflict,
	CodeUpstreamTimeout:     http.StatusGatewayTimeout,
	CodeUpstreamUnavailable: http.StatusServiceUnavailable,
	CodeDeliveryFailed:      http.StatusInternalServerError,
	CodeBadRequest:          http.StatusBadRequest,
	CodeInternalError:       http.StatusInternalServerError,
}

// GenericMessage is the only detail a client sees for programming errors
// outside development mode.
const GenericMessage = "Something went very wrong!"

// ErrorResponse represents the standardized error response body
type ErrorResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code,omitempty"`
	Error   string    `json:"error,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

// AppError represents an application error with code and message
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorf creates a new AppError with formatted message
func NewAppErrorf(code ErrorCode, cause error, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func NotFound(message string) *AppError {
	return NewAppError(CodeNotFound, message, nil)
}

func BadRequest(message string) *AppError {
	return NewAppError(CodeBadRequest, message, nil)
}

func Unauthenticated(message string) *AppError {
	return NewAppError(CodeUnauthenticated, message, nil)
}

func Forbidden(message string) *AppError {
	return NewAppError(CodeForbidden, message, nil)
}

func Internal(cause error) *AppError {
	return NewAppError(CodeInternalError, GenericMessage, cause)
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	if status, exists := HTTPStatusMap[e.Code]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// Status is "fail" for client errors and "error" for everything else.
func (e *AppError) Status() string {
	if s := e.HTTPStatus(); s >= 400 && s < 500 {
		return "fail"
	}
	return "error"
}

// IsOperational reports whether the message is safe to show to a client.
func (e *AppError) IsOperational() bool {
	return e.Code != CodeInternalError
}

// IsRetryable reports whether the same request may succeed later.
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case CodeUpstreamTimeout, CodeUpstreamUnavailable, CodeConflict:
		return true
	default:
		return false
	}
}

// ToErrorResponse converts AppError to ErrorResponse. Detailed responses
// carry the code and the full error chain.
func (e *AppError) ToErrorResponse(traceID string, detailed bool) ErrorResponse {
	resp := ErrorResponse{
		Status:  e.Status(),
		Message: e.Message,
		TraceID: traceID,
	}
	if !e.IsOperational() && !detailed {
		resp.Message = GenericMessage
	}
	if detailed {
		resp.Code = e.Code
		resp.Error = e.Error()
	}
	return resp
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
