package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a failure produced by the HTTP layer itself
// (method checks, media type, body parsing, missing capabilities).
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined error types for common scenarios
var (
	ErrInvalidJSON          = New(http.StatusBadRequest, "INVALID_JSON", "Unable to parse JSON request")
	ErrUnsupportedMediaType = New(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "This API only supports 'application/json'")
	ErrRequestTooLarge      = New(http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large")
	ErrUnauthorized         = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	ErrRateLimitExceeded    = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded")
)

// MethodNotAllowed reports an HTTP method outside the endpoint's allowed set
func MethodNotAllowed(method string) *APIError {
	return New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		fmt.Sprintf("Method %s is not allowed for this endpoint", method))
}

// NotImplemented reports a resource kind whose model lacks a capability.
// The message is the operator-facing sentence, e.g. "Delete is not allowed for vm".
func NotImplemented(message string) *APIError {
	return New(http.StatusMethodNotAllowed, "NOT_IMPLEMENTED", message)
}

// NotAllowedParams reports PUT fields outside the update allow-list
func NotAllowedParams(params []string) *APIError {
	return NewWithDetails(http.StatusMethodNotAllowed, "UPDATE_NOT_ALLOWED",
		fmt.Sprintf("%q are not allowed to be updated", params), params)
}
