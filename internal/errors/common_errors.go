package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures raised by the model layer
type ErrorType string

const (
	ErrTypeMissingParameter ErrorType = "MISSING_PARAMETER"
	ErrTypeInvalidParameter ErrorType = "INVALID_PARAMETER"
	ErrTypeInvalidOperation ErrorType = "INVALID_OPERATION"
	ErrTypeOperationFailed  ErrorType = "OPERATION_FAILED"
	ErrTypeNotFound         ErrorType = "NOT_FOUND"
)

// AppError is the error every model backend returns for an expected failure.
// The dispatch layer maps its Type to an HTTP status exactly once.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewMissingParameter reports a required body field that was not supplied
func NewMissingParameter(param string) *AppError {
	return NewAppError(ErrTypeMissingParameter, param, nil)
}

// NewInvalidParameter reports a field that failed schema or allow-list checks
func NewInvalidParameter(message string) *AppError {
	return NewAppError(ErrTypeInvalidParameter, message, nil)
}

// NewInvalidOperation reports an operation that is not valid in the current state
func NewInvalidOperation(message string) *AppError {
	return NewAppError(ErrTypeInvalidOperation, message, nil)
}

// NewOperationFailed reports an internal failure inside the model layer
func NewOperationFailed(message string, cause error) *AppError {
	return NewAppError(ErrTypeOperationFailed, message, cause)
}

// NewNotFoundError reports an identified entity that does not exist
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, resource, nil)
}

// IsType reports whether err wraps an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}
