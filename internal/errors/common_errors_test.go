package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without cause",
			err:  NewMissingParameter("name"),
			want: "[MISSING_PARAMETER] name",
		},
		{
			name: "with cause",
			err:  NewOperationFailed("unable to start vm", errors.New("qemu exited")),
			want: "[OPERATION_FAILED] unable to start vm: qemu exited",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_UnwrapAndIsType(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("create pool: %w", NewOperationFailed("pool build", cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsType(err, ErrTypeOperationFailed))
	assert.False(t, IsType(err, ErrTypeNotFound))
	assert.False(t, IsType(errors.New("plain"), ErrTypeNotFound))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "pool build", appErr.Message)
}

func TestAppError_WithContext(t *testing.T) {
	err := &AppError{Type: ErrTypeNotFound, Message: "vm x"}
	err.WithContext("kind", "vm").WithContext("ident", "x")

	assert.Equal(t, "vm", err.Context["kind"])
	assert.Equal(t, "x", err.Context["ident"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		errType ErrorType
		method  string
		want    int
	}{
		{ErrTypeMissingParameter, http.MethodPost, http.StatusBadRequest},
		{ErrTypeInvalidParameter, http.MethodPut, http.StatusBadRequest},
		{ErrTypeInvalidOperation, http.MethodGet, http.StatusBadRequest},
		{ErrTypeNotFound, http.MethodDelete, http.StatusNotFound},
		{ErrTypeOperationFailed, http.MethodPost, http.StatusInternalServerError},
		{ErrTypeOperationFailed, http.MethodGet, http.StatusNotAcceptable},
		{ErrorType("UNKNOWN"), http.MethodGet, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType)+"/"+tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.errType, tt.method))
		})
	}
}
