package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtgate/internal/shared/testutil"
)

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		err        error
		wantStatus int
		wantType   string
		wantDetail string
	}{
		{
			name:       "missing parameter",
			method:     http.MethodPost,
			err:        NewMissingParameter("size"),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeMissingParameter,
			wantDetail: "Missing parameter: 'size'",
		},
		{
			name:       "invalid parameter",
			method:     http.MethodPost,
			err:        NewInvalidParameter("name is required"),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeInvalidParameter,
			wantDetail: "Invalid parameter: 'name is required'",
		},
		{
			name:       "invalid operation",
			method:     http.MethodDelete,
			err:        NewInvalidOperation("vm is running"),
			wantStatus: http.StatusBadRequest,
			wantType:   TypeInvalidOperation,
			wantDetail: "Invalid operation: 'vm is running'",
		},
		{
			name:       "operation failed on write",
			method:     http.MethodPost,
			err:        NewOperationFailed("boom", nil),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeOperationFailed,
			wantDetail: "Operation Failed: 'boom'",
		},
		{
			name:       "operation failed on read",
			method:     http.MethodGet,
			err:        fmt.Errorf("lookup: %w", NewOperationFailed("boom", nil)),
			wantStatus: http.StatusNotAcceptable,
			wantType:   TypeOperationFailed,
		},
		{
			name:       "not found",
			method:     http.MethodGet,
			err:        NewNotFoundError("vm test"),
			wantStatus: http.StatusNotFound,
			wantType:   TypeNotFound,
			wantDetail: "Not found: 'vm test'",
		},
		{
			name:       "api error",
			method:     http.MethodDelete,
			err:        NotImplemented("Delete is not allowed for storagepool"),
			wantStatus: http.StatusMethodNotAllowed,
			wantType:   TypeMethodNotAllowed,
			wantDetail: "Delete is not allowed for storagepool",
		},
		{
			name:       "context deadline",
			method:     http.MethodGet,
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   TypeTimeout,
		},
		{
			name:       "unknown error",
			method:     http.MethodGet,
			err:        errors.New("something went wrong"),
			wantStatus: http.StatusInternalServerError,
			wantType:   TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logHandler := testutil.NewTestLogger(t)
			handler := NewErrorHandler(logger, false)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.method, "/vms/test", nil)

			handler.HandleError(w, r, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

			var problem ProblemDetails
			require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
			assert.Equal(t, tt.wantType, problem.Type)
			assert.Equal(t, tt.wantStatus, problem.Status)
			assert.Equal(t, "/vms/test", problem.Instance)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, problem.Detail)
			}

			assert.True(t, logHandler.ContainsMessage("request failed"))
		})
	}
}

func TestErrorHandler_HandleNil(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, logHandler.Count())
	assert.Empty(t, w.Body.String())
}

func TestErrorHandler_ServerErrorsLogAtErrorLevel(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, true)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodPost, "/vms", nil), NewOperationFailed("x", nil))

	testutil.AssertLogContains(t, logHandler, slog.LevelError, "request failed")

	var problem ProblemDetails
	require.NoError(t, json.NewDecoder(w.Body).Decode(&problem))
	assert.Contains(t, problem.Extensions, "stack")
}

func TestErrorHandler_NotFoundLogsAtInfoLevel(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.HandleError(w, httptest.NewRequest(http.MethodGet, "/vms/x", nil),
		fmt.Errorf("lookup: %w", NewNotFoundError("vm x")))

	assert.Equal(t, http.StatusNotFound, w.Code)
	testutil.AssertLogContains(t, logHandler, slog.LevelInfo, "request failed")
	assert.Empty(t, logHandler.GetRecordsByLevel(slog.LevelWarn))
}

func TestErrorHandler_MethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.MethodNotAllowed(w, httptest.NewRequest(http.MethodPatch, "/vms", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "Method PATCH is not allowed")
}

func TestErrorHandler_HandlePanic(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	handler := NewErrorHandler(logger, false)

	w := httptest.NewRecorder()
	handler.HandlePanic(w, httptest.NewRequest(http.MethodGet, "/", nil), "kaboom")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, logHandler.ContainsMessage("panic recovered"))
	assert.NotContains(t, w.Body.String(), "kaboom")
}
