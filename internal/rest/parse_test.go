package rest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "virtgate/internal/errors"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        map[string]any
		wantErr     *apperrors.APIError
	}{
		{
			name: "no body",
			want: map[string]any{},
		},
		{
			name:        "json object",
			body:        `{"name":"vm1","memory":1024}`,
			contentType: "application/json",
			want:        map[string]any{"name": "vm1", "memory": float64(1024)},
		},
		{
			name: "missing content type is json",
			body: `{"size":10}`,
			want: map[string]any{"size": float64(10)},
		},
		{
			name:        "charset parameter",
			body:        `{}`,
			contentType: "application/json; charset=utf-8",
			want:        map[string]any{},
		},
		{
			name:        "unsupported media type",
			body:        `name=vm1`,
			contentType: "application/x-www-form-urlencoded",
			wantErr:     apperrors.ErrUnsupportedMediaType,
		},
		{
			name:        "empty body with foreign media type",
			contentType: "text/plain",
			wantErr:     apperrors.ErrUnsupportedMediaType,
		},
		{
			name:        "empty json body",
			contentType: "application/json",
			want:        map[string]any{},
		},
		{
			name:        "malformed json",
			body:        `{"name":`,
			contentType: "application/json",
			wantErr:     apperrors.ErrInvalidJSON,
		},
		{
			name:        "non object json",
			body:        `["a","b"]`,
			contentType: "application/json",
			wantErr:     apperrors.ErrInvalidJSON,
		},
		{
			name:        "too large",
			body:        `{"name":"` + strings.Repeat("x", 64) + `"}`,
			contentType: "application/json",
			wantErr:     apperrors.ErrRequestTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r *http.Request
			if tt.body == "" {
				r = httptest.NewRequest(http.MethodPost, "/vms", nil)
			} else {
				r = httptest.NewRequest(http.MethodPost, "/vms", strings.NewReader(tt.body))
			}
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}

			got, err := ParseRequest(r, 32)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMimeInHeader(t *testing.T) {
	h := http.Header{}
	assert.True(t, mimeInHeader(h, "Accept", "application/json"))

	h.Set("Accept", "text/html, application/json;q=0.9")
	assert.True(t, mimeInHeader(h, "Accept", "application/json"))

	h.Set("Accept", "text/html")
	assert.False(t, mimeInHeader(h, "Accept", "application/json"))
}
