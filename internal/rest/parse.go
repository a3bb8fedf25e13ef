package rest

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "virtgate/internal/errors"
)

const mimeJSON = "application/json"

// ParseRequest decodes the JSON object body of r. Only application/json is
// accepted, even for an empty body; a missing Content-Type header counts as
// JSON. A JSON request without a body yields an empty map.
func ParseRequest(r *http.Request, maxBytes int64) (map[string]any, error) {
	if !mimeInHeader(r.Header, "Content-Type", mimeJSON) {
		return nil, apperrors.ErrUnsupportedMediaType
	}
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return map[string]any{}, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, apperrors.ErrInvalidJSON
	}
	if int64(len(data)) > maxBytes {
		return nil, apperrors.ErrRequestTooLarge
	}

	var v any
	if err := render.DecodeJSON(bytes.NewReader(data), &v); err != nil {
		return nil, apperrors.ErrInvalidJSON
	}
	params, ok := v.(map[string]any)
	if !ok {
		return nil, apperrors.ErrInvalidJSON
	}
	return params, nil
}

// mimeInHeader reports whether mime is one of the comma separated media
// types in header, ignoring parameters after the first ';'
func mimeInHeader(h http.Header, header, mime string) bool {
	value := h.Get(header)
	if value == "" {
		value = mimeJSON
	}
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = value[:i]
	}
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), mime) {
			return true
		}
	}
	return false
}
