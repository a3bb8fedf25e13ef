package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxCapturedBody = 1 << 20
	maxLoggedBody   = 500
)

var redactedKeys = []string{"password", "passwd", "token", "secret", "api_key"}

// ErrorMiddleware writes one access log record per request and turns panics
// into problem responses. Handlers further down the chain add attributes to
// that record with AnnotateRequest.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates the access log and recovery middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "access_log")),
	}
}

type annotationsKey struct{}

type annotations struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// AnnotateRequest appends attrs to the access log record of the request
// carried by ctx. Outside ErrorMiddleware it does nothing.
func AnnotateRequest(ctx context.Context, attrs ...slog.Attr) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.attrs = append(a.attrs, attrs...)
	a.mu.Unlock()
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		body := captureBody(r)

		notes := &annotations{}
		r = r.WithContext(context.WithValue(r.Context(), annotationsKey{}, notes))

		defer func() {
			if rec := recover(); rec != nil {
				m.handler.HandlePanic(ww, r, rec)
			}
			m.logRequest(r, ww, body, notes, time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *ErrorMiddleware) logRequest(r *http.Request, ww middleware.WrapResponseWriter, body []byte, notes *annotations, elapsed time.Duration) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.Int("bytes", ww.BytesWritten()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, slog.String("query", r.URL.RawQuery))
	}
	if status >= http.StatusBadRequest && len(body) > 0 {
		attrs = append(attrs, slog.String("request_body", redactBody(body)))
	}

	notes.mu.Lock()
	attrs = append(attrs, notes.attrs...)
	notes.mu.Unlock()

	m.logger.LogAttrs(r.Context(), levelFor(status), "http request", attrs...)
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// captureBody reads a small request body and puts it back for the handler
func captureBody(r *http.Request) []byte {
	if r.Body == nil || r.ContentLength <= 0 || r.ContentLength > maxCapturedBody {
		return nil
	}
	data, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data
}

// redactBody masks credential keys of a JSON object body and truncates it
func redactBody(body []byte) string {
	out := string(body)
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range redactedKeys {
			if _, ok := obj[key]; ok {
				obj[key] = "[REDACTED]"
			}
		}
		if b, err := json.Marshal(obj); err == nil {
			out = string(b)
		}
	}
	if len(out) > maxLoggedBody {
		out = out[:maxLoggedBody] + "..."
	}
	return out
}
