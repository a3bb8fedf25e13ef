package rest

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

const (
	defaultListConcurrency = 8
	defaultMaxBodyBytes    = 1 << 20
)

// CallObserver is notified after every model capability invocation
type CallObserver interface {
	ModelCall(ctx context.Context, kind, op string, d time.Duration, err error)
}

// Dispatcher maps HTTP requests onto model capabilities. It is safe for
// concurrent use; all per-request state lives in Resource and Collection
// values built by the handlers.
type Dispatcher struct {
	model           model.Model
	validator       Validator
	errors          *apperrors.ErrorHandler
	logger          *slog.Logger
	tracer          trace.Tracer
	observer        CallObserver
	listConcurrency int
	maxBodyBytes    int64
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithValidator installs the request body validator
func WithValidator(v Validator) Option {
	return func(d *Dispatcher) { d.validator = v }
}

// WithObserver installs a model call observer
func WithObserver(o CallObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithListConcurrency bounds concurrent member lookups of one listing
func WithListConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.listConcurrency = n
		}
	}
}

// WithMaxBodyBytes bounds accepted request bodies
func WithMaxBodyBytes(n int64) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBodyBytes = n
		}
	}
}

// NewDispatcher creates a dispatcher over m. Errors are reported through
// errs, the single error-to-status mapper.
func NewDispatcher(m model.Model, errs *apperrors.ErrorHandler, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		model:           m,
		errors:          errs,
		logger:          logger.With(slog.String("component", "dispatcher")),
		tracer:          otel.Tracer("virtgate/rest"),
		listConcurrency: defaultListConcurrency,
		maxBodyBytes:    defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) backend(kind model.Kind) any {
	if d.model == nil {
		return nil
	}
	return d.model.Backend(kind)
}

// call runs one model invocation inside a span and reports it to the observer
func (d *Dispatcher) call(ctx context.Context, kind model.Kind, op string, fn func(ctx context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, "model."+string(kind)+"."+op,
		trace.WithAttributes(
			attribute.String("model.kind", string(kind)),
			attribute.String("model.operation", op),
		))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if d.observer != nil {
		d.observer.ModelCall(ctx, string(kind), op, time.Since(start), err)
	}
	return err
}

func (d *Dispatcher) parse(r *http.Request) (map[string]any, error) {
	return ParseRequest(r, d.maxBodyBytes)
}

// ArgsFunc extracts the model arguments addressing a resource from a request
type ArgsFunc func(r *http.Request) []string

// Params reads the named chi URL parameters in order. Escaped segments are
// decoded; a segment that fails to decode is used raw.
func Params(names ...string) ArgsFunc {
	return func(r *http.Request) []string {
		args := make([]string, len(names))
		for i, name := range names {
			v := chi.URLParam(r, name)
			// chi matches on RawPath when the path carries escapes
			if r.URL.RawPath != "" {
				if u, err := url.PathUnescape(v); err == nil {
					v = u
				}
			}
			args[i] = v
		}
		return args
	}
}

// Static always yields values. Resources without an identifier use Static().
func Static(values ...string) ArgsFunc {
	return func(*http.Request) []string {
		return append([]string{}, values...)
	}
}

// handlerFunc produces a response or an error for one request
type handlerFunc func(r *http.Request) (*Response, error)

// serve adapts h to http.HandlerFunc, rejecting methods outside allowed
func (d *Dispatcher) serve(allowed []string, h handlerFunc) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		if !methodAllowed(allowed, r.Method) {
			w.Header().Set("Allow", allow)
			d.errors.HandleError(w, r, apperrors.MethodNotAllowed(r.Method))
			return
		}

		resp, err := h(r)
		if err != nil {
			d.errors.HandleError(w, r, err)
			return
		}
		d.write(w, r, resp)
	}
}

func methodAllowed(allowed []string, method string) bool {
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}
