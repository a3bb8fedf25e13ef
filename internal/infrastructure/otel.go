package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"virtgate/internal/config"
)

// InstrumentationName names the tracer and meter of this service
const InstrumentationName = "virtgate"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	// PrometheusHTTP is nil unless the prometheus exporter is selected
	PrometheusHTTP http.Handler
	logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics as selected by cfg. Exporters
// set to "none" leave the global no-op providers in place.
func InitializeOTel(cfg config.TelemetryConfig, version string, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()
	logger = WithComponent(logger, "telemetry")

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", instanceID()),
	)

	providers := &OTelProviders{
		Tracer: otel.Tracer(InstrumentationName),
		Meter:  noop.NewMeterProvider().Meter(InstrumentationName),
		logger: logger,
	}

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		)
		otel.SetTracerProvider(tp)
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version))
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}

	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		otel.SetMeterProvider(mp)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(version))
		providers.PrometheusHTTP = promhttp.Handler()
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "opentelemetry initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return providers, nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Metrics holds the service instruments. It satisfies the observer
// interfaces of the dispatch layer, the task queue and the websocket hub.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	ModelCallsTotal   metric.Int64Counter
	ModelCallDuration metric.Float64Histogram

	TasksTotal   metric.Int64Counter
	TaskDuration metric.Float64Histogram
	TasksActive  metric.Int64UpDownCounter

	WebSocketClients metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.HTTPRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter("http_active_requests",
		metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}
	if m.ModelCallsTotal, err = meter.Int64Counter("model_calls_total",
		metric.WithDescription("Total number of model capability invocations")); err != nil {
		return nil, err
	}
	if m.ModelCallDuration, err = meter.Float64Histogram("model_call_duration_seconds",
		metric.WithDescription("Model capability duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.TasksTotal, err = meter.Int64Counter("tasks_total",
		metric.WithDescription("Total number of finished background tasks")); err != nil {
		return nil, err
	}
	if m.TaskDuration, err = meter.Float64Histogram("task_duration_seconds",
		metric.WithDescription("Background task duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.TasksActive, err = meter.Int64UpDownCounter("tasks_active",
		metric.WithDescription("Number of running background tasks")); err != nil {
		return nil, err
	}
	if m.WebSocketClients, err = meter.Int64UpDownCounter("websocket_clients",
		metric.WithDescription("Number of connected task stream clients")); err != nil {
		return nil, err
	}

	return &m, nil
}

// ModelCall records one model capability invocation
func (m *Metrics) ModelCall(ctx context.Context, kind, op string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("model.kind", kind),
		attribute.String("model.operation", op),
		attribute.String("outcome", outcome),
	)
	m.ModelCallsTotal.Add(ctx, 1, attrs)
	m.ModelCallDuration.Record(ctx, d.Seconds(), attrs)
}

// TaskStarted marks a task as running
func (m *Metrics) TaskStarted(ctx context.Context, target string) {
	m.TasksActive.Add(ctx, 1, metric.WithAttributes(attribute.String("task.target", target)))
}

// TaskFinished records the outcome of a task
func (m *Metrics) TaskFinished(ctx context.Context, target, status string, d time.Duration) {
	m.TasksActive.Add(ctx, -1, metric.WithAttributes(attribute.String("task.target", target)))
	attrs := metric.WithAttributes(
		attribute.String("task.target", target),
		attribute.String("task.status", status),
	)
	m.TasksTotal.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, d.Seconds(), attrs)
}

// ClientConnected tracks a websocket client joining
func (m *Metrics) ClientConnected(ctx context.Context) {
	m.WebSocketClients.Add(ctx, 1)
}

// ClientDisconnected tracks a websocket client leaving
func (m *Metrics) ClientDisconnected(ctx context.Context) {
	m.WebSocketClients.Add(ctx, -1)
}

func instanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}
