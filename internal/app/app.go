package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"virtgate/internal/api"
	"virtgate/internal/auth"
	"virtgate/internal/config"
	apperrors "virtgate/internal/errors"
	"virtgate/internal/infrastructure"
	customMiddleware "virtgate/internal/middleware"
	"virtgate/internal/model/memory"
	"virtgate/internal/rest"
	"virtgate/internal/services"
	"virtgate/internal/tasks"
	handlers "virtgate/internal/transport/http"
	"virtgate/internal/validation"
	ws "virtgate/internal/websocket"
)

// Build information, set at link time with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Application represents the main application container
type Application struct {
	Config     *config.Config
	Router     *chi.Mux
	Server     *http.Server
	Logger     *slog.Logger
	OTel       *infrastructure.OTelProviders
	Metrics    *infrastructure.Metrics
	Errors     *apperrors.ErrorHandler
	TaskQueue  *tasks.Queue
	Hub        *ws.Hub
	Model      *memory.Model
	Dispatcher *rest.Dispatcher
	Auth       *auth.Authenticator
	Health     *services.HealthService

	logCloser io.Closer
	plugins   []string
}

// Option customizes an Application before its services are built
type Option func(*Application)

// WithLogger replaces the logger built from the logging configuration
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		a.Logger = logger
	}
}

// WithPlugins lists the UI plugins reported by GET /plugins
func WithPlugins(names ...string) Option {
	return func(a *Application) {
		a.plugins = append(a.plugins, names...)
	}
}

// New wires every component for cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	a := &Application{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		logger, closer, err := infrastructure.NewLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger, a.logCloser = logger, closer
	}

	a.Logger.Info("application starting",
		slog.String("version", Version),
		slog.String("commit", Commit),
		slog.String("data_dir", cfg.Paths.DataDir))

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, Version, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTel = otelProviders

	metrics, err := infrastructure.NewMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	a.Metrics = metrics

	if err := a.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices builds the services in dependency order
func (a *Application) initializeServices() error {
	cfg := a.Config
	a.Errors = apperrors.NewErrorHandler(a.Logger, false)

	a.Hub = ws.NewHub(a.Logger, a.Metrics)
	a.TaskQueue = tasks.NewQueue(cfg.Tasks.Workers, cfg.Tasks.QueueSize, tasks.NewMemoryStore(), a.Logger,
		tasks.WithBroadcaster(a.Hub),
		tasks.WithObserver(a.Metrics))

	m, err := memory.New(memory.Options{
		DataDir:  cfg.Paths.DataDir,
		HTTPPort: cfg.Server.Port,
		Queue:    a.TaskQueue,
		Plugins:  a.plugins,
		Logger:   a.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	a.Model = m

	dispatchOpts := []rest.Option{
		rest.WithObserver(a.Metrics),
		rest.WithTracer(a.OTel.Tracer),
		rest.WithListConcurrency(cfg.API.ListConcurrency),
		rest.WithMaxBodyBytes(cfg.API.MaxBodyBytes),
	}
	validator, err := validation.Load(cfg.Schema, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load request schema: %w", err)
	}
	if validator != nil {
		dispatchOpts = append(dispatchOpts, rest.WithValidator(validator))
	}
	a.Dispatcher = rest.NewDispatcher(m, a.Errors, a.Logger, dispatchOpts...)

	if cfg.Auth.Enabled {
		a.Auth = auth.NewAuthenticator(cfg.Auth, a.Errors, a.Logger)
	}

	sources := map[string]services.StatsSource{
		"tasks":     a.TaskQueue,
		"websocket": a.Hub,
	}
	if a.Auth != nil {
		sources["auth"] = a.Auth
	}
	a.Health = services.NewHealthService(
		services.BuildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime},
		cfg.Paths.DataDir,
		sources,
		a.Logger,
	)

	return nil
}

// setupRouter applies the middleware chain and mounts the API
func (a *Application) setupRouter() {
	cfg := a.Config
	r := chi.NewRouter()

	// Order: RequestID → RealIP → OTel → errors/recover → security → CORS → rate limit
	r.Use(customMiddleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.NewOTelMiddleware(a.OTel.Tracer, a.Metrics).Handler)
	r.Use(apperrors.NewErrorMiddleware(a.Errors, a.Logger).Handler)
	r.Use(customMiddleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.corsConfig()))
	}
	if cfg.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			cfg.Security.RateLimit.RPS,
			cfg.Security.RateLimit.Burst,
			a.Errors,
			a.Logger,
		).Handler)
	}

	api.Routes(r, api.Deps{
		Dispatcher:     a.Dispatcher,
		Errors:         a.Errors,
		Auth:           a.Auth,
		Hub:            a.Hub,
		Health:         handlers.NewHealthHandler(a.Health, a.Logger),
		Metrics:        a.OTel.PrometheusHTTP,
		AllowedOrigins: cfg.Security.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         a.Logger,
	})

	a.Router = r
}

func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowCredentials: a.Config.Auth.Enabled,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start launches the background services
func (a *Application) Start(ctx context.Context) {
	a.Hub.Start()
	// Workers outlive ctx; Stop drains them
	a.TaskQueue.Start(context.WithoutCancel(ctx))
	a.Logger.InfoContext(ctx, "background services started",
		slog.Int("task_workers", a.Config.Tasks.Workers))
}

// Serve accepts connections on ln until the server is shut down
func (a *Application) Serve(ln net.Listener) error {
	a.Logger.Info("http server listening", slog.String("address", ln.Addr().String()))
	if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	a.Hub.Stop()

	if err := a.TaskQueue.Stop(a.Config.Server.ShutdownTimeout); err != nil {
		a.Logger.ErrorContext(ctx, "failed to stop task queue gracefully", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.OTel.Shutdown(shutdownCtx); err != nil {
		a.Logger.ErrorContext(ctx, "error shutting down OpenTelemetry", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts down
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}

	a.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutdown requested")
		return a.Stop(context.Background())
	})

	return g.Wait()
}
