// Package app wires the serving side together: configuration, logging,
// observability, the artifact-backed services and the chi router, plus
// the HTTP server lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"segcli/internal/artifacts"
	"segcli/internal/config"
	apperrors "segcli/internal/errors"
	"segcli/internal/infrastructure"
	custommw "segcli/internal/middleware"
	"segcli/internal/services"
	transport "segcli/internal/transport/http"
)

// Application holds the assembled serving components.
type Application struct {
	Config *config.Config
	Logger *slog.Logger

	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	Store         *artifacts.Store
	Analytics     *services.AnalyticsService
	Health        *services.HealthService

	Router chi.Router
	server *http.Server
}

// New builds the application from configuration with the default
// observability setup.
func New(cfg *config.Config) (*Application, error) {
	return NewWithObservability(cfg, infrastructure.DefaultOTelConfig())
}

// NewWithObservability builds the application with an explicit
// observability configuration.
func NewWithObservability(cfg *config.Config, otelCfg *infrastructure.OTelConfig) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize observability: %w", err)
	}

	otelMW, err := custommw.NewOTelMiddleware(providers)
	if err != nil {
		return nil, fmt.Errorf("initialize request instrumentation: %w", err)
	}

	store := artifacts.NewStore(cfg.Paths.ArtifactsDir, logger)

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       otelMW.Metrics(),
		Store:         store,
		Analytics:     services.NewAnalyticsService(store, logger),
		Health:        services.NewHealthService(store, infrastructure.ServiceVersion, logger),
	}
	a.setupRouter(otelMW)
	a.createServer()
	return a, nil
}

func (a *Application) setupRouter(otelMW *custommw.OTelMiddleware) {
	r := chi.NewRouter()

	// Instrumentation sits outermost so its span covers the whole chain.
	r.Use(otelMW.Handler)
	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(a.Logger))
	r.Use(custommw.Recoverer(a.Logger))
	r.Use(custommw.SecurityHeaders)
	r.Use(custommw.Compress(5))

	if a.Config.Security.EnableCORS {
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			Logger:         a.Logger,
		}))
	}
	if a.Config.Security.RateLimit.Enabled {
		r.Use(custommw.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	errorHandler := apperrors.NewErrorHandler(a.Logger, false)
	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		transport.NewAnalyticsHandler(a.Analytics, a.Logger).RegisterRoutes(r)
		transport.NewHealthHandler(a.Health, a.Logger).RegisterRoutes(r)
	})

	// Prometheus scrape endpoint, outside the API middleware chain.
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server listening",
			slog.String("addr", a.server.Addr),
			slog.String("artifacts_dir", a.Store.Dir()))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	return a.Stop(shutdownCtx)
}

// Stop shuts the server and the observability providers down.
func (a *Application) Stop(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		a.Logger.Warn("observability shutdown", slog.String("error", err.Error()))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	a.Logger.Info("shutdown complete")
	return nil
}

// WaitUntilReady polls the health endpoint until the server answers or
// the deadline passes. Used by startup checks.
func (a *Application) WaitUntilReady(ctx context.Context) error {
	url := fmt.Sprintf("http://localhost:%d/api/health", a.Config.Server.Port)
	client := &http.Client{Timeout: time.Second}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become ready: %w", ctx.Err())
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}
