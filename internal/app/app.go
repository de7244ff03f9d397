// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the modelgate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"modelgate/config"
	"modelgate/internal/core"
	"modelgate/internal/httpclient"
	"modelgate/internal/observability"
	"modelgate/internal/providers"
	"modelgate/internal/providers/anthropic"
	"modelgate/internal/providers/bedrock"
	"modelgate/internal/providers/openai"
	"modelgate/internal/providers/openrouter"
	"modelgate/internal/server"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config  *config.Config
	logger  *slog.Logger
	handler core.Handler
	metrics *observability.Metrics
	server  *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// NewFactory returns a provider factory with every backend registered.
func NewFactory(opts providers.Options) *providers.ProviderFactory {
	factory := providers.NewProviderFactory(opts)
	factory.Add(anthropic.Registration)
	factory.Add(openrouter.Registration)
	factory.Add(bedrock.Registration)
	factory.Add(openai.Registration)
	return factory
}

// ProviderOptions derives the options shared by every backend from cfg.
func ProviderOptions(cfg *config.Config, logger *slog.Logger) providers.Options {
	clientCfg := httpclient.WithTimeouts(
		time.Duration(cfg.HTTP.Timeout)*time.Second,
		time.Duration(cfg.HTTP.ResponseHeaderTimeout)*time.Second,
	)
	return providers.Options{
		Logger:     logger,
		HTTPClient: httpclient.NewHTTPClient(&clientCfg),
		Resilience: cfg.Resilience,
	}
}

// BuildHandler builds the handler selected by cfg.API. When metrics is not
// nil the handler reports to it.
func BuildHandler(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (core.Handler, error) {
	opts := ProviderOptions(cfg, logger)
	if metrics != nil {
		opts.Hooks = metrics.Hooks()
	}
	factory := NewFactory(opts)
	if metrics != nil {
		factory.Observe(metrics.Observe)
	}
	return factory.Build(cfg.API)
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{config: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		app.metrics = observability.New()
	}

	handler, err := BuildHandler(cfg, logger, app.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build handler: %w", err)
	}
	app.handler = handler

	app.logStartupInfo()

	serverCfg := &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		Logger:          logger,
	}
	if app.metrics != nil {
		serverCfg.MetricsHandler = app.metrics.Handler()
	}
	app.server = server.New(handler, serverCfg)

	return app, nil
}

// Handler returns the configured backend handler.
func (a *App) Handler() core.Handler {
	return a.handler
}

// ServeHTTP exposes the HTTP surface without binding a port.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, honoring the context deadline.
// It is idempotent; calls after the first are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			return fmt.Errorf("server shutdown: %w", err)
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		a.logger.Warn("SECURITY WARNING: MODELGATE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set MODELGATE_MASTER_KEY environment variable to secure this gateway")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	// Metrics configuration
	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	modelID, model := a.handler.GetModel()
	a.logger.Info("backend configured",
		"model", modelID,
		"max_tokens", model.MaxTokens,
		"images", model.SupportsImages,
		"prompt_cache", model.SupportsPromptCache,
		"tool_mode", cfg.API.ToolMode,
	)
}
