package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"modelgate/internal/core"
)

// DefaultBodySizeLimit caps request bodies; base64 images make them large.
const DefaultBodySizeLimit = "10M"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string       // Optional: Master key for authentication
	MetricsEnabled  bool         // Whether to expose the metrics endpoint
	MetricsEndpoint string       // HTTP path for metrics endpoint (default: /metrics)
	MetricsHandler  http.Handler // Serves the metrics endpoint
	BodySizeLimit   string       // Max request body size, e.g. "10M" (default: 10M)
	Logger          *slog.Logger
}

// New creates a new HTTP server around the configured backend handler.
func New(llm core.Handler, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(llm, logger)

	publicPaths := []string{"/health"}

	metricsEnabled := cfg.MetricsEnabled && cfg.MetricsHandler != nil
	metricsPath := "/metrics"
	if metricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		// The API namespace is never shadowed.
		if metricsPath == "/" || metricsPath == "/health" || strings.HasPrefix(metricsPath, "/v1/") || metricsPath == "/v1" {
			logger.Warn("metrics endpoint collides with API routes, using /metrics", "endpoint", cfg.MetricsEndpoint)
			metricsPath = "/metrics"
		}
		publicPaths = append(publicPaths, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: echo.HeaderXRequestID,
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(core.WithRequestID(c.Request().Context(), id)))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(requestLoggerConfig(logger)))
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit != "" {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, publicPaths, logger))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if metricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(cfg.MetricsHandler))
	}

	// API routes
	e.GET("/v1/model", handler.Model)
	e.GET("/v1/models", handler.ListModels)
	e.POST("/v1/messages", handler.CreateMessage)
	e.POST("/v1/messages/echo", handler.Echo)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func requestLoggerConfig(logger *slog.Logger) middleware.RequestLoggerConfig {
	return middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
