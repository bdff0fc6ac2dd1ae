// Package http is the reqstream gateway: health, Prometheus metrics,
// realtime status, Server-Sent Event streams over the subscription manager
// and a publish endpoint for change events.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/reqstream/internal/logging"
	"github.com/fyrsmithlabs/reqstream/internal/realtime"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Publisher publishes change events to the change-event source.
type Publisher interface {
	Publish(ctx context.Context, evt realtime.ChangeEvent) (string, error)
}

// Server provides HTTP endpoints for reqstream.
type Server struct {
	echo      *echo.Echo
	manager   *realtime.Manager
	publisher Publisher
	gatherer  prometheus.Gatherer
	metrics   *HTTPMetrics
	logger    *logging.Logger
	config    *Config
	started   time.Time

	closing   chan struct{}
	closeOnce sync.Once
}

// Config holds HTTP server configuration.
type Config struct {
	Host              string
	Port              int
	HeartbeatInterval time.Duration
	StreamBuffer      int
	Version           string
}

// Option configures a Server.
type Option func(*Server)

// WithPublisher enables POST /api/v1/realtime/changes.
func WithPublisher(p Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithHTTPMetrics replaces the OpenTelemetry request instruments.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewServer creates a new HTTP server.
func NewServer(manager *realtime.Manager, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 16
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		manager:  manager,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.Named("http"),
		config:   cfg,
		started:  time.Now(),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(s.logger)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLog)

	s.registerRoutes()

	return s, nil
}

// requestContext carries the request id into the request context so every
// log line of the request is tagged with it.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidID(id) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	rt := s.echo.Group("/api/v1/realtime")
	rt.GET("/status", s.handleStatus)
	rt.GET("/projects", s.handleProjectStream)
	rt.GET("/projects/:project_id/requirements", s.handleRequirementStream)
	rt.POST("/changes", s.handlePublish)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Serve serves on an existing listener. Like Start it returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.echo.Server.Handler = s.echo
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", l.Addr().String()))
	return s.echo.Server.Serve(l)
}

// Shutdown ends open event streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	if err := s.echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
