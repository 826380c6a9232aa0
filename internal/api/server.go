// Package api serves the read facade and the alert stream over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/engine"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/poller"
)

// Facade is the engine surface the API needs.
type Facade interface {
	CurrentAlert() alert.FusedAlert
	SubscribeAlerts() (<-chan alert.Transition, func())
	Notifications(ctx context.Context, role notification.Role) ([]notification.Notification, error)
	UnreadNotifications(ctx context.Context, role notification.Role) ([]notification.Notification, error)
	Unread(ctx context.Context, role notification.Role) (int, error)
	Acknowledge(ctx context.Context, role notification.Role) (time.Time, error)
	SubscribeNotifications(role notification.Role) (<-chan notification.Notification, func())
	Positions(kind string) ([]detection.EntityPosition, error)
	History(ctx context.Context, limit int) ([]alert.Incident, error)
	RequestValidation(ctx context.Context, imageRef, requestedBy string) (engine.ValidationResult, error)
	Validations(ctx context.Context, limit int) ([]alert.ValidationRequest, error)
	SourceStatus() []poller.Status
}

var _ Facade = (*engine.Engine)(nil)

// Config configures the HTTP server.
type Config struct {
	Listen       string
	MetricsPath  string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server owns the echo instance and its routes.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	facade  Facade
	metrics http.Handler
	log     logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler exposes h at Config.MetricsPath.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// New builds a Server and registers every route.
func New(cfg Config, facade Facade, opts ...ServerOption) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	s := &Server{cfg: cfg, facade: facade}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDiscard(s.log).Module("api")

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	// No WriteTimeout: it would cut off SSE streams.
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
				logger.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				s.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			s.log.Debug("request", fields...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.echo.Group("/api/v1")
	g.GET("/alert", s.GetAlert)
	g.GET("/alert/stream", s.StreamAlerts)
	g.GET("/notifications/:role", s.GetNotifications)
	g.GET("/notifications/:role/unread", s.GetUnreadCount)
	g.GET("/notifications/:role/stream", s.StreamNotifications)
	g.POST("/notifications/:role/ack", s.Acknowledge)
	g.GET("/positions/:kind", s.GetPositions)
	g.GET("/history", s.GetHistory)
	g.GET("/validations", s.GetValidations)
	g.POST("/validations", s.RequestValidation)
	g.GET("/sources", s.GetSources)

	if s.metrics != nil {
		s.echo.GET(s.cfg.MetricsPath, echo.WrapHandler(s.metrics))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("listen", s.cfg.Listen))
		errCh <- s.echo.Start(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.cfg.Listen).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete", logger.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
