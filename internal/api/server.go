package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/twsaudio/internal/api/middleware"
	"github.com/tphakala/twsaudio/internal/controller"
	twserrors "github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/events"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

// ComponentAPI identifies api errors
const ComponentAPI = "api"

// Controller is what the control surface needs from the control core
type Controller interface {
	Submit(ev eventloop.Event) error
	Status() controller.Status
}

// ToneResolver resolves tone references before they reach the loop
type ToneResolver interface {
	Resolve(e pipeline.PlayTone) (pipeline.PlayTone, error)
	List() ([]string, error)
}

// Server is the HTTP control surface.
// It manages the Echo framework instance, middleware, and all HTTP routes.
type Server struct {
	echo   *echo.Echo
	config *Config
	logger logger.Logger

	ctrl     Controller
	tones    ToneResolver
	metrics  http.Handler
	busStats func() events.EventBusStats
	limiter  *mw.RateLimiter

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = log
	}
}

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithTones enables tone resolution and the tone listing endpoint.
func WithTones(t ToneResolver) ServerOption {
	return func(s *Server) {
		s.tones = t
	}
}

// WithEventBusStats exposes notification bus counters.
func WithEventBusStats(stats func() events.EventBusStats) ServerOption {
	return func(s *Server) {
		s.busStats = stats
	}
}

// New creates the HTTP server for ctrl.
func New(cfg *Config, ctrl Controller, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, twserrors.New(err).
			Component(ComponentAPI).
			Category(twserrors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    cfg,
		ctrl:      ctrl,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleHTTPError
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Debug("HTTP server initialized", logger.String("config", cfg.String()))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewTraceID())
	s.echo.Use(mw.NewRequestLogger(s.logger))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	if s.busStats != nil {
		v1.GET("/events/stats", s.getEventBusStats)
	}
	if s.tones != nil {
		v1.GET("/tones", s.listTones)
	}

	// event injection is rate limited, reads are not
	var limit []echo.MiddlewareFunc
	if s.config.RateLimit > 0 {
		s.limiter = mw.NewRateLimiter(s.config.RateLimit, s.config.RateBurst)
		limit = append(limit, s.limiter.Middleware())
	}
	v1.POST("/pipeline/:event", s.postPipelineEvent, limit...)
	v1.POST("/anc/:event", s.postANCEvent, limit...)
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler { return s.echo }

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return twserrors.New(err).
			Component(ComponentAPI).
			Category(twserrors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("HTTP server starting", logger.String("address", ln.Addr().String()))

	s.echo.Server.Handler = s.echo
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}
