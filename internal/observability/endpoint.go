package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	twserrors "github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Endpoint serves /metrics on its own listener.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	logger        logger.Logger
}

// NewEndpoint creates an endpoint for listen
func NewEndpoint(listen string, metrics *Metrics, log logger.Logger) *Endpoint {
	if log == nil {
		log = logger.Global().Module("telemetry")
	}
	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)
	return &Endpoint{
		listenAddress: listen,
		metrics:       metrics,
		logger:        log,
		server: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return twserrors.New(err).
			Component("telemetry").
			Category(twserrors.CategoryNetwork).
			Context("listen", e.listenAddress).
			Build()
	}
	return e.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	e.logger.Info("telemetry endpoint starting", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- e.server.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	e.logger.Info("stopping telemetry server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("telemetry server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
