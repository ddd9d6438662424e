// Package middleware provides HTTP middleware components for the control surface.
package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/twsaudio/internal/logger"
)

// NewRequestLogger creates a request logging middleware.
func NewRequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
// Successful requests are logged at debug, client errors at warn and
// server errors at error.
func NewRequestLoggerWithSkipper(log logger.Logger, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:     skipper,
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			l := log.WithContext(c.Request().Context())
			switch {
			case v.Status >= 500:
				l.Error("request", fields...)
			case v.Status >= 400:
				l.Warn("request", fields...)
			default:
				l.Debug("request", fields...)
			}
			return nil
		},
	})
}
