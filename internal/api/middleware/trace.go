package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/twsaudio/internal/logger"
)

// HeaderRequestID carries the request trace id
const HeaderRequestID = echo.HeaderXRequestID

// NewTraceID tags every request with a trace id. An incoming X-Request-ID
// is reused, otherwise a UUID is generated. The id is echoed in the response
// and stored in the request context for logger.WithContext.
func NewTraceID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			return next(c)
		}
	}
}
