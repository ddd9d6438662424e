package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/twsaudio/internal/anc"
	twserrors "github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/eventloop"
	"github.com/tphakala/twsaudio/internal/logger"
	"github.com/tphakala/twsaudio/internal/pipeline"
)

// ErrorResponse represents a standard error response for the API
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// SubmitResponse acknowledges a queued event. Events are handled
// asynchronously; poll /api/v1/status for the outcome.
type SubmitResponse struct {
	Event  string `json:"event"`
	Queued bool   `json:"queued"`
}

// ancArgs is the optional body of an ANC event
type ancArgs struct {
	Value int `json:"value"`
}

// statusForError maps an error category to an HTTP status
func statusForError(err error) int {
	switch {
	case twserrors.IsCategory(err, twserrors.CategoryValidation):
		return http.StatusBadRequest
	case twserrors.IsCategory(err, twserrors.CategoryNotFound):
		return http.StatusNotFound
	case twserrors.IsCategory(err, twserrors.CategoryLimit):
		return http.StatusServiceUnavailable
	case twserrors.IsCategory(err, twserrors.CategoryState), twserrors.IsCategory(err, twserrors.CategoryConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleHTTPError renders every error as an ErrorResponse
func (s *Server) handleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := statusForError(err)
	message := http.StatusText(code)
	var he *echo.HTTPError
	if twserrors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
		err = nil
	}

	resp := NewErrorResponse(err, message, code)
	if code >= http.StatusInternalServerError {
		s.logger.WithContext(c.Request().Context()).Error("API error",
			logger.String("correlation_id", resp.CorrelationID),
			logger.String("path", c.Request().URL.Path),
			logger.String("error", resp.Error),
			logger.Int("code", code))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, resp)
	}
	if err != nil {
		s.logger.Warn("failed to write error response", logger.Error(err))
	}
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) getEventBusStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.busStats())
}

func (s *Server) listTones(c echo.Context) error {
	refs, err := s.tones.List()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tones": refs})
}

// postPipelineEvent parses the :event path parameter with an optional
// pipeline.Args JSON body and queues the result
func (s *Server) postPipelineEvent(c echo.Context) error {
	var args pipeline.Args
	if err := c.Bind(&args); err != nil {
		return err
	}
	ev, err := pipeline.ParseEvent(c.Param("event"), args)
	if err != nil {
		return err
	}
	if _, ok := ev.(pipeline.StartVoice); ok && s.musicActive() {
		// the call manager must stop music first; the machine treats a
		// voice start over live music graphs as a broken contract
		return echo.NewHTTPError(http.StatusConflict, "stop music before starting voice")
	}
	if tone, ok := ev.(pipeline.PlayTone); ok && s.tones != nil {
		// resolving reads the file header, so it stays off the loop
		if ev, err = s.tones.Resolve(tone); err != nil {
			return err
		}
	}
	return s.submit(c, ev)
}

// postANCEvent parses the :event path parameter with an optional
// {"value": n} body and queues the result
func (s *Server) postANCEvent(c echo.Context) error {
	var args ancArgs
	if err := c.Bind(&args); err != nil {
		return err
	}
	ev, err := anc.ParseEvent(c.Param("event"), args.Value)
	if err != nil {
		return err
	}
	return s.submit(c, ev)
}

func (s *Server) musicActive() bool {
	st, ok := pipeline.ParseState(s.ctrl.Status().Pipeline.State)
	return ok && st.Music()
}

func (s *Server) submit(c echo.Context, ev eventloop.Event) error {
	if err := s.ctrl.Submit(ev); err != nil {
		return err
	}
	s.logger.WithContext(c.Request().Context()).Debug("event queued",
		logger.String("event", ev.EventName()))
	return c.JSON(http.StatusAccepted, SubmitResponse{Event: ev.EventName(), Queued: true})
}
