package eventloop

import "github.com/tphakala/twsaudio/internal/errors"

var (
	// ErrNoDispatcher is returned by Run when no dispatcher was set
	ErrNoDispatcher = errors.New(errors.NewStd("event loop has no dispatcher")).
			Component("eventloop").
			Category(errors.CategoryConfiguration).
			Build()

	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New(errors.NewStd("event loop already running")).
				Component("eventloop").
				Category(errors.CategoryState).
				Build()

	// ErrStopTimeout is returned when the loop does not drain within the stop timeout
	ErrStopTimeout = errors.New(errors.NewStd("event loop stop timeout exceeded")).
			Component("eventloop").
			Category(errors.CategoryTimeout).
			Build()
)
