package pipeline

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentPipeline identifies pipeline errors
const ComponentPipeline = "pipeline"

var (
	// ErrInvariant is returned by CheckInvariants when the context is inconsistent
	ErrInvariant = errors.New(errors.NewStd("pipeline context invariant violated")).
			Component(ComponentPipeline).
			Category(errors.CategoryState).
			Build()

	// ErrSourceUnavailable is returned when the media source of a start went away
	ErrSourceUnavailable = errors.New(errors.NewStd("media source unavailable")).
				Component(ComponentPipeline).
				Category(errors.CategoryNotFound).
				Build()

	// ErrRetriesExhausted is logged when a phased start gives up
	ErrRetriesExhausted = errors.New(errors.NewStd("phase retries exhausted")).
				Component(ComponentPipeline).
				Category(errors.CategoryLimit).
				Build()
)

func invariantError(state State, msg string) error {
	return errors.New(ErrInvariant).
		Context("state", state.String()).
		Context("violation", msg).
		Build()
}
