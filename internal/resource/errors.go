package resource

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentResource identifies resource arbiter errors
const ComponentResource = "resource"

var (
	// ErrAmplifierUnderflow is returned when the amplifier is released more times than acquired
	ErrAmplifierUnderflow = errors.New(errors.NewStd("amplifier released with zero users")).
				Component(ComponentResource).
				Category(errors.CategoryResource).
				Context("resource", "amplifier").
				Build()

	// ErrMicBusy is returned when an exclusive holder of equal or higher priority exists
	ErrMicBusy = errors.New(errors.NewStd("microphone held exclusively")).
			Component(ComponentResource).
			Category(errors.CategoryConflict).
			Context("resource", "microphone").
			Build()

	// ErrMicNotHeld is returned when releasing a lease that does not exist
	ErrMicNotHeld = errors.New(errors.NewStd("microphone lease not held")).
			Component(ComponentResource).
			Category(errors.CategoryNotFound).
			Context("resource", "microphone").
			Build()

	// ErrUnknownMic is returned for an unconfigured microphone or mic role
	ErrUnknownMic = errors.New(errors.NewStd("unknown microphone")).
			Component(ComponentResource).
			Category(errors.CategoryConfiguration).
			Context("resource", "microphone").
			Build()
)
