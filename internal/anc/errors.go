package anc

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentANC identifies ANC errors
const ComponentANC = "anc"

var (
	// ErrInvalidMode is returned for a mode outside 1..Modes
	ErrInvalidMode = errors.New(errors.NewStd("anc mode out of range")).
			Component(ComponentANC).
			Category(errors.CategoryValidation).
			Build()

	// ErrInvalidGain is returned for a negative leakthrough gain
	ErrInvalidGain = errors.New(errors.NewStd("leakthrough gain out of range")).
			Component(ComponentANC).
			Category(errors.CategoryValidation).
			Build()

	// ErrNoStore is returned when persisted state is requested without a store
	ErrNoStore = errors.New(errors.NewStd("no persisted state store")).
			Component(ComponentANC).
			Category(errors.CategoryConfiguration).
			Build()
)

func hardwareError(op string, err error) error {
	return errors.New(err).
		Component(ComponentANC).
		Category(errors.CategoryHardware).
		Context("operation", op).
		Build()
}
