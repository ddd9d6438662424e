package syncproto

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentSync identifies sync protocol errors
const ComponentSync = "syncproto"

var (
	// ErrHandoverVetoed is returned for a handover while negotiation is in progress
	ErrHandoverVetoed = errors.New(errors.NewStd("handover vetoed while sync in progress")).
				Component(ComponentSync).
				Category(errors.CategoryState).
				Build()

	// ErrSessionClosed is returned for operations on a closed session
	ErrSessionClosed = errors.New(errors.NewStd("sync session closed")).
				Component(ComponentSync).
				Category(errors.CategoryState).
				Build()

	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New(errors.NewStd("sync session already started")).
				Component(ComponentSync).
				Category(errors.CategoryState).
				Build()
)
