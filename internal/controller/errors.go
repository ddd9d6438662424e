package controller

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentController identifies controller errors
const ComponentController = "controller"

var (
	// ErrNotRunnable is returned by Run when the scheduler is driven by the
	// caller, as eventloop.Manual is
	ErrNotRunnable = errors.New(errors.NewStd("scheduler cannot be run by the controller")).
			Component(ComponentController).
			Category(errors.CategoryConfiguration).
			Build()

	// ErrStarted is returned when wiring changes are attempted after Run
	ErrStarted = errors.New(errors.NewStd("controller already started")).
			Component(ComponentController).
			Category(errors.CategoryState).
			Build()

	// ErrQueueFull is returned when an event cannot be queued
	ErrQueueFull = errors.New(errors.NewStd("event queue full or stopped")).
			Component(ComponentController).
			Category(errors.CategoryLimit).
			Build()
)
