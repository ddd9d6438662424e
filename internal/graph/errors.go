package graph

import "github.com/tphakala/twsaudio/internal/errors"

// ComponentGraph identifies graph errors
const ComponentGraph = "graph"

var (
	// ErrLifecycleOrder is returned when a lifecycle step is called out of order
	ErrLifecycleOrder = errors.New(errors.NewStd("graph lifecycle step out of order")).
				Component(ComponentGraph).
				Category(errors.CategoryContractViolation).
				Context("resource", "graph_handle").
				Build()

	// ErrNilFactory is returned when a handle is built without a factory
	ErrNilFactory = errors.New(errors.NewStd("graph factory is nil")).
			Component(ComponentGraph).
			Category(errors.CategoryConfiguration).
			Build()

	// ErrNodeNotFound is returned when a named node does not exist in the graph
	ErrNodeNotFound = errors.New(errors.NewStd("graph node not found")).
			Component(ComponentGraph).
			Category(errors.CategoryNotFound).
			Context("resource", "graph_node").
			Build()

	// ErrNoDownstream is returned by Join when the render half is missing
	ErrNoDownstream = errors.New(errors.NewStd("join has no downstream graph")).
			Component(ComponentGraph).
			Category(errors.CategoryContractViolation).
			Build()
)

func orderError(h *Handle, op string, want Stage) error {
	return errors.New(ErrLifecycleOrder).
		Component(ComponentGraph).
		Category(errors.CategoryContractViolation).
		Context("graph", h.spec.Name).
		Context("operation", op).
		Context("stage", h.stage.String()).
		Context("required_stage", want.String()).
		Build()
}

func hardwareError(h *Handle, op string, err error) error {
	return errors.New(err).
		Component(ComponentGraph).
		Category(errors.CategoryHardware).
		Context("graph", h.spec.Name).
		Context("operation", op).
		Build()
}
