package graph

import (
	"fmt"
	"slices"

	"github.com/tphakala/twsaudio/internal/errors"
)

// Stage is how far a handle has progressed through the lifecycle
type Stage int

const (
	StageNone Stage = iota
	StageCreated
	StageConfigured
	StageConnected
	StageAttached
	StageStarted
	StageDestroyed
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageCreated:
		return "created"
	case StageConfigured:
		return "configured"
	case StageConnected:
		return "connected"
	case StageAttached:
		return "attached"
	case StageStarted:
		return "started"
	case StageDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Handle owns one constructed graph. Forward steps must run in order and
// fail with ErrLifecycleOrder otherwise; a failed forward step leaves the
// stage unchanged. Reverse steps always move the stage down, even when the
// collaborator reports an error, so teardown never strands a graph.
//
// Handles are not safe for concurrent use; they live on the event loop.
type Handle struct {
	spec    Spec
	factory Factory
	tracker *Tracker
	g       Graph
	stage   Stage

	connected []Edge
	attached  []Endpoint

	// cross-graph edges this handle connected as the downstream half
	joins    []Edge
	joinedUp []*Handle
	// number of downstream handles still joined to this one
	joinedTo int
}

// Create asks the factory for a new graph. tracker may be nil.
func Create(factory Factory, spec Spec, tracker *Tracker) (*Handle, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	g, err := factory.Create(spec)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentGraph).
			Category(errors.CategoryHardware).
			Context("graph", spec.Name).
			Context("operation", "create").
			Build()
	}
	h := &Handle{spec: spec, factory: factory, tracker: tracker, g: g, stage: StageCreated}
	if tracker != nil {
		tracker.Track(g.ID(), spec.Name, spec.Role)
	}
	return h, nil
}

// Build runs create, configure, connect, attach and start. On failure the
// stages already reached are torn down and the first error is returned.
func Build(factory Factory, spec Spec, tracker *Tracker) (*Handle, error) {
	h, err := Create(factory, spec, tracker)
	if err != nil {
		return nil, err
	}
	for _, step := range []func() error{h.Configure, h.Connect, h.Attach, h.Start} {
		if err := step(); err != nil {
			_ = h.Teardown()
			return nil, err
		}
	}
	return h, nil
}

// ID returns the collaborator's graph ID
func (h *Handle) ID() string {
	if h == nil || h.g == nil {
		return ""
	}
	return h.g.ID()
}

// Name returns the spec name
func (h *Handle) Name() string {
	if h == nil {
		return ""
	}
	return h.spec.Name
}

// Role returns the spec role
func (h *Handle) Role() Role { return h.spec.Role }

// Stage returns the current lifecycle stage
func (h *Handle) Stage() Stage {
	if h == nil {
		return StageNone
	}
	return h.stage
}

// Live reports whether the graph exists and has not been destroyed
func (h *Handle) Live() bool {
	return h != nil && h.stage >= StageCreated && h.stage < StageDestroyed
}

// Started reports whether the graph is running
func (h *Handle) Started() bool {
	return h != nil && h.stage == StageStarted
}

// Joined reports whether this handle has cross-graph edges from an upstream graph
func (h *Handle) Joined() bool {
	return h != nil && len(h.joins) > 0
}

// Configure applies every node's initial parameters
func (h *Handle) Configure() error {
	if h.stage != StageCreated {
		return orderError(h, "configure", StageCreated)
	}
	for _, n := range h.spec.Nodes {
		if err := h.g.Configure(n.Name, n.Params); err != nil {
			return hardwareError(h, "configure", err)
		}
	}
	h.stage = StageConfigured
	return nil
}

// Connect connects every internal edge. A partial failure disconnects the
// edges already connected.
func (h *Handle) Connect() error {
	if h.stage != StageConfigured {
		return orderError(h, "connect", StageConfigured)
	}
	for _, e := range h.spec.Edges {
		if err := h.g.Connect(e); err != nil {
			h.disconnectEdges()
			return hardwareError(h, "connect", err)
		}
		h.connected = append(h.connected, e)
	}
	h.stage = StageConnected
	return nil
}

// Attach binds every endpoint to live hardware. A partial failure detaches
// the endpoints already attached.
func (h *Handle) Attach() error {
	if h.stage != StageConnected {
		return orderError(h, "attach", StageConnected)
	}
	for _, ep := range h.spec.Endpoints {
		if err := h.g.Attach(ep); err != nil {
			h.detachEndpoints()
			return hardwareError(h, "attach", err)
		}
		h.attached = append(h.attached, ep)
	}
	h.stage = StageAttached
	return nil
}

// Start begins processing
func (h *Handle) Start() error {
	if h.stage != StageAttached {
		return orderError(h, "start", StageAttached)
	}
	if err := h.g.Start(); err != nil {
		return hardwareError(h, "start", err)
	}
	h.stage = StageStarted
	return nil
}

// Set changes a parameter on a named node of a live graph
func (h *Handle) Set(node, key string, value any) error {
	if !h.Live() {
		return orderError(h, "set", StageCreated)
	}
	n, ok := h.g.Node(node)
	if !ok {
		return errors.New(ErrNodeNotFound).
			Context("graph", h.spec.Name).
			Context("node", node).
			Build()
	}
	if err := n.Set(key, value); err != nil {
		return hardwareError(h, "set", err)
	}
	return nil
}

// HasNode reports whether the graph has a node with that name
func (h *Handle) HasNode(node string) bool {
	if !h.Live() {
		return false
	}
	_, ok := h.g.Node(node)
	return ok
}

// Stop halts processing. No-op below StageStarted.
func (h *Handle) Stop() error {
	if h.stage != StageStarted {
		return nil
	}
	h.stage = StageAttached
	if err := h.g.Stop(); err != nil {
		return hardwareError(h, "stop", err)
	}
	return nil
}

// Detach releases hardware endpoints in reverse order. No-op below StageAttached.
func (h *Handle) Detach() error {
	switch {
	case h.stage == StageStarted:
		return orderError(h, "detach", StageAttached)
	case h.stage != StageAttached:
		return nil
	}
	h.stage = StageConnected
	return h.detachEndpoints()
}

// Disconnect removes cross-graph joins, then internal edges, in reverse
// order. No-op below StageConnected.
func (h *Handle) Disconnect() error {
	switch {
	case h.stage > StageConnected && h.stage != StageDestroyed:
		return orderError(h, "disconnect", StageConnected)
	case h.stage != StageConnected:
		return nil
	}
	h.stage = StageConfigured
	return errors.Join(h.unjoin(), h.disconnectEdges())
}

// Destroy returns the graph to the factory. The graph must be fully
// disconnected and no downstream graph may still be joined to it.
func (h *Handle) Destroy() error {
	switch {
	case h.stage == StageDestroyed || h.stage == StageNone:
		return nil
	case h.stage > StageConfigured:
		return orderError(h, "destroy", StageConfigured)
	case h.joinedTo > 0:
		return errors.New(ErrLifecycleOrder).
			Context("graph", h.spec.Name).
			Context("operation", "destroy").
			Context("joined_downstream", h.joinedTo).
			Build()
	}
	h.stage = StageDestroyed
	if h.tracker != nil {
		h.tracker.Untrack(h.g.ID())
	}
	if err := h.factory.Destroy(h.g); err != nil {
		return hardwareError(h, "destroy", err)
	}
	return nil
}

// Teardown runs stop, detach, disconnect and destroy. Safe on a nil or
// destroyed handle.
func (h *Handle) Teardown() error {
	if h == nil {
		return nil
	}
	return Teardown(h)
}

// Teardown tears down several handles stage by stage: every handle is
// stopped before any is detached, every handle is disconnected before any
// is destroyed. Handles are given in build order and processed in reverse.
// Nil handles are skipped.
func Teardown(handles ...*Handle) error {
	live := make([]*Handle, 0, len(handles))
	for _, h := range slices.Backward(handles) {
		if h != nil {
			live = append(live, h)
		}
	}

	var errs []error
	for _, step := range []func(*Handle) error{
		(*Handle).Stop,
		(*Handle).Detach,
		(*Handle).Disconnect,
		(*Handle).Destroy,
	} {
		for _, h := range live {
			if err := step(h); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (h *Handle) detachEndpoints() error {
	var errs []error
	for _, ep := range slices.Backward(h.attached) {
		if err := h.g.Detach(ep); err != nil {
			errs = append(errs, hardwareError(h, "detach", err))
		}
	}
	h.attached = nil
	return errors.Join(errs...)
}

func (h *Handle) disconnectEdges() error {
	var errs []error
	for _, e := range slices.Backward(h.connected) {
		if err := h.g.Disconnect(e); err != nil {
			errs = append(errs, hardwareError(h, "disconnect", err))
		}
	}
	h.connected = nil
	return errors.Join(errs...)
}

func (h *Handle) unjoin() error {
	var errs []error
	for i, e := range slices.Backward(h.joins) {
		if err := h.g.Disconnect(e); err != nil {
			errs = append(errs, hardwareError(h, "unjoin", err))
		}
		h.joinedUp[i].joinedTo--
	}
	h.joins = nil
	h.joinedUp = nil
	return errors.Join(errs...)
}
