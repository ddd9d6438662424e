// Package events fans control-core notifications out to slow consumers
// (MQTT, logs) without blocking the event loop.
package events

import "time"

// Kind classifies an event
type Kind string

const (
	KindPipelineState Kind = "pipeline-state"
	KindANCState      Kind = "anc-state"
	KindANCMode       Kind = "anc-mode"
	KindANCGain       Kind = "anc-gain"
	KindSyncFallback  Kind = "sync-fallback"
	KindSyncHandover  Kind = "sync-handover"
	KindError         Kind = "error"
)

// Event is an immutable notification. Only the fields that belong to its
// Kind are set.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// pipeline-state, anc-state and sync-handover
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	// anc-*
	Enabled       bool `json:"enabled,omitempty"`
	RequestedMode int  `json:"requested_mode,omitempty"`
	ActiveMode    int  `json:"active_mode,omitempty"`
	Gain          int  `json:"leakthrough_gain,omitempty"`

	// sync-*
	SessionID string `json:"session_id,omitempty"`
	Vetoed    bool   `json:"vetoed,omitempty"`

	// error
	Component string `json:"component,omitempty"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message,omitempty"`
}

// EventConsumer processes events on a bus worker
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// ConsumerFunc adapts a function to EventConsumer
type ConsumerFunc struct {
	ID string
	Fn func(Event) error
}

func (c ConsumerFunc) Name() string                   { return c.ID }
func (c ConsumerFunc) ProcessEvent(event Event) error { return c.Fn(event) }

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64 `json:"events_received"`
	EventsSuppressed uint64 `json:"events_suppressed"`
	EventsProcessed  uint64 `json:"events_processed"`
	EventsDropped    uint64 `json:"events_dropped"`
	ConsumerErrors   uint64 `json:"consumer_errors"`
}
