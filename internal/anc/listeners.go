package anc

import (
	"slices"

	"github.com/google/uuid"
)

// NotificationKind says what changed
type NotificationKind string

const (
	KindStateChanged NotificationKind = "state-changed"
	KindModeChanged  NotificationKind = "mode-changed"
	KindGainChanged  NotificationKind = "gain-changed"
)

// Notification is delivered to every registered listener
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	From          State            `json:"-"`
	State         State            `json:"-"`
	StateName     string           `json:"state"`
	Enabled       bool             `json:"enabled"`
	RequestedMode int              `json:"requested_mode"`
	ActiveMode    int              `json:"active_mode"`
	Gain          int              `json:"leakthrough_gain"`
}

// Listener receives ANC notifications on the event loop
type Listener interface {
	OnANC(n Notification)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(n Notification)

// OnANC calls f(n)
func (f ListenerFunc) OnANC(n Notification) { f(n) }

// SubscriptionID identifies a registered listener
type SubscriptionID string

type subscription struct {
	id       SubscriptionID
	listener Listener
}

// registry keeps listeners in registration order
type registry struct {
	subs []subscription
}

func (r *registry) register(l Listener) SubscriptionID {
	id := SubscriptionID(uuid.NewString())
	r.subs = append(r.subs, subscription{id: id, listener: l})
	return id
}

func (r *registry) unregister(id SubscriptionID) bool {
	before := len(r.subs)
	r.subs = slices.DeleteFunc(r.subs, func(s subscription) bool { return s.id == id })
	return len(r.subs) != before
}

// broadcast iterates a copy so listeners may unregister themselves
func (r *registry) broadcast(n Notification) {
	for _, s := range slices.Clone(r.subs) {
		s.listener.OnANC(n)
	}
}

func (r *registry) len() int { return len(r.subs) }
