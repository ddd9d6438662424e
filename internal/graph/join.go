package graph

import "github.com/tphakala/twsaudio/internal/errors"

// JoinResult reports how far a join got
type JoinResult int

const (
	// JoinFull means the upstream graph feeds the downstream graph
	JoinFull JoinResult = iota
	// JoinPartial means the upstream was unavailable and the downstream
	// runs standalone
	JoinPartial
)

func (r JoinResult) String() string {
	if r == JoinFull {
		return "full"
	}
	return "partial"
}

// Join connects edge from upstream into downstream. Both handles must have
// their internal edges connected and must not be attached yet.
//
// When upstreamAvailable is false (the media connection that owns the
// upstream endpoint closed since the start was requested) nothing is
// connected and JoinPartial is returned; the caller starts the downstream
// half on its own so tones and prompts are not blocked.
func Join(upstream, downstream *Handle, edge Edge, upstreamAvailable bool) (JoinResult, error) {
	if downstream == nil {
		return JoinPartial, ErrNoDownstream
	}
	if downstream.stage != StageConnected {
		return JoinPartial, orderError(downstream, "join", StageConnected)
	}
	if upstream == nil || !upstreamAvailable {
		return JoinPartial, nil
	}
	if upstream.stage != StageConnected {
		return JoinPartial, orderError(upstream, "join", StageConnected)
	}

	if err := downstream.g.Connect(edge); err != nil {
		return JoinPartial, errors.New(err).
			Component(ComponentGraph).
			Category(errors.CategoryHardware).
			Context("graph", downstream.spec.Name).
			Context("upstream", upstream.spec.Name).
			Context("operation", "join").
			Build()
	}
	downstream.joins = append(downstream.joins, edge)
	downstream.joinedUp = append(downstream.joinedUp, upstream)
	upstream.joinedTo++
	return JoinFull, nil
}
