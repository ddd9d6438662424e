package pipeline

import (
	"github.com/tphakala/twsaudio/internal/graph"
)

// Node names shared by the render graphs
const (
	NodeTone      = "tone"
	NodeMixer     = "mixer"
	NodeVolume    = "volume"
	NodeDecoder   = "decoder"
	NodeForwarder = "forwarder"
	NodeMic       = "mic"
)

// Tone node parameters. Every play command is preceded by its sequence
// number so the completion the DSP reports can be matched to it.
const (
	ToneParamSeq  = "seq"
	ToneParamPlay = "play"
	ToneParamStop = "stop"
	ToneParamAt   = "at"
)

// Endpoint names
const (
	EndpointSpeaker    = "speaker"
	EndpointMedia      = "media"
	EndpointRelayLink  = "relay-link"
	EndpointVoiceLink  = "voice-link"
	EndpointMicrophone = "microphone"
	EndpointTuningLink = "tuning-link"
)

const (
	// RelaySource is the media source name of a stream relayed by the peer
	RelaySource         = "relay"
	tuningToolNode      = "tool-link"
	passthroughNodeName = "passthrough"
)

// renderSpec is the output graph shared by music, voice and leak-through:
// a mixer with a tone input feeding the volume stage and the speaker
func renderSpec(name string, rate, volume int, extra ...graph.NodeSpec) graph.Spec {
	spec := graph.Spec{
		Name: name,
		Role: graph.RoleOutput,
		Nodes: []graph.NodeSpec{
			{Name: NodeTone},
			{Name: NodeMixer, Params: graph.Params{"rate": rate}},
			{Name: NodeVolume, Params: graph.Params{"level": volume}},
		},
		Edges: []graph.Edge{
			{From: NodeTone, To: NodeMixer},
			{From: NodeMixer, To: NodeVolume},
		},
		Endpoints: []graph.Endpoint{{Name: EndpointSpeaker, Node: NodeVolume, Kind: graph.EndpointSink}},
	}
	for _, n := range extra {
		spec.Nodes = append(spec.Nodes, n)
		spec.Edges = append(spec.Edges, graph.Edge{From: n.Name, To: NodeMixer})
	}
	return spec
}

func toneSpec(rate, volume int) graph.Spec {
	return graph.Spec{
		Name: "tone-render",
		Role: graph.RoleOutput,
		Nodes: []graph.NodeSpec{
			{Name: NodeTone, Params: graph.Params{"rate": rate}},
			{Name: NodeVolume, Params: graph.Params{"level": volume}},
		},
		Edges:     []graph.Edge{{From: NodeTone, To: NodeVolume}},
		Endpoints: []graph.Endpoint{{Name: EndpointSpeaker, Node: NodeVolume, Kind: graph.EndpointSink}},
	}
}

func musicOutputSpec(c Codec, volume int) graph.Spec {
	return renderSpec("music-render", c.SampleRate, volume)
}

// musicInputSpec decodes the media channel; the forwarder taps the
// compressed stream for relay and stays disabled until a relay starts
func musicInputSpec(c Codec) graph.Spec {
	return graph.Spec{
		Name: "music-decode",
		Role: graph.RoleInput,
		Nodes: []graph.NodeSpec{
			{Name: "source"},
			{Name: NodeDecoder, Params: graph.Params{
				"codec":              c.Name,
				"rate":               c.SampleRate,
				"content_protection": c.ContentProtection,
				"bitrate_cap":        c.BitrateCap,
			}},
			{Name: NodeForwarder, Params: graph.Params{"enabled": false}},
		},
		Edges: []graph.Edge{
			{From: "source", To: NodeDecoder},
			{From: "source", To: NodeForwarder},
		},
		Endpoints: []graph.Endpoint{
			{Name: EndpointMedia, Node: "source", Kind: graph.EndpointSource},
			{Name: EndpointRelayLink, Node: NodeForwarder, Kind: graph.EndpointSink},
		},
	}
}

// relayInputSpec decodes a stream relayed by the peer
func relayInputSpec(c Codec) graph.Spec {
	return graph.Spec{
		Name: "relay-decode",
		Role: graph.RoleInput,
		Nodes: []graph.NodeSpec{
			{Name: "source"},
			{Name: NodeDecoder, Params: graph.Params{"codec": c.Name, "rate": c.SampleRate}},
		},
		Edges:     []graph.Edge{{From: "source", To: NodeDecoder}},
		Endpoints: []graph.Endpoint{{Name: EndpointRelayLink, Node: "source", Kind: graph.EndpointSource}},
	}
}

// decodeJoin feeds the decoder of the input graph into the render mixer
func decodeJoin(input string) graph.Edge {
	return graph.Edge{From: input + "/" + NodeDecoder, To: NodeMixer}
}

// voiceOutputSpec renders the downlink of a call
func voiceOutputSpec(chain string, rate, volume int) graph.Spec {
	spec := renderSpec("voice-render", rate, volume, graph.NodeSpec{
		Name:   NodeDecoder,
		Params: graph.Params{"chain": chain},
	})
	spec.Endpoints = append(spec.Endpoints, graph.Endpoint{Name: EndpointVoiceLink, Node: NodeDecoder, Kind: graph.EndpointSource})
	return spec
}

// voiceInputSpec captures the uplink: microphone, echo canceller, encoder.
// The echo canceller takes its reference from the render mixer.
func voiceInputSpec(chain string, rate, linkQuality int) graph.Spec {
	return graph.Spec{
		Name: "voice-capture",
		Role: graph.RoleInput,
		Nodes: []graph.NodeSpec{
			{Name: NodeMic, Params: graph.Params{"rate": rate, "muted": false}},
			{Name: "aec"},
			{Name: "encoder", Params: graph.Params{"chain": chain, "link_quality": linkQuality}},
			{Name: NodeForwarder, Params: graph.Params{"enabled": false}},
		},
		Edges: []graph.Edge{
			{From: NodeMic, To: "aec"},
			{From: "aec", To: "encoder"},
			{From: "encoder", To: NodeForwarder},
		},
		Endpoints: []graph.Endpoint{
			{Name: EndpointMicrophone, Node: NodeMic, Kind: graph.EndpointSource},
			{Name: EndpointVoiceLink, Node: "encoder", Kind: graph.EndpointSink},
			{Name: EndpointRelayLink, Node: NodeForwarder, Kind: graph.EndpointSink},
		},
	}
}

func echoReferenceJoin() graph.Edge {
	return graph.Edge{From: "voice-render/" + NodeMixer, To: "aec"}
}

// voiceRelayOutputSpec renders a call relayed by the peer
func voiceRelayOutputSpec(chain string, rate, volume int) graph.Spec {
	spec := renderSpec("voice-relay-render", rate, volume, graph.NodeSpec{
		Name:   NodeDecoder,
		Params: graph.Params{"chain": chain},
	})
	spec.Endpoints = append(spec.Endpoints, graph.Endpoint{Name: EndpointRelayLink, Node: NodeDecoder, Kind: graph.EndpointSource})
	return spec
}

func leakThroughInputSpec(rate int) graph.Spec {
	return graph.Spec{
		Name: "ambient-capture",
		Role: graph.RoleInput,
		Nodes: []graph.NodeSpec{
			{Name: NodeMic, Params: graph.Params{"rate": rate}},
			{Name: passthroughNodeName},
		},
		Edges:     []graph.Edge{{From: NodeMic, To: passthroughNodeName}},
		Endpoints: []graph.Endpoint{{Name: EndpointMicrophone, Node: NodeMic, Kind: graph.EndpointSource}},
	}
}

func leakThroughJoin() graph.Edge {
	return graph.Edge{From: "ambient-capture/" + passthroughNodeName, To: NodeMixer}
}

// tuning graphs route the microphones to the tool and the tool to the speaker
func tuningInputSpec(rate int) graph.Spec {
	return graph.Spec{
		Name: "tuning-capture",
		Role: graph.RoleInput,
		Nodes: []graph.NodeSpec{
			{Name: "mic-ff", Params: graph.Params{"rate": rate}},
			{Name: "mic-fb", Params: graph.Params{"rate": rate}},
			{Name: tuningToolNode},
		},
		Edges: []graph.Edge{
			{From: "mic-ff", To: tuningToolNode},
			{From: "mic-fb", To: tuningToolNode},
		},
		Endpoints: []graph.Endpoint{
			{Name: EndpointMicrophone, Node: "mic-ff", Kind: graph.EndpointSource},
			{Name: EndpointTuningLink, Node: tuningToolNode, Kind: graph.EndpointSink},
		},
	}
}

func tuningOutputSpec(rate int) graph.Spec {
	return graph.Spec{
		Name: "tuning-render",
		Role: graph.RoleOutput,
		Nodes: []graph.NodeSpec{
			{Name: tuningToolNode, Params: graph.Params{"rate": rate}},
			{Name: NodeVolume},
		},
		Edges: []graph.Edge{{From: tuningToolNode, To: NodeVolume}},
		Endpoints: []graph.Endpoint{
			{Name: EndpointTuningLink, Node: tuningToolNode, Kind: graph.EndpointSource},
			{Name: EndpointSpeaker, Node: NodeVolume, Kind: graph.EndpointSink},
		},
	}
}
