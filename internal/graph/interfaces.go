// Package graph defines the contract between the firmware core and the DSP
// processing-graph collaborator, and the Handle that enforces its ordering:
// create, configure all nodes, connect all edges, attach to hardware
// endpoints, start. Teardown runs the exact reverse.
package graph

import "fmt"

// Role tells whether a graph decodes incoming media or renders to the speaker
type Role int

const (
	RoleOutput Role = iota
	RoleInput
)

func (r Role) String() string {
	switch r {
	case RoleOutput:
		return "output"
	case RoleInput:
		return "input"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Params holds node configuration values
type Params map[string]any

// NodeSpec names a processing stage and its initial parameters
type NodeSpec struct {
	Name   string
	Params Params
}

// Edge connects an output of one node to an input of another. Nodes in
// other graphs are addressed as "<graph>/<node>".
type Edge struct {
	From string
	To   string
}

func (e Edge) String() string { return e.From + "->" + e.To }

// EndpointKind is the direction of a hardware endpoint
type EndpointKind int

const (
	EndpointSink EndpointKind = iota
	EndpointSource
)

// Endpoint is a live hardware port: speaker, microphone, media channel
type Endpoint struct {
	Name string
	Node string
	Kind EndpointKind
}

// Spec describes a graph to build
type Spec struct {
	Name      string
	Role      Role
	Nodes     []NodeSpec
	Edges     []Edge
	Endpoints []Endpoint
}

// Node is a named processing stage inside a constructed graph
type Node interface {
	Name() string
	Set(key string, value any) error
}

// Graph is a constructed processing graph owned by the DSP collaborator
type Graph interface {
	ID() string
	Configure(node string, params Params) error
	Connect(e Edge) error
	Disconnect(e Edge) error
	Attach(ep Endpoint) error
	Detach(ep Endpoint) error
	Start() error
	Stop() error
	Node(name string) (Node, bool)
}

// Factory creates and destroys graphs
type Factory interface {
	Create(spec Spec) (Graph, error)
	Destroy(g Graph) error
}
