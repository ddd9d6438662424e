package simhw

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/twsaudio/internal/errors"
	"github.com/tphakala/twsaudio/internal/graph"
)

// ErrContract is returned when the core breaks the graph lifecycle
// contract, for example destroying a graph that is still connected
var ErrContract = errors.New(errors.NewStd("graph lifecycle contract broken")).
	Component(ComponentSimHW).
	Category(errors.CategoryContractViolation).
	Build()

// ToneCue is a play or stop command seen by a tone node. Seq is the
// sequence number set on the node before the command.
type ToneCue struct {
	Graph string
	Ref   string
	Seq   uint64
	Stop  bool
}

// ToneHook is called when a tone node is told to play or stop
type ToneHook func(ToneCue)

// GraphFactory is a simulated DSP graph factory
type GraphFactory struct {
	rec    *Recorder
	faults *Faults

	mu        sync.Mutex
	live      map[string]*Graph
	created   map[string]int
	violation []string
	onTone    ToneHook
}

// NewGraphFactory creates a factory that records into rec
func NewGraphFactory(rec *Recorder, faults *Faults) *GraphFactory {
	return &GraphFactory{
		rec:     rec,
		faults:  faults,
		live:    make(map[string]*Graph),
		created: make(map[string]int),
	}
}

// OnTone sets the hook run when a tone starts
func (f *GraphFactory) OnTone(h ToneHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTone = h
}

// Create builds a graph from spec
func (f *GraphFactory) Create(spec graph.Spec) (graph.Graph, error) {
	if err := f.faults.check("graph.create", "graph.create:"+spec.Name); err != nil {
		f.rec.record("graph.create:%s:failed", spec.Name)
		return nil, err
	}
	g := &Graph{
		id:       spec.Name + "-" + uuid.NewString()[:8],
		spec:     spec,
		factory:  f,
		params:   make(map[string]graph.Params),
		attached: make(map[string]bool),
	}
	for _, n := range spec.Nodes {
		g.params[n.Name] = graph.Params{}
	}
	f.mu.Lock()
	f.live[g.id] = g
	f.created[spec.Name]++
	f.mu.Unlock()
	f.rec.record("graph.create:%s", spec.Name)
	return g, nil
}

// Destroy releases a graph. Destroying a started, attached or connected
// graph is recorded as a contract violation.
func (f *GraphFactory) Destroy(gr graph.Graph) error {
	g, ok := gr.(*Graph)
	if !ok {
		return errors.Newf("foreign graph %s", gr.ID()).
			Component(ComponentSimHW).
			Category(errors.CategoryValidation).
			Build()
	}
	g.mu.Lock()
	busy := g.started || len(g.attached) > 0 || len(g.edges) > 0
	g.destroyed = true
	g.mu.Unlock()

	f.mu.Lock()
	delete(f.live, g.id)
	if busy {
		f.violation = append(f.violation, "destroy while in use: "+g.spec.Name)
	}
	f.mu.Unlock()
	f.rec.record("graph.destroy:%s", g.spec.Name)
	if err := f.faults.check("graph.destroy", "graph.destroy:"+g.spec.Name); err != nil {
		return err
	}
	if busy {
		return errors.New(ErrContract).Context("graph", g.spec.Name).Build()
	}
	return nil
}

// Live returns the number of graphs not yet destroyed
func (f *GraphFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// LiveNames returns the sorted names of live graphs
func (f *GraphFactory) LiveNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.live))
	for _, g := range f.live {
		names = append(names, g.spec.Name)
	}
	slices.Sort(names)
	return names
}

// Created returns how many graphs named name were created
func (f *GraphFactory) Created(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}

// Violations returns lifecycle contract violations seen so far
func (f *GraphFactory) Violations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.violation)
}

// Find returns the live graph named name
func (f *GraphFactory) Find(name string) (*Graph, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.live {
		if g.spec.Name == name {
			return g, true
		}
	}
	return nil, false
}

func (f *GraphFactory) violate(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violation = append(f.violation, msg)
}

func (f *GraphFactory) toneHook() ToneHook {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onTone
}

// Graph is a simulated processing graph
type Graph struct {
	id      string
	spec    graph.Spec
	factory *GraphFactory

	mu        sync.Mutex
	params    map[string]graph.Params
	edges     []graph.Edge
	attached  map[string]bool
	started   bool
	destroyed bool
}

func (g *Graph) ID() string { return g.id }

func (g *Graph) op(name string) string { return name + ":" + g.spec.Name }

func (g *Graph) Configure(node string, params graph.Params) error {
	if err := g.factory.faults.check("graph.configure", g.op("graph.configure")); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.params[node]
	if !ok {
		return errors.New(graph.ErrNodeNotFound).Context("node", node).Build()
	}
	maps.Copy(p, params)
	g.factory.rec.record("graph.configure:%s:%s", g.spec.Name, node)
	return nil
}

func (g *Graph) Connect(e graph.Edge) error {
	if err := g.factory.faults.check("graph.connect", g.op("graph.connect")); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || len(g.attached) > 0 {
		g.factory.violate("connect after attach: " + g.spec.Name)
	}
	if !g.hasLocal(e.To) || (!strings.Contains(e.From, "/") && !g.hasLocal(e.From)) {
		return errors.New(graph.ErrNodeNotFound).Context("edge", e.String()).Build()
	}
	g.edges = append(g.edges, e)
	g.factory.rec.record("graph.connect:%s:%s", g.spec.Name, e)
	return nil
}

func (g *Graph) Disconnect(e graph.Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		g.factory.violate("disconnect while started: " + g.spec.Name)
	}
	if i := slices.Index(g.edges, e); i >= 0 {
		g.edges = slices.Delete(g.edges, i, i+1)
	}
	g.factory.rec.record("graph.disconnect:%s:%s", g.spec.Name, e)
	return g.factory.faults.check("graph.disconnect", g.op("graph.disconnect"))
}

func (g *Graph) Attach(ep graph.Endpoint) error {
	if err := g.factory.faults.check("graph.attach", g.op("graph.attach")); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attached[ep.Name] = true
	g.factory.rec.record("graph.attach:%s:%s", g.spec.Name, ep.Name)
	return nil
}

func (g *Graph) Detach(ep graph.Endpoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attached, ep.Name)
	g.factory.rec.record("graph.detach:%s:%s", g.spec.Name, ep.Name)
	return g.factory.faults.check("graph.detach", g.op("graph.detach"))
}

func (g *Graph) Start() error {
	if err := g.factory.faults.check("graph.start", g.op("graph.start")); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.edges) < len(g.spec.Edges) {
		g.factory.violate("start before connect: " + g.spec.Name)
	}
	g.started = true
	g.factory.rec.record("graph.start:%s", g.spec.Name)
	return nil
}

func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = false
	g.factory.rec.record("graph.stop:%s", g.spec.Name)
	return g.factory.faults.check("graph.stop", g.op("graph.stop"))
}

func (g *Graph) Node(name string) (graph.Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hasLocal(name) {
		return nil, false
	}
	return &Node{g: g, name: name}, true
}

// Param returns a node parameter
func (g *Graph) Param(node, key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.params[node][key]
	return v, ok
}

// Started reports whether the graph is running
func (g *Graph) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Edges returns the connected edges, joins included
func (g *Graph) Edges() []graph.Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edges)
}

func (g *Graph) hasLocal(node string) bool {
	_, ok := g.params[node]
	return ok
}

// Node is a simulated processing node
type Node struct {
	g    *Graph
	name string
}

func (n *Node) Name() string { return n.name }

func (n *Node) Set(key string, value any) error {
	g := n.g
	if err := g.factory.faults.check("node.set", "node.set:"+n.name+"."+key); err != nil {
		return err
	}
	g.mu.Lock()
	g.params[n.name][key] = value
	g.mu.Unlock()
	g.factory.rec.record("node.set:%s:%s.%s=%v", g.spec.Name, n.name, key, value)

	if key != "play" && key != "stop" {
		return nil
	}
	hook := g.factory.toneHook()
	if hook == nil {
		return nil
	}
	g.mu.Lock()
	seq, _ := g.params[n.name]["seq"].(uint64)
	g.mu.Unlock()
	cue := ToneCue{Graph: g.spec.Name, Seq: seq, Stop: key == "stop"}
	if cue.Stop {
		if s, ok := value.(uint64); ok {
			cue.Seq = s
		}
	} else if ref, ok := value.(string); ok {
		cue.Ref = ref
	} else {
		return nil
	}
	hook(cue)
	return nil
}
