package builder

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

// FlowBuilder builds a flowgraph.Graph fluently: AddNode/Connect calls
// accumulate node and edge builders, and the first error short-circuits
// every call after it so a chain can be built without checking err at
// each step.
type FlowBuilder struct {
	id       string
	name     string
	arity    flowgraph.ArityLookup
	settings flowgraph.FlowSettings

	nodes []*NodeBuilder
	edges []*EdgeBuilder
	err   error
}

// FlowOption configures a FlowBuilder.
type FlowOption func(*FlowBuilder) error

// NewFlow creates a new flow builder. arity resolves a node kind's input
// cardinality when edges are wired into the graph (typically a
// *catalog.Catalog).
func NewFlow(id, name string, arity flowgraph.ArityLookup, opts ...FlowOption) *FlowBuilder {
	fb := &FlowBuilder{
		id:    id,
		name:  name,
		arity: arity,
		settings: flowgraph.FlowSettings{
			ExecutionMode:     flowgraph.ModeDevelopment,
			ExecutionLocation: flowgraph.LocationLocal,
		},
	}

	for _, opt := range opts {
		if err := opt(fb); err != nil {
			fb.err = err
			return fb
		}
	}

	return fb
}

// WithExecutionMode sets the flow's scheduling mode.
func WithExecutionMode(mode flowgraph.ExecutionMode) FlowOption {
	return func(fb *FlowBuilder) error {
		fb.settings.ExecutionMode = mode
		return nil
	}
}

// WithExecutionLocation sets where the flow's nodes execute.
func WithExecutionLocation(loc flowgraph.ExecutionLocation) FlowOption {
	return func(fb *FlowBuilder) error {
		fb.settings.ExecutionLocation = loc
		return nil
	}
}

// AddNode queues a node for insertion when Build is called.
func (fb *FlowBuilder) AddNode(nb *NodeBuilder) *FlowBuilder {
	if fb.err != nil {
		return fb
	}
	if nb.err != nil {
		fb.err = nb.err
		return fb
	}
	fb.nodes = append(fb.nodes, nb)
	return fb
}

// Connect queues an edge for insertion when Build is called.
func (fb *FlowBuilder) Connect(from, to int, opts ...EdgeOption) *FlowBuilder {
	if fb.err != nil {
		return fb
	}
	eb := NewEdge(from, to, opts...)
	if eb.err != nil {
		fb.err = eb.err
		return fb
	}
	fb.edges = append(fb.edges, eb)
	return fb
}

// Build constructs the graph, adding every queued node before any edge so
// that AddEdge's endpoint-existence checks always see the full node set.
func (fb *FlowBuilder) Build() (*flowgraph.Graph, error) {
	if fb.err != nil {
		return nil, fb.err
	}

	g := flowgraph.New(fb.id, fb.name, fb.arity)
	g.Settings = fb.settings

	for _, nb := range fb.nodes {
		node, err := nb.Build()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", nb.id, err)
		}
		if err := g.AddNode(node); err != nil {
			return nil, fmt.Errorf("node %d: %w", node.ID, err)
		}
	}

	for _, eb := range fb.edges {
		edge, err := eb.Build()
		if err != nil {
			return nil, fmt.Errorf("edge %d->%d: %w", eb.from, eb.to, err)
		}
		if err := g.AddEdge(edge); err != nil {
			return nil, fmt.Errorf("edge %d->%d: %w", edge.From, edge.To, err)
		}
	}

	return g, nil
}

// MustBuild is Build but panics on error, for tests and examples.
func (fb *FlowBuilder) MustBuild() *flowgraph.Graph {
	g, err := fb.Build()
	if err != nil {
		panic(err)
	}
	return g
}
