package builder

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

// EdgeBuilder builds flowgraph.Edge definitions.
type EdgeBuilder struct {
	from, to         int
	fromPort, toPort string
	err              error
}

// EdgeOption is a function that configures an EdgeBuilder.
type EdgeOption func(*EdgeBuilder) error

// NewEdge creates a new edge builder connecting from -> to. The target
// port defaults to "in" unless overridden with WithTargetPort or
// IntoUnion.
func NewEdge(from, to int, opts ...EdgeOption) *EdgeBuilder {
	eb := &EdgeBuilder{
		from:   from,
		to:     to,
		toPort: "in",
	}

	for _, opt := range opts {
		if err := opt(eb); err != nil {
			eb.err = err
			return eb
		}
	}

	return eb
}

// Build constructs the final Edge.
func (eb *EdgeBuilder) Build() (*flowgraph.Edge, error) {
	if eb.err != nil {
		return nil, eb.err
	}

	edge := &flowgraph.Edge{
		From:     eb.from,
		FromPort: eb.fromPort,
		To:       eb.to,
		ToPort:   eb.toPort,
	}

	if err := edge.Validate(); err != nil {
		return nil, err
	}

	return edge, nil
}

// WithSourcePort sets the edge's source port. Every built-in node kind
// declares a single output, and the graph does not check source ports.
func WithSourcePort(port string) EdgeOption {
	return func(eb *EdgeBuilder) error {
		eb.fromPort = port
		return nil
	}
}

// WithTargetPort sets the edge's target port.
func WithTargetPort(port string) EdgeOption {
	return func(eb *EdgeBuilder) error {
		if port == "" {
			return fmt.Errorf("target port cannot be empty")
		}
		eb.toPort = port
		return nil
	}
}

// IntoUnion targets the given union input, e.g. IntoUnion("a") produces
// target port "union_a". Union ports accept more than one incoming edge.
func IntoUnion(name string) EdgeOption {
	return func(eb *EdgeBuilder) error {
		if name == "" {
			return fmt.Errorf("union input name cannot be empty")
		}
		eb.toPort = flowgraph.UnionPortPrefix + "_" + name
		return nil
	}
}
