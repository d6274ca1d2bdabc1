package builder

import (
	"fmt"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

// NodeBuilder builds flowgraph.Node definitions.
type NodeBuilder struct {
	id                int
	kind              string
	description       string
	settings          map[string]interface{}
	position          flowgraph.Position
	cacheResults      bool
	outputFieldConfig *flowgraph.OutputFieldConfig
	err               error
}

// NodeOption is a function that configures a NodeBuilder.
type NodeOption func(*NodeBuilder) error

// NewNode creates a new node builder for a node of the given kind (one of
// the catalog's registered node kinds, e.g. "read", "filter", "sort").
func NewNode(id int, kind string, opts ...NodeOption) *NodeBuilder {
	nb := &NodeBuilder{
		id:       id,
		kind:     kind,
		settings: make(map[string]interface{}),
	}

	for _, opt := range opts {
		if err := opt(nb); err != nil {
			nb.err = err
			return nb
		}
	}

	return nb
}

// Build constructs the final Node.
func (nb *NodeBuilder) Build() (*flowgraph.Node, error) {
	if nb.err != nil {
		return nil, nb.err
	}

	node := &flowgraph.Node{
		ID:                nb.id,
		Kind:              nb.kind,
		Settings:          nb.settings,
		Position:          nb.position,
		CacheResults:      nb.cacheResults,
		Description:       nb.description,
		OutputFieldConfig: nb.outputFieldConfig,
	}

	if err := node.Validate(); err != nil {
		return nil, err
	}

	return node, nil
}

// WithNodeDescription sets the node description.
func WithNodeDescription(desc string) NodeOption {
	return func(nb *NodeBuilder) error {
		nb.description = desc
		return nil
	}
}

// WithPosition sets the node's canvas position (absolute coordinates).
func WithPosition(x, y float64) NodeOption {
	return func(nb *NodeBuilder) error {
		nb.position = flowgraph.Position{X: x, Y: y}
		return nil
	}
}

// GridPosition calculates position in a grid layout.
// Uses 200px spacing for both X and Y.
func GridPosition(row, col int) NodeOption {
	return func(nb *NodeBuilder) error {
		if row < 0 || col < 0 {
			return fmt.Errorf("grid position row and col must be non-negative")
		}
		nb.position = flowgraph.Position{
			X: float64(col * 200),
			Y: float64(row * 200),
		}
		return nil
	}
}

// WithCacheResults marks the node's output to be pinned in the fingerprint
// cache across runs (flowgraph.Node.CacheResults).
func WithCacheResults() NodeOption {
	return func(nb *NodeBuilder) error {
		nb.cacheResults = true
		return nil
	}
}

// WithOutputFieldConfig attaches an output-field contract to the node.
func WithOutputFieldConfig(cfg *flowgraph.OutputFieldConfig) NodeOption {
	return func(nb *NodeBuilder) error {
		nb.outputFieldConfig = cfg
		return nil
	}
}

// WithSettings sets the raw settings map in one call.
// This is an escape hatch for advanced use cases.
func WithSettings(settings map[string]interface{}) NodeOption {
	return func(nb *NodeBuilder) error {
		nb.settings = settings
		return nil
	}
}

// WithSetting sets a single settings entry.
func WithSetting(key string, value interface{}) NodeOption {
	return func(nb *NodeBuilder) error {
		if key == "" {
			return fmt.Errorf("settings key cannot be empty")
		}
		nb.settings[key] = value
		return nil
	}
}
