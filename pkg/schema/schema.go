// Package schema implements the Schema Propagator (C4): lazy, memoized
// prediction of every node's output schema, invalidated by graph mutation
// and short-circuited for nodes carrying an enabled OutputFieldConfig.
package schema

import (
	"fmt"
	"sync"

	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/types"
)

// KindSchemaPredictor resolves a node kind's schema_callback, satisfied by
// pkg/catalog's Catalog type.
type KindSchemaPredictor interface {
	PredictSchema(kindID string, settings map[string]interface{}, inputSchemas []types.Schema) (types.Schema, error)
}

// Propagator maintains node_id -> Schema, keyed implicitly by graph version:
// every mutation notification evicts the affected subtree from the memo, so
// a stale entry is never observable.
type Propagator struct {
	mu    sync.Mutex
	graph *flowgraph.Graph
	kinds KindSchemaPredictor
	memo  map[int]types.Schema
}

// NewPropagator creates a Propagator over graph and subscribes it to the
// graph's invalidation notifications.
func NewPropagator(graph *flowgraph.Graph, kinds KindSchemaPredictor) *Propagator {
	p := &Propagator{graph: graph, kinds: kinds, memo: make(map[int]types.Schema)}
	graph.Subscribe(p.invalidate)
	return p
}

func (p *Propagator) invalidate(nodeIDs []int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range nodeIDs {
		delete(p.memo, id)
	}
}

// SchemaOf predicts node_id's output schema, computing and memoizing
// predecessor schemas as needed. Nodes with output_field_config.enabled=true
// short-circuit to the schema synthesized from their declared fields,
// skipping the kind's schema_callback entirely (spec §4.4, §4.9).
func (p *Propagator) SchemaOf(nodeID int) (types.Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.schemaOfLocked(nodeID)
}

func (p *Propagator) schemaOfLocked(nodeID int) (types.Schema, error) {
	if s, ok := p.memo[nodeID]; ok {
		return s, nil
	}

	node, err := p.graph.GetNode(nodeID)
	if err != nil {
		return nil, err
	}

	if node.OutputFieldConfig != nil && node.OutputFieldConfig.Enabled {
		s, err := SchemaFromFields(node.OutputFieldConfig.Fields)
		if err != nil {
			return nil, fmt.Errorf("node %d output field config: %w", nodeID, err)
		}
		p.memo[nodeID] = s
		return s, nil
	}

	predecessors := p.graph.SortedPredecessors(nodeID)
	inputSchemas := make([]types.Schema, 0, len(predecessors))
	for _, from := range predecessors {
		s, err := p.schemaOfLocked(from)
		if err != nil {
			return nil, fmt.Errorf("schema for predecessor %d of node %d: %w", from, nodeID, err)
		}
		inputSchemas = append(inputSchemas, s)
	}

	s, err := p.kinds.PredictSchema(node.Kind, node.Settings, inputSchemas)
	if err != nil {
		return nil, fmt.Errorf("predict schema for node %d (%s): %w", nodeID, node.Kind, err)
	}
	p.memo[nodeID] = s
	return s, nil
}

// All predicts the schema of every node currently in the graph, returning
// the first error encountered. Used by bulk validation (e.g. full-graph
// save/load round trips) rather than the single-node /schema endpoint.
func (p *Propagator) All() (map[int]types.Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[int]types.Schema)
	for _, n := range p.graph.ListNodes() {
		s, err := p.schemaOfLocked(n.ID)
		if err != nil {
			return nil, err
		}
		out[n.ID] = s
	}
	return out, nil
}

// SchemaFromFields synthesizes a Schema from an OutputFieldConfig's declared
// fields, used both by the propagator's short-circuit and by the
// Output-Field Validator (pkg/validate) to check the actual result against
// the same target shape.
func SchemaFromFields(fields []flowgraph.OutputField) (types.Schema, error) {
	out := make(types.Schema, 0, len(fields))
	for i, f := range fields {
		dt, err := types.ParseType(f.DataType)
		if err != nil {
			return nil, fmt.Errorf("fields[%d] (%s): %w", i, f.Name, err)
		}
		out = append(out, types.NewColumn(f.Name, dt, f.DefaultExpr != ""))
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
