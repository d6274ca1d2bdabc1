// Package flowgraph implements the mutable in-memory DAG of transformation
// nodes: the Graph Store. It owns Nodes and Edges exclusively, enforces
// acyclicity and port-arity invariants at mutation time, and notifies
// registered listeners (the schema propagator, the scheduler) whenever a
// mutation invalidates a node and its descendants.
package flowgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowkit/fctl/pkg/models"
)

// UnionPortPrefix marks a target port as a union input: union ports accept
// N >= 1 edges and preserve insertion order, which the union node kind
// treats as column-alignment order (see DESIGN.md's Open Question decision).
const UnionPortPrefix = "union"

// Position is the visual (x, y) location of a node in the editor.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// OutputField is one entry in an OutputFieldConfig's fields list.
type OutputField struct {
	Name             string `json:"name" yaml:"name"`
	DataType         string `json:"data_type" yaml:"data_type"`
	DefaultExpr      string `json:"default_expression,omitempty" yaml:"default_expression,omitempty"`
}

// VMBehavior selects the Output-Field Validator's enforcement mode.
type VMBehavior string

const (
	VMSelectOnly     VMBehavior = "select_only"
	VMAddMissing     VMBehavior = "add_missing"
	VMRaiseOnMissing VMBehavior = "raise_on_missing"
)

// OutputFieldConfig is a node's declarative contract on its output schema.
type OutputFieldConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	VMBehavior VMBehavior    `json:"vm_behavior" yaml:"vm_behavior"`
	Fields     []OutputField `json:"fields" yaml:"fields"`
}

// Node is a single instance of a NodeKind within a Graph.
type Node struct {
	ID                int                    `json:"id" yaml:"id"`
	Kind              string                 `json:"type" yaml:"type"`
	Settings          map[string]interface{} `json:"settings" yaml:"settings"`
	Position          Position               `json:"position" yaml:"position"`
	CacheResults      bool                   `json:"cache_results" yaml:"cache_results"`
	Description       string                 `json:"description,omitempty" yaml:"description,omitempty"`
	OutputFieldConfig *OutputFieldConfig     `json:"output_field_config,omitempty" yaml:"output_field_config,omitempty"`
}

// Validate checks structural node invariants independent of graph context.
func (n *Node) Validate() error {
	if n.ID == 0 {
		return &models.ValidationError{Field: "id", Message: "node ID is required"}
	}
	if n.Kind == "" {
		return &models.ValidationError{Field: "type", Message: "node kind is required"}
	}
	return nil
}

// Edge is a directed, typed connection between two nodes' ports.
type Edge struct {
	From     int    `json:"source" yaml:"source"`
	FromPort string `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	To       int    `json:"target" yaml:"target"`
	ToPort   string `json:"target_port" yaml:"target_port"`
}

// IsUnionPort reports whether this edge targets a union input.
func (e *Edge) IsUnionPort() bool {
	return len(e.ToPort) >= len(UnionPortPrefix) && e.ToPort[:len(UnionPortPrefix)] == UnionPortPrefix
}

// Validate checks structural edge invariants independent of graph context.
func (e *Edge) Validate() error {
	if e.To == 0 {
		return &models.ValidationError{Field: "target", Message: "edge target is required"}
	}
	if e.From == e.To {
		return &models.ValidationError{Field: "edge", Message: "self-loop edges are not allowed"}
	}
	if e.ToPort == "" {
		return &models.ValidationError{Field: "target_port", Message: "target port is required"}
	}
	return nil
}

// ExecutionMode selects how aggressively the scheduler materializes
// intermediate results (spec §4.7).
type ExecutionMode string

const (
	ModeDevelopment ExecutionMode = "Development"
	ModePerformance ExecutionMode = "Performance"
)

// ExecutionLocation selects where node work is dispatched.
type ExecutionLocation string

const (
	LocationLocal  ExecutionLocation = "Local"
	LocationRemote ExecutionLocation = "Remote"
)

// FlowSettings are graph-level execution and persistence preferences.
type FlowSettings struct {
	ExecutionMode     ExecutionMode     `json:"execution_mode" yaml:"execution_mode"`
	ExecutionLocation ExecutionLocation `json:"execution_location" yaml:"execution_location"`
	AutoSave          bool              `json:"auto_save" yaml:"auto_save"`
	ModifiedOn        time.Time         `json:"modified_on" yaml:"modified_on"`
	Path              string            `json:"path,omitempty" yaml:"path,omitempty"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// KindArity describes a node kind's declared port arity, as supplied by the
// catalog. Graph takes this through an interface rather than importing the
// catalog package directly, keeping the dependency one-directional
// (catalog depends on flowgraph's types, not vice versa).
type KindArity struct {
	MinInputs int
	MaxInputs int // -1 means unbounded (union ports)
	Outputs   int
}

// ArityLookup resolves a node kind's declared arity. A nil ArityLookup
// disables arity enforcement (useful for tests that don't need a catalog).
type ArityLookup interface {
	Arity(kind string) (KindArity, bool)
}

// InvalidationListener is notified with the set of node IDs invalidated by
// a mutation: the mutated node plus every descendant. Schema propagation
// and the scheduler both subscribe to reset their own memoized state.
type InvalidationListener func(nodeIDs []int)

// Graph is the mutable in-memory DAG owned exclusively by this package.
type Graph struct {
	mu sync.RWMutex

	ID          string
	Name        string
	Description string
	Settings    FlowSettings
	Version     int64

	nodes map[int]*Node
	edges []*Edge

	arity     ArityLookup
	listeners []InvalidationListener
}

// New creates an empty graph. arity may be nil to skip port-arity checks.
func New(id, name string, arity ArityLookup) *Graph {
	return &Graph{
		ID:     id,
		Name:   name,
		nodes:  make(map[int]*Node),
		arity:  arity,
		Settings: FlowSettings{
			ExecutionMode:     ModeDevelopment,
			ExecutionLocation: LocationLocal,
			ModifiedOn:        time.Time{},
		},
	}
}

// Subscribe registers an InvalidationListener, invoked after every mutation
// with the affected node IDs (mutated node plus descendants).
func (g *Graph) Subscribe(l InvalidationListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

func (g *Graph) notify(nodeIDs []int) {
	g.Settings.ModifiedOn = time.Now()
	g.Version++
	for _, l := range g.listeners {
		l(nodeIDs)
	}
}

// AddNode inserts a node. Fails if the ID is already taken or the node is
// structurally invalid.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := n.Validate(); err != nil {
		return err
	}
	if _, exists := g.nodes[n.ID]; exists {
		return &models.ValidationError{Field: "id", Message: fmt.Sprintf("node ID %d already exists", n.ID)}
	}
	g.nodes[n.ID] = n
	g.notify([]int{n.ID})
	return nil
}

// AddEdge inserts an edge, enforcing acyclicity, endpoint existence, port
// arity, and the single-edge-per-non-union-port rule.
func (g *Graph) AddEdge(e *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := e.Validate(); err != nil {
		return err
	}
	from, ok := g.nodes[e.From]
	if !ok {
		return fmt.Errorf("%w: source node %d", models.ErrNodeNotFound, e.From)
	}
	to, ok := g.nodes[e.To]
	if !ok {
		return fmt.Errorf("%w: target node %d", models.ErrNodeNotFound, e.To)
	}

	if err := g.checkArity(from, to, e); err != nil {
		return err
	}

	if !e.IsUnionPort() {
		for _, existing := range g.edges {
			if existing.To == e.To && existing.ToPort == e.ToPort {
				return fmt.Errorf("%w: target %d port %q already has an incoming edge", models.ErrDuplicateEdge, e.To, e.ToPort)
			}
		}
	}

	g.edges = append(g.edges, e)
	if g.hasCycleLocked() {
		g.edges = g.edges[:len(g.edges)-1]
		return models.ErrCyclicDependency
	}

	g.notify(g.downstreamLocked(e.To))
	return nil
}

func (g *Graph) checkArity(from, to *Node, e *Edge) error {
	if g.arity == nil {
		return nil
	}
	if _, ok := g.arity.Arity(from.Kind); !ok {
		return fmt.Errorf("%w: %s", models.ErrInvalidNodeKind, from.Kind)
	}
	toArity, ok := g.arity.Arity(to.Kind)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrInvalidNodeKind, to.Kind)
	}
	if !e.IsUnionPort() {
		inbound := 0
		for _, existing := range g.edges {
			if existing.To == e.To {
				inbound++
			}
		}
		if toArity.MaxInputs >= 0 && inbound+1 > toArity.MaxInputs {
			return fmt.Errorf("%w: node %d kind %s accepts at most %d inputs", models.ErrPortArity, to.ID, to.Kind, toArity.MaxInputs)
		}
	}
	return nil
}

// hasCycleLocked runs Kahn's algorithm and reports whether the current edge
// set contains a cycle. Caller must hold g.mu.
func (g *Graph) hasCycleLocked() bool {
	_, err := g.topologicalOrderLocked()
	return err != nil
}

// RemoveNode deletes a node and cascades removal to every incident edge,
// atomically: no dangling edge is ever observable.
func (g *Graph) RemoveNode(nodeID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[nodeID]; !ok {
		return models.ErrNodeNotFound
	}

	affected := g.downstreamLocked(nodeID)
	delete(g.nodes, nodeID)

	kept := g.edges[:0:0]
	for _, e := range g.edges {
		if e.From != nodeID && e.To != nodeID {
			kept = append(kept, e)
		}
	}
	g.edges = kept

	g.notify(affected)
	return nil
}

// RemoveEdge deletes the first edge matching both endpoints and the target
// port.
func (g *Graph) RemoveEdge(from int, to int, toPort string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, e := range g.edges {
		if e.From == from && e.To == to && e.ToPort == toPort {
			g.edges = append(g.edges[:i], g.edges[i+1:]...)
			g.notify(g.downstreamLocked(to))
			return nil
		}
	}
	return models.ErrEdgeNotFound
}

// UpdateSettings replaces a node's settings map and invalidates its
// descendants.
func (g *Graph) UpdateSettings(nodeID int, settings map[string]interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return models.ErrNodeNotFound
	}
	n.Settings = settings
	g.notify(g.downstreamLocked(nodeID))
	return nil
}

// UpdateNodePosition moves a node. Position is cosmetic: it does not
// invalidate schema or fingerprint state, and therefore issues no
// notification.
func (g *Graph) UpdateNodePosition(nodeID int, pos Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return models.ErrNodeNotFound
	}
	n.Position = pos
	return nil
}

// UpdateOutputFieldConfig replaces a node's output-field contract and
// invalidates its descendants (the predicted schema changes).
func (g *Graph) UpdateOutputFieldConfig(nodeID int, cfg *OutputFieldConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return models.ErrNodeNotFound
	}
	n.OutputFieldConfig = cfg
	g.notify(g.downstreamLocked(nodeID))
	return nil
}

// UpdateCacheResults flips a node's fingerprint-cache pinning flag. It does
// not invalidate any memoized schema or fingerprint, since it changes
// nothing about what the node computes.
func (g *Graph) UpdateCacheResults(nodeID int, cacheResults bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return models.ErrNodeNotFound
	}
	n.CacheResults = cacheResults
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(nodeID int) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, models.ErrNodeNotFound
	}
	return n, nil
}

// ListNodes returns all nodes in unspecified order.
func (g *Graph) ListNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEdges returns all edges in insertion order (significant for union
// ports).
func (g *Graph) ListEdges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Predecessors returns the source node IDs feeding nodeID, optionally
// filtered to a single target port. Union-port predecessors are returned
// in insertion order.
func (g *Graph) Predecessors(nodeID int, port string) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []int
	for _, e := range g.edges {
		if e.To != nodeID {
			continue
		}
		if port != "" && e.ToPort != port {
			continue
		}
		out = append(out, e.From)
	}
	return out
}

// SortedPredecessors returns nodeID's direct predecessors ordered by their
// inbound port name. This is the canonical ordering the Plan Builder,
// Schema Propagator, and Fingerprint Tracker all use to align a node's
// input_plans/input_schemas/predecessor_fingerprints positionally.
func (g *Graph) SortedPredecessors(nodeID int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type portedEdge struct {
		port string
		from int
	}
	var inbound []portedEdge
	for _, e := range g.edges {
		if e.To == nodeID {
			inbound = append(inbound, portedEdge{port: e.ToPort, from: e.From})
		}
	}
	sort.SliceStable(inbound, func(i, j int) bool { return inbound[i].port < inbound[j].port })
	out := make([]int, len(inbound))
	for i, in := range inbound {
		out[i] = in.from
	}
	return out
}

// Descendants returns every node reachable forward from nodeID (excluding
// nodeID itself), in unspecified order.
func (g *Graph) Descendants(nodeID int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.downstreamLocked(nodeID)
	out := make([]int, 0, len(set))
	for _, id := range set {
		if id != nodeID {
			out = append(out, id)
		}
	}
	return out
}

// downstreamLocked returns nodeID plus every descendant, via BFS over the
// edge list. Caller must hold g.mu (read or write).
func (g *Graph) downstreamLocked(nodeID int) []int {
	visited := map[int]bool{nodeID: true}
	queue := []int{nodeID}
	order := []int{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.edges {
			if e.From == cur && !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
				order = append(order, e.To)
			}
		}
	}
	return order
}

// StartNodes returns the source nodes that have no incoming edges.
func (g *Graph) StartNodes() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hasIncoming := make(map[int]bool)
	for _, e := range g.edges {
		hasIncoming[e.To] = true
	}
	var out []int
	for id := range g.nodes {
		if !hasIncoming[id] {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// TerminalNodes returns the nodes with no outgoing edges: the default run
// targets.
func (g *Graph) TerminalNodes() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hasOutgoing := make(map[int]bool)
	for _, e := range g.edges {
		hasOutgoing[e.From] = true
	}
	var out []int
	for id := range g.nodes {
		if !hasOutgoing[id] {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// TopologicalOrder returns node IDs grouped into waves: all nodes in wave i
// depend only on nodes in waves < i (Kahn's algorithm). Returns
// ErrCyclicDependency if the graph is not acyclic.
func (g *Graph) TopologicalOrder() ([][]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.topologicalOrderLocked()
}

func (g *Graph) topologicalOrderLocked() ([][]int, error) {
	inDegree := make(map[int]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for _, e := range g.edges {
		inDegree[e.To]++
	}

	var waves [][]int
	remaining := len(g.nodes)
	visited := make(map[int]bool, len(g.nodes))

	for remaining > 0 {
		var wave []int
		for id, deg := range inDegree {
			if deg == 0 && !visited[id] {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, models.ErrCyclicDependency
		}
		sort.Ints(wave)
		inWave := make(map[int]bool, len(wave))
		for _, id := range wave {
			visited[id] = true
			inWave[id] = true
			remaining--
		}
		for _, e := range g.edges {
			if inWave[e.From] {
				inDegree[e.To]--
			}
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// Clone returns a deep copy of the graph via JSON round-trip, matching the
// teacher's Workflow.Clone idiom. Listeners and the arity lookup are not
// copied — a clone is a read-only snapshot.
func (g *Graph) Clone() (*Graph, error) {
	g.mu.RLock()
	snapshot := struct {
		ID       string
		Name     string
		Settings FlowSettings
		Nodes    []*Node
		Edges    []*Edge
	}{
		ID:       g.ID,
		Name:     g.Name,
		Settings: g.Settings,
		Nodes:    g.ListNodesLocked(),
		Edges:    append([]*Edge(nil), g.edges...),
	}
	g.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		ID       string
		Name     string
		Settings FlowSettings
		Nodes    []*Node
		Edges    []*Edge
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}

	clone := New(decoded.ID, decoded.Name, g.arity)
	clone.Settings = decoded.Settings
	for _, n := range decoded.Nodes {
		clone.nodes[n.ID] = n
	}
	clone.edges = decoded.Edges
	clone.Version = g.Version
	return clone, nil
}

// ListNodesLocked is like ListNodes but assumes the caller already holds a
// read lock (used internally by Clone to avoid a self-deadlock).
func (g *Graph) ListNodesLocked() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
