// Package coordinator wires the Graph Store, Schema Propagator, Plan
// Builder, Cache, Scheduler, and worker client together into the stateful
// service the REST surface (internal/infrastructure/api/rest) calls: one
// FlowService instance holds every live flow and its in-flight runs for
// the process's lifetime.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/fctl/pkg/cache"
	"github.com/flowkit/fctl/pkg/catalog"
	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/observe"
	"github.com/flowkit/fctl/pkg/persistence"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/schema"
	"github.com/flowkit/fctl/pkg/scheduler"
	"github.com/flowkit/fctl/pkg/types"
	"github.com/flowkit/fctl/pkg/validate"
)

// flowEntry bundles one flow's graph with the schema/fingerprint/plan
// machinery that subscribes to its invalidations, the scheduler built over
// it, and the bookkeeping the REST surface needs across runs: every run
// started against this flow, and the most recent successful NodeRun per
// node (so GET .../sample can answer without needing a run ID).
type flowEntry struct {
	mu sync.Mutex

	graph   *flowgraph.Graph
	schemas *schema.Propagator
	sched   *scheduler.Scheduler

	nextNodeID int
	runs       map[string]*scheduler.Run
	lastGood   map[int]scheduler.NodeRun
}

// RunHistory persists the run-level rows supplementing observe.Log's
// in-memory event feed (the Observation Surface's durable half — see
// internal/infrastructure/storage.RunHistoryRepository). A nil RunHistory
// disables persistence; runs are then tracked in memory only, same as
// before this was wired in.
type RunHistory interface {
	StartRun(ctx context.Context, runID, flowID string, startedAt time.Time) error
	FinishRun(ctx context.Context, runID, status string, completedAt time.Time) error
}

// FlowService is the coordinator's in-memory flow registry plus the shared
// execution infrastructure (catalog, cache, worker pool) every flow's
// scheduler is built from.
type FlowService struct {
	catalog  *catalog.Catalog
	cache    *cache.Cache
	executor scheduler.NodeExecutor
	log      *observe.Log
	hub      *observe.Hub
	store    *persistence.Store
	history  RunHistory
	opts     scheduler.Options

	mu    sync.RWMutex
	flows map[string]*flowEntry
}

// NewFlowService wires the shared infrastructure. opts is the scheduler
// template applied to every flow (MaxParallelNodes, Mode, SampleRows,
// CancelGrace). cmd/coordinator sets only MaxParallelNodes, from the
// MAX_PARALLEL_NODES env var; no env var sets Mode or CancelGrace, and a
// flow's own FlowSettings.ExecutionMode is not consulted. history may be nil (the common case, when no
// durable run-history database is configured).
func NewFlowService(c *catalog.Catalog, ch *cache.Cache, exec scheduler.NodeExecutor, log *observe.Log, hub *observe.Hub, store *persistence.Store, history RunHistory, opts scheduler.Options) *FlowService {
	return &FlowService{
		catalog:  c,
		cache:    ch,
		executor: exec,
		log:      log,
		hub:      hub,
		store:    store,
		history:  history,
		opts:     opts,
		flows:    make(map[string]*flowEntry),
	}
}

func (s *FlowService) newEntry(g *flowgraph.Graph) *flowEntry {
	fp := scheduler.NewFingerprintTracker(g, nil)
	plans := plan.NewBuilder(g, s.catalog, s.cache, fp)
	propagator := schema.NewPropagator(g, s.catalog)
	sched := scheduler.New(g, plans, s.cache, fp, s.executor, validate.Apply, nil, s.opts)

	fe := &flowEntry{
		graph:   g,
		schemas: propagator,
		sched:   sched,
		runs:    make(map[string]*scheduler.Run),
		lastGood: make(map[int]scheduler.NodeRun),
		// flowgraph rejects node ID 0, so assigned IDs start at 1.
		nextNodeID: 1,
	}

	logAdapter := s.log.Adapter()
	sched.Observer = func(e scheduler.Event) {
		logAdapter(e)
		if e.Type == scheduler.EventNodeSucceeded {
			fe.mu.Lock()
			if run, ok := fe.runs[e.RunID]; ok {
				if nr, ok := run.NodeRun(e.NodeID); ok {
					fe.lastGood[e.NodeID] = nr
				}
			}
			fe.mu.Unlock()
		}
	}

	for _, n := range g.ListNodes() {
		if n.ID >= fe.nextNodeID {
			fe.nextNodeID = n.ID + 1
		}
	}

	return fe
}

// CreateFlow allocates a fresh, empty flow and returns its graph.
func (s *FlowService) CreateFlow(name string, settings flowgraph.FlowSettings) *flowgraph.Graph {
	id := uuid.New().String()
	g := flowgraph.New(id, name, s.catalog)
	g.Settings = settings

	s.mu.Lock()
	s.flows[id] = s.newEntry(g)
	s.mu.Unlock()

	return g
}

// EventLog exposes the shared observation log so the REST surface can serve
// GET /flow/{id}/events without the coordinator package depending on gin.
func (s *FlowService) EventLog() *observe.Log {
	return s.log
}

func (s *FlowService) entry(flowID string) (*flowEntry, error) {
	s.mu.RLock()
	fe, ok := s.flows[flowID]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrGraphNotFound
	}
	return fe, nil
}

// Graph returns flowID's current graph snapshot.
func (s *FlowService) Graph(flowID string) (*flowgraph.Graph, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return nil, err
	}
	return fe.graph, nil
}

// AddNode assigns the next node ID for flowID and inserts it.
func (s *FlowService) AddNode(flowID, kind string, position flowgraph.Position, settings map[string]interface{}) (*flowgraph.Node, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return nil, err
	}

	fe.mu.Lock()
	id := fe.nextNodeID
	fe.nextNodeID++
	fe.mu.Unlock()

	node := &flowgraph.Node{ID: id, Kind: kind, Position: position, Settings: settings}
	if err := fe.graph.AddNode(node); err != nil {
		return nil, err
	}
	return node, nil
}

// NodePatch carries the optional fields PATCH /flow/{id}/node/{nid} may set.
type NodePatch struct {
	Settings          map[string]interface{}
	Position          *flowgraph.Position
	CacheResults      *bool
	OutputFieldConfig *flowgraph.OutputFieldConfig
}

// UpdateNode applies patch to nodeID within flowID.
func (s *FlowService) UpdateNode(flowID string, nodeID int, patch NodePatch) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}

	if patch.Settings != nil {
		if err := fe.graph.UpdateSettings(nodeID, patch.Settings); err != nil {
			return err
		}
	}
	if patch.Position != nil {
		if err := fe.graph.UpdateNodePosition(nodeID, *patch.Position); err != nil {
			return err
		}
	}
	if patch.OutputFieldConfig != nil {
		if err := fe.graph.UpdateOutputFieldConfig(nodeID, patch.OutputFieldConfig); err != nil {
			return err
		}
	}
	if patch.CacheResults != nil {
		if err := fe.graph.UpdateCacheResults(nodeID, *patch.CacheResults); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode deletes nodeID and its incident edges from flowID.
func (s *FlowService) RemoveNode(flowID string, nodeID int) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}
	return fe.graph.RemoveNode(nodeID)
}

// AddEdge inserts edge into flowID.
func (s *FlowService) AddEdge(flowID string, edge *flowgraph.Edge) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}
	return fe.graph.AddEdge(edge)
}

// RemoveEdge deletes the edge targeting (to, toPort) from flowID.
func (s *FlowService) RemoveEdge(flowID string, from, to int, toPort string) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}
	return fe.graph.RemoveEdge(from, to, toPort)
}

// Schema predicts nodeID's output schema without executing the flow.
func (s *FlowService) Schema(flowID string, nodeID int) (types.Schema, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return types.Schema{}, err
	}
	return fe.schemas.SchemaOf(nodeID)
}

// StartRun launches a run against targets (nil means every terminal node)
// in the background and returns its run ID immediately; poll RunStatus or
// the event log for progress.
func (s *FlowService) StartRun(flowID string, targets []int) (string, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()
	run := fe.sched.NewRun(runID, targets)

	fe.mu.Lock()
	fe.runs[runID] = run
	fe.mu.Unlock()

	// Durable run-history persistence is best-effort: a write failure here
	// must never fail or block the run itself, the same tolerance
	// pkg/cache's optional Redis distributed lock gets.
	if s.history != nil {
		_ = s.history.StartRun(context.Background(), runID, flowID, time.Now())
	}

	var stopBridge func()
	if s.hub != nil {
		stopBridge = observe.NewStreamBridge(s.log, s.hub, runID)
	}

	go func() {
		defer func() {
			if stopBridge != nil {
				stopBridge()
			}
		}()
		if err := fe.sched.Execute(context.Background(), run); err != nil {
			s.log.Append(runID, observe.RunFinished, nil, "", models.ErrorKindInternal)
		}
		if s.history != nil {
			_ = s.history.FinishRun(context.Background(), runID, runStatus(run), time.Now())
		}
	}()

	return runID, nil
}

// runStatus derives the run-history row's terminal status from the run's
// final per-node state snapshot.
func runStatus(run *scheduler.Run) string {
	if run.Success() {
		return "succeeded"
	}
	for _, st := range run.States() {
		if st == scheduler.StateCancelled {
			return "cancelled"
		}
	}
	return "failed"
}

// CancelRun requests cancellation of runID within flowID, waiting up to
// grace for running nodes to observe it before force-transitioning them.
func (s *FlowService) CancelRun(flowID, runID string, grace time.Duration) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}

	fe.mu.Lock()
	run, ok := fe.runs[runID]
	fe.mu.Unlock()
	if !ok {
		return models.ErrRunNotFound
	}

	run.Cancel(grace)
	return nil
}

// RunStatus returns runID's per-node state map.
func (s *FlowService) RunStatus(flowID, runID string) (map[int]scheduler.NodeState, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return nil, err
	}

	fe.mu.Lock()
	run, ok := fe.runs[runID]
	fe.mu.Unlock()
	if !ok {
		return nil, models.ErrRunNotFound
	}

	return run.States(), nil
}

// Sample returns up to rows of nodeID's output from its last successful
// run, capped by the stored sample size (spec §4.7's SampleRows).
func (s *FlowService) Sample(flowID string, nodeID, rows int) (types.Schema, []types.Row, error) {
	fe, err := s.entry(flowID)
	if err != nil {
		return types.Schema{}, nil, err
	}

	fe.mu.Lock()
	nr, ok := fe.lastGood[nodeID]
	fe.mu.Unlock()
	if !ok {
		return types.Schema{}, nil, models.ErrCacheMiss
	}

	sample := nr.Sample
	if rows > 0 && rows < len(sample) {
		sample = sample[:rows]
	}
	return nr.Schema, sample, nil
}

// Save persists flowID to disk via the YAML store.
func (s *FlowService) Save(flowID string) error {
	fe, err := s.entry(flowID)
	if err != nil {
		return err
	}
	return s.store.Save(fe.graph)
}

// Load reads a flow document from path, registers it, and returns its
// graph.
func (s *FlowService) Load(path string) (*flowgraph.Graph, error) {
	g, err := s.store.LoadPath(path)
	if err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}

	s.mu.Lock()
	s.flows[g.ID] = s.newEntry(g)
	s.mu.Unlock()

	return g, nil
}
