package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/types"
)

// NodeState is a node's position in the per-run state machine (spec §4.7).
type NodeState string

const (
	StateIdle      NodeState = "Idle"
	StatePending   NodeState = "Pending"
	StateRunning   NodeState = "Running"
	StateSuccess   NodeState = "Success"
	StateFailed    NodeState = "Failed"
	StateCancelled NodeState = "Cancelled"
	StateSkipped   NodeState = "Skipped"
)

// terminal reports whether no further transition is possible for this state
// within a single run.
func (s NodeState) terminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// NodeRun is one node's record within a Run: its current state, the
// fingerprint it was dispatched under, and — on success — the schema and a
// capped sample of its materialized rows (empty for fused/cache-hit nodes
// that were never locally materialized).
type NodeRun struct {
	NodeID      int
	State       NodeState
	Fingerprint string
	Schema      types.Schema
	Sample      []types.Row
	CacheHit    bool
	Attempts    int
	Err         error
	ErrorKind   models.ErrorKind
	StartedAt   time.Time
	EndedAt     time.Time
}

// Run tracks one execution of a graph against a target set.
type Run struct {
	RunID   string
	Targets []int

	mu       sync.Mutex
	graph    *flowgraph.Graph
	required map[int]bool
	runs     map[int]*NodeRun

	cancelFunc      context.CancelFunc
	cancelRequested bool

	pinnedFPs []string
}

func newRun(runID string, graph *flowgraph.Graph, targets []int, required map[int]bool) *Run {
	runs := make(map[int]*NodeRun, len(required))
	for id := range required {
		runs[id] = &NodeRun{NodeID: id, State: StateIdle}
	}
	return &Run{
		RunID:    runID,
		Targets:  targets,
		graph:    graph,
		required: required,
		runs:     runs,
	}
}

func (r *Run) nodeRun(nodeID int) *NodeRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	nr, ok := r.runs[nodeID]
	if !ok {
		nr = &NodeRun{NodeID: nodeID, State: StateIdle}
		r.runs[nodeID] = nr
	}
	return nr
}

// NodeRun returns a snapshot copy of node_id's run record.
func (r *Run) NodeRun(nodeID int) (NodeRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nr, ok := r.runs[nodeID]
	if !ok {
		return NodeRun{}, false
	}
	return *nr, true
}

// predecessorBlocked reports whether node_id has a predecessor that failed,
// was cancelled, or was itself skipped — the condition under which node_id
// transitions straight to Skipped without running (spec §4.7).
func (r *Run) predecessorBlocked(nodeID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, from := range r.graph.SortedPredecessors(nodeID) {
		if nr, ok := r.runs[from]; ok {
			switch nr.State {
			case StateFailed, StateCancelled, StateSkipped:
				return true
			}
		}
	}
	return false
}

func (r *Run) setState(nodeID int, state NodeState) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.State = state
	switch state {
	case StateRunning:
		nr.StartedAt = time.Now()
	case StateSuccess, StateFailed, StateCancelled, StateSkipped:
		nr.EndedAt = time.Now()
	}
	r.mu.Unlock()
}

func (r *Run) setFingerprint(nodeID int, fp string) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.Fingerprint = fp
	r.mu.Unlock()
}

func (r *Run) succeed(nodeID int, schema types.Schema, sample []types.Row) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.State = StateSuccess
	nr.Schema = schema
	nr.Sample = sample
	nr.EndedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) succeedFromCache(nodeID int, schema types.Schema) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.State = StateSuccess
	nr.CacheHit = true
	nr.Schema = schema
	nr.EndedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) fail(nodeID int, kind models.ErrorKind, err error) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.State = StateFailed
	nr.ErrorKind = kind
	nr.Err = err
	nr.EndedAt = time.Now()
	r.mu.Unlock()
}

func (r *Run) recordAttempt(nodeID int) {
	nr := r.nodeRun(nodeID)
	r.mu.Lock()
	nr.Attempts++
	r.mu.Unlock()
}

// Pin records fingerprint as referenced by this run — either a node's own
// cache hit or an ancestor the Plan Builder substituted into a descendant's
// plan. Implements plan.PinTracker so pkg/plan can report pins without this
// package depending on it. The scheduler releases every recorded pin via
// TakePins once the run completes.
func (r *Run) Pin(fingerprint string) {
	r.mu.Lock()
	r.pinnedFPs = append(r.pinnedFPs, fingerprint)
	r.mu.Unlock()
}

// TakePins drains and returns every fingerprint pinned during this run.
func (r *Run) TakePins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pins := r.pinnedFPs
	r.pinnedFPs = nil
	return pins
}

// hasRunningNodes reports whether any tracked node is still Running.
func (r *Run) hasRunningNodes() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, nr := range r.runs {
		if nr.State == StateRunning {
			return true
		}
	}
	return false
}

// forceCancelRemaining transitions every non-terminal node to Cancelled,
// called once a cancellation's grace period has elapsed.
func (r *Run) forceCancelRemaining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, nr := range r.runs {
		if !nr.State.terminal() {
			nr.State = StateCancelled
			nr.EndedAt = time.Now()
		}
	}
}

// Cancel requests cancellation of the run's context and waits up to grace
// for Running nodes to observe it and finish, then force-cancels any that
// have not (spec §4.7: "the scheduler awaits worker acknowledgement before
// finalizing the run").
func (r *Run) Cancel(grace time.Duration) {
	r.mu.Lock()
	r.cancelRequested = true
	cancel := r.cancelFunc
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !r.hasRunningNodes() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.forceCancelRemaining()
}

// Success reports whether every target node reached Success.
func (r *Run) Success() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.Targets {
		nr, ok := r.runs[t]
		if !ok || nr.State != StateSuccess {
			return false
		}
	}
	return true
}

// States returns a snapshot of every tracked node's state.
func (r *Run) States() map[int]NodeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]NodeState, len(r.runs))
	for id, nr := range r.runs {
		out[id] = nr.State
	}
	return out
}
