// Package scheduler implements the Scheduler/Executor (C7): wave-based
// topological dispatch of a graph run, the per-node state machine, retrying
// and cancellation, and the Development/Performance materialization split.
// It is the heart of the system — every other component (Plan Builder,
// Cache, Output-Field Validator, worker protocol) is wired in here through
// small interfaces so this package never depends on their concrete types.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowkit/fctl/pkg/cache"
	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/plan"
	"github.com/flowkit/fctl/pkg/types"
)

// ExecTask is everything a NodeExecutor needs to run one node's plan.
type ExecTask struct {
	RunID  string
	NodeID int
	Plan   plan.LazyPlan
	Mode   flowgraph.ExecutionMode
	// OutputSpec is forwarded to the worker for the submit wire contract
	// (spec §4.8); it is informational only here — the Scheduler applies
	// Validator to the returned result itself regardless of what the
	// worker did with this.
	OutputSpec *flowgraph.OutputFieldConfig
}

// NodeExecutor dispatches a single node's plan to completion, in-process or
// over the worker protocol, and returns its materialized result. Errors
// should be an *ExecError carrying the worker protocol's error_kind so
// RetryPolicy can classify them; an unwrapped error is treated as
// non-retryable.
type NodeExecutor interface {
	Execute(ctx context.Context, task ExecTask) (types.Result, error)
}

// Validator wraps a node's raw result with the Output-Field Validator
// (pkg/validate.Apply matches this signature exactly).
type Validator func(cfg *flowgraph.OutputFieldConfig, result types.Result) (types.Result, error)

// CacheInserter is the subset of pkg/cache.Cache the scheduler needs:
// lookup to short-circuit dispatch, insert to publish a freshly validated
// result, and Acquire/Release to pin an entry for the life of the run that
// dispatched straight from it (spec §4.6/§5: "in-use entries ... are
// pinned until the run completes").
type CacheInserter interface {
	plan.CacheLookup
	Insert(ctx context.Context, fingerprint string, produce cache.PayloadProducer) (plan.CacheRef, error)
	Acquire(fingerprint string)
	Release(fingerprint string)
}

// EventType names the scheduler's observable transitions.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventWaveStarted   EventType = "wave_started"
	EventNodeStarted   EventType = "node_started"
	EventNodeRetrying  EventType = "node_retrying"
	EventNodeSucceeded EventType = "node_succeeded"
	EventNodeFailed    EventType = "node_failed"
	EventNodeSkipped   EventType = "node_skipped"
	EventWaveCompleted EventType = "wave_completed"
	EventRunCompleted  EventType = "run_completed"
)

// Event is a single notification emitted during a run. pkg/observe adapts
// these into the Observation Surface's event log and stream.
type Event struct {
	Type      EventType
	RunID     string
	NodeID    int
	WaveIndex int
	State     NodeState
	Err       error
	Timestamp time.Time
}

// Observer receives scheduler events. A nil Observer disables notification.
type Observer func(Event)

// Options configures a Scheduler's concurrency and materialization
// behavior.
type Options struct {
	// MaxParallelNodes bounds concurrent node execution within a wave.
	// 0 means unbounded (default = worker capacity per spec §4.7; callers
	// wire in the actual worker capacity from /healthz when available).
	MaxParallelNodes int

	// Mode selects Development (every node materialized, sampled) or
	// Performance (only cache_results=true nodes and targets materialized).
	Mode flowgraph.ExecutionMode

	// SampleRows caps the sample captured per materialized node in
	// Development mode (spec §4.7 default 100).
	SampleRows int

	// CancelGrace is how long Cancel waits for Running nodes to observe
	// context cancellation before force-transitioning them.
	CancelGrace time.Duration
}

// Scheduler executes graph runs. It is stateless across runs; all
// per-run mutable state lives in the Run it returns.
type Scheduler struct {
	Graph        *flowgraph.Graph
	Plans        *plan.Builder
	Cache        CacheInserter
	Fingerprints *FingerprintTracker
	Executor     NodeExecutor
	Validate     Validator
	Retry        *RetryPolicy
	Observer     Observer

	Options Options
}

// New constructs a Scheduler. retry may be nil to use DefaultRetryPolicy.
func New(graph *flowgraph.Graph, plans *plan.Builder, c CacheInserter, fp *FingerprintTracker, exec NodeExecutor, validate Validator, retry *RetryPolicy, opts Options) *Scheduler {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if opts.SampleRows <= 0 {
		opts.SampleRows = 100
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 5 * time.Second
	}
	return &Scheduler{
		Graph:        graph,
		Plans:        plans,
		Cache:        c,
		Fingerprints: fp,
		Executor:     exec,
		Validate:     validate,
		Retry:        retry,
		Options:      opts,
	}
}

// NewRun prepares a Run against targets (defaulting to every terminal node)
// without executing it. Callers that need to cancel a run from another
// goroutine — e.g. a coordinator's /cancel handler — must obtain the Run
// this way and hold onto it before calling Execute, since Execute blocks
// until the run finishes.
func (s *Scheduler) NewRun(runID string, targets []int) *Run {
	if len(targets) == 0 {
		targets = s.Graph.TerminalNodes()
	}
	required := s.requiredNodes(targets)
	return newRun(runID, s.Graph, targets, required)
}

// Run prepares and immediately executes a run, returning once it completes.
// Equivalent to NewRun followed by Execute for callers with no need to hold
// a cancellable handle beforehand.
func (s *Scheduler) Run(ctx context.Context, runID string, targets []int) (*Run, error) {
	run := s.NewRun(runID, targets)
	if err := s.Execute(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute runs every wave of run to completion. A node's own failure never
// aborts sibling subtrees: only that node's descendants are skipped (spec
// §4.7). Blocks until every required node reaches a terminal state or ctx
// (or run.Cancel) ends the run early.
func (s *Scheduler) Execute(ctx context.Context, run *Run) error {
	waves, err := s.Graph.TopologicalOrder()
	if err != nil {
		return fmt.Errorf("topological sort: %w", err)
	}

	terminal := make(map[int]bool, len(run.Targets))
	for _, t := range run.Targets {
		terminal[t] = true
	}

	runCtx, cancel := context.WithCancel(ctx)
	run.mu.Lock()
	run.cancelFunc = cancel
	run.mu.Unlock()
	defer cancel()
	defer func() {
		for _, fp := range run.TakePins() {
			s.Cache.Release(fp)
		}
	}()

	s.notify(Event{Type: EventRunStarted, RunID: run.RunID, Timestamp: time.Now()})

	for waveIdx, wave := range waves {
		s.notify(Event{Type: EventWaveStarted, RunID: run.RunID, WaveIndex: waveIdx, Timestamp: time.Now()})
		s.runWave(runCtx, run, wave, terminal, waveIdx)
		s.notify(Event{Type: EventWaveCompleted, RunID: run.RunID, WaveIndex: waveIdx, Timestamp: time.Now()})

		if runCtx.Err() != nil {
			run.forceCancelRemaining()
			break
		}
	}

	s.notify(Event{Type: EventRunCompleted, RunID: run.RunID, Timestamp: time.Now()})
	return nil
}

// requiredNodes is the transitive predecessor closure of targets: nodes
// outside it are never dispatched (spec §4.7 runs against a target set, not
// necessarily the whole graph).
func (s *Scheduler) requiredNodes(targets []int) map[int]bool {
	required := make(map[int]bool)
	var visit func(int)
	visit = func(id int) {
		if required[id] {
			return
		}
		required[id] = true
		for _, p := range s.Graph.SortedPredecessors(id) {
			visit(p)
		}
	}
	for _, t := range targets {
		visit(t)
	}
	return required
}

func (s *Scheduler) runWave(ctx context.Context, run *Run, wave []int, terminal map[int]bool, waveIdx int) {
	var g errgroup.Group
	if s.Options.MaxParallelNodes > 0 {
		g.SetLimit(s.Options.MaxParallelNodes)
	}

	for _, nodeID := range wave {
		if !run.required[nodeID] {
			continue
		}
		nodeID := nodeID
		isTerminal := terminal[nodeID]
		g.Go(func() error {
			s.runNode(ctx, run, nodeID, isTerminal)
			return nil
		})
	}
	_ = g.Wait()
}

// materializes reports whether node_id's result must actually be produced
// by the executor rather than left fused into a downstream plan (spec
// §4.7's Development/Performance split).
func (s *Scheduler) materializes(node *flowgraph.Node, isTerminal bool) bool {
	if s.Options.Mode == flowgraph.ModeDevelopment {
		return true
	}
	return node.CacheResults || isTerminal
}

func (s *Scheduler) runNode(ctx context.Context, run *Run, nodeID int, isTerminal bool) {
	select {
	case <-ctx.Done():
		run.setState(nodeID, StateCancelled)
		return
	default:
	}

	if run.predecessorBlocked(nodeID) {
		run.setState(nodeID, StateSkipped)
		s.notify(Event{Type: EventNodeSkipped, RunID: run.RunID, NodeID: nodeID, Timestamp: time.Now()})
		return
	}

	run.setState(nodeID, StatePending)

	node, err := s.Graph.GetNode(nodeID)
	if err != nil {
		run.fail(nodeID, models.ErrorKindInternal, err)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: err, Timestamp: time.Now()})
		return
	}

	fp, err := s.Fingerprints.FingerprintOf(nodeID)
	if err != nil {
		run.fail(nodeID, models.ErrorKindInternal, err)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: err, Timestamp: time.Now()})
		return
	}
	run.setFingerprint(nodeID, fp)

	if ref, hit := s.Cache.Lookup(fp); hit {
		s.Cache.Acquire(fp)
		run.Pin(fp)
		run.succeedFromCache(nodeID, ref.Schema)
		s.notify(Event{Type: EventNodeSucceeded, RunID: run.RunID, NodeID: nodeID, Timestamp: time.Now()})
		return
	}

	if !s.materializes(node, isTerminal) {
		// Fused into whichever materialized descendant's plan references
		// it; the lazy runtime executes it there, not standalone here.
		run.setState(nodeID, StateSuccess)
		s.notify(Event{Type: EventNodeSucceeded, RunID: run.RunID, NodeID: nodeID, Timestamp: time.Now()})
		return
	}

	run.setState(nodeID, StateRunning)
	s.notify(Event{Type: EventNodeStarted, RunID: run.RunID, NodeID: nodeID, Timestamp: time.Now()})

	lp, err := s.Plans.PlanOf(nodeID, plan.RuntimeContext{RunID: run.RunID, NodeID: nodeID, ExecutionMode: s.Options.Mode, Pins: run})
	if err != nil {
		run.fail(nodeID, models.ErrorKindInternal, err)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: err, Timestamp: time.Now()})
		return
	}

	task := ExecTask{RunID: run.RunID, NodeID: nodeID, Plan: lp, Mode: s.Options.Mode, OutputSpec: node.OutputFieldConfig}

	var result types.Result
	execErr := s.Retry.Execute(ctx, func() error {
		r, err := s.Executor.Execute(ctx, task)
		if err == nil {
			result = r
		}
		return err
	}, func(attempt int, retryErr error) {
		run.recordAttempt(nodeID)
		s.notify(Event{Type: EventNodeRetrying, RunID: run.RunID, NodeID: nodeID, Err: retryErr, Timestamp: time.Now()})
	})
	if execErr != nil {
		if ctx.Err() != nil {
			run.setState(nodeID, StateCancelled)
			return
		}
		run.fail(nodeID, ClassifyErrorKind(execErr), execErr)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: execErr, Timestamp: time.Now()})
		return
	}

	validated, err := s.Validate(node.OutputFieldConfig, result)
	if err != nil {
		run.fail(nodeID, models.ErrorKindValidation, err)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: err, Timestamp: time.Now()})
		return
	}

	if _, err := s.insertCache(ctx, fp, validated); err != nil {
		run.fail(nodeID, models.ErrorKindInternal, err)
		s.notify(Event{Type: EventNodeFailed, RunID: run.RunID, NodeID: nodeID, Err: err, Timestamp: time.Now()})
		return
	}

	sample := sampleOf(validated.Rows, s.Options.SampleRows)
	run.succeed(nodeID, validated.Schema, sample)
	s.notify(Event{Type: EventNodeSucceeded, RunID: run.RunID, NodeID: nodeID, Timestamp: time.Now()})
}

func (s *Scheduler) insertCache(ctx context.Context, fingerprint string, result types.Result) (plan.CacheRef, error) {
	return s.Cache.Insert(ctx, fingerprint, func() ([]byte, types.Schema, error) {
		payload, err := json.Marshal(result.Rows)
		if err != nil {
			return nil, nil, fmt.Errorf("encode result payload: %w", err)
		}
		return payload, result.Schema, nil
	})
}

func sampleOf(rows []types.Row, n int) []types.Row {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[:n]
}

// ClassifyErrorKind maps an error into the worker failure taxonomy,
// unwrapping ExecError when present. Exported so pkg/observe can derive
// an event's error_kind without duplicating this dispatch.
func ClassifyErrorKind(err error) models.ErrorKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return models.ErrorKindRuntime
}

func (s *Scheduler) notify(e Event) {
	if s.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("scheduler observer panicked: %v\n", r)
		}
	}()
	s.Observer(e)
}
