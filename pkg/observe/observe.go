// Package observe implements the Observation Surface (C11): an append-only
// per-run event log external consumers tail via GET /events?since=<seq> or
// a long-lived stream (pkg/observe's Hub), plus node_state_changed /
// run_started / run_finished / sample_available event semantics from
// spec.md §4.11. The fan-out-to-subscribers shape follows the teacher's
// internal/application/observer.ObserverManager (non-blocking notify,
// panic-recovered per-subscriber dispatch); Event itself is new, built
// around pkg/scheduler.Event rather than the teacher's workflow/execution
// domain.
package observe

import (
	"sync"
	"time"

	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/scheduler"
)

// EventType names the four event kinds spec.md §4.11 defines for external
// consumers. These are coarser than pkg/scheduler.EventType: every node
// transition (started/retrying/succeeded/failed/skipped) collapses into
// NodeStateChanged, since that is the only node-level event consumers are
// promised.
type EventType string

const (
	NodeStateChanged EventType = "node_state_changed"
	RunStarted       EventType = "run_started"
	RunFinished      EventType = "run_finished"
	SampleAvailable  EventType = "sample_available"
)

// Event is one entry in a run's event log. Seq is monotonic within a run
// and, together with RunID, is the idempotency key spec.md §4.11 requires
// ("events are idempotent, keyed by (run_id, seq)") — a consumer that
// replays a Tail call sees the same Seq for the same logical transition.
type Event struct {
	RunID     string
	Seq       int64
	Type      EventType
	NodeID    *int
	State     string
	ErrorKind models.ErrorKind
	Timestamp time.Time
}

// Sink durably persists events the in-memory Log would otherwise lose on
// restart, satisfied by internal/infrastructure/storage.EventSink. A nil
// Sink (the default) keeps events in memory only.
type Sink interface {
	Record(e Event)
}

// Log is the append-only per-run event store. One Log instance is shared
// by every run the coordinator process supervises.
type Log struct {
	mu   sync.RWMutex
	runs map[string]*runLog

	subMu sync.Mutex
	subs  map[string][]chan Event

	sinkMu sync.RWMutex
	sink   Sink
}

type runLog struct {
	mu     sync.RWMutex
	events []Event
	nextSeq int64
}

// NewLog builds an empty event log.
func NewLog() *Log {
	return &Log{
		runs: make(map[string]*runLog),
		subs: make(map[string][]chan Event),
	}
}

// SetSink installs sink as the log's durable backend. Safe to call
// concurrently with Append.
func (l *Log) SetSink(sink Sink) {
	l.sinkMu.Lock()
	l.sink = sink
	l.sinkMu.Unlock()
}

// Append records an event, stamping its Seq, and fans it out to any live
// subscribers for that run. Safe for concurrent use.
func (l *Log) Append(runID string, typ EventType, nodeID *int, state string, errKind models.ErrorKind) Event {
	rl := l.runLogFor(runID)

	rl.mu.Lock()
	seq := rl.nextSeq
	rl.nextSeq++
	e := Event{
		RunID:     runID,
		Seq:       seq,
		Type:      typ,
		NodeID:    nodeID,
		State:     state,
		ErrorKind: errKind,
		Timestamp: time.Now(),
	}
	rl.events = append(rl.events, e)
	rl.mu.Unlock()

	l.publish(runID, e)
	l.notifySink(e)
	return e
}

// notifySink hands e to the durable Sink, if one is installed, off the
// caller's goroutine so a slow or failing database write never stalls the
// scheduler that called Append. Mirrors the teacher's
// ObserverManager.notifyObserver: panic-recovered, errors swallowed here
// since Sink implementations log their own failures.
func (l *Log) notifySink(e Event) {
	l.sinkMu.RLock()
	sink := l.sink
	l.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	go func() {
		defer func() {
			_ = recover()
		}()
		sink.Record(e)
	}()
}

func (l *Log) runLogFor(runID string) *runLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.runs[runID]
	if !ok {
		rl = &runLog{}
		l.runs[runID] = rl
	}
	return rl
}

// Tail returns every event for runID with Seq > since, in order. Used by
// the polling GET /flow/{id}/events?since=<seq> contract.
func (l *Log) Tail(runID string, since int64) []Event {
	l.mu.RLock()
	rl, ok := l.runs[runID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]Event, 0, len(rl.events))
	for _, e := range rl.events {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe opens a live feed of events for runID, delivered in addition
// to (not instead of) Tail-based polling. The returned channel is closed
// by the returned cancel func; callers must drain it to avoid blocking
// Append (the channel is buffered, but a slow consumer that never reads
// will eventually miss events rather than stall publication — publish is
// non-blocking by design, per spec.md's "delivery is append-only" not
// "delivery is guaranteed-once-live").
func (l *Log) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	l.subMu.Lock()
	l.subs[runID] = append(l.subs[runID], ch)
	l.subMu.Unlock()

	cancel := func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		subs := l.subs[runID]
		for i, c := range subs {
			if c == ch {
				l.subs[runID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

func (l *Log) publish(runID string, e Event) {
	l.subMu.Lock()
	subs := append([]chan Event(nil), l.subs[runID]...)
	l.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// slow consumer: drop rather than block Append.
		}
	}
}

// Adapter returns a scheduler.Observer that appends every scheduler.Event
// into the log under its run ID, collapsing node-level event types into
// NodeStateChanged and emitting SampleAvailable immediately after a
// successful node execution — the point at which that node's last result
// becomes queryable via /sample, since this implementation's worker
// protocol (C8) always has the sample ready by the time node_succeeded
// fires (see DESIGN.md).
func (l *Log) Adapter() scheduler.Observer {
	return func(se scheduler.Event) {
		nodeID := se.NodeID
		switch se.Type {
		case scheduler.EventRunStarted:
			l.Append(se.RunID, RunStarted, nil, "", models.ErrorKind(""))
		case scheduler.EventRunCompleted:
			l.Append(se.RunID, RunFinished, nil, "", models.ErrorKind(""))
		case scheduler.EventNodeStarted, scheduler.EventNodeRetrying,
			scheduler.EventNodeSucceeded, scheduler.EventNodeFailed, scheduler.EventNodeSkipped:
			kind := models.ErrorKind("")
			if se.Err != nil {
				kind = scheduler.ClassifyErrorKind(se.Err)
			}
			l.Append(se.RunID, NodeStateChanged, &nodeID, string(schedulerStateFor(se.Type)), kind)
			if se.Type == scheduler.EventNodeSucceeded {
				l.Append(se.RunID, SampleAvailable, &nodeID, "", models.ErrorKind(""))
			}
		}
	}
}

// schedulerStateFor maps a scheduler EventType to the NodeState string an
// observer would see via the run's aggregate status — kept as a string in
// Event rather than importing scheduler.NodeState's concrete type, so this
// package's wire-facing Event stays independent of the scheduler's
// internal state machine representation.
func schedulerStateFor(t scheduler.EventType) scheduler.NodeState {
	switch t {
	case scheduler.EventNodeStarted:
		return scheduler.StateRunning
	case scheduler.EventNodeRetrying:
		return scheduler.StateRunning
	case scheduler.EventNodeSucceeded:
		return scheduler.StateSuccess
	case scheduler.EventNodeFailed:
		return scheduler.StateFailed
	case scheduler.EventNodeSkipped:
		return scheduler.StateSkipped
	default:
		return scheduler.StatePending
	}
}
