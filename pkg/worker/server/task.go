package server

import (
	"context"
	"sync"
	"time"

	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/types"
	"github.com/flowkit/fctl/pkg/worker/proto"
)

// task is the worker's internal record of one submitted plan, from
// acceptance through a terminal state.
type task struct {
	mu sync.Mutex

	id        string
	planBlob  []byte
	submittedAt time.Time

	state        proto.TaskState
	errorKind    models.ErrorKind
	errorMessage string

	schema types.Schema
	rows   []types.Row

	cancel context.CancelFunc
}

func (t *task) snapshot() proto.StatusResponse {
	t.mu.Lock()
	defer t.mu.Unlock()
	return proto.StatusResponse{
		State:        t.state,
		ErrorKind:    t.errorKind,
		ErrorMessage: t.errorMessage,
	}
}

func (t *task) setRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == proto.TaskQueued {
		t.state = proto.TaskRunning
	}
}

func (t *task) succeed(schema types.Schema, rows []types.Row) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == proto.TaskCancelled {
		return
	}
	t.state = proto.TaskDone
	t.schema = schema
	t.rows = rows
}

func (t *task) fail(kind models.ErrorKind, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == proto.TaskCancelled {
		return
	}
	t.state = proto.TaskFailed
	t.errorKind = kind
	t.errorMessage = err.Error()
}

func (t *task) requestCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == proto.TaskDone || t.state == proto.TaskFailed || t.state == proto.TaskCancelled {
		return false
	}
	t.state = proto.TaskCancelled
	t.errorKind = models.ErrorKindCancelled
	t.errorMessage = "cancelled by coordinator"
	if t.cancel != nil {
		t.cancel()
	}
	return true
}

// store is the worker's in-memory task table, keyed by task_id. Modeled on
// the teacher's thread-safe registries (pkg/executor.Registry,
// pkg/catalog.Catalog): a single RWMutex-guarded map, no persistence —
// tasks do not survive a worker restart, matching the protocol's
// coordinator-owned task_id/at-least-once resubmission model.
type store struct {
	mu    sync.RWMutex
	tasks map[string]*task
}

func newStore() *store {
	return &store{tasks: make(map[string]*task)}
}

// create registers a new task, or reports it as a duplicate if task_id is
// already known (spec §4.8: "worker rejects duplicates").
func (s *store) create(id string, planBlob []byte) (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; exists {
		return nil, false
	}
	t := &task{id: id, planBlob: planBlob, submittedAt: time.Now(), state: proto.TaskQueued}
	s.tasks[id] = t
	return t, true
}

func (s *store) get(id string) (*task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *store) counts() (queued, running int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		t.mu.Lock()
		switch t.state {
		case proto.TaskQueued:
			queued++
		case proto.TaskRunning:
			running++
		}
		t.mu.Unlock()
	}
	return
}
