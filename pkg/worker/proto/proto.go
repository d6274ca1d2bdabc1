// Package proto defines the wire types exchanged between the coordinator
// and a worker (C8): JSON request/response bodies for the six HTTP
// endpoints, plus the small state machine a worker-side task progresses
// through. Types here are the opaque envelope only — plan_blob itself is
// never inspected by the coordinator (see pkg/plan's LazyPlan doc comment).
package proto

import (
	"github.com/flowkit/fctl/pkg/flowgraph"
	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/types"
)

// TaskState is the worker-side lifecycle of a submitted task, polled via
// GET /status/{task_id}.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// SubmitRequest is the POST /submit body. PlanBlob is opaque to both sides
// of this package; only the worker's runtime interprets it.
type SubmitRequest struct {
	TaskID     string                      `json:"task_id"`
	PlanBlob   []byte                      `json:"plan_blob"`
	OutputSpec *flowgraph.OutputFieldConfig `json:"output_spec,omitempty"`
	Mode       string                      `json:"mode"`
}

// SubmitResponse answers a SubmitRequest. Reason is populated only when
// Accepted is false (e.g. "duplicate").
type SubmitResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// StatusResponse answers GET /status/{task_id}.
type StatusResponse struct {
	State        TaskState        `json:"state"`
	Progress     *float64         `json:"progress,omitempty"`
	ErrorKind    models.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// ResultResponse answers GET /result/{task_id}; valid only once StatusResponse.State == TaskDone.
type ResultResponse struct {
	Schema         types.Schema `json:"schema"`
	RowCount       int          `json:"row_count"`
	PayloadLocation string      `json:"payload_location"`
}

// SampleResponse answers GET /sample/{task_id}?rows=N.
type SampleResponse struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	Truncated bool            `json:"truncated"`
}

// CancelResponse answers POST /cancel/{task_id}.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// HealthResponse answers GET /healthz.
type HealthResponse struct {
	OK           bool   `json:"ok"`
	QueueDepth   int    `json:"queue_depth"`
	RunningTasks int    `json:"running_tasks"`
	MemoryBytes  uint64 `json:"memory_bytes"`
}

// ErrorBody is the JSON body of any non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}
