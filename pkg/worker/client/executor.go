package client

import (
	"context"
	"fmt"

	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/scheduler"
	"github.com/flowkit/fctl/pkg/types"
	"github.com/flowkit/fctl/pkg/worker/proto"
)

// Pool resolves a run/node pair to the worker Client that should execute
// it. A single-worker deployment can return the same *Client always; a
// multi-worker deployment picks one honoring each worker's max_in_flight
// (spec §4.8's back-pressure clause).
type Pool interface {
	Acquire(ctx context.Context, runID string, nodeID int) (*Client, error)
}

// SingleWorker is the trivial Pool of exactly one worker.
type SingleWorker struct {
	Client *Client
}

func (s SingleWorker) Acquire(ctx context.Context, runID string, nodeID int) (*Client, error) {
	return s.Client, nil
}

// Executor adapts a worker Pool to scheduler.NodeExecutor: submit the
// node's plan, poll to completion, and materialize the result by sampling
// the worker's row store. MaxFetchRows bounds how many rows are pulled
// back per node (the worker protocol has no unbounded payload-transfer
// endpoint; §4.8 only exposes /sample, capped by a rows query parameter).
type Executor struct {
	Pool         Pool
	MaxFetchRows int
}

// NewExecutor builds a client-backed NodeExecutor over a single worker.
func NewExecutor(c *Client, maxFetchRows int) *Executor {
	if maxFetchRows <= 0 {
		maxFetchRows = 100000
	}
	return &Executor{Pool: SingleWorker{Client: c}, MaxFetchRows: maxFetchRows}
}

// Execute implements scheduler.NodeExecutor.
func (e *Executor) Execute(ctx context.Context, task scheduler.ExecTask) (types.Result, error) {
	worker, err := e.Pool.Acquire(ctx, task.RunID, task.NodeID)
	if err != nil {
		return types.Result{}, &scheduler.ExecError{Kind: models.ErrorKindInternal, Err: fmt.Errorf("acquire worker: %w", err)}
	}

	taskID := fmt.Sprintf("%s/%d", task.RunID, task.NodeID)

	submitReq := proto.SubmitRequest{
		TaskID:     taskID,
		PlanBlob:   task.Plan.Blob(),
		OutputSpec: task.OutputSpec,
		Mode:       string(task.Mode),
	}
	submitResp, err := worker.Submit(ctx, submitReq)
	if err != nil {
		return types.Result{}, classifyTransportError(err)
	}
	if !submitResp.Accepted && submitResp.Reason != "duplicate" {
		return types.Result{}, &scheduler.ExecError{Kind: models.ErrorKindInternal, Err: fmt.Errorf("worker rejected task: %s", submitResp.Reason)}
	}

	status, err := worker.waitForTerminal(ctx, taskID)
	if err != nil {
		return types.Result{}, classifyTransportError(err)
	}

	switch status.State {
	case proto.TaskFailed:
		return types.Result{}, &scheduler.ExecError{Kind: status.ErrorKind, Err: fmt.Errorf("%s", status.ErrorMessage)}
	case proto.TaskCancelled:
		return types.Result{}, &scheduler.ExecError{Kind: models.ErrorKindCancelled, Err: fmt.Errorf("task cancelled by worker")}
	case proto.TaskDone:
		// fall through
	default:
		return types.Result{}, &scheduler.ExecError{Kind: models.ErrorKindInternal, Err: fmt.Errorf("unexpected terminal state %q", status.State)}
	}

	result, err := worker.Result(ctx, taskID)
	if err != nil {
		return types.Result{}, classifyTransportError(err)
	}

	fetchRows := result.RowCount
	if fetchRows <= 0 || fetchRows > e.MaxFetchRows {
		fetchRows = e.MaxFetchRows
	}
	sample, err := worker.Sample(ctx, taskID, fetchRows)
	if err != nil {
		return types.Result{}, classifyTransportError(err)
	}

	rows := make([]types.Row, 0, len(sample.Rows))
	for _, rawRow := range sample.Rows {
		row := make(types.Row, len(sample.Columns))
		for i, col := range sample.Columns {
			if i < len(rawRow) {
				row[col] = rawRow[i]
			}
		}
		rows = append(rows, row)
	}

	return types.Result{Schema: result.Schema, Rows: rows}, nil
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	return &scheduler.ExecError{Kind: models.ErrorKindInternal, Err: err}
}
