package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/flowkit/fctl/internal/infrastructure/storage/models"
)

// RunHistoryRepository persists run and event rows over bun, following the
// teacher's ExecutionRepository/EventRepository split: one table for the
// run-level aggregate a dashboard lists and filters on, one append-only
// table mirroring the event log itself.
type RunHistoryRepository struct {
	db bun.IDB
}

// NewRunHistoryRepository builds a repository over db (a *bun.DB or an
// open bun.Tx, following bun.IDB's usual dual use).
func NewRunHistoryRepository(db bun.IDB) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// StartRun inserts the aggregate row for a newly started run.
func (r *RunHistoryRepository) StartRun(ctx context.Context, runID, flowID string, startedAt time.Time) error {
	run := &models.RunModel{
		RunID:     runID,
		FlowID:    flowID,
		Status:    "running",
		StartedAt: startedAt,
	}
	_, err := r.db.NewInsert().Model(run).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun updates the aggregate row's terminal status and completion time.
func (r *RunHistoryRepository) FinishRun(ctx context.Context, runID, status string, completedAt time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*models.RunModel)(nil)).
		Set("status = ?", status).
		Set("completed_at = ?", completedAt).
		Set("updated_at = ?", time.Now()).
		Where("run_id = ?", runID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record run completion: %w", err)
	}
	return nil
}

// AppendEvent inserts one immutable run_events row.
func (r *RunHistoryRepository) AppendEvent(ctx context.Context, e *models.RunEventModel) error {
	_, err := r.db.NewInsert().Model(e).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append run event: %w", err)
	}
	return nil
}

// Runs lists run summaries for a flow, newest first — the filtering and
// pagination a flat event log can't serve without a full scan.
func (r *RunHistoryRepository) Runs(ctx context.Context, flowID string, limit, offset int) ([]*models.RunModel, error) {
	var runs []*models.RunModel
	q := r.db.NewSelect().Model(&runs).Order("started_at DESC").Limit(limit).Offset(offset)
	if flowID != "" {
		q = q.Where("flow_id = ?", flowID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// EventsSince returns every run_events row for runID with Seq > since, in
// order — the durable counterpart of pkg/observe.Log.Tail, usable after a
// coordinator restart has dropped the in-memory log.
func (r *RunHistoryRepository) EventsSince(ctx context.Context, runID string, since int64) ([]*models.RunEventModel, error) {
	var events []*models.RunEventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("run_id = ?", runID).
		Where("seq > ?", since).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	return events, nil
}
