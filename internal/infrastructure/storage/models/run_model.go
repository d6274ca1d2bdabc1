// Package models holds the bun ORM row types the run-history store
// persists. Modeled on the teacher's internal/infrastructure/storage/models
// package (ExecutionModel, NodeExecutionModel, EventModel), narrowed to the
// flow engine's own run/node/event shapes (pkg/scheduler.Run,
// pkg/observe.Event) rather than the teacher's workflow-execution domain.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RunModel is the durable aggregate row for one scheduler run: spec.md
// §4.11's event log tells a consumer what happened turn by turn, but
// answering "which runs of flow X failed last week" from a flat append-only
// log means scanning it end to end. RunModel exists so the Observation
// Surface (C11) can serve that query with a single indexed lookup instead.
type RunModel struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	RunID       string     `bun:"run_id,pk" json:"run_id"`
	FlowID      string     `bun:"flow_id,notnull" json:"flow_id"`
	Status      string     `bun:"status,notnull,default:'running'" json:"status"`
	StartedAt   time.Time  `bun:"started_at,notnull" json:"started_at"`
	CompletedAt *time.Time `bun:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

func (RunModel) TableName() string { return "runs" }

// BeforeInsert stamps creation/update timestamps, mirroring the teacher's
// ExecutionModel.BeforeInsert hook.
func (r *RunModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// BeforeUpdate refreshes UpdatedAt, mirroring ExecutionModel.BeforeUpdate.
func (r *RunModel) BeforeUpdate(ctx interface{}) error {
	r.UpdatedAt = time.Now()
	return nil
}

// RunEventModel is one immutable row per pkg/observe.Event, the durable
// counterpart of observe.Log's in-memory ring — grounded on the teacher's
// EventModel / event-sourcing table (append-only, ordered by Sequence
// within a run, never updated or deleted).
type RunEventModel struct {
	bun.BaseModel `bun:"table:run_events,alias:re"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	RunID     string    `bun:"run_id,notnull" json:"run_id"`
	Seq       int64     `bun:"seq,notnull" json:"seq"`
	EventType string    `bun:"event_type,notnull" json:"event_type"`
	NodeID    *int      `bun:"node_id" json:"node_id,omitempty"`
	State     string    `bun:"state" json:"state,omitempty"`
	ErrorKind string    `bun:"error_kind" json:"error_kind,omitempty"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

func (RunEventModel) TableName() string { return "run_events" }

// BeforeInsert stamps CreatedAt, mirroring EventModel.BeforeInsert.
func (e *RunEventModel) BeforeInsert(ctx interface{}) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return nil
}
