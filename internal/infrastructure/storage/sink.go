package storage

import (
	"context"
	"time"

	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/internal/infrastructure/storage/models"
	"github.com/flowkit/fctl/pkg/observe"
)

// EventSink adapts pkg/observe.Event into run_events rows, the same role
// the teacher's DatabaseObserver plays for its own Event type: a thin
// conversion plus a repository call, registered as the log's durable Sink.
type EventSink struct {
	repo *RunHistoryRepository
	log  *logger.Logger
}

// NewEventSink builds a Sink backed by repo.
func NewEventSink(repo *RunHistoryRepository, log *logger.Logger) *EventSink {
	return &EventSink{repo: repo, log: log}
}

// Record persists e, logging (never panicking or blocking its caller
// indefinitely) on failure — observe.Log already dispatches Sink.Record
// off its own goroutine, so this method owns its own timeout.
func (s *EventSink) Record(e observe.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row := &models.RunEventModel{
		RunID:     e.RunID,
		Seq:       e.Seq,
		EventType: string(e.Type),
		NodeID:    e.NodeID,
		State:     e.State,
		ErrorKind: string(e.ErrorKind),
		CreatedAt: e.Timestamp,
	}
	if err := s.repo.AppendEvent(ctx, row); err != nil {
		if s.log != nil {
			s.log.Error("failed to persist run event", "run_id", e.RunID, "seq", e.Seq, "error", err)
		}
	}
}

var _ observe.Sink = (*EventSink)(nil)
