package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/flowkit/fctl/internal/infrastructure/storage/models"
)

// newBunDBWithMock creates a bun.DB backed by go-sqlmock for unit testing,
// following the teacher's grpc/interceptors_test.go helper of the same
// name: QueryMatcherRegexp so ExpectQuery/ExpectExec patterns are treated
// as regexps rather than literal SQL.
func newBunDBWithMock(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bunDB := bun.NewDB(db, pgdialect.New())
	registerModels(bunDB)
	return bunDB, mock
}

func TestRunHistoryRepository_StartRun_InsertsRunRow(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)

	mock.ExpectExec("^INSERT INTO \"runs\"").WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.StartRun(context.Background(), "run-1", "flow-1", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHistoryRepository_FinishRun_UpdatesStatusAndCompletedAt(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)

	mock.ExpectExec("^UPDATE \"runs\"").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.FinishRun(context.Background(), "run-1", "succeeded", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHistoryRepository_AppendEvent_InsertsEventRow(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)

	mock.ExpectExec("^INSERT INTO \"run_events\"").WillReturnResult(sqlmock.NewResult(1, 1))

	nodeID := 3
	err := repo.AppendEvent(context.Background(), &models.RunEventModel{
		RunID:     "run-1",
		Seq:       2,
		EventType: "node_state_changed",
		NodeID:    &nodeID,
		State:     "Success",
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHistoryRepository_Runs_ScansRowsFilteredByFlow(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)

	now := time.Now()
	columns := []string{"run_id", "flow_id", "status", "started_at", "completed_at", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("run-2", "flow-1", "succeeded", now, now, now, now).
		AddRow("run-1", "flow-1", "failed", now, now, now, now)

	mock.ExpectQuery("^SELECT (.+) FROM \"runs\"").WillReturnRows(rows)

	runs, err := repo.Runs(context.Background(), "flow-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "failed", runs[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunHistoryRepository_EventsSince_ScansOrderedBySeq(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)

	now := time.Now()
	columns := []string{"id", "run_id", "seq", "event_type", "node_id", "state", "error_kind", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow(1, "run-1", int64(1), "node_state_changed", nil, "Running", "", now).
		AddRow(2, "run-1", int64(2), "node_state_changed", nil, "Success", "", now)

	mock.ExpectQuery("^SELECT (.+) FROM \"run_events\"").WillReturnRows(rows)

	events, err := repo.EventsSince(context.Background(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}
