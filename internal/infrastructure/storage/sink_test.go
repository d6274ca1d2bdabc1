package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/observe"
)

func TestEventSink_Record_PersistsEventRow(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)
	sink := NewEventSink(repo, nil)

	mock.ExpectExec("^INSERT INTO \"run_events\"").WillReturnResult(sqlmock.NewResult(1, 1))

	nodeID := 1
	sink.Record(observe.Event{
		RunID:     "run-1",
		Seq:       1,
		Type:      observe.NodeStateChanged,
		NodeID:    &nodeID,
		State:     "Running",
		ErrorKind: models.ErrorKind(""),
		Timestamp: time.Now(),
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventSink_Record_SwallowsRepositoryErrors(t *testing.T) {
	bunDB, mock := newBunDBWithMock(t)
	repo := NewRunHistoryRepository(bunDB)
	sink := NewEventSink(repo, nil)

	mock.ExpectExec("^INSERT INTO \"run_events\"").WillReturnError(assertErr{})

	require.NotPanics(t, func() {
		sink.Record(observe.Event{RunID: "run-1", Seq: 1, Type: observe.RunStarted, Timestamp: time.Now()})
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "mock failure" }
