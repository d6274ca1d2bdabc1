package observe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/pkg/models"
	"github.com/flowkit/fctl/pkg/scheduler"
)

func TestLog_Append_AssignsMonotonicSeq(t *testing.T) {
	log := NewLog()
	e1 := log.Append("run-1", RunStarted, nil, "", "")
	e2 := log.Append("run-1", RunFinished, nil, "", "")

	assert.Equal(t, int64(0), e1.Seq)
	assert.Equal(t, int64(1), e2.Seq)
}

func TestLog_Tail_ReturnsEventsSinceSeq(t *testing.T) {
	log := NewLog()
	log.Append("run-1", RunStarted, nil, "", "")
	nodeID := 2
	log.Append("run-1", NodeStateChanged, &nodeID, "Running", "")
	log.Append("run-1", NodeStateChanged, &nodeID, "Success", "")

	tail := log.Tail("run-1", 0)
	require.Len(t, tail, 2)
	assert.Equal(t, NodeStateChanged, tail[0].Type)
	assert.Equal(t, "Success", tail[1].State)
}

func TestLog_Tail_UnknownRunReturnsNil(t *testing.T) {
	log := NewLog()
	assert.Nil(t, log.Tail("missing", 0))
}

func TestLog_Tail_IsolatedPerRun(t *testing.T) {
	log := NewLog()
	log.Append("run-1", RunStarted, nil, "", "")
	log.Append("run-2", RunStarted, nil, "", "")

	assert.Len(t, log.Tail("run-1", -1), 1)
	assert.Len(t, log.Tail("run-2", -1), 1)
}

func TestLog_Subscribe_ReceivesLiveEvents(t *testing.T) {
	log := NewLog()
	ch, cancel := log.Subscribe("run-1")
	defer cancel()

	log.Append("run-1", RunStarted, nil, "", "")

	select {
	case e := <-ch:
		assert.Equal(t, RunStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestLog_Subscribe_IgnoresOtherRuns(t *testing.T) {
	log := NewLog()
	ch, cancel := log.Subscribe("run-1")
	defer cancel()

	log.Append("run-2", RunStarted, nil, "", "")

	select {
	case e := <-ch:
		t.Fatalf("unexpected event for unrelated run: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdapter_TranslatesSchedulerEvents(t *testing.T) {
	log := NewLog()
	adapter := log.Adapter()

	adapter(scheduler.Event{Type: scheduler.EventRunStarted, RunID: "run-1", Timestamp: time.Now()})
	adapter(scheduler.Event{Type: scheduler.EventNodeStarted, RunID: "run-1", NodeID: 1, Timestamp: time.Now()})
	adapter(scheduler.Event{Type: scheduler.EventNodeSucceeded, RunID: "run-1", NodeID: 1, Timestamp: time.Now()})
	adapter(scheduler.Event{Type: scheduler.EventRunCompleted, RunID: "run-1", Timestamp: time.Now()})

	events := log.Tail("run-1", -1)
	require.Len(t, events, 5)
	assert.Equal(t, RunStarted, events[0].Type)
	assert.Equal(t, NodeStateChanged, events[1].Type)
	assert.Equal(t, "Running", events[1].State)
	assert.Equal(t, NodeStateChanged, events[2].Type)
	assert.Equal(t, "Success", events[2].State)
	assert.Equal(t, SampleAvailable, events[3].Type)
	assert.Equal(t, RunFinished, events[4].Type)
}

func TestAdapter_RecordsErrorKindOnFailure(t *testing.T) {
	log := NewLog()
	adapter := log.Adapter()

	execErr := &scheduler.ExecError{Kind: models.ErrorKindTimeout, Err: assertErr("boom")}
	adapter(scheduler.Event{Type: scheduler.EventNodeFailed, RunID: "run-1", NodeID: 3, Err: execErr, Timestamp: time.Now()})

	events := log.Tail("run-1", -1)
	require.Len(t, events, 1)
	assert.Equal(t, models.ErrorKindTimeout, events[0].ErrorKind)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeSink) Record(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeSink) recorded() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func TestLog_Append_ForwardsToSink(t *testing.T) {
	log := NewLog()
	sink := &fakeSink{}
	log.SetSink(sink)

	log.Append("run-1", RunStarted, nil, "", "")

	require.Eventually(t, func() bool { return len(sink.recorded()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, RunStarted, sink.recorded()[0].Type)
}

func TestLog_Append_NilSinkIsNoop(t *testing.T) {
	log := NewLog()
	assert.NotPanics(t, func() {
		log.Append("run-1", RunStarted, nil, "", "")
	})
}
