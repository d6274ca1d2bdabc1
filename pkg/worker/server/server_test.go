package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/internal/config"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/types"
	"github.com/flowkit/fctl/pkg/worker/proto"
)

func testLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "error", Format: "json"})
}

func performRequest(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func parseJSON(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, v))
}

// fakeRuntime is a scripted runtime.Runtime for tests that don't need the
// reference CSV/expr engine.
type fakeRuntime struct {
	schema types.Schema
	rows   []types.Row
	err    error
	delay  time.Duration
}

func (f *fakeRuntime) Run(ctx context.Context, planBlob []byte) (types.Schema, []types.Row, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.schema, f.rows, nil
}

func newTestServer(rt *fakeRuntime) *Server {
	return New(rt, testLogger(), Options{MaxInFlight: 2})
}

func waitForState(t *testing.T, h http.Handler, taskID string, want proto.TaskState) proto.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w := performRequest(h, http.MethodGet, "/status/"+taskID, nil)
		var status proto.StatusResponse
		parseJSON(t, w.Body.Bytes(), &status)
		if status.State == want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach state %s in time", taskID, want)
	return proto.StatusResponse{}
}

func TestServer_Submit_AcceptsNewTask(t *testing.T) {
	s := newTestServer(&fakeRuntime{schema: types.Schema{types.NewColumn("id", types.Scalar(types.KindInt64), false)}})
	h := s.Handler()

	w := performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t1", PlanBlob: []byte(`{}`)})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp proto.SubmitResponse
	parseJSON(t, w.Body.Bytes(), &resp)
	assert.True(t, resp.Accepted)
}

func TestServer_Submit_RejectsDuplicateTaskID(t *testing.T) {
	s := newTestServer(&fakeRuntime{delay: 50 * time.Millisecond})
	h := s.Handler()

	w1 := performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "dup", PlanBlob: []byte(`{}`)})
	require.Equal(t, http.StatusAccepted, w1.Code)

	w2 := performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "dup", PlanBlob: []byte(`{}`)})
	require.Equal(t, http.StatusOK, w2.Code)

	var resp proto.SubmitResponse
	parseJSON(t, w2.Body.Bytes(), &resp)
	assert.False(t, resp.Accepted)
	assert.Equal(t, "duplicate", resp.Reason)
}

func TestServer_StatusThenResult_ReachesDone(t *testing.T) {
	schema := types.Schema{types.NewColumn("id", types.Scalar(types.KindInt64), false)}
	rows := []types.Row{{"id": int64(1)}, {"id": int64(2)}}
	s := newTestServer(&fakeRuntime{schema: schema, rows: rows})
	h := s.Handler()

	w := performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t2", PlanBlob: []byte(`{}`)})
	require.Equal(t, http.StatusAccepted, w.Code)

	waitForState(t, h, "t2", proto.TaskDone)

	rw := performRequest(h, http.MethodGet, "/result/t2", nil)
	require.Equal(t, http.StatusOK, rw.Code)
	var result proto.ResultResponse
	parseJSON(t, rw.Body.Bytes(), &result)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "t2", result.PayloadLocation)
}

func TestServer_Sample_TruncatesAndReportsTruncated(t *testing.T) {
	schema := types.Schema{types.NewColumn("id", types.Scalar(types.KindInt64), false)}
	rows := []types.Row{{"id": int64(1)}, {"id": int64(2)}, {"id": int64(3)}}
	s := newTestServer(&fakeRuntime{schema: schema, rows: rows})
	h := s.Handler()

	performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t3", PlanBlob: []byte(`{}`)})
	waitForState(t, h, "t3", proto.TaskDone)

	sw := performRequest(h, http.MethodGet, "/sample/t3?rows=2", nil)
	require.Equal(t, http.StatusOK, sw.Code)
	var sample proto.SampleResponse
	parseJSON(t, sw.Body.Bytes(), &sample)
	assert.Len(t, sample.Rows, 2)
	assert.True(t, sample.Truncated)
}

func TestServer_FailedTask_ReportsErrorKind(t *testing.T) {
	s := newTestServer(&fakeRuntime{err: assertErr{"boom"}})
	h := s.Handler()

	performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t4", PlanBlob: []byte(`{}`)})
	status := waitForState(t, h, "t4", proto.TaskFailed)
	assert.Equal(t, "boom", status.ErrorMessage)
}

func TestServer_Cancel_TransitionsRunningTaskToCancelled(t *testing.T) {
	s := newTestServer(&fakeRuntime{delay: time.Second})
	h := s.Handler()

	performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t5", PlanBlob: []byte(`{}`)})
	waitForState(t, h, "t5", proto.TaskRunning)

	cw := performRequest(h, http.MethodPost, "/cancel/t5", nil)
	require.Equal(t, http.StatusOK, cw.Code)
	var cancelResp proto.CancelResponse
	parseJSON(t, cw.Body.Bytes(), &cancelResp)
	assert.True(t, cancelResp.Cancelled)

	status := waitForState(t, h, "t5", proto.TaskCancelled)
	assert.Equal(t, proto.TaskCancelled, status.State)
}

func TestServer_Cancel_UnknownTask_ReturnsNotFound(t *testing.T) {
	s := newTestServer(&fakeRuntime{})
	h := s.Handler()
	w := performRequest(h, http.MethodPost, "/cancel/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Result_BeforeDone_ReturnsConflict(t *testing.T) {
	s := newTestServer(&fakeRuntime{delay: time.Second})
	h := s.Handler()
	performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "t6", PlanBlob: []byte(`{}`)})
	w := performRequest(h, http.MethodGet, "/result/t6", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_Healthz_ReportsQueueAndRunningCounts(t *testing.T) {
	s := newTestServer(&fakeRuntime{delay: 200 * time.Millisecond})
	h := s.Handler()

	performRequest(h, http.MethodPost, "/submit", proto.SubmitRequest{TaskID: "h1", PlanBlob: []byte(`{}`)})
	waitForState(t, h, "h1", proto.TaskRunning)

	w := performRequest(h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health proto.HealthResponse
	parseJSON(t, w.Body.Bytes(), &health)
	assert.True(t, health.OK)
	assert.Equal(t, 1, health.RunningTasks)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
