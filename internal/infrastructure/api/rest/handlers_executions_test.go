package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

func TestHandleStartRun_ReturnsRunID(t *testing.T) {
	flows := testFlowService(t)
	g := flows.CreateFlow("pipeline", flowgraph.FlowSettings{})
	if _, err := flows.AddNode(g.ID, "read", flowgraph.Position{}, map[string]interface{}{
		"path": "a.csv",
	}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	h := NewRunHandlers(flows, testLogger(t))
	router := newTestRouter()
	router.POST("/flow/:id/run", h.HandleStartRun)

	w := performRequest(router, "POST", "/flow/"+g.ID+"/run", map[string]interface{}{})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	parseJSON(t, w.Body.String(), &resp)
	if resp.Data.RunID == "" {
		t.Error("expected a non-empty run ID")
	}
}

func TestHandleStartRun_UnknownFlow(t *testing.T) {
	flows := testFlowService(t)
	h := NewRunHandlers(flows, testLogger(t))

	router := newTestRouter()
	router.POST("/flow/:id/run", h.HandleStartRun)

	w := performRequest(router, "POST", "/flow/does-not-exist/run", map[string]interface{}{})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleRunStatus_UnknownRunID(t *testing.T) {
	flows := testFlowService(t)
	g := flows.CreateFlow("pipeline", flowgraph.FlowSettings{})

	h := NewRunHandlers(flows, testLogger(t))
	router := newTestRouter()
	router.GET("/flow/:id/status", h.HandleRunStatus)

	w := performRequest(router, "GET", "/flow/"+g.ID+"/status?run_id=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleCancelRun_UnknownRunID(t *testing.T) {
	flows := testFlowService(t)
	g := flows.CreateFlow("pipeline", flowgraph.FlowSettings{})

	h := NewRunHandlers(flows, testLogger(t))
	router := newTestRouter()
	router.POST("/flow/:id/cancel", h.HandleCancelRun)

	w := performRequest(router, "POST", "/flow/"+g.ID+"/cancel", map[string]interface{}{"run_id": "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleStartRunThenStatus_EventuallyReportsState(t *testing.T) {
	flows := testFlowService(t)
	g := flows.CreateFlow("pipeline", flowgraph.FlowSettings{})
	if _, err := flows.AddNode(g.ID, "read", flowgraph.Position{}, map[string]interface{}{
		"path": "a.csv",
	}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	runHandlers := NewRunHandlers(flows, testLogger(t))
	router := newTestRouter()
	router.POST("/flow/:id/run", runHandlers.HandleStartRun)
	router.GET("/flow/:id/status", runHandlers.HandleRunStatus)

	w := performRequest(router, "POST", "/flow/"+g.ID+"/run", map[string]interface{}{})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var started struct {
		Data struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	parseJSON(t, w.Body.String(), &started)

	deadline := time.Now().Add(2 * time.Second)
	var statusCode int
	for time.Now().Before(deadline) {
		w = performRequest(router, "GET", "/flow/"+g.ID+"/status?run_id="+started.Data.RunID, nil)
		statusCode = w.Code
		if statusCode == http.StatusOK {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if statusCode != http.StatusOK {
		t.Fatalf("expected run status to become queryable, got %d: %s", statusCode, w.Body.String())
	}
}
