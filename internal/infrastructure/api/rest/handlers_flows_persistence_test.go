package rest

import (
	"net/http"
	"testing"

	"github.com/flowkit/fctl/pkg/flowgraph"
)

func TestHandleSaveFlow_Succeeds(t *testing.T) {
	flows := testFlowService(t)
	g := flows.CreateFlow("roundtrip", flowgraph.FlowSettings{})
	if _, err := flows.AddNode(g.ID, "read", flowgraph.Position{}, map[string]interface{}{"path": "a.csv"}); err != nil {
		t.Fatalf("add node: %v", err)
	}

	h := NewFlowHandlers(flows, testLogger(t))
	router := newTestRouter()
	router.POST("/flow/:id/save", h.HandleSaveFlow)

	w := performRequest(router, "POST", "/flow/"+g.ID+"/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleLoadFlow_MissingPathRejected(t *testing.T) {
	flows := testFlowService(t)
	h := NewFlowHandlers(flows, testLogger(t))

	router := newTestRouter()
	router.POST("/flow/load", h.HandleLoadFlow)

	w := performRequest(router, "POST", "/flow/load", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}
