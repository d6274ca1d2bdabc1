package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/flowgraph"
)

// FlowHandlers serves the flow-level endpoints of spec.md §6: creating and
// inspecting the Graph Store's flows.
type FlowHandlers struct {
	flows  *coordinator.FlowService
	logger *logger.Logger
}

func NewFlowHandlers(flows *coordinator.FlowService, log *logger.Logger) *FlowHandlers {
	return &FlowHandlers{flows: flows, logger: log}
}

// flowSnapshot is the JSON projection of a flowgraph.Graph: Graph keeps its
// node/edge maps unexported so mutation always goes through its locked
// methods, so the wire representation is assembled from ListNodes/ListEdges
// rather than marshaling the Graph struct directly.
type flowSnapshot struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Settings    flowgraph.FlowSettings `json:"settings"`
	Version     int64                  `json:"version"`
	Nodes       []*flowgraph.Node      `json:"nodes"`
	Edges       []*flowgraph.Edge      `json:"edges"`
}

func snapshotOf(g *flowgraph.Graph) flowSnapshot {
	return flowSnapshot{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Settings:    g.Settings,
		Version:     g.Version,
		Nodes:       g.ListNodes(),
		Edges:       g.ListEdges(),
	}
}

// HandleCreateFlow handles POST /flow. The body is a JSON object with the
// flow's name and its initial FlowSettings; settings fields absent from the
// body are left at their zero values. An empty body is rejected with 400.
func (h *FlowHandlers) HandleCreateFlow(c *gin.Context) {
	var req struct {
		Name     string                 `json:"name"`
		Settings flowgraph.FlowSettings `json:"settings"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	g := h.flows.CreateFlow(req.Name, req.Settings)
	respondJSON(c, http.StatusCreated, snapshotOf(g))
}

// HandleGetFlow handles GET /flow/{id}: the full graph snapshot.
func (h *FlowHandlers) HandleGetFlow(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	g, err := h.flows.Graph(flowID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, snapshotOf(g))
}

// HandleSaveFlow handles POST /flow/{id}/save: persists the flow to disk as
// YAML (pkg/persistence).
func (h *FlowHandlers) HandleSaveFlow(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	if err := h.flows.Save(flowID); err != nil {
		h.logger.Error("failed to save flow", "error", err, "flow_id", flowID)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"saved": true})
}

// HandleLoadFlow handles POST /flow/load: reads a flow document from the
// path in the request body and registers it as a live flow.
func (h *FlowHandlers) HandleLoadFlow(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	g, err := h.flows.Load(req.Path)
	if err != nil {
		h.logger.Error("failed to load flow", "error", err, "path", req.Path)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, snapshotOf(g))
}
