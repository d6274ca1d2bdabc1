package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/flowgraph"
)

// EdgeHandlers serves the edge-mutation endpoints of spec.md §6. Cycle
// detection and port-arity enforcement live in flowgraph.Graph.AddEdge;
// these handlers only translate HTTP requests and its errors.
type EdgeHandlers struct {
	flows  *coordinator.FlowService
	logger *logger.Logger
}

func NewEdgeHandlers(flows *coordinator.FlowService, log *logger.Logger) *EdgeHandlers {
	return &EdgeHandlers{flows: flows, logger: log}
}

// HandleAddEdge handles POST /flow/{id}/edge.
func (h *EdgeHandlers) HandleAddEdge(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		From     int    `json:"source" binding:"required"`
		FromPort string `json:"source_port"`
		To       int    `json:"target" binding:"required"`
		ToPort   string `json:"target_port"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	edge := &flowgraph.Edge{From: req.From, FromPort: req.FromPort, To: req.To, ToPort: req.ToPort}
	if err := h.flows.AddEdge(flowID, edge); err != nil {
		h.logger.Error("failed to add edge", "error", err, "flow_id", flowID, "from", req.From, "to", req.To)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, edge)
}

// HandleDeleteEdge handles DELETE /flow/{id}/edge: the request body
// identifies the endpoints to remove, per spec.md §6.
func (h *EdgeHandlers) HandleDeleteEdge(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		From   int    `json:"source" binding:"required"`
		To     int    `json:"target" binding:"required"`
		ToPort string `json:"target_port" binding:"required"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	if err := h.flows.RemoveEdge(flowID, req.From, req.To, req.ToPort); err != nil {
		h.logger.Error("failed to remove edge", "error", err, "flow_id", flowID, "from", req.From, "to", req.To)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"deleted": true})
}
