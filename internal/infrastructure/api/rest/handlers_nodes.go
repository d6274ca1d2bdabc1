package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/flowgraph"
)

// NodeHandlers serves the node-mutation endpoints of spec.md §6.
type NodeHandlers struct {
	flows  *coordinator.FlowService
	logger *logger.Logger
}

func NewNodeHandlers(flows *coordinator.FlowService, log *logger.Logger) *NodeHandlers {
	return &NodeHandlers{flows: flows, logger: log}
}

func nodeIDParam(c *gin.Context) (int, bool) {
	raw, ok := getParam(c, "nid")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		respondAPIErrorWithRequestID(c, NewAPIError("INVALID_PARAMETER", "nid must be an integer", http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

// HandleAddNode handles POST /flow/{id}/node.
func (h *NodeHandlers) HandleAddNode(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Kind     string                 `json:"kind" binding:"required"`
		Position flowgraph.Position     `json:"position"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	node, err := h.flows.AddNode(flowID, req.Kind, req.Position, req.Settings)
	if err != nil {
		h.logger.Error("failed to add node", "error", err, "flow_id", flowID, "kind", req.Kind)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, node)
}

// HandleUpdateNode handles PATCH /flow/{id}/node/{nid}: settings, position,
// cache pinning, and output-field config are all independently optional.
func (h *NodeHandlers) HandleUpdateNode(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := nodeIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Settings          map[string]interface{}      `json:"settings"`
		Position          *flowgraph.Position          `json:"position"`
		CacheResults      *bool                        `json:"cache_results"`
		OutputFieldConfig *flowgraph.OutputFieldConfig `json:"output_field_config"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	patch := coordinator.NodePatch{
		Settings:          req.Settings,
		Position:          req.Position,
		CacheResults:      req.CacheResults,
		OutputFieldConfig: req.OutputFieldConfig,
	}
	if err := h.flows.UpdateNode(flowID, nodeID, patch); err != nil {
		h.logger.Error("failed to update node", "error", err, "flow_id", flowID, "node_id", nodeID)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"updated": true})
}

// HandleDeleteNode handles DELETE /flow/{id}/node/{nid}. Removing a node
// cascades its incident edges (flowgraph.Graph.RemoveNode).
func (h *NodeHandlers) HandleDeleteNode(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := nodeIDParam(c)
	if !ok {
		return
	}

	if err := h.flows.RemoveNode(flowID, nodeID); err != nil {
		h.logger.Error("failed to remove node", "error", err, "flow_id", flowID, "node_id", nodeID)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"deleted": true})
}

// HandleGetSchema handles GET /flow/{id}/schema/{nid}: the predicted output
// schema, computed without executing the flow.
func (h *NodeHandlers) HandleGetSchema(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := nodeIDParam(c)
	if !ok {
		return
	}

	schema, err := h.flows.Schema(flowID, nodeID)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, schema)
}

// HandleSample handles GET /flow/{id}/node/{nid}/sample?rows=N: a capped
// sample from the node's last successful run.
func (h *NodeHandlers) HandleSample(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	nodeID, ok := nodeIDParam(c)
	if !ok {
		return
	}
	rows := getQueryInt(c, "rows", 0)

	schema, sample, err := h.flows.Sample(flowID, nodeID, rows)
	if err != nil {
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"schema": schema, "rows": sample})
}
