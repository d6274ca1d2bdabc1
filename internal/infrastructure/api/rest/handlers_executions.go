package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/fctl/internal/application/coordinator"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
	"github.com/flowkit/fctl/pkg/scheduler"
)

// defaultCancelGrace matches spec.md §6's cancel_grace_ms default (5s).
const defaultCancelGrace = 5 * time.Second

// RunHandlers serves the run-lifecycle endpoints of spec.md §6: starting,
// cancelling, and polling the status of a scheduler.Run.
type RunHandlers struct {
	flows  *coordinator.FlowService
	logger *logger.Logger
}

func NewRunHandlers(flows *coordinator.FlowService, log *logger.Logger) *RunHandlers {
	return &RunHandlers{flows: flows, logger: log}
}

// HandleStartRun handles POST /flow/{id}/run. An empty or omitted "targets"
// means every terminal node.
func (h *RunHandlers) HandleStartRun(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Targets []int `json:"targets"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	runID, err := h.flows.StartRun(flowID, req.Targets)
	if err != nil {
		h.logger.Error("failed to start run", "error", err, "flow_id", flowID)
		respondAPIError(c, err)
		return
	}

	h.logger.Info("run started", "flow_id", flowID, "run_id", runID)
	respondJSON(c, http.StatusAccepted, gin.H{"run_id": runID})
}

// HandleCancelRun handles POST /flow/{id}/cancel.
func (h *RunHandlers) HandleCancelRun(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		RunID        string `json:"run_id" binding:"required"`
		CancelGraceMS int   `json:"cancel_grace_ms"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	grace := defaultCancelGrace
	if req.CancelGraceMS > 0 {
		grace = time.Duration(req.CancelGraceMS) * time.Millisecond
	}

	if err := h.flows.CancelRun(flowID, req.RunID, grace); err != nil {
		h.logger.Error("failed to cancel run", "error", err, "flow_id", flowID, "run_id", req.RunID)
		respondAPIError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"cancelled": true})
}

// runStatusResponse is the aggregate view spec.md's cancellation scenario
// checks against ("GET /status reports success=false, cancelled=1").
type runStatusResponse struct {
	Nodes     map[int]scheduler.NodeState `json:"nodes"`
	Success   bool                        `json:"success"`
	Cancelled int                         `json:"cancelled"`
	Failed    int                         `json:"failed"`
}

// HandleRunStatus handles GET /flow/{id}/status?run_id=...
func (h *RunHandlers) HandleRunStatus(c *gin.Context) {
	flowID, ok := getParam(c, "id")
	if !ok {
		return
	}
	runID := c.Query("run_id")
	if runID == "" {
		respondAPIErrorWithRequestID(c, ErrMissingParameter)
		return
	}

	states, err := h.flows.RunStatus(flowID, runID)
	if err != nil {
		respondAPIError(c, err)
		return
	}

	resp := runStatusResponse{Nodes: states, Success: true}
	for _, st := range states {
		switch st {
		case scheduler.StateCancelled:
			resp.Cancelled++
			resp.Success = false
		case scheduler.StateFailed:
			resp.Failed++
			resp.Success = false
		case scheduler.StateSkipped:
			resp.Success = false
		}
	}

	respondJSON(c, http.StatusOK, resp)
}

// HandleEvents handles GET /flow/{id}/events?run_id=...&since=<seq>: a tail
// of the run's observation log for polling consumers.
func (h *RunHandlers) HandleEvents(c *gin.Context) {
	_, ok := getParam(c, "id")
	if !ok {
		return
	}
	runID := c.Query("run_id")
	if runID == "" {
		respondAPIErrorWithRequestID(c, ErrMissingParameter)
		return
	}
	since := int64(getQueryInt(c, "since", 0))

	events := h.flows.EventLog().Tail(runID, since)
	respondJSON(c, http.StatusOK, events)
}
