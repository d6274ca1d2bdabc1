package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/flowkit/fctl/pkg/models"
)

// APIError is the envelope every REST error response shares.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		Details:    details,
		HTTPStatus: httpStatus,
	}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFound         = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict         = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
	ErrInvalidParameter = NewAPIError("INVALID_PARAMETER", "Invalid parameter value", http.StatusBadRequest)
)

// TranslateError maps a domain error (flowgraph/scheduler/cache/worker) to
// the APIError envelope the coordinator returns over HTTP.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, models.ErrGraphNotFound):
		return NewAPIError("FLOW_NOT_FOUND", "Flow not found", http.StatusNotFound)
	case errors.Is(err, models.ErrGraphExists):
		return NewAPIError("FLOW_EXISTS", "Flow already exists", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidGraphID):
		return NewAPIError("INVALID_FLOW_ID", "Invalid flow ID format", http.StatusBadRequest)
	case errors.Is(err, models.ErrNodeNotFound):
		return NewAPIError("NODE_NOT_FOUND", "Node not found", http.StatusNotFound)
	case errors.Is(err, models.ErrEdgeNotFound):
		return NewAPIError("EDGE_NOT_FOUND", "Edge not found", http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidEdge):
		return NewAPIError("INVALID_EDGE", "Invalid edge configuration", http.StatusBadRequest)
	case errors.Is(err, models.ErrCyclicDependency):
		return NewAPIError("CYCLIC_DEPENDENCY", "Flow contains a cyclic dependency", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidNodeKind):
		return NewAPIError("INVALID_NODE_KIND", "Unknown node kind", http.StatusBadRequest)
	case errors.Is(err, models.ErrPortArity):
		return NewAPIError("PORT_ARITY_VIOLATION", "Edge violates the target node's port arity", http.StatusBadRequest)
	case errors.Is(err, models.ErrDuplicateEdge):
		return NewAPIError("DUPLICATE_EDGE", "Target port already has an incoming edge", http.StatusConflict)
	case errors.Is(err, models.ErrRunNotFound):
		return NewAPIError("RUN_NOT_FOUND", "Run not found", http.StatusNotFound)
	case errors.Is(err, models.ErrRunCancelled):
		return NewAPIError("RUN_CANCELLED", "Run was cancelled", http.StatusConflict)
	case errors.Is(err, models.ErrKindNotFound):
		return NewAPIError("KIND_NOT_FOUND", "Node kind not registered in the catalog", http.StatusBadRequest)
	case errors.Is(err, models.ErrInvalidConfig):
		return NewAPIError("INVALID_CONFIG", "Invalid node settings", http.StatusBadRequest)
	case errors.Is(err, models.ErrCacheMiss):
		return NewAPIError("CACHE_MISS", "No cached sample is available for this node", http.StatusNotFound)
	case errors.Is(err, models.ErrValidationFailed):
		return NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	}

	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "not found") {
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return NewAPIErrorWithDetails(
			"VALIDATION_ERROR",
			validationErr.Message,
			http.StatusBadRequest,
			map[string]interface{}{"field": validationErr.Field},
		)
	}

	var validationErrs models.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		details := make(map[string]interface{})
		for _, ve := range validationErrs {
			details[ve.Field] = ve.Message
		}
		return NewAPIErrorWithDetails("VALIDATION_FAILED", validationErrs[0].Message, http.StatusBadRequest, details)
	}

	return NewAPIError("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
}
