package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"scribe-backend/application/services"
	"scribe-backend/pkg/common"
	pkgerrors "scribe-backend/pkg/errors"
)

// CallbackHandler receives asynchronous completion callbacks from extraction
// agents. It is mounted on the internal route group behind the shared-secret
// middleware rather than user auth.
type CallbackHandler struct {
	registry *services.JobRegistry
	logger   *zap.Logger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(registry *services.JobRegistry, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		registry: registry,
		logger:   logger,
	}
}

type callbackRequest struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	callbackStatusCompleted = "completed"
	callbackStatusFailed    = "failed"
)

// HandleCallback handles POST /internal/v1/callbacks. A callback for an
// unknown job returns 404; a late or duplicate callback returns 409 and is
// otherwise ignored, the first terminal outcome always wins.
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := common.ParseJSONBody(r, &req, maxRequestBody); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}
	if req.JobID == "" {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION", "job_id is required")
		return
	}

	var err error
	switch req.Status {
	case callbackStatusCompleted:
		err = h.registry.Resolve(r.Context(), req.JobID, req.Result)
	case callbackStatusFailed:
		err = h.registry.Fail(r.Context(), req.JobID, req.Error)
	default:
		common.RespondError(w, http.StatusBadRequest, "VALIDATION", "status must be 'completed' or 'failed'")
		return
	}

	if err != nil {
		if pkgerrors.IsNotFound(err) {
			respondAppError(w, h.logger, err)
			return
		}
		h.logger.Warn("Ignored extraction callback",
			zap.String("jobID", req.JobID),
			zap.String("status", req.Status),
			zap.Error(err),
		)
		common.RespondError(w, http.StatusConflict, "CONFLICT", "Job already reached a terminal state")
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}
