package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scribe-backend/application/queries"
	querybus "scribe-backend/application/queries/bus"
	"scribe-backend/pkg/common"
)

// JobHandler serves the extraction job status endpoint
type JobHandler struct {
	queryBus *querybus.QueryBus
	logger   *zap.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(queryBus *querybus.QueryBus, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		queryBus: queryBus,
		logger:   logger,
	}
}

// GetJob handles GET /api/v1/jobs/{jobID}
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestUserID(w, r); !ok {
		return
	}

	result, err := h.queryBus.Ask(r.Context(), queries.GetJobStatusQuery{
		JobID: chi.URLParam(r, "jobID"),
	})
	if err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}
