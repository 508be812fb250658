package queries

import (
	"context"
	"errors"
	"time"

	"scribe-backend/application/services"
	pkgerrors "scribe-backend/pkg/errors"
)

// GetJobStatusQuery looks up one tracked extraction job
type GetJobStatusQuery struct {
	JobID string
}

// Validate validates the GetJobStatusQuery
func (q GetJobStatusQuery) Validate() error {
	if q.JobID == "" {
		return errors.New("job ID is required")
	}
	return nil
}

// GetJobStatusResult is the job read model
type GetJobStatusResult struct {
	JobID          string    `json:"job_id"`
	ConversationID string    `json:"conversation_id"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status"`
	Deadline       time.Time `json:"deadline"`
	CreatedAt      time.Time `json:"created_at"`
}

// GetJobStatusHandler handles the GetJobStatusQuery
type GetJobStatusHandler struct {
	registry *services.JobRegistry
}

// NewGetJobStatusHandler creates a new handler instance
func NewGetJobStatusHandler(registry *services.JobRegistry) *GetJobStatusHandler {
	return &GetJobStatusHandler{registry: registry}
}

// Handle executes the get job status query
func (h *GetJobStatusHandler) Handle(ctx context.Context, query GetJobStatusQuery) (*GetJobStatusResult, error) {
	job, ok := h.registry.GetJob(query.JobID)
	if !ok {
		return nil, pkgerrors.NewNotFoundError("job")
	}

	return &GetJobStatusResult{
		JobID:          job.ID().String(),
		ConversationID: job.ConversationID().String(),
		Kind:           string(job.Kind()),
		Status:         string(job.Status()),
		Deadline:       job.Deadline(),
		CreatedAt:      job.CreatedAt(),
	}, nil
}
