package queries

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/valueobjects"
)

// ListConversationsQuery lists a user's conversations, newest first
type ListConversationsQuery struct {
	UserID string
	Limit  int
}

// Validate validates the ListConversationsQuery
func (q ListConversationsQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user ID is required")
	}
	if q.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	return nil
}

// ConversationSummaryView is the list read model: metadata plus the
// structured summary, without the full transcript
type ConversationSummaryView struct {
	ID           string                          `json:"id"`
	Status       string                          `json:"status"`
	Source       string                          `json:"source,omitempty"`
	StartedAt    time.Time                       `json:"started_at"`
	FinishedAt   *time.Time                      `json:"finished_at,omitempty"`
	SegmentCount int                             `json:"segment_count"`
	Summary      *valueobjects.StructuredSummary `json:"summary,omitempty"`
}

// ListConversationsResult is the list query result
type ListConversationsResult struct {
	Conversations []ConversationSummaryView `json:"conversations"`
	Count         int                       `json:"count"`
}

// ListConversationsHandler handles the ListConversationsQuery
type ListConversationsHandler struct {
	conversations ports.ConversationRepository
	logger        *zap.Logger
}

// NewListConversationsHandler creates a new handler instance
func NewListConversationsHandler(conversations ports.ConversationRepository, logger *zap.Logger) *ListConversationsHandler {
	return &ListConversationsHandler{
		conversations: conversations,
		logger:        logger,
	}
}

const defaultListLimit = 50

// Handle executes the list conversations query
func (h *ListConversationsHandler) Handle(ctx context.Context, query ListConversationsQuery) (*ListConversationsResult, error) {
	limit := query.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	conversations, err := h.conversations.ListByUser(ctx, query.UserID, limit)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationSummaryView, len(conversations))
	for i, c := range conversations {
		views[i] = ConversationSummaryView{
			ID:           c.ID().String(),
			Status:       string(c.Status()),
			Source:       c.Source(),
			StartedAt:    c.StartedAt(),
			FinishedAt:   c.FinishedAt(),
			SegmentCount: c.SegmentCount(),
			Summary:      c.Summary(),
		}
	}

	return &ListConversationsResult{
		Conversations: views,
		Count:         len(views),
	}, nil
}
