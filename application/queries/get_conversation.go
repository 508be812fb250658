package queries

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// GetConversationQuery fetches one conversation with its transcript,
// summary, memories, and per-kind extraction outcomes
type GetConversationQuery struct {
	UserID         string
	ConversationID string
}

// Validate validates the GetConversationQuery
func (q GetConversationQuery) Validate() error {
	if q.UserID == "" {
		return errors.New("user ID is required")
	}
	if q.ConversationID == "" {
		return errors.New("conversation ID is required")
	}
	return nil
}

// SegmentView is the outbound shape of one transcript segment
type SegmentView struct {
	Text         string  `json:"text"`
	Speaker      string  `json:"speaker,omitempty"`
	SpeakerIndex int     `json:"speaker_index"`
	IsUser       bool    `json:"is_user"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
}

// OutcomeView is the outbound shape of one extraction outcome
type OutcomeView struct {
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ItemCount   int       `json:"item_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// MemoryView is the outbound shape of one extracted memory
type MemoryView struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Category   string    `json:"category"`
	Tags       []string  `json:"tags,omitempty"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetConversationResult is the full conversation read model
type GetConversationResult struct {
	ID         string                          `json:"id"`
	UserID     string                          `json:"user_id"`
	Status     string                          `json:"status"`
	Source     string                          `json:"source,omitempty"`
	StartedAt  time.Time                       `json:"started_at"`
	FinishedAt *time.Time                      `json:"finished_at,omitempty"`
	Segments   []SegmentView                   `json:"segments"`
	Transcript string                          `json:"transcript"`
	Summary    *valueobjects.StructuredSummary `json:"summary,omitempty"`
	Outcomes   []OutcomeView                   `json:"outcomes"`
	Memories   []MemoryView                    `json:"memories"`
}

// GetConversationHandler handles the GetConversationQuery
type GetConversationHandler struct {
	conversations ports.ConversationRepository
	memories      ports.MemoryRepository
	logger        *zap.Logger
}

// NewGetConversationHandler creates a new handler instance
func NewGetConversationHandler(
	conversations ports.ConversationRepository,
	memories ports.MemoryRepository,
	logger *zap.Logger,
) *GetConversationHandler {
	return &GetConversationHandler{
		conversations: conversations,
		memories:      memories,
		logger:        logger,
	}
}

// Handle executes the get conversation query
func (h *GetConversationHandler) Handle(ctx context.Context, query GetConversationQuery) (*GetConversationResult, error) {
	conversationID, err := valueobjects.ParseConversationID(query.ConversationID)
	if err != nil {
		return nil, pkgerrors.NewValidationError("invalid conversation ID format")
	}

	conversation, err := h.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation.UserID() != query.UserID {
		return nil, pkgerrors.NewNotFoundError("conversation")
	}

	memories, err := h.memories.ListByConversation(ctx, conversationID)
	if err != nil {
		h.logger.Error("Failed to list conversation memories",
			zap.String("conversationID", conversationID.String()),
			zap.Error(err),
		)
		memories = nil
	}

	return buildConversationResult(conversation, memories), nil
}

func buildConversationResult(conversation *entities.Conversation, memories []*entities.Memory) *GetConversationResult {
	segments := conversation.Segments()
	segmentViews := make([]SegmentView, len(segments))
	for i, seg := range segments {
		segmentViews[i] = SegmentView{
			Text:         seg.Text(),
			Speaker:      seg.Speaker(),
			SpeakerIndex: seg.SpeakerIndex(),
			IsUser:       seg.IsUser(),
			Start:        seg.Start(),
			End:          seg.End(),
		}
	}

	outcomeViews := make([]OutcomeView, 0, len(conversation.Outcomes()))
	for _, kind := range valueobjects.AllExtractionKinds() {
		outcome, ok := conversation.Outcomes()[kind]
		if !ok {
			continue
		}
		outcomeViews = append(outcomeViews, OutcomeView{
			Kind:        string(outcome.Kind),
			Status:      string(outcome.Status),
			Error:       outcome.Error,
			ItemCount:   outcome.ItemCount,
			CompletedAt: outcome.CompletedAt,
		})
	}

	memoryViews := make([]MemoryView, len(memories))
	for i, m := range memories {
		memoryViews[i] = MemoryView{
			ID:         m.ID(),
			Content:    m.Content(),
			Category:   string(m.Category()),
			Tags:       m.Tags(),
			Visibility: string(m.Visibility()),
			CreatedAt:  m.CreatedAt(),
		}
	}

	return &GetConversationResult{
		ID:         conversation.ID().String(),
		UserID:     conversation.UserID(),
		Status:     string(conversation.Status()),
		Source:     conversation.Source(),
		StartedAt:  conversation.StartedAt(),
		FinishedAt: conversation.FinishedAt(),
		Segments:   segmentViews,
		Transcript: conversation.Transcript(),
		Summary:    conversation.Summary(),
		Outcomes:   outcomeViews,
		Memories:   memoryViews,
	}
}
