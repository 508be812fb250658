package commands

import (
	"context"

	"go.uber.org/zap"

	"scribe-backend/application/ports"
	"scribe-backend/application/services"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// DiscardConversationCommand drops a pre-completed conversation. Completed
// conversations cannot be discarded through this path.
type DiscardConversationCommand struct {
	ConversationID string `json:"conversation_id" validate:"required,uuid"`
	UserID         string `json:"user_id" validate:"required"`
}

// Validate validates the command
func (cmd *DiscardConversationCommand) Validate() error {
	return validate.Struct(cmd)
}

// DiscardConversationHandler handles the DiscardConversationCommand
type DiscardConversationHandler struct {
	conversations ports.ConversationRepository
	orchestrator  *services.PostProcessingOrchestrator
	logger        *zap.Logger
}

// NewDiscardConversationHandler creates a new handler instance
func NewDiscardConversationHandler(
	conversations ports.ConversationRepository,
	orchestrator *services.PostProcessingOrchestrator,
	logger *zap.Logger,
) *DiscardConversationHandler {
	return &DiscardConversationHandler{
		conversations: conversations,
		orchestrator:  orchestrator,
		logger:        logger,
	}
}

// Handle executes the discard conversation command
func (h *DiscardConversationHandler) Handle(ctx context.Context, cmd *DiscardConversationCommand) error {
	conversationID, err := valueobjects.ParseConversationID(cmd.ConversationID)
	if err != nil {
		return pkgerrors.NewValidationError("invalid conversation ID format")
	}

	conversation, err := h.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conversation.UserID() != cmd.UserID {
		return pkgerrors.NewNotFoundError("conversation")
	}

	return h.orchestrator.Discard(ctx, conversationID)
}
