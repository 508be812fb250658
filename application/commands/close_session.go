package commands

import (
	"context"

	"go.uber.org/zap"

	"scribe-backend/application/services"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// CloseSessionCommand explicitly stops an ingestion session. Closing a
// session that is already finalizing is a no-op, not an error.
type CloseSessionCommand struct {
	SessionID string `json:"session_id" validate:"required,uuid"`
	Reason    string `json:"reason" validate:"max=64"`
}

// Validate validates the command
func (cmd *CloseSessionCommand) Validate() error {
	return validate.Struct(cmd)
}

// CloseSessionHandler handles the CloseSessionCommand
type CloseSessionHandler struct {
	sessions *services.SessionManager
	logger   *zap.Logger
}

// NewCloseSessionHandler creates a new handler instance
func NewCloseSessionHandler(sessions *services.SessionManager, logger *zap.Logger) *CloseSessionHandler {
	return &CloseSessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Handle executes the close session command
func (h *CloseSessionHandler) Handle(ctx context.Context, cmd *CloseSessionCommand) error {
	sessionID, err := valueobjects.ParseSessionID(cmd.SessionID)
	if err != nil {
		return pkgerrors.NewValidationError("invalid session ID format")
	}

	reason := cmd.Reason
	if reason == "" {
		reason = services.CloseReasonExplicitStop
	}

	return h.sessions.RequestClose(ctx, sessionID, reason)
}
