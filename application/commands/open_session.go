package commands

import (
	"context"
	"time"

	"go.uber.org/zap"

	"scribe-backend/application/services"
)

// OpenSessionResult carries the identifiers of a freshly opened session
type OpenSessionResult struct {
	SessionID      string
	ConversationID string
	IdleTimeout    time.Duration
}

// OpenSessionCommand opens an ingestion session and its backing
// conversation record. The handler fills Result on success.
type OpenSessionCommand struct {
	UserID             string `json:"user_id" validate:"required"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds" validate:"min=0"`
	Source             string `json:"source" validate:"max=64"`

	Result *OpenSessionResult `json:"-"`
}

// Validate validates the command
func (cmd *OpenSessionCommand) Validate() error {
	return validate.Struct(cmd)
}

// OpenSessionHandler handles the OpenSessionCommand
type OpenSessionHandler struct {
	sessions *services.SessionManager
	logger   *zap.Logger
}

// NewOpenSessionHandler creates a new handler instance
func NewOpenSessionHandler(sessions *services.SessionManager, logger *zap.Logger) *OpenSessionHandler {
	return &OpenSessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Handle executes the open session command
func (h *OpenSessionHandler) Handle(ctx context.Context, cmd *OpenSessionCommand) error {
	idleTimeout := time.Duration(cmd.IdleTimeoutSeconds) * time.Second

	session, err := h.sessions.Open(ctx, cmd.UserID, idleTimeout, cmd.Source)
	if err != nil {
		return err
	}

	cmd.Result = &OpenSessionResult{
		SessionID:      session.ID().String(),
		ConversationID: session.ConversationID().String(),
		IdleTimeout:    session.IdleTimeout(),
	}
	return nil
}
