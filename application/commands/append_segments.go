package commands

import (
	"context"

	"go.uber.org/zap"

	"scribe-backend/application/services"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// SegmentInput is the inbound shape of one transcript segment
type SegmentInput struct {
	Text         string  `json:"text" validate:"required,max=8192"`
	Speaker      string  `json:"speaker" validate:"max=128"`
	SpeakerIndex int     `json:"speaker_index" validate:"min=0"`
	IsUser       bool    `json:"is_user"`
	Start        float64 `json:"start" validate:"min=0"`
	End          float64 `json:"end" validate:"min=0"`
	STTSource    string  `json:"stt_source" validate:"max=64"`
}

// AppendSegmentsCommand buffers transcript segments on an active session
type AppendSegmentsCommand struct {
	SessionID string         `json:"session_id" validate:"required,uuid"`
	Segments  []SegmentInput `json:"segments" validate:"required,min=1,dive"`
}

// Validate validates the command
func (cmd *AppendSegmentsCommand) Validate() error {
	return validate.Struct(cmd)
}

// AppendSegmentsHandler handles the AppendSegmentsCommand
type AppendSegmentsHandler struct {
	sessions *services.SessionManager
	logger   *zap.Logger
}

// NewAppendSegmentsHandler creates a new handler instance
func NewAppendSegmentsHandler(sessions *services.SessionManager, logger *zap.Logger) *AppendSegmentsHandler {
	return &AppendSegmentsHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// Handle executes the append segments command. An out-of-order batch is
// logged and surfaced to the caller, but the segments are still buffered:
// ingestion never drops transcript text.
func (h *AppendSegmentsHandler) Handle(ctx context.Context, cmd *AppendSegmentsCommand) error {
	sessionID, err := valueobjects.ParseSessionID(cmd.SessionID)
	if err != nil {
		return pkgerrors.NewValidationError("invalid session ID format")
	}

	segments := make([]valueobjects.TranscriptSegment, 0, len(cmd.Segments))
	for _, in := range cmd.Segments {
		seg, err := valueobjects.NewTranscriptSegment(
			in.Text,
			in.Speaker,
			in.SpeakerIndex,
			in.IsUser,
			in.Start,
			in.End,
			in.STTSource,
		)
		if err != nil {
			return err
		}
		segments = append(segments, seg)
	}

	return h.sessions.Append(ctx, sessionID, segments)
}
