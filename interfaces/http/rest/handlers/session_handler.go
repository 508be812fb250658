package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scribe-backend/application/commands"
	commandbus "scribe-backend/application/commands/bus"
	"scribe-backend/pkg/common"
	pkgerrors "scribe-backend/pkg/errors"
)

// SessionHandler serves the ingestion session endpoints
type SessionHandler struct {
	commandBus *commandbus.CommandBus
	logger     *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(commandBus *commandbus.CommandBus, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		commandBus: commandBus,
		logger:     logger,
	}
}

type createSessionRequest struct {
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds"`
	Source             string `json:"source"`
}

type createSessionResponse struct {
	SessionID          string `json:"session_id"`
	ConversationID     string `json:"conversation_id"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds"`
}

// CreateSession handles POST /api/v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := common.ParseJSONBody(r, &req, maxRequestBody); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}

	cmd := &commands.OpenSessionCommand{
		UserID:             userID,
		IdleTimeoutSeconds: req.IdleTimeoutSeconds,
		Source:             req.Source,
	}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:          cmd.Result.SessionID,
		ConversationID:     cmd.Result.ConversationID,
		IdleTimeoutSeconds: int(cmd.Result.IdleTimeout.Seconds()),
	})
}

type appendSegmentsRequest struct {
	Segments []commands.SegmentInput `json:"segments"`
}

type appendSegmentsResponse struct {
	Accepted int    `json:"accepted"`
	Warning  string `json:"warning,omitempty"`
}

// AppendSegments handles POST /api/v1/sessions/{sessionID}/segments.
// Out-of-order batches are still accepted; the response carries a warning
// instead of an error.
func (h *SessionHandler) AppendSegments(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestUserID(w, r); !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	var req appendSegmentsRequest
	if err := common.ParseJSONBody(r, &req, maxRequestBody); err != nil {
		common.RespondError(w, http.StatusBadRequest, "VALIDATION", "Invalid request body")
		return
	}

	cmd := &commands.AppendSegmentsCommand{
		SessionID: sessionID,
		Segments:  req.Segments,
	}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		if pkgerrors.IsOutOfOrderSegment(err) {
			common.RespondJSON(w, http.StatusAccepted, appendSegmentsResponse{
				Accepted: len(req.Segments),
				Warning:  "segment start time regressed",
			})
			return
		}
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusAccepted, appendSegmentsResponse{
		Accepted: len(req.Segments),
	})
}

// CloseSession handles DELETE /api/v1/sessions/{sessionID}. Closing a
// session that is already finalizing succeeds quietly.
func (h *SessionHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := requestUserID(w, r); !ok {
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	cmd := &commands.CloseSessionCommand{
		SessionID: sessionID,
		Reason:    r.URL.Query().Get("reason"),
	}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]bool{"closed": true})
}
