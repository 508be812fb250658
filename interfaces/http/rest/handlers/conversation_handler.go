package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"scribe-backend/application/commands"
	commandbus "scribe-backend/application/commands/bus"
	"scribe-backend/application/queries"
	querybus "scribe-backend/application/queries/bus"
	"scribe-backend/pkg/common"
)

// ConversationHandler serves the conversation read and discard endpoints
type ConversationHandler struct {
	commandBus *commandbus.CommandBus
	queryBus   *querybus.QueryBus
	logger     *zap.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(commandBus *commandbus.CommandBus, queryBus *querybus.QueryBus, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		commandBus: commandBus,
		queryBus:   queryBus,
		logger:     logger,
	}
}

// ListConversations handles GET /api/v1/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			common.RespondError(w, http.StatusBadRequest, "VALIDATION", "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	result, err := h.queryBus.Ask(r.Context(), queries.ListConversationsQuery{
		UserID: userID,
		Limit:  limit,
	})
	if err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// GetConversation handles GET /api/v1/conversations/{conversationID}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	result, err := h.queryBus.Ask(r.Context(), queries.GetConversationQuery{
		UserID:         userID,
		ConversationID: chi.URLParam(r, "conversationID"),
	})
	if err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// DiscardConversation handles POST /api/v1/conversations/{conversationID}/discard
func (h *ConversationHandler) DiscardConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	cmd := &commands.DiscardConversationCommand{
		ConversationID: chi.URLParam(r, "conversationID"),
		UserID:         userID,
	}

	if err := h.commandBus.Send(r.Context(), cmd); err != nil {
		respondAppError(w, h.logger, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]bool{"discarded": true})
}
