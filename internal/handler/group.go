package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"unitalk/internal/httputil"
	"unitalk/internal/model"
	"unitalk/internal/service"
	"unitalk/internal/transport/http/middleware"
)

type GroupHandler struct {
	conversationService *service.ConversationService
	dispatcher          *service.Dispatcher
	logger              *zap.Logger
}

func NewGroupHandler(conversationService *service.ConversationService, dispatcher *service.Dispatcher, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{
		conversationService: conversationService,
		dispatcher:          dispatcher,
		logger:              logger.Named("group_handler"),
	}
}

// OpenConversation handles POST /groups/{id}/conversation
// Members only; creates the group conversation on first use.
func (h *GroupHandler) OpenConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	conv, isNew, err := h.conversationService.OpenGroupForMember(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, model.ConversationStartedPayload{Conversation: conv, IsNew: isNew})
}

// Announce handles POST /groups/{id}/announcements
// Posts an announcement to the group's conversation in every member's language.
func (h *GroupHandler) Announce(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.AnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	msg, err := h.dispatcher.SendAnnouncement(r.Context(), chi.URLParam(r, "id"), userID, req.Content, req.SenderLang)
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, msg)
}
