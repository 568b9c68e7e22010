package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"unitalk/internal/httputil"
	"unitalk/internal/model"
	"unitalk/internal/service"
	"unitalk/internal/transport/http/middleware"
)

// DeviceHeader names the client device class on HTTP sends.
const DeviceHeader = "X-Device-Type"

type ConversationHandler struct {
	conversationService *service.ConversationService
	messageService      *service.MessageService
	dispatcher          *service.Dispatcher
	logger              *zap.Logger
}

func NewConversationHandler(
	conversationService *service.ConversationService,
	messageService *service.MessageService,
	dispatcher *service.Dispatcher,
	logger *zap.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		messageService:      messageService,
		dispatcher:          dispatcher,
		logger:              logger.Named("conversation_handler"),
	}
}

// List handles GET /conversations
// Returns the user's direct and group conversations, newest first.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	conversations, err := h.conversationService.ListForUser(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversations": conversations})
}

// StartDirect handles POST /conversations/direct
// Returns the existing conversation with user_id or creates it.
func (h *ConversationHandler) StartDirect(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.StartDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	conv, isNew, err := h.conversationService.FindOrCreateDirect(r.Context(), userID, req.UserID)
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

// Messages handles GET /conversations/{id}/messages?limit=&offset=
// Returns history rendered in the caller's language.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		httputil.WriteBadRequest(w, "Invalid offset")
		return
	}

	resp, err := h.messageService.List(r.Context(), chi.URLParam(r, "id"), userID, limit, offset)
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Send handles POST /conversations/{id}/messages
// The response is the stored message; delivery to live devices and push
// happen before it is written.
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	class, err := model.ParseDeviceClass(r.Header.Get(DeviceHeader))
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid device type")
		return
	}

	msg, err := h.dispatcher.Send(r.Context(), service.SendRequest{
		ConversationID: chi.URLParam(r, "id"),
		SenderID:       userID,
		Text:           req.Text,
		SourceLang:     req.SourceLang,
		TempID:         req.TempID,
		SourceDevice:   class,
	})
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, msg)
}

// queryInt returns 0 for a missing parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
