package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"unitalk/internal/httputil"
	"unitalk/internal/model"
	"unitalk/internal/service"
	"unitalk/internal/transport/http/middleware"
)

type MessageHandler struct {
	receiptService *service.ReceiptService
	logger         *zap.Logger
}

func NewMessageHandler(receiptService *service.ReceiptService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{
		receiptService: receiptService,
		logger:         logger.Named("message_handler"),
	}
}

// MarkRead handles POST /messages/read
// Marks the given messages read by the caller and notifies their senders.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	marks, err := h.receiptService.MarkRead(r.Context(), req.MessageIDs, userID, "")
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	ids := make([]string, 0, len(marks))
	for _, m := range marks {
		ids = append(ids, m.MessageID)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"marked": ids})
}
