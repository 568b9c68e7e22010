package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"unitalk/internal/httputil"
	"unitalk/internal/service"
	"unitalk/internal/transport/http/middleware"
)

// PresenceReconciler re-aligns a user's online marker with the device directory.
type PresenceReconciler interface {
	Reconcile(ctx context.Context, userID string)
}

type DeviceHandler struct {
	deviceService *service.DeviceService
	presence      PresenceReconciler
	logger        *zap.Logger
}

func NewDeviceHandler(deviceService *service.DeviceService, presence PresenceReconciler, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		presence:      presence,
		logger:        logger.Named("device_handler"),
	}
}

// List handles GET /devices
// Returns every registered device slot of the authenticated user.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	devices, err := h.deviceService.List(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// Remove handles DELETE /devices/{id}
func (h *DeviceHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.deviceService.Remove(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		httputil.WriteServiceError(w, err, h.logger)
		return
	}
	// the removed slot may have been the user's last online device
	h.presence.Reconcile(r.Context(), userID)

	w.WriteHeader(http.StatusNoContent)
}
