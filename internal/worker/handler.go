package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/model"
	"unitalk/internal/queue"
)

// Deliverer sends a notification to the provider that owns its token.
type Deliverer interface {
	Send(ctx context.Context, n model.PushNotification) error
}

// Handler processes push events from the queue.
type Handler struct {
	deliverer Deliverer
	logger    *zap.Logger
}

// NewHandler creates a new event handler.
func NewHandler(deliverer Deliverer, logger *zap.Logger) *Handler {
	return &Handler{
		deliverer: deliverer,
		logger:    logger.Named("worker"),
	}
}

// HandleEvent routes an event to the appropriate handler based on type.
func (h *Handler) HandleEvent(ctx context.Context, event queue.PushEvent) error {
	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventPushRequested:
		err = h.handlePushRequested(ctx, event)
	default:
		h.logger.Warn("Unknown event type", zap.String("type", event.Type))
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	if err != nil {
		h.logger.Warn("HandleEvent FAILED",
			zap.String("type", event.Type), zap.Duration("duration", time.Since(startTime)), zap.Error(err))
		return err
	}

	h.logger.Debug("HandleEvent OK", zap.String("type", event.Type), zap.Duration("duration", time.Since(startTime)))
	return nil
}

func (h *Handler) handlePushRequested(ctx context.Context, event queue.PushEvent) error {
	if event.Notification.Token == "" {
		return nil
	}
	if err := h.deliverer.Send(ctx, event.Notification); err != nil {
		return fmt.Errorf("deliver push: %w", err)
	}
	return nil
}
