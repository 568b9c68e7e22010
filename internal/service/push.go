package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"unitalk/internal/metrics"
	"unitalk/internal/model"
)

// PushSender delivers or enqueues one push notification.
type PushSender interface {
	Send(ctx context.Context, n model.PushNotification) error
}

// Push providers
const (
	ProviderFCM  = "fcm"
	ProviderExpo = "expo"
)

// PushRouter sends Expo tokens through Expo and every other token through FCM.
// A nil provider client turns its tokens into logged skips.
type PushRouter struct {
	fcm     PushSender
	expo    PushSender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPushRouter(fcm, expo PushSender, m *metrics.Metrics, logger *zap.Logger) *PushRouter {
	return &PushRouter{
		fcm:     fcm,
		expo:    expo,
		metrics: m,
		logger:  logger.Named("push"),
	}
}

func (r *PushRouter) Send(ctx context.Context, n model.PushNotification) error {
	provider, client := ProviderFCM, r.fcm
	if IsExpoToken(n.Token) {
		provider, client = ProviderExpo, r.expo
	}

	if client == nil {
		r.metrics.Push(provider, metrics.OutcomeSkip)
		r.logger.Debug("Push skipped: provider not configured", zap.String("provider", provider))
		return nil
	}

	if err := client.Send(ctx, n); err != nil {
		r.metrics.Push(provider, metrics.OutcomeFailed)
		return fmt.Errorf("%s push: %w", provider, err)
	}
	r.metrics.Push(provider, metrics.OutcomeOK)
	return nil
}

// PushTokenSource lists the push tokens a user can be reached at.
type PushTokenSource interface {
	PushTokens(ctx context.Context, userID string) ([]string, error)
}

// PushService notifies users on every device they registered for push.
type PushService struct {
	tokens PushTokenSource
	sender PushSender
	logger *zap.Logger
}

func NewPushService(tokens PushTokenSource, sender PushSender, logger *zap.Logger) *PushService {
	return &PushService{
		tokens: tokens,
		sender: sender,
		logger: logger.Named("push"),
	}
}

// NotifyUser sends one notification per token of userID. It returns the
// number of tokens the notification was handed to.
func (s *PushService) NotifyUser(ctx context.Context, userID, title, body string, data map[string]string) (int, error) {
	tokens, err := s.tokens.PushTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get push tokens: %w", err)
	}

	sent := 0
	var firstErr error
	for _, token := range tokens {
		err := s.sender.Send(ctx, model.PushNotification{
			Token: token,
			Title: title,
			Body:  body,
			Data:  data,
		})
		if err != nil {
			s.logger.Warn("NotifyUser send FAILED", zap.String("user", userID), zap.String("token", tokenPrefix(token)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}

	if sent == 0 && firstErr != nil {
		return 0, firstErr
	}
	s.logger.Debug("NotifyUser OK", zap.String("user", userID), zap.Int("tokens", sent))
	return sent, nil
}
