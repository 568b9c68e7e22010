package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unitalk/internal/metrics"
	"unitalk/internal/model"
	"unitalk/internal/repository"
)

// ReceiptService marks messages read and tells their senders and the
// reader's other devices.
type ReceiptService struct {
	messages      repository.MessageRepository
	conversations *ConversationService
	broadcaster   Broadcaster
	metrics       *metrics.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

func NewReceiptService(messages repository.MessageRepository, conversations *ConversationService, broadcaster Broadcaster, m *metrics.Metrics, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{
		messages:      messages,
		conversations: conversations,
		broadcaster:   broadcaster,
		metrics:       m,
		logger:        logger.Named("receipt"),
		now:           time.Now,
	}
}

// MarkRead marks the eligible messages among messageIDs as read by readerID.
// A message is eligible when readerID participates in its conversation and
// did not send it. Only messages that were unread are returned and announced;
// repeating a call is a no-op.
func (s *ReceiptService) MarkRead(ctx context.Context, messageIDs []string, readerID, originHandle string) ([]model.ReadMark, error) {
	ids := dedupe(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	msgs, err := s.messages.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	participant := make(map[string]bool)
	eligible := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == readerID || m.ReadAt != nil {
			continue
		}
		ok, seen := participant[m.ConversationID]
		if !seen {
			ok, err = s.conversations.IsParticipant(ctx, m.ConversationID, readerID)
			if err != nil && !model.IsNotFound(err) {
				return nil, err
			}
			participant[m.ConversationID] = ok
		}
		if ok {
			eligible = append(eligible, m.ID)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	readAt := s.now().UTC()
	marks, err := s.messages.MarkRead(ctx, eligible, readAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	if len(marks) == 0 {
		return nil, nil
	}
	s.metrics.MessagesRead(len(marks))

	bySender := make(map[string][]string)
	var senders []string
	all := make([]string, 0, len(marks))
	for _, mark := range marks {
		if _, ok := bySender[mark.SenderID]; !ok {
			senders = append(senders, mark.SenderID)
		}
		bySender[mark.SenderID] = append(bySender[mark.SenderID], mark.MessageID)
		all = append(all, mark.MessageID)
	}

	for _, senderID := range senders {
		s.emit(ctx, model.EventMessagesRead, senderID, "", model.MessagesReadPayload{
			MessageIDs: bySender[senderID],
			ReadBy:     readerID,
			ReadAt:     readAt,
		})
	}
	s.emit(ctx, model.EventMessagesReadSync, readerID, originHandle, model.MessagesReadPayload{
		MessageIDs: all,
		ReadBy:     readerID,
		ReadAt:     readAt,
	})

	s.logger.Debug("MarkRead OK", zap.String("reader", readerID), zap.Int("read", len(marks)), zap.Int("senders", len(senders)))
	return marks, nil
}

func (s *ReceiptService) emit(ctx context.Context, eventType, userID, exclude string, payload model.MessagesReadPayload) {
	ev, err := model.NewEvent(eventType, payload)
	if err != nil {
		s.logger.Error("Build event FAILED", zap.String("event", eventType), zap.Error(err))
		return
	}
	s.broadcaster.BroadcastToUser(ctx, userID, ev, exclude)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
