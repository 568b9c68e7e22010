package service

import (
	"context"
	"fmt"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

// MessageService serves conversation history rendered for the viewer.
type MessageService struct {
	messages      repository.MessageRepository
	users         repository.UserRepository
	conversations *ConversationService
}

func NewMessageService(messages repository.MessageRepository, users repository.UserRepository, conversations *ConversationService) *MessageService {
	return &MessageService{
		messages:      messages,
		users:         users,
		conversations: conversations,
	}
}

// List returns a page of history, newest first, with each message translated
// into userID's view language when a translation exists.
func (s *MessageService) List(ctx context.Context, conversationID, userID string, limit, offset int) (*model.MessageListResponse, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrAccessDenied
	}

	viewer, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	lang := CanonicalLanguage(viewer.LanguageCode)

	msgs, err := s.messages.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	total, err := s.messages.CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	items := make([]model.HistoryMessage, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		items = append(items, model.HistoryMessage{
			ID:               m.ID,
			SenderID:         m.SenderID,
			OriginalText:     m.OriginalText,
			OriginalLanguage: m.OriginalLanguage,
			TranslatedText:   m.TextFor(lang),
			IsAnnouncement:   m.IsAnnouncement,
			SourceDevice:     string(m.SourceDevice),
			CreatedAt:        m.CreatedAt,
			ReadAt:           m.ReadAt,
		})
	}

	return &model.MessageListResponse{
		Messages: items,
		Total:    total,
		HasMore:  offset+limit < total,
	}, nil
}
