package memory

import (
	"context"
	"time"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

type messageRepository struct{ s *Store }

func NewMessageRepository(s *Store) repository.MessageRepository {
	return &messageRepository{s: s}
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg.ID = newID()
	msg.CreatedAt = r.s.now()
	if msg.TranslatedTexts == nil {
		msg.TranslatedTexts = model.TranslationMap{}
	}
	stored := *msg
	stored.TranslatedTexts = make(model.TranslationMap, len(msg.TranslatedTexts))
	for k, v := range msg.TranslatedTexts {
		stored.TranslatedTexts[k] = v
	}
	r.s.messages[stored.ID] = &stored
	r.s.messageOrder = append(r.s.messageOrder, stored.ID)
	return nil
}

func (r *messageRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.Message
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

// ListByConversation returns newest first, like the SQL implementation.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []model.Message
	skipped := 0
	for i := len(r.s.messageOrder) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.s.messages[r.s.messageOrder[i]]
		if m.ConversationID != conversationID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (r *messageRepository) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, ids []string, at time.Time) ([]model.ReadMark, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var marks []model.ReadMark
	for _, id := range ids {
		m, ok := r.s.messages[id]
		if !ok || m.ReadAt != nil {
			continue
		}
		readAt := at
		m.ReadAt = &readAt
		marks = append(marks, model.ReadMark{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			ReadAt:         at,
		})
	}
	return marks, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.SenderID != userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}
