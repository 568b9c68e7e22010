package memory

import (
	"context"
	"sort"
	"time"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

type conversationRepository struct{ s *Store }

func NewConversationRepository(s *Store) repository.ConversationRepository {
	return &conversationRepository{s: s}
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	c, ok := r.s.conversations[id]
	if !ok {
		return nil, model.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *conversationRepository) GetDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if c := r.findDirect(user1ID, user2ID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, model.ErrConversationNotFound
}

func (r *conversationRepository) GetByGroupID(ctx context.Context, groupID string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if c := r.findGroup(groupID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, model.ErrConversationNotFound
}

func (r *conversationRepository) findDirect(user1ID, user2ID string) *model.Conversation {
	for _, c := range r.s.conversations {
		if c.User1ID != nil && c.User2ID != nil && *c.User1ID == user1ID && *c.User2ID == user2ID {
			return c
		}
	}
	return nil
}

func (r *conversationRepository) findGroup(groupID string) *model.Conversation {
	for _, c := range r.s.conversations {
		if c.GroupID != nil && *c.GroupID == groupID {
			return c
		}
	}
	return nil
}

func (r *conversationRepository) CreateDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.findDirect(user1ID, user2ID) != nil {
		return nil, model.ErrConflict
	}
	now := r.s.now()
	c := &model.Conversation{
		ID:            newID(),
		User1ID:       cloneString(&user1ID),
		User2ID:       cloneString(&user2ID),
		LastMessageAt: now,
		CreatedAt:     now,
	}
	r.s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *conversationRepository) CreateForGroup(ctx context.Context, groupID string) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.findGroup(groupID) != nil {
		return nil, model.ErrConflict
	}
	now := r.s.now()
	c := &model.Conversation{
		ID:            newID(),
		GroupID:       cloneString(&groupID),
		LastMessageAt: now,
		CreatedAt:     now,
	}
	r.s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	groups := make(map[string]bool)
	for groupID, members := range r.s.members {
		for _, m := range members {
			if m.UserID == userID {
				groups[groupID] = true
			}
		}
	}

	var out []model.Conversation
	for _, c := range r.s.conversations {
		switch {
		case c.GroupID != nil && groups[*c.GroupID]:
		case c.User1ID != nil && *c.User1ID == userID:
		case c.User2ID != nil && *c.User2ID == userID:
		default:
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	return out, nil
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c, ok := r.s.conversations[id]; ok && at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
	return nil
}
