package memory

import (
	"context"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

type userRepository struct{ s *Store }

func NewUserRepository(s *Store) repository.UserRepository {
	return &userRepository{s: s}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepository) GetSummaries(ctx context.Context, ids []string) (map[string]model.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make(map[string]model.UserSummary, len(ids))
	for _, id := range ids {
		u, ok := r.s.users[id]
		if !ok {
			continue
		}
		result[id] = model.UserSummary{
			ID:              u.ID,
			Name:            cloneString(u.Name),
			ProfileImageURL: cloneString(r.s.profileImages[id]),
			LanguageCode:    u.LanguageCode,
		}
	}
	return result, nil
}

type contactRepository struct{ s *Store }

func NewContactRepository(s *Store) repository.ContactRepository {
	return &contactRepository{s: s}
}

func (r *contactRepository) GetContactIDs(ctx context.Context, userID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]string(nil), r.s.contacts[userID]...), nil
}
