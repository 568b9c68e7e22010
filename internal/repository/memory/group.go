package memory

import (
	"context"

	"unitalk/internal/model"
	"unitalk/internal/repository"
)

type groupRepository struct{ s *Store }

func NewGroupRepository(s *Store) repository.GroupRepository {
	return &groupRepository{s: s}
}

func (r *groupRepository) Exists(ctx context.Context, groupID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.groups[groupID], nil
}

func (r *groupRepository) GetMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	members := make([]model.GroupMember, 0, len(r.s.members[groupID]))
	for _, m := range r.s.members[groupID] {
		if u, ok := r.s.users[m.UserID]; ok {
			lang := u.LanguageCode
			m.LanguageCode = &lang
		}
		members = append(members, m)
	}
	return members, nil
}

func (r *groupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, m := range r.s.members[groupID] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}
