package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"unitalk/internal/model"
)

type groupRepository struct {
	db *sqlx.DB
}

func NewGroupRepository(db *sqlx.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) Exists(ctx context.Context, groupID string) (bool, error) {
	if !isUUID(groupID) {
		return false, nil
	}
	query := `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, groupID); err != nil {
		return false, fmt.Errorf("failed to check group existence: %w", err)
	}
	return exists, nil
}

func (r *groupRepository) GetMembers(ctx context.Context, groupID string) ([]model.GroupMember, error) {
	if !isUUID(groupID) {
		return nil, nil
	}
	query := `
		SELECT gm.group_id, gm.user_id, gm.role, u.language_code, gm.joined_at
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1
		ORDER BY gm.joined_at ASC
	`

	var members []model.GroupMember
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	return members, nil
}

func (r *groupRepository) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	if !isUUID(groupID) || !isUUID(userID) {
		return false, nil
	}
	query := `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`
	var member bool
	if err := r.db.GetContext(ctx, &member, query, groupID, userID); err != nil {
		return false, fmt.Errorf("failed to check group membership: %w", err)
	}
	return member, nil
}
