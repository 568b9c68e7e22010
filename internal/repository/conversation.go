package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"unitalk/internal/model"
)

const conversationColumns = `id, user1_id, user2_id, group_id, last_message_at, created_at`

type conversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if !isUUID(id) {
		return nil, model.ErrConversationNotFound
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetDirect expects the pair in canonical order.
func (r *conversationRepository) GetDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE user1_id = $1 AND user2_id = $2`
	return r.getOne(ctx, query, user1ID, user2ID)
}

func (r *conversationRepository) GetByGroupID(ctx context.Context, groupID string) (*model.Conversation, error) {
	if !isUUID(groupID) {
		return nil, model.ErrConversationNotFound
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE group_id = $1`
	return r.getOne(ctx, query, groupID)
}

func (r *conversationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

// CreateDirect inserts the canonical pair. When a concurrent caller won the
// race the insert returns no row and model.ErrConflict is reported.
func (r *conversationRepository) CreateDirect(ctx context.Context, user1ID, user2ID string) (*model.Conversation, error) {
	query := `
		INSERT INTO conversations (user1_id, user2_id)
		VALUES ($1, $2)
		ON CONFLICT (user1_id, user2_id) DO NOTHING
		RETURNING ` + conversationColumns
	return r.insert(ctx, query, user1ID, user2ID)
}

func (r *conversationRepository) CreateForGroup(ctx context.Context, groupID string) (*model.Conversation, error) {
	query := `
		INSERT INTO conversations (group_id)
		VALUES ($1)
		ON CONFLICT (group_id) DO NOTHING
		RETURNING ` + conversationColumns
	return r.insert(ctx, query, groupID)
}

func (r *conversationRepository) insert(ctx context.Context, query string, args ...interface{}) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &c, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		   OR group_id IN (SELECT group_id FROM group_members WHERE user_id = $1)
		ORDER BY last_message_at DESC
	`

	var convs []model.Conversation
	if err := r.db.SelectContext(ctx, &convs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch last message: %w", err)
	}
	return nil
}
