package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"unitalk/internal/model"
)

const messageColumns = `id, conversation_id, sender_id, original_text, original_language, translated_texts,
	sender_language, source_device, is_announcement, read_at, created_at`

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create inserts msg and fills in its generated id and created_at.
func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	query := `
		INSERT INTO messages (conversation_id, sender_id, original_text, original_language, translated_texts,
		                      sender_language, source_device, is_announcement)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	if msg.TranslatedTexts == nil {
		msg.TranslatedTexts = model.TranslationMap{}
	}
	row := r.db.QueryRowxContext(ctx, query,
		msg.ConversationID,
		msg.SenderID,
		msg.OriginalText,
		msg.OriginalLanguage,
		msg.TranslatedTexts,
		msg.SenderLanguage,
		msg.SourceDevice,
		msg.IsAnnouncement,
	)
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Message, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ANY($1::uuid[])`

	var msgs []model.Message
	if err := r.db.SelectContext(ctx, &msgs, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var msgs []model.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepository) CountByConversation(ctx context.Context, conversationID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`
	var total int
	if err := r.db.GetContext(ctx, &total, query, conversationID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, nil
}

// MarkRead only touches rows whose read_at is still NULL, so a repeated call
// returns nothing.
func (r *messageRepository) MarkRead(ctx context.Context, ids []string, at time.Time) ([]model.ReadMark, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		UPDATE messages SET read_at = $2
		WHERE id = ANY($1::uuid[]) AND read_at IS NULL
		RETURNING id, conversation_id, sender_id, read_at
	`

	var marks []model.ReadMark
	if err := r.db.SelectContext(ctx, &marks, query, pq.Array(ids), at); err != nil {
		return nil, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return marks, nil
}

func (r *messageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id != $2 AND read_at IS NULL
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, conversationID, userID); err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}
