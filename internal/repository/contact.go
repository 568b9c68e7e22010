package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type contactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepository{db: db}
}

func (r *contactRepository) GetContactIDs(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT contact_user_id FROM contacts WHERE user_id = $1`

	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get contact ids: %w", err)
	}
	return ids, nil
}
