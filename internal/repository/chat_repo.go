package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
)

// ChatRepo is the conversation store: one row per chat holding its full
// history as a JSONB array of turns.
type ChatRepo struct {
	db DBTX
}

func NewChatRepo(db DBTX) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) Create(ctx context.Context, c *models.Chat) error {
	c.ID = uuid.New()
	historyBytes, err := json.Marshal(c.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	query := `INSERT INTO chats (id, user_id, history)
		VALUES ($1, $2, $3) RETURNING created_at, updated_at`

	return r.db.QueryRow(ctx, query, c.ID, c.UserID, historyBytes).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *ChatRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c := &models.Chat{}
	var historyBytes []byte
	query := `SELECT id, user_id, history, created_at, updated_at FROM chats WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.UserID, &historyBytes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(historyBytes, &c.History); err != nil {
		return nil, fmt.Errorf("failed to decode history of chat %s: %w", id, err)
	}
	return c, nil
}

// AppendTurns concatenates turns onto the stored history in a single
// statement, so concurrent appends never drop or reorder existing turns.
func (r *ChatRepo) AppendTurns(ctx context.Context, id uuid.UUID, userID string, turns []models.Turn) (*models.Chat, error) {
	turnBytes, err := json.Marshal(turns)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turns: %w", err)
	}

	c := &models.Chat{}
	var historyBytes []byte
	query := `UPDATE chats SET history = history || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, history, created_at, updated_at`

	err = r.db.QueryRow(ctx, query, id, userID, turnBytes).Scan(
		&c.ID, &c.UserID, &historyBytes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(historyBytes, &c.History); err != nil {
		return nil, fmt.Errorf("failed to decode history of chat %s: %w", id, err)
	}
	return c, nil
}

// Delete removes the chat if it exists and belongs to userID. Deleting an
// absent chat is not an error.
func (r *ChatRepo) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM chats WHERE id = $1 AND user_id = $2", id, userID)
	return err
}

// ReferencesImage reports whether any of the owner's chats still carries
// path as an image part.
func (r *ChatRepo) ReferencesImage(ctx context.Context, userID, path string) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM chats
		WHERE user_id = $1
		  AND history @> jsonb_build_array(jsonb_build_object('parts', jsonb_build_array(jsonb_build_object('imageRef', $2::text))))
	)`

	var exists bool
	err := r.db.QueryRow(ctx, query, userID, path).Scan(&exists)
	return exists, err
}
