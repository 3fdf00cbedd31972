package repository

import (
	"context"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
)

// ChatIndexRepo keeps each owner's ordered list of chat summaries, separate
// from the full histories so listing stays cheap.
type ChatIndexRepo struct {
	db DBTX
}

func NewChatIndexRepo(db DBTX) *ChatIndexRepo {
	return &ChatIndexRepo{db: db}
}

// AddEntry appends {chatID, title} to userID's index. Re-adding an existing
// entry is a no-op and keeps its original position.
func (r *ChatIndexRepo) AddEntry(ctx context.Context, userID string, chatID uuid.UUID, title string) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_chats (user_id, chat_id, title)
		VALUES ($1, $2, $3) ON CONFLICT (user_id, chat_id) DO NOTHING`,
		userID, chatID, title,
	)
	return err
}

// ListEntries returns the owner's entries in insertion order. Entries whose
// chat row is gone are returned with Dangling set.
func (r *ChatIndexRepo) ListEntries(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rows, err := r.db.Query(ctx, `SELECT e.chat_id, e.title, c.id IS NULL
		FROM user_chats e
		LEFT JOIN chats c ON c.id = e.chat_id AND c.user_id = e.user_id
		WHERE e.user_id = $1
		ORDER BY e.seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.ChatSummary{}
	for rows.Next() {
		var s models.ChatSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Dangling); err != nil {
			return nil, err
		}
		entries = append(entries, s)
	}
	return entries, rows.Err()
}

func (r *ChatIndexRepo) RemoveEntry(ctx context.Context, userID string, chatID uuid.UUID) error {
	_, err := r.db.Exec(ctx, "DELETE FROM user_chats WHERE user_id = $1 AND chat_id = $2", userID, chatID)
	return err
}

// RenameEntry updates the title in place. It reports false when no entry
// matches (userID, chatID).
func (r *ChatIndexRepo) RenameEntry(ctx context.Context, userID string, chatID uuid.UUID, title string) (bool, error) {
	tag, err := r.db.Exec(ctx, "UPDATE user_chats SET title = $1 WHERE user_id = $2 AND chat_id = $3",
		title, userID, chatID,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// PruneDangling removes the owner's entries that point at missing chats.
func (r *ChatIndexRepo) PruneDangling(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_chats e
		WHERE e.user_id = $1
		  AND NOT EXISTS (SELECT 1 FROM chats c WHERE c.id = e.chat_id AND c.user_id = e.user_id)`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
