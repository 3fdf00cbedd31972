package repository

import (
	"context"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
)

type AssetRepo struct {
	db DBTX
}

func NewAssetRepo(db DBTX) *AssetRepo {
	return &AssetRepo{db: db}
}

func (r *AssetRepo) Create(ctx context.Context, a *models.Asset) error {
	a.ID = uuid.New()

	query := `INSERT INTO assets (id, user_id, path, mime_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.db.QueryRow(ctx, query, a.ID, a.UserID, a.Path, a.MimeType, a.SizeBytes).Scan(&a.CreatedAt)
}

func (r *AssetRepo) GetByPath(ctx context.Context, path string) (*models.Asset, error) {
	a := &models.Asset{}
	query := `SELECT id, user_id, path, mime_type, size_bytes, created_at FROM assets WHERE path = $1`

	err := r.db.QueryRow(ctx, query, path).Scan(&a.ID, &a.UserID, &a.Path, &a.MimeType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *AssetRepo) DeleteByPath(ctx context.Context, userID, path string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM assets WHERE user_id = $1 AND path = $2", userID, path)
	return err
}
