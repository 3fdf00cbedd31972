package models

import (
	"time"

	"github.com/google/uuid"
)

// Asset records an uploaded image and the owner allowed to reference it.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	Path      string    `json:"filePath"`
	MimeType  string    `json:"mimeType"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

type UploadResponse struct {
	AssetID  uuid.UUID `json:"assetId"`
	FilePath string    `json:"filePath"`
	MimeType string    `json:"mimeType"`
}
