package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"promptly-backend/internal/middleware"
	"promptly-backend/internal/models"
	"promptly-backend/internal/storage"
)

type assetRepository interface {
	Create(ctx context.Context, a *models.Asset) error
}

type UploadHandler struct {
	store     storage.AssetStore
	assetRepo assetRepository
	maxBytes  int64
	logger    *slog.Logger
}

func NewUploadHandler(store storage.AssetStore, assetRepo assetRepository, maxUploadMB int) *UploadHandler {
	return &UploadHandler{
		store:     store,
		assetRepo: assetRepo,
		maxBytes:  int64(maxUploadMB) * 1024 * 1024,
		logger:    slog.Default().With("component", "upload_handler"),
	}
}

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Upload stores one image for the caller and returns the path to reference it
// by when persisting a turn.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Check content length
	if r.ContentLength > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", fmt.Sprintf("File size exceeds %dMB limit", h.maxBytes>>20), r))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", fmt.Sprintf("File size exceeds %dMB limit", h.maxBytes>>20), r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	// Read first 512 bytes for magic byte check
	buf := make([]byte, 512)
	n, _ := io.ReadFull(file, buf)
	buf = buf[:n]

	mimeType := http.DetectContentType(buf)
	ext, ok := imageExtensions[mimeType]
	if !ok {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "Only PNG, JPEG, GIF and WebP images are supported", r))
		return
	}

	// Reset file reader
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read upload", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	asset := &models.Asset{
		UserID:   userID,
		Path:     "users/" + safeSegment(userID) + "/uploads/" + uuid.NewString() + ext,
		MimeType: mimeType,
	}

	counter := &countingReader{r: file}
	if err := h.store.Put(r.Context(), asset.Path, mimeType, counter); err != nil {
		h.logger.Error("failed to store upload", "owner", userID, "path", asset.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", "Failed to store file", r))
		return
	}
	asset.SizeBytes = counter.n

	if err := h.assetRepo.Create(r.Context(), asset); err != nil {
		h.logger.Error("failed to record upload", "owner", userID, "path", asset.Path, "error", err)
		_ = h.store.Delete(context.WithoutCancel(r.Context()), asset.Path)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record file", r))
		return
	}

	writeJSON(w, http.StatusCreated, models.UploadResponse{
		AssetID:  asset.ID,
		FilePath: asset.Path,
		MimeType: mimeType,
	})
}

// safeSegment keeps an owner id usable as one path segment.
func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
