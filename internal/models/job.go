package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeIndexPrune   = "index-prune"
	JobTypeAssetCleanup = "asset-cleanup"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"` // "index-prune" | "asset-cleanup"
	ReferenceID  *uuid.UUID      `json:"reference_id"`
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"` // "pending" | "processing" | "completed" | "failed"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// AssetCleanupConfig is the ConfigJSON of an asset-cleanup job.
type AssetCleanupConfig struct {
	Paths []string `json:"paths"`
}

// UserUpdatesChannel is the pub/sub channel carrying one owner's WSMessages.
func UserUpdatesChannel(userID string) string {
	return "user_updates:" + userID
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ChatEvent tells connected clients that a cached view of a chat is stale.
type ChatEvent struct {
	ChatID uuid.UUID `json:"chat_id"`
	Action string    `json:"action"` // "created" | "appended" | "renamed" | "deleted"
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
