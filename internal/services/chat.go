package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
	"promptly-backend/internal/repository"
)

// ChatStore is the conversation store: full histories keyed by chat id.
type ChatStore interface {
	Create(ctx context.Context, c *models.Chat) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	AppendTurns(ctx context.Context, id uuid.UUID, userID string, turns []models.Turn) (*models.Chat, error)
	Delete(ctx context.Context, id uuid.UUID, userID string) error
}

// ChatIndex is the per-owner ordered list of chat summaries.
type ChatIndex interface {
	AddEntry(ctx context.Context, userID string, chatID uuid.UUID, title string) error
	ListEntries(ctx context.Context, userID string) ([]models.ChatSummary, error)
	RemoveEntry(ctx context.Context, userID string, chatID uuid.UUID) error
	RenameEntry(ctx context.Context, userID string, chatID uuid.UUID, title string) (bool, error)
}

// ChatRepos groups the store and the index so that writes touching both can
// share one transaction.
type ChatRepos interface {
	Chats() ChatStore
	Index() ChatIndex
	InTx(ctx context.Context, fn func(tx ChatRepos) error) error
}

type AssetLookup interface {
	GetByPath(ctx context.Context, path string) (*models.Asset, error)
}

// ChatCache is a read-through cache. On a miss Get hands out a token; Fill
// with that token is dropped if the chat was invalidated in the meantime.
type ChatCache interface {
	Get(ctx context.Context, id uuid.UUID) (chat *models.Chat, token int64, ok bool)
	Fill(ctx context.Context, chat *models.Chat, token int64)
	Invalidate(ctx context.Context, id uuid.UUID)
}

type EventPublisher interface {
	PublishUpdate(ctx context.Context, userID string, msg models.WSMessage)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *models.Job) error
}

// ChatService is the access and persistence gateway over the chat store and
// index. Every method takes the verified owner id of the caller.
type ChatService struct {
	repos  ChatRepos
	assets AssetLookup
	cache  ChatCache
	events EventPublisher
	jobs   JobEnqueuer
	logger *slog.Logger
}

// NewChatService wires the gateway. cache, events and jobs may be nil.
func NewChatService(repos ChatRepos, assets AssetLookup, cache ChatCache, events EventPublisher, jobs JobEnqueuer) *ChatService {
	return &ChatService{
		repos:  repos,
		assets: assets,
		cache:  cache,
		events: events,
		jobs:   jobs,
		logger: slog.Default().With("component", "chat_service"),
	}
}

func requireOwner(userID string) error {
	if userID == "" {
		return &UnauthorizedError{Message: "Unauthorized"}
	}
	return nil
}

// Create stores a new chat seeded with the user's first message and appends
// it to the owner's index, both in one transaction.
func (s *ChatService) Create(ctx context.Context, userID, text string) (uuid.UUID, error) {
	if err := requireOwner(userID); err != nil {
		return uuid.Nil, err
	}
	if strings.TrimSpace(text) == "" {
		return uuid.Nil, validationError("text", "Text is required")
	}

	chat := &models.Chat{
		UserID:  userID,
		History: []models.Turn{{Role: models.RoleUser, Parts: []models.Part{{Text: text}}}},
	}

	err := s.repos.InTx(ctx, func(tx ChatRepos) error {
		if err := tx.Chats().Create(ctx, chat); err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		if err := tx.Index().AddEntry(ctx, userID, chat.ID, models.TitleFromText(text)); err != nil {
			return fmt.Errorf("add index entry: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to create chat", "op", "create", "owner", userID, "error", err)
		return uuid.Nil, err
	}

	s.publish(ctx, userID, chat.ID, "created")
	return chat.ID, nil
}

// List returns the owner's summaries in insertion order. Entries whose chat is
// gone are hidden and scheduled for pruning.
func (s *ChatService) List(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	if err := requireOwner(userID); err != nil {
		return nil, err
	}

	entries, err := s.repos.Index().ListEntries(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list chats", "op", "list", "owner", userID, "error", err)
		return nil, err
	}

	visible := make([]models.ChatSummary, 0, len(entries))
	dangling := 0
	for _, e := range entries {
		if e.Dangling {
			dangling++
			continue
		}
		visible = append(visible, e)
	}

	if dangling > 0 {
		s.logger.Warn("index has dangling entries", "op", "list", "owner", userID, "count", dangling)
		s.enqueue(ctx, &models.Job{UserID: userID, Type: models.JobTypeIndexPrune})
	}

	return visible, nil
}

func (s *ChatService) Get(ctx context.Context, id uuid.UUID, userID string) (*models.Chat, error) {
	if err := requireOwner(userID); err != nil {
		return nil, err
	}

	chat, token, ok := s.cachedChat(ctx, id)
	if !ok {
		var err error
		chat, err = s.repos.Chats().GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Message: "Chat not found"}
		}
		if err != nil {
			s.logger.Error("failed to load chat", "op", "get", "owner", userID, "chat_id", id, "error", err)
			return nil, err
		}
		if s.cache != nil {
			s.cache.Fill(ctx, chat, token)
		}
	}

	if chat.UserID != userID {
		return nil, &ForbiddenError{Message: "Access denied"}
	}
	return chat, nil
}

// AppendTurn persists a completed turn: an optional user turn (with the
// optional image attached) followed by the model's answer.
func (s *ChatService) AppendTurn(ctx context.Context, id uuid.UUID, userID string, req models.AppendTurnRequest) (*models.Chat, error) {
	if err := requireOwner(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Answer) == "" {
		return nil, validationError("answer", "Answer is required")
	}

	question := ""
	if req.Question != nil {
		question = *req.Question
	}
	img := ""
	if req.Img != nil {
		img = *req.Img
	}
	if img != "" && strings.TrimSpace(question) == "" {
		return nil, validationError("img", "An image needs a question to attach to")
	}
	if img != "" {
		if err := s.checkAsset(ctx, userID, img); err != nil {
			return nil, err
		}
	}

	var turns []models.Turn
	if strings.TrimSpace(question) != "" {
		parts := []models.Part{{Text: question}}
		if img != "" {
			parts = append(parts, models.Part{ImageRef: img})
		}
		turns = append(turns, models.Turn{Role: models.RoleUser, Parts: parts})
	}
	turns = append(turns, models.Turn{Role: models.RoleModel, Parts: []models.Part{{Text: req.Answer}}})

	chat, err := s.repos.Chats().AppendTurns(ctx, id, userID, turns)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: "Chat not found"}
	}
	if err != nil {
		s.logger.Error("failed to append turn", "op", "append", "owner", userID, "chat_id", id, "error", err)
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	s.publish(ctx, userID, id, "appended")
	return chat, nil
}

func (s *ChatService) Rename(ctx context.Context, id uuid.UUID, userID, newTitle string) error {
	if err := requireOwner(userID); err != nil {
		return err
	}
	if strings.TrimSpace(newTitle) == "" {
		return validationError("newTitle", "New title is required")
	}

	ok, err := s.repos.Index().RenameEntry(ctx, userID, id, newTitle)
	if err != nil {
		s.logger.Error("failed to rename chat", "op", "rename", "owner", userID, "chat_id", id, "error", err)
		return err
	}
	if !ok {
		return &NotFoundError{Message: "Chat not found"}
	}

	s.publish(ctx, userID, id, "renamed")
	return nil
}

// Delete removes the chat and its index entry together. Deleting a chat that
// is already gone succeeds.
func (s *ChatService) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	if err := requireOwner(userID); err != nil {
		return err
	}

	var imagePaths []string
	existing, err := s.repos.Chats().GetByID(ctx, id)
	switch {
	case err == nil && existing.UserID == userID:
		imagePaths = existing.ImageRefs()
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		s.logger.Error("failed to load chat before delete", "op", "delete", "owner", userID, "chat_id", id, "error", err)
		return err
	}

	err = s.repos.InTx(ctx, func(tx ChatRepos) error {
		if err := tx.Chats().Delete(ctx, id, userID); err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		if err := tx.Index().RemoveEntry(ctx, userID, id); err != nil {
			return fmt.Errorf("remove index entry: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to delete chat", "op", "delete", "owner", userID, "chat_id", id, "error", err)
		return err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx, id)
	}
	s.publish(ctx, userID, id, "deleted")

	if len(imagePaths) > 0 {
		cfg, _ := json.Marshal(models.AssetCleanupConfig{Paths: imagePaths})
		s.enqueue(ctx, &models.Job{UserID: userID, Type: models.JobTypeAssetCleanup, ReferenceID: &id, ConfigJSON: cfg})
	}
	return nil
}

func (s *ChatService) checkAsset(ctx context.Context, userID, path string) error {
	if s.assets == nil {
		return nil
	}
	asset, err := s.assets.GetByPath(ctx, path)
	if errors.Is(err, repository.ErrNotFound) {
		return validationError("img", "Unknown image reference")
	}
	if err != nil {
		return err
	}
	if asset.UserID != userID {
		return &ForbiddenError{Message: "Image belongs to another user"}
	}
	return nil
}

func (s *ChatService) cachedChat(ctx context.Context, id uuid.UUID) (*models.Chat, int64, bool) {
	if s.cache == nil {
		return nil, -1, false
	}
	return s.cache.Get(ctx, id)
}

func (s *ChatService) publish(ctx context.Context, userID string, id uuid.UUID, action string) {
	if s.events == nil {
		return
	}
	s.events.PublishUpdate(ctx, userID, models.WSMessage{
		Type:    "chat_updated",
		Payload: models.ChatEvent{ChatID: id, Action: action},
	})
}

func (s *ChatService) enqueue(ctx context.Context, job *models.Job) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue maintenance job", "type", job.Type, "owner", job.UserID, "error", err)
	}
}
