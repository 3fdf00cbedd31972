package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"promptly-backend/internal/middleware"
	"promptly-backend/internal/models"
)

type chatService interface {
	Create(ctx context.Context, userID, text string) (uuid.UUID, error)
	List(ctx context.Context, userID string) ([]models.ChatSummary, error)
	Get(ctx context.Context, id uuid.UUID, userID string) (*models.Chat, error)
	AppendTurn(ctx context.Context, id uuid.UUID, userID string, req models.AppendTurnRequest) (*models.Chat, error)
	Rename(ctx context.Context, id uuid.UUID, userID, newTitle string) error
	Delete(ctx context.Context, id uuid.UUID, userID string) error
}

type ChatHandler struct {
	chatService chatService
}

func NewChatHandler(chatService chatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// chatID parses the {id} URL param. An unparseable id names no chat.
func chatID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	id, err := h.chatService.Create(r.Context(), middleware.GetUserID(r.Context()), req.Text)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.CreateChatResponse{ChatID: id})
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Chat not found", r))
		return
	}

	chat, err := h.chatService.Get(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// Update either appends a completed turn (body has "answer") or renames the
// chat (body has "newTitle").
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return
	}

	if req.Answer == nil && req.NewTitle == nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"newTitle": "New title is required"}, r))
		return
	}

	id, ok := chatID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Chat not found", r))
		return
	}
	userID := middleware.GetUserID(r.Context())

	if req.Answer != nil {
		chat, err := h.chatService.AppendTurn(r.Context(), id, userID, models.AppendTurnRequest{
			Question: req.Question,
			Answer:   *req.Answer,
			Img:      req.Img,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
		return
	}

	if err := h.chatService.Rename(r.Context(), id, userID, *req.NewTitle); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Chat renamed"})
}

// Delete succeeds whether or not the chat still exists.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := chatID(r)
	if ok {
		if err := h.chatService.Delete(r.Context(), id, middleware.GetUserID(r.Context())); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Chat deleted"})
}
