package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// TitleMaxRunes bounds the derived title of a new chat.
const TitleMaxRunes = 40

// Part is one content fragment of a turn: either text or a stored image reference.
type Part struct {
	Text     string `json:"text,omitempty"`
	ImageRef string `json:"imageRef,omitempty"`
}

// Turn represents a single message (user or model) in a conversation.
type Turn struct {
	Role  string `json:"role"` // "user" or "model"
	Parts []Part `json:"parts"`
}

// FirstText returns the first text part of the turn, or "" if it has none.
func (t Turn) FirstText() string {
	for _, p := range t.Parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// ImageRefs returns every image reference attached to the turn.
func (t Turn) ImageRefs() []string {
	var refs []string
	for _, p := range t.Parts {
		if p.ImageRef != "" {
			refs = append(refs, p.ImageRef)
		}
	}
	return refs
}

type Chat struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"userId"`
	History   []Turn    `json:"history"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ImageRefs collects the image references of the whole history in order.
func (c *Chat) ImageRefs() []string {
	var refs []string
	for _, t := range c.History {
		refs = append(refs, t.ImageRefs()...)
	}
	return refs
}

// ChatSummary is one entry of an owner's chat index.
type ChatSummary struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`

	// Dangling marks an index entry whose chat no longer exists.
	Dangling bool `json:"-"`
}

type CreateChatRequest struct {
	Text string `json:"text"`
}

type CreateChatResponse struct {
	ChatID uuid.UUID `json:"chatId"`
}

// UpdateChatRequest is the body of PUT /chats/{id}. A body carrying Answer
// appends a turn; otherwise it renames the chat.
type UpdateChatRequest struct {
	NewTitle *string `json:"newTitle,omitempty"`
	Question *string `json:"question,omitempty"`
	Answer   *string `json:"answer,omitempty"`
	Img      *string `json:"img,omitempty"`
}

// AppendTurnRequest is the persistence payload of a completed turn.
type AppendTurnRequest struct {
	Question *string `json:"question,omitempty"`
	Answer   string  `json:"answer"`
	Img      *string `json:"img,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// TitleFromText derives a chat title from the first user message.
func TitleFromText(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxRunes])
}
