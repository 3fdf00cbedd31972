// Package client talks to the promptly chat API and keeps a per-chat view
// cache that the turn orchestrator invalidates after each persisted turn.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptly-backend/internal/models"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu    sync.Mutex
	views map[uuid.UUID]*models.Chat
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		views:   make(map[uuid.UUID]*models.Chat),
	}
}

func (c *Client) CreateChat(ctx context.Context, text string) (uuid.UUID, error) {
	var resp models.CreateChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chats", models.CreateChatRequest{Text: text}, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ChatID, nil
}

func (c *Client) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	if err := c.do(ctx, http.MethodGet, "/api/userchats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat returns the cached view of a chat, fetching it on a miss.
func (c *Client) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	c.mu.Lock()
	chat, ok := c.views[id]
	c.mu.Unlock()
	if ok {
		return chat, nil
	}

	chat = &models.Chat{}
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+id.String(), nil, chat); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.views[id] = chat
	c.mu.Unlock()
	return chat, nil
}

// AppendTurn persists a completed turn and returns the updated chat.
func (c *Client) AppendTurn(ctx context.Context, id uuid.UUID, req models.AppendTurnRequest) (*models.Chat, error) {
	body := models.UpdateChatRequest{Question: req.Question, Answer: &req.Answer, Img: req.Img}
	chat := &models.Chat{}
	if err := c.do(ctx, http.MethodPut, "/api/chats/"+id.String(), body, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (c *Client) RenameChat(ctx context.Context, id uuid.UUID, title string) error {
	return c.do(ctx, http.MethodPut, "/api/chats/"+id.String(), models.UpdateChatRequest{NewTitle: &title}, nil)
}

func (c *Client) DeleteChat(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/api/chats/"+id.String(), nil, nil); err != nil {
		return err
	}
	c.Invalidate(id)
	return nil
}

// Upload stores an image and returns the reference to persist with a turn.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (*models.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp models.UploadResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invalidate drops the cached view of a chat.
func (c *Client) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	delete(c.views, id)
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		var errResp models.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Message = errResp.Error.Message
			apiErr.Fields = errResp.Error.Fields
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
