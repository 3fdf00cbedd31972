package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptly-backend/internal/models"
)

type staticTokens map[string]string

func (s staticTokens) ParseToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestHub_RejectsMissingOrBadToken(t *testing.T) {
	hub := NewHub(nil, staticTokens{"good": "user_a"})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	for _, url := range []string{srv.URL, srv.URL + "?token=bad"} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestHub_DeliversToOwnerOnly(t *testing.T) {
	hub := NewHub(nil, staticTokens{"tok_a": "user_a", "tok_b": "user_b"})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	connA, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=tok_a", nil)
	require.NoError(t, err)
	defer connA.Close()
	connB, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=tok_b", nil)
	require.NoError(t, err)
	defer connB.Close()

	require.Eventually(t, func() bool {
		return hub.ConnectionCount("user_a") == 1 && hub.ConnectionCount("user_b") == 1
	}, 2*time.Second, 10*time.Millisecond)

	chatID := uuid.New()
	data, err := json.Marshal(models.WSMessage{Type: "chat_updated", Payload: models.ChatEvent{ChatID: chatID, Action: "appended"}})
	require.NoError(t, err)
	hub.broadcast("user_a", data)

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type    string           `json:"type"`
		Payload models.ChatEvent `json:"payload"`
	}
	require.NoError(t, connA.ReadJSON(&got))
	assert.Equal(t, "chat_updated", got.Type)
	assert.Equal(t, chatID, got.Payload.ChatID)

	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(nil, staticTokens{"tok_a": "user_a"})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?token=tok_a", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ConnectionCount("user_a") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ConnectionCount("user_a") == 0 }, 2*time.Second, 10*time.Millisecond)
}
