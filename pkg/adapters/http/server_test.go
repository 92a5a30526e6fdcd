package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEngine echoes message turns and delivers them through its sender.
type MockEngine struct {
	Sender ports.Sender

	mu       sync.Mutex
	turns    []domain.ConversationTurn
	signOuts []domain.ConversationRef
	conns    []string
}

func (m *MockEngine) ProcessTurn(ctx context.Context, turn domain.ConversationTurn) ([]domain.Activity, error) {
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()

	if turn.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing conversation id", domain.ErrInvalidTurn)
	}
	if turn.Text == "boom" {
		return nil, errors.New("redis: connection refused")
	}
	activities := []domain.Activity{{
		Type:           domain.TurnMessage,
		ConversationID: turn.ConversationID,
		ReplyToID:      turn.ID,
		Text:           "echo: " + turn.Text,
	}}
	if m.Sender != nil {
		if err := m.Sender.Send(ctx, turn.ConversationID, activities); err != nil {
			return activities, err
		}
	}
	return activities, nil
}

func (m *MockEngine) SignOut(ctx context.Context, ref domain.ConversationRef, connection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOuts = append(m.signOuts, ref)
	m.conns = append(m.conns, connection)
	return nil
}

func (m *MockEngine) Dialog() domain.Dialog {
	return domain.Dialog{ID: "RootDialog", Triggers: []domain.TriggerRule{{
		Kind:    domain.TriggerUnknownIntent,
		Actions: []domain.Action{domain.SendMessage{Text: "hi"}},
	}}}
}

func (m *MockEngine) lastTurn() domain.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turns[len(m.turns)-1]
}

func postMessage(t *testing.T, h http.Handler, turn domain.ConversationTurn) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(turn)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostMessage(t *testing.T) {
	eng := &MockEngine{}
	h := NewHandler(eng)

	w := postMessage(t, h, domain.ConversationTurn{
		Type:           domain.TurnMessage,
		ConversationID: "c1",
		From:           domain.ChannelAccount{ID: "u1"},
		Text:           "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Activities, 1)
	assert.Equal(t, "echo: hello", resp.Activities[0].Text)

	turn := eng.lastTurn()
	assert.NotEmpty(t, turn.ID, "turn id is assigned")
	assert.False(t, turn.Timestamp.IsZero(), "timestamp is assigned")
}

func TestPostMessage_SanitizesText(t *testing.T) {
	eng := &MockEngine{}
	h := NewHandler(eng)

	w := postMessage(t, h, domain.ConversationTurn{
		Type:           domain.TurnMessage,
		ConversationID: "c1",
		Text:           "\x1b[31mred\x07",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[31mred", eng.lastTurn().Text)
}

func TestPostMessage_Errors(t *testing.T) {
	h := NewHandler(&MockEngine{}, WithFailureMessage("Sorry, something went wrong."))

	t.Run("Malformed Body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{"))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid Turn", func(t *testing.T) {
		w := postMessage(t, h, domain.ConversationTurn{Type: domain.TurnMessage, Text: "hi"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Oversized Input", func(t *testing.T) {
		w := postMessage(t, h, domain.ConversationTurn{
			Type:           domain.TurnMessage,
			ConversationID: "c1",
			Text:           strings.Repeat("a", 5000),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Internal Failure Hides Details", func(t *testing.T) {
		w := postMessage(t, h, domain.ConversationTurn{
			Type:           domain.TurnMessage,
			ConversationID: "c1",
			From:           domain.ChannelAccount{ID: "u1"},
			Text:           "boom",
		})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "redis")

		var resp MessageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Activities, 1)
		assert.Equal(t, "Sorry, something went wrong.", resp.Activities[0].Text)
		assert.Equal(t, "u1", resp.Activities[0].Recipient.ID)
	})
}

func TestPostSignOut(t *testing.T) {
	eng := &MockEngine{}
	h := NewHandler(eng, WithConnection("GitHub"))

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/c1/signout",
		strings.NewReader(`{"userId":"u1","channelId":"web"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.Len(t, eng.signOuts, 1)
	assert.Equal(t, domain.ConversationRef{ChannelID: "web", ConversationID: "c1", UserID: "u1"}, eng.signOuts[0])
	assert.Equal(t, "GitHub", eng.conns[0])

	req = httptest.NewRequest(http.MethodPost, "/api/conversations/c1/signout", strings.NewReader(`{}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDialogAndHealth(t *testing.T) {
	h := NewHandler(&MockEngine{}, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("parley_turns_total 1\n"))
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dialog", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "id: RootDialog")
	assert.Contains(t, w.Body.String(), "unknownIntent")

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "parley_turns_total")
}

func TestWithRoute(t *testing.T) {
	h := NewHandler(&MockEngine{}, WithRoute("/oauth/callback", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("code " + r.URL.Query().Get("code")))
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "code abc", w.Body.String())
}

func TestStream_DeliversCommittedActivities(t *testing.T) {
	streams := NewStreamManager(nil)
	eng := &MockEngine{Sender: streams}
	srv := httptest.NewServer(NewHandler(eng, WithStreams(streams)))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/conversations/c1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return streams.Subscribers("c1") == 1 },
		time.Second, 10*time.Millisecond)

	body, _ := json.Marshal(domain.ConversationTurn{Type: domain.TurnMessage, ConversationID: "c1", Text: "ping"})
	resp, err := http.Post(srv.URL+"/api/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var activity domain.Activity
	require.NoError(t, json.Unmarshal(msg, &activity))
	assert.Equal(t, "echo: ping", activity.Text)
	assert.Equal(t, "c1", activity.ConversationID)
}

func TestStreamManager_OtherConversationsUnaffected(t *testing.T) {
	sm := NewStreamManager(nil)
	ch, cancel := sm.Subscribe("a")
	defer cancel()

	require.NoError(t, sm.Send(context.Background(), "b", []domain.Activity{{Text: "for b"}}))
	require.NoError(t, sm.Send(context.Background(), "a", []domain.Activity{{Text: "one"}, {Text: "two"}}))

	var got []string
	for range 2 {
		var a domain.Activity
		require.NoError(t, json.Unmarshal(<-ch, &a))
		got = append(got, a.Text)
	}
	assert.Equal(t, []string{"one", "two"}, got)

	cancel()
	cancel()
	assert.Zero(t, sm.Subscribers("a"))
}
