package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"pairchat/backend/internal/api/handler"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const secret = "test-secret"

func init() {
	logger.SetLevel(zapcore.ErrorLevel)
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func setup(t *testing.T, s storage.Storage) (*gin.Engine, *chathub.ManagerService) {
	t.Helper()
	hub := chathub.NewManagerService(s, config.DefaultMatchConfig())
	t.Cleanup(func() { hub.Shutdown(context.Background()) })
	r := gin.New()
	handler.NewHandler(hub, s, 50, 16).Routes(r, secret)
	return r, hub
}

func get(t *testing.T, r *gin.Engine, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func seed(t *testing.T, s *storage.MemoryStore, roomID, from, to, content string) *models.Message {
	t.Helper()
	msg := &models.Message{RoomID: roomID, SenderID: from, ReceiverID: to, Content: content}
	require.NoError(t, s.SaveMessage(context.Background(), msg))
	return msg
}

func TestHealth(t *testing.T) {
	r, _ := setup(t, storage.NewMemoryStore())

	w := get(t, r, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r, _ := setup(t, storage.NewMemoryStore())

	for _, path := range []string{"/api/v1/conversations", "/api/v1/unread", "/api/v1/me/state", "/ws"} {
		w := get(t, r, path, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestGetConversations(t *testing.T) {
	s := storage.NewMemoryStore()
	seed(t, s, "alice_bob", "bob", "alice", "hey alice")
	seed(t, s, chathub.NewMatchRoomID(), "carol", "alice", "ephemeral")
	r, _ := setup(t, s)

	w := get(t, r, "/api/v1/conversations", "alice")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Conversations []struct {
			PeerID      string           `json:"peer_id"`
			RoomID      string           `json:"room_id"`
			LastMessage models.ChatEvent `json:"last_message"`
			UnreadCount int64            `json:"unread_count"`
		} `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Conversations, 1)
	assert.Equal(t, "bob", body.Conversations[0].PeerID)
	assert.Equal(t, "hey alice", body.Conversations[0].LastMessage.Content)
	assert.Equal(t, int64(1), body.Conversations[0].UnreadCount)
}

func TestGetMessagesPaging(t *testing.T) {
	s := storage.NewMemoryStore()
	var ids []uint
	for _, c := range []string{"a", "b", "c"} {
		ids = append(ids, seed(t, s, "alice_bob", "alice", "bob", c).ID)
	}
	r, _ := setup(t, s)

	w := get(t, r, "/api/v1/conversations/alice/messages?limit=2", "bob")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RoomID   string             `json:"room_id"`
		Messages []models.ChatEvent `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alice_bob", body.RoomID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "b", body.Messages[0].Content)
	assert.Equal(t, "c", body.Messages[1].Content)

	w = get(t, r, "/api/v1/conversations/alice/messages?before_id="+itoa(ids[1]), "bob")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "a", body.Messages[0].Content)

	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/v1/conversations/alice/messages?before_id=x", "bob").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/v1/conversations/alice/messages?limit=0", "bob").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, r, "/api/v1/conversations/bob/messages", "bob").Code)
}

func TestGetMessagesKeepsPairsApart(t *testing.T) {
	s := storage.NewMemoryStore()
	seed(t, s, chathub.DirectRoomID("alice_smith", "zoe"), "alice_smith", "zoe", "secret for zoe")
	seed(t, s, chathub.DirectRoomID("alice", "smith_zoe"), "alice", "smith_zoe", "hi smith_zoe")
	r, _ := setup(t, s)

	w := get(t, r, "/api/v1/conversations/smith_zoe/messages", "alice")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RoomID   string             `json:"room_id"`
		Messages []models.ChatEvent `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEqual(t, chathub.DirectRoomID("alice_smith", "zoe"), body.RoomID)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "hi smith_zoe", body.Messages[0].Content)

	// a row stored under the pair's room by another sender stays hidden
	seed(t, s, body.RoomID, "mallory", "alice", "planted")
	w = get(t, r, "/api/v1/conversations/smith_zoe/messages", "alice")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Messages, 1)
}

func TestGetUnread(t *testing.T) {
	s := storage.NewMemoryStore()
	seed(t, s, "alice_bob", "alice", "bob", "1")
	seed(t, s, "alice_bob", "alice", "bob", "2")
	r, _ := setup(t, s)

	w := get(t, r, "/api/v1/unread", "bob")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread":2}`, w.Body.String())
}

// failingStore breaks every read used by the REST surface.
type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) CountUnread(context.Context, string) (int64, error) {
	return 0, errors.New("db down")
}

func (failingStore) LoadConversationSummaries(context.Context, string) ([]models.ConversationSummary, error) {
	return nil, errors.New("db down")
}

func TestStorageErrorsMapTo500(t *testing.T) {
	r, _ := setup(t, failingStore{storage.NewMemoryStore()})

	for _, path := range []string{"/api/v1/unread", "/api/v1/conversations"} {
		w := get(t, r, path, "alice")
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestWebSocketFlow(t *testing.T) {
	s := storage.NewMemoryStore()
	r, hub := setup(t, s)
	srv := httptest.NewServer(r)
	defer srv.Close()

	dial := func(userID string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tokenFor(t, userID)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		return conn
	}
	read := func(conn *websocket.Conn, typ string) models.ChatEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var ev models.ChatEvent
			require.NoError(t, conn.ReadJSON(&ev))
			if ev.Type == typ {
				return ev
			}
		}
	}

	alice := dial("alice")
	defer alice.Close()
	bob := dial("bob")
	defer bob.Close()

	assert.Eventually(t, func() bool {
		return hub.State("alice").Online && hub.State("bob").Online
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(models.ChatEvent{Type: models.EventJoinQueue}))
	read(alice, models.EventQueued)
	require.NoError(t, bob.WriteJSON(models.ChatEvent{Type: models.EventJoinQueue}))
	proposal := read(bob, models.EventMatchProposed)
	read(alice, models.EventMatchProposed)

	require.NoError(t, alice.WriteJSON(models.ChatEvent{Type: models.EventLike, PairID: proposal.PairID}))
	require.NoError(t, bob.WriteJSON(models.ChatEvent{Type: models.EventLike, PairID: proposal.PairID}))
	active := read(alice, models.EventMatchActive)
	read(bob, models.EventMatchActive)

	require.NoError(t, alice.WriteJSON(models.ChatEvent{Type: models.EventMessage, RoomID: active.RoomID, Content: "hi"}))
	msg := read(bob, models.EventMessage)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)

	require.NoError(t, bob.WriteJSON(models.ChatEvent{Type: models.EventDeleteMessage, MessageID: msg.MessageID}))
	failure := read(bob, models.EventError)
	assert.Equal(t, chathub.CodeNotOwner, failure.Code)

	require.NoError(t, bob.WriteJSON(models.ChatEvent{Type: models.EventLike, PairID: "stale"}))
	failure = read(bob, models.EventError)
	assert.Equal(t, chathub.CodeUnknownPair, failure.Code)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("{not json")))
	failure = read(bob, models.EventError)
	assert.Equal(t, chathub.CodeBadRequest, failure.Code)

	alice.Close()
	disconnected := read(bob, models.EventPartnerDisconnected)
	assert.Equal(t, "alice", disconnected.PeerID)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
