package chathub_test

import (
	"context"
	"testing"
	"time"

	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func init() {
	logger.SetLevel(zapcore.ErrorLevel)
}

// fakeClient is an in-memory chathub.Client.
type fakeClient struct {
	*chathub.Outbox
	id string
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{Outbox: chathub.NewOutbox(64), id: id}
}

func (c *fakeClient) GetUserID() string { return c.id }
func (c *fakeClient) Run()              {}

// drain returns every event buffered so far.
func (c *fakeClient) drain() []models.ChatEvent {
	var out []models.ChatEvent
	for {
		select {
		case ev, ok := <-c.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// next waits for the next event of type typ, skipping others.
func (c *fakeClient) next(t *testing.T, typ string) models.ChatEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-c.C():
			require.True(t, ok, "client %s closed while waiting for %s", c.id, typ)
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			require.FailNow(t, "timed out", "client %s never got %s", c.id, typ)
		}
	}
}

func testConfig() config.MatchConfig {
	cfg := config.DefaultMatchConfig()
	cfg.GracePeriod = 80 * time.Millisecond
	cfg.ConsentTimeout = 80 * time.Millisecond
	return cfg
}

func newHub(t *testing.T, cfg config.MatchConfig) (*chathub.ManagerService, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	hub := chathub.NewManagerService(store, cfg)
	hub.Run(context.Background())
	t.Cleanup(func() { hub.Shutdown(context.Background()) })
	return hub, store
}

func connect(t *testing.T, hub *chathub.ManagerService, id string) *fakeClient {
	t.Helper()
	c := newFakeClient(id)
	hub.Connect(context.Background(), c)
	return c
}

// MockStorage is a testify mock of storage.Storage.
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	if args.Error(0) == nil && len(args) > 1 {
		if fn, ok := args.Get(1).(func(*models.Message)); ok {
			fn(msg)
		}
	}
	return args.Error(0)
}

func (m *MockStorage) DeleteMessage(ctx context.Context, id uint) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockStorage) FindMessage(ctx context.Context, id uint) (*models.Message, error) {
	args := m.Called(ctx, id)
	msg, _ := args.Get(0).(*models.Message)
	return msg, args.Error(1)
}

func (m *MockStorage) MarkRead(ctx context.Context, roomID, readerID string, uptoID uint) (int64, error) {
	args := m.Called(ctx, roomID, readerID, uptoID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) LoadHistory(ctx context.Context, roomID string, q models.HistoryQuery) ([]models.Message, error) {
	args := m.Called(ctx, roomID, q)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

func (m *MockStorage) LoadConversationSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	sums, _ := args.Get(0).([]models.ConversationSummary)
	return sums, args.Error(1)
}

func (m *MockStorage) CountUnread(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStorage) SaveMatch(ctx context.Context, rec *models.MatchRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockStorage) CloseMatch(ctx context.Context, roomID, reason string) error {
	return m.Called(ctx, roomID, reason).Error(0)
}

func (m *MockStorage) GetActiveMatchIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockStorage) SetPresence(ctx context.Context, userID string, online bool) error {
	return m.Called(ctx, userID, online).Error(0)
}

func (m *MockStorage) PublishEvent(ctx context.Context, ev models.ChatEvent) error {
	return m.Called(ctx, ev).Error(0)
}

var _ storage.Storage = (*MockStorage)(nil)
