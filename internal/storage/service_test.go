package storage_test

import (
	"context"
	"os"
	"testing"

	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newService connects to PAIRCHAT_TEST_DATABASE_URL. Every test uses fresh user
// and room IDs, so nothing needs truncating between runs.
func newService(t *testing.T) *storage.Service {
	t.Helper()
	dsn := os.Getenv("PAIRCHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PAIRCHAT_TEST_DATABASE_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	svc := storage.NewStorageService(db, nil)
	require.NoError(t, svc.Migrate())
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return svc
}

func uniqueUser(name string) string {
	return name + "-" + uuid.New().String()[:8]
}

func seedDB(t *testing.T, s *storage.Service, roomID, from, to, content string) *models.Message {
	t.Helper()
	msg := &models.Message{RoomID: roomID, SenderID: from, ReceiverID: to, Content: content}
	require.NoError(t, s.SaveMessage(context.Background(), msg))
	return msg
}

func contents(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestService_LoadHistoryPaging(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	alice, bob := uniqueUser("alice"), uniqueUser("bob")
	room := alice + "_" + bob

	var ids []uint
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		ids = append(ids, seedDB(t, s, room, alice, bob, c).ID)
	}
	seedDB(t, s, room, uniqueUser("mallory"), bob, "stray")

	newest, err := s.LoadHistory(ctx, room, models.HistoryQuery{Limit: 2, Between: []string{alice, bob}})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, contents(newest))

	older, err := s.LoadHistory(ctx, room, models.HistoryQuery{Limit: 2, BeforeID: ids[3]})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, contents(older))

	after, err := s.LoadHistory(ctx, room, models.HistoryQuery{AfterID: ids[2], Between: []string{bob, alice}})
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, contents(after))

	first, err := s.LoadHistory(ctx, room, models.HistoryQuery{Limit: 2, Forward: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, contents(first))

	all, err := s.LoadHistory(ctx, room, models.HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestService_SummariesAndUnreadExcludeMatchRooms(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	alice, bob, carol := uniqueUser("alice"), uniqueUser("bob"), uniqueUser("carol")

	seedDB(t, s, alice+"_"+bob, bob, alice, "old")
	last := seedDB(t, s, alice+"_"+bob, bob, alice, "new")
	seedDB(t, s, models.MatchRoomPrefix+uuid.New().String(), carol, alice, "ephemeral")
	// shaped like a match room but not one: the prefix alone does not exclude it
	lookalike := seedDB(t, s, "match_"+carol, carol, alice, "direct")

	summaries, err := s.LoadConversationSummaries(ctx, alice)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, lookalike.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, carol, summaries[0].PeerID)
	assert.Equal(t, bob, summaries[1].PeerID)
	assert.Equal(t, last.ID, summaries[1].LastMessage.ID)
	assert.Equal(t, int64(2), summaries[1].UnreadCount)

	unread, err := s.CountUnread(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	changed, err := s.MarkRead(ctx, alice+"_"+bob, alice, last.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	unread, err = s.CountUnread(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)
}

func TestService_MatchRecords(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	open := models.MatchRoomPrefix + uuid.New().String()
	done := models.MatchRoomPrefix + uuid.New().String()
	for _, room := range []string{open, done} {
		require.NoError(t, s.SaveMatch(ctx, &models.MatchRecord{
			RoomID: room, PairID: uuid.New().String(), Members: pq.StringArray{"a", "b"}, State: models.MatchActive,
		}))
	}

	require.NoError(t, s.CloseMatch(ctx, done, models.EndReasonLeft))

	ids, err := s.GetActiveMatchIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, open)
	assert.NotContains(t, ids, done)

	require.NoError(t, s.CloseMatch(ctx, open, models.EndReasonStale))
}

func TestService_DeleteMessage(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	msg := seedDB(t, s, uniqueUser("a")+"_"+uniqueUser("b"), "a", "b", "oops")

	require.NoError(t, s.DeleteMessage(ctx, msg.ID))
	_, err := s.FindMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMessage(ctx, msg.ID), storage.ErrNotFound)
}
