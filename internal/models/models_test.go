package models_test

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"pairchat/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageToEvent(t *testing.T) {
	parent := uint(3)
	msg := &models.Message{
		RoomID:          "alice_bob",
		SenderID:        "alice",
		ReceiverID:      "bob",
		Content:         "hi",
		ParentMessageID: &parent,
	}
	msg.ID = 7
	msg.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := msg.ToEvent()

	assert.Equal(t, models.EventMessage, ev.Type)
	assert.Equal(t, uint(7), ev.MessageID)
	assert.Equal(t, "alice", ev.SenderID)
	assert.Equal(t, "bob", ev.PeerID)
	assert.Equal(t, &parent, ev.ParentMessageID)
	require.NotNil(t, ev.CreatedAt)
	assert.Equal(t, msg.CreatedAt, *ev.CreatedAt)
}

func TestChatEvent_DecodesInboundFrame(t *testing.T) {
	raw := `{"type":"message","room_id":"match_1","content":"hello","parent_message_id":12}`

	var ev models.ChatEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, models.EventMessage, ev.Type)
	assert.Equal(t, "match_1", ev.RoomID)
	require.NotNil(t, ev.ParentMessageID)
	assert.Equal(t, uint(12), *ev.ParentMessageID)
}

func TestErrorEvent_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(models.ErrorEvent("unknown_pair", "pair is gone"))
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "error", fields["type"])
	assert.Equal(t, "unknown_pair", fields["code"])
	assert.NotContains(t, fields, "room_id")
	assert.NotContains(t, fields, "message_id")
	assert.NotContains(t, fields, "created_at")
}

func TestIsMatchRoomID(t *testing.T) {
	assert.True(t, models.IsMatchRoomID("match_1b4e28ba-2fa1-11d2-883f-0016d3cca427"))

	assert.False(t, models.IsMatchRoomID("match_zed"), "a direct room of users match and zed")
	assert.False(t, models.IsMatchRoomID("match_{1b4e28ba-2fa1-11d2-883f-0016d3cca427}"))
	assert.False(t, models.IsMatchRoomID("match_1B4E28BA-2FA1-11D2-883F-0016D3CCA427"))
	assert.False(t, models.IsMatchRoomID("alice_bob"))
}

// TestMatchRecordStructTags guards the gorm column types used by the migration.
func TestMatchRecordStructTags(t *testing.T) {
	recType := reflect.TypeOf(models.MatchRecord{})

	roomField, ok := recType.FieldByName("RoomID")
	require.True(t, ok)
	assert.Equal(t, "primaryKey", roomField.Tag.Get("gorm"))

	membersField, ok := recType.FieldByName("Members")
	require.True(t, ok)
	assert.Equal(t, "type:text[]", membersField.Tag.Get("gorm"))
}
