package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// MatchRoomPrefix starts every match room ID; the rest is a UUID.
const MatchRoomPrefix = "match_"

// IsMatchRoomID reports whether roomID is a match room, i.e. the prefix followed
// by a canonical UUID. Direct room IDs never have that shape.
func IsMatchRoomID(roomID string) bool {
	rest, ok := strings.CutPrefix(roomID, MatchRoomPrefix)
	if !ok || len(rest) != 36 {
		return false
	}
	id, err := uuid.Parse(rest)
	return err == nil && id.String() == rest
}

// MatchState is the lifecycle state of a Match.
type MatchState string

const (
	MatchPendingConsent  MatchState = "pending-consent"
	MatchActive          MatchState = "active"
	MatchGraceDisconnect MatchState = "grace-disconnect"
	MatchEnded           MatchState = "ended"
)

// End reasons recorded on MatchRecord and sent with match_ended.
const (
	EndReasonLeft        = "left"
	EndReasonGraceExpiry = "grace_expired"
	EndReasonBothLeft    = "both_disconnected"
	EndReasonShutdown    = "shutdown"
	EndReasonStale       = "stale_on_startup"
)

// MatchRecord is the durable trace of a Match; the live state machine stays in memory.
type MatchRecord struct {
	// RoomID is the match_-prefixed room of the Match.
	RoomID string `gorm:"primaryKey"`
	// PairID is the consent pair the Match was promoted from.
	PairID string `gorm:"type:text;not null"`
	// Members holds both user IDs.
	Members   pq.StringArray `gorm:"type:text[]"`
	State     MatchState     `gorm:"type:text;not null;index"`
	StartedAt time.Time
	EndedAt   *time.Time
	EndReason string
}
