package chathub

import (
	"sync"
	"time"

	"pairchat/backend/internal/models"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var matchTransitions = map[models.MatchState][]models.MatchState{
	models.MatchPendingConsent:  {models.MatchActive, models.MatchEnded},
	models.MatchActive:          {models.MatchGraceDisconnect, models.MatchEnded},
	models.MatchGraceDisconnect: {models.MatchActive, models.MatchEnded},
}

// Match is the live state of a consented pairing. Guarded by the hub lifecycle lock.
type Match struct {
	PairID  string
	RoomID  string
	Members [2]string
	State   models.MatchState
	// Disconnected is the member currently inside the grace window.
	Disconnected string
	// ResumeAfter is the last message each member was handed before dropping.
	ResumeAfter map[string]uint
	CreatedAt   time.Time
	EndedAt     time.Time
	EndReason   string

	// persistSeq orders record writes; it is bumped under the lifecycle lock and
	// checked against applied under persistMu.
	persistSeq uint64
	persistMu  sync.Mutex
	applied    uint64
}

func newMatch(pair PendingPair, roomID string) *Match {
	return &Match{
		PairID:      pair.PairID,
		RoomID:      roomID,
		Members:     pair.Members,
		State:       models.MatchPendingConsent,
		ResumeAfter: make(map[string]uint, 2),
		CreatedAt:   time.Now(),
	}
}

func (m *Match) transition(to models.MatchState) error {
	for _, allowed := range matchTransitions[m.State] {
		if allowed == to {
			m.State = to
			if to == models.MatchEnded {
				m.EndedAt = time.Now()
			}
			return nil
		}
	}
	return errors.Errorf("match %s: invalid transition %s -> %s", m.RoomID, m.State, to)
}

func (m *Match) Other(userID string) string {
	if m.Members[0] == userID {
		return m.Members[1]
	}
	return m.Members[0]
}

// MatchInfo is a read-only copy of a Match.
type MatchInfo struct {
	PairID       string            `json:"pair_id"`
	RoomID       string            `json:"room_id"`
	Members      [2]string         `json:"members"`
	State        models.MatchState `json:"state"`
	Disconnected string            `json:"disconnected,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (m *Match) info() MatchInfo {
	return MatchInfo{
		PairID:       m.PairID,
		RoomID:       m.RoomID,
		Members:      m.Members,
		State:        m.State,
		Disconnected: m.Disconnected,
		CreatedAt:    m.CreatedAt,
	}
}

func (m *Match) record() *models.MatchRecord {
	rec := &models.MatchRecord{
		RoomID:    m.RoomID,
		PairID:    m.PairID,
		Members:   pq.StringArray{m.Members[0], m.Members[1]},
		State:     m.State,
		StartedAt: m.CreatedAt,
		EndReason: m.EndReason,
	}
	if m.State == models.MatchEnded {
		endedAt := m.EndedAt
		rec.EndedAt = &endedAt
	}
	return rec
}
