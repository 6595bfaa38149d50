package storage

import (
	"context"
	"sort"
	"sync"

	"pairchat/backend/internal/models"
)

// maxRecordedEvents bounds the published events a MemoryStore keeps.
const maxRecordedEvents = 1024

// MemoryStore is an in-process Storage used with STORAGE_DRIVER=memory and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	messages map[uint]*models.Message
	matches  map[string]*models.MatchRecord
	presence map[string]bool
	events   []models.ChatEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uint]*models.Message),
		matches:  make(map[string]*models.MatchRecord),
		presence: make(map[string]bool),
	}
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = now()
	msg.UpdatedAt = msg.CreatedAt
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) FindMessage(_ context.Context, id uint) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	found := *msg
	return &found, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, roomID, readerID string, uptoID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	readAt := now()
	for id, msg := range s.messages {
		if msg.RoomID != roomID || msg.ReceiverID != readerID || id > uptoID || msg.IsRead {
			continue
		}
		msg.IsRead = true
		msg.ReadAt = &readAt
		changed++
	}
	return changed, nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, roomID string, q models.HistoryQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.Message, 0)
	for id, msg := range s.messages {
		if msg.RoomID != roomID {
			continue
		}
		if q.AfterID > 0 && id <= q.AfterID {
			continue
		}
		if q.BeforeID > 0 && id >= q.BeforeID {
			continue
		}
		if !q.Matches(msg) {
			continue
		}
		history = append(history, *msg)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].ID < history[j].ID })

	if q.Limit > 0 && len(history) > q.Limit {
		if q.PagesForward() {
			history = history[:q.Limit]
		} else {
			history = history[len(history)-q.Limit:]
		}
	}
	return history, nil
}

func (s *MemoryStore) LoadConversationSummaries(_ context.Context, userID string) ([]models.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRoom := make(map[string]*models.ConversationSummary)
	for _, msg := range s.messages {
		if models.IsMatchRoomID(msg.RoomID) {
			continue
		}
		if msg.SenderID != userID && msg.ReceiverID != userID {
			continue
		}
		sum, ok := byRoom[msg.RoomID]
		if !ok {
			sum = &models.ConversationSummary{RoomID: msg.RoomID, PeerID: peerOf(msg, userID)}
			byRoom[msg.RoomID] = sum
		}
		if sum.LastMessage == nil || msg.ID > sum.LastMessage.ID {
			last := *msg
			sum.LastMessage = &last
		}
		if msg.ReceiverID == userID && !msg.IsRead {
			sum.UnreadCount++
		}
	}

	summaries := make([]models.ConversationSummary, 0, len(byRoom))
	for _, sum := range byRoom {
		summaries = append(summaries, *sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.ID > summaries[j].LastMessage.ID
	})
	return summaries, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, msg := range s.messages {
		if msg.ReceiverID == userID && !msg.IsRead && !models.IsMatchRoomID(msg.RoomID) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) SaveMatch(_ context.Context, rec *models.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	s.matches[rec.RoomID] = &stored
	return nil
}

func (s *MemoryStore) CloseMatch(_ context.Context, roomID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.matches[roomID]
	if !ok {
		return ErrNotFound
	}
	endedAt := now()
	rec.State = models.MatchEnded
	rec.EndedAt = &endedAt
	rec.EndReason = reason
	return nil
}

func (s *MemoryStore) GetActiveMatchIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, rec := range s.matches {
		if rec.State != models.MatchEnded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Match returns a copy of the stored record.
func (s *MemoryStore) Match(roomID string) (models.MatchRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.matches[roomID]
	if !ok {
		return models.MatchRecord{}, false
	}
	return *rec, true
}

func (s *MemoryStore) SetPresence(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if online {
		s.presence[userID] = true
	} else {
		delete(s.presence, userID)
	}
	return nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence[userID], nil
}

func (s *MemoryStore) PublishEvent(_ context.Context, ev models.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	if len(s.events) > maxRecordedEvents {
		s.events = append(s.events[:0], s.events[len(s.events)-maxRecordedEvents:]...)
	}
	return nil
}

// Events returns the most recent published lifecycle events in order.
func (s *MemoryStore) Events() []models.ChatEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatEvent, len(s.events))
	copy(out, s.events)
	return out
}
