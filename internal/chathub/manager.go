package chathub

import (
	"context"
	"sync"
	"time"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ManagerService is the coordinator. It owns the queue, the consent gate, live
// matches, rooms and timers.
//
// Lifecycle transitions run under mu and never do I/O while holding it; storage
// work they produce is returned as deferred ops and run after unlock. Room traffic
// is serialized per room by the Relay. Lock order: mu, then the rooms, registry,
// gate, queue and scheduler locks, then a client's own lock.
type ManagerService struct {
	cfg     config.MatchConfig
	Storage storage.Storage

	mu       sync.Mutex
	registry *Registry
	queue    *MatchQueue
	gate     *ConsentGate
	rooms    *RoomAllocator
	relay    *Relay
	timers   *Scheduler
	matches  map[string]*Match // roomID -> match
	byUser   map[string]*Match // userID -> match
	closed   bool

	events    chan models.ChatEvent
	runOnce   sync.Once
	runCancel context.CancelFunc
	runDone   chan struct{}
}

// deferredOp is storage work produced under the lifecycle lock.
type deferredOp func(ctx context.Context)

func NewManagerService(s storage.Storage, cfg config.MatchConfig) *ManagerService {
	m := &ManagerService{
		cfg:      cfg,
		Storage:  s,
		registry: NewRegistry(),
		queue:    NewMatchQueue(),
		gate:     NewConsentGate(),
		timers:   NewScheduler(),
		matches:  make(map[string]*Match),
		byUser:   make(map[string]*Match),
		events:   make(chan models.ChatEvent, eventBuffer),
		runDone:  make(chan struct{}),
	}
	m.rooms = NewRoomAllocator(m.registry.IsCurrent)
	m.relay = NewRelay(s, m.rooms)
	return m
}

func (m *ManagerService) lock() { m.mu.Lock() }

// unlock releases the lifecycle lock and runs the ops collected under it.
func (m *ManagerService) unlock(ctx context.Context, ops []deferredOp) {
	m.mu.Unlock()
	for _, op := range ops {
		op(ctx)
	}
}

// notify delivers ev to userID's current connection, if any.
func (m *ManagerService) notify(userID string, ev models.ChatEvent) {
	c, ok := m.registry.Get(userID)
	if !ok {
		return
	}
	if !c.Deliver(ev) {
		logger.Debug("event dropped", zap.String("user_id", userID), zap.String("type", ev.Type))
	}
}

// Connect registers c as its user's connection. A previous connection is replaced
// and closed. If the user is inside a grace window the match resumes and missed
// messages are replayed before live delivery.
func (m *ManagerService) Connect(ctx context.Context, c Client) {
	userID := c.GetUserID()

	m.lock()
	if m.closed {
		m.mu.Unlock()
		c.Close()
		return
	}
	old := m.registry.Register(c)
	if old != nil {
		m.rooms.SwapClient(c)
	}
	resume, ops := m.reconnectLocked(userID)
	m.unlock(ctx, ops)

	if old != nil {
		logger.Info("connection replaced", zap.String("user_id", userID))
		old.Close()
	}
	if err := m.Storage.SetPresence(ctx, userID, true); err != nil {
		logger.Warn("presence update failed", zap.String("user_id", userID), zap.Error(err))
	}
	if resume != nil {
		n, err := m.relay.Resubscribe(ctx, resume.roomID, c, resume.afterID)
		switch {
		case errors.Is(err, errReplayIncomplete):
			// the next connect resumes from the last replayed message
			logger.Warn("replay incomplete, closing connection", zap.String("user_id", userID),
				zap.String("room_id", resume.roomID), zap.Int("replayed", n), zap.Error(err))
			c.Close()
			return
		case err != nil && !errors.Is(err, errStaleClient):
			logger.Warn("resubscribe failed", zap.String("room_id", resume.roomID), zap.Error(err))
		}
		logger.Info("match resumed", zap.String("user_id", userID), zap.String("room_id", resume.roomID), zap.Int("replayed", n))
	}
}

// HandleEvent dispatches one inbound frame from c.
func (m *ManagerService) HandleEvent(ctx context.Context, c Client, ev models.ChatEvent) error {
	userID := c.GetUserID()

	switch ev.Type {
	case models.EventJoinQueue:
		return m.JoinQueue(ctx, userID)
	case models.EventLeaveQueue:
		return m.LeaveQueue(ctx, userID)
	case models.EventLike:
		return m.Like(ctx, userID, ev.PairID)
	case models.EventDecline:
		return m.Decline(ctx, userID, ev.PairID)
	case models.EventLeaveMatch:
		return m.LeaveMatch(ctx, userID)
	case models.EventOpenDirect:
		_, err := m.OpenDirect(ctx, c, ev.PeerID)
		return err
	case models.EventCloseDirect:
		return m.CloseDirect(ctx, userID, ev.RoomID)
	case models.EventMessage:
		_, err := m.relay.Send(ctx, ev.RoomID, userID, ev.Content, ev.ParentMessageID)
		return err
	case models.EventDeleteMessage:
		return m.relay.Delete(ctx, ev.MessageID, userID)
	case models.EventRead:
		_, err := m.relay.MarkRead(ctx, ev.RoomID, userID, ev.UptoMessageID)
		return err
	default:
		return errors.Wrapf(ErrUnknownEvent, "type %q", ev.Type)
	}
}

// SendMessage relays content into roomID on behalf of userID.
func (m *ManagerService) SendMessage(ctx context.Context, userID, roomID, content string, parentID *uint) (*models.Message, error) {
	return m.relay.Send(ctx, roomID, userID, content, parentID)
}

func (m *ManagerService) DeleteMessage(ctx context.Context, userID string, messageID uint) error {
	return m.relay.Delete(ctx, messageID, userID)
}

func (m *ManagerService) MarkRead(ctx context.Context, userID, roomID string, uptoID uint) (int64, error) {
	return m.relay.MarkRead(ctx, roomID, userID, uptoID)
}

// OpenDirect subscribes c to the direct room shared with peerID.
func (m *ManagerService) OpenDirect(ctx context.Context, c Client, peerID string) (string, error) {
	userID := c.GetUserID()
	if peerID == "" || peerID == userID {
		return "", errors.Wrap(errBadRequest, "invalid peer")
	}
	if IsMatchRoom(DirectRoomID(userID, peerID)) {
		return "", errors.Wrap(errBadRequest, "invalid peer")
	}

	roomID := m.rooms.RoomFor(userID, peerID, RoomDirect)
	if err := m.rooms.Join(roomID, c); err != nil {
		return "", err
	}
	c.Deliver(models.ChatEvent{Type: models.EventDirectOpened, RoomID: roomID, PeerID: peerID})
	return roomID, nil
}

func (m *ManagerService) CloseDirect(_ context.Context, userID, roomID string) error {
	if IsMatchRoom(roomID) {
		return ErrUnknownRoom
	}
	if _, ok := m.rooms.Leave(roomID, userID); !ok {
		return ErrUnknownRoom
	}
	return nil
}

// UserState is what /me/state reports.
type UserState struct {
	UserID        string     `json:"user_id"`
	Online        bool       `json:"online"`
	Status        string     `json:"status"`
	QueuePosition int        `json:"queue_position,omitempty"`
	QueuedSince   *time.Time `json:"queued_since,omitempty"`
	// Deadline is the consent deadline while pending, or the partner's grace
	// deadline while they are disconnected.
	Deadline *time.Time `json:"deadline,omitempty"`
	PairID        string     `json:"pair_id,omitempty"`
	PeerID        string     `json:"peer_id,omitempty"`
	Match         *MatchInfo `json:"match,omitempty"`
	DirectRooms   []string   `json:"direct_rooms,omitempty"`
}

const (
	StatusIdle    = "idle"
	StatusQueued  = "queued"
	StatusPending = "pending_consent"
	StatusMatched = "matched"
)

// State reports where userID currently is.
func (m *ManagerService) State(userID string) UserState {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, online := m.registry.Get(userID)
	st := UserState{UserID: userID, Online: online, Status: StatusIdle, DirectRooms: m.rooms.DirectRoomsOf(userID)}
	switch {
	case m.byUser[userID] != nil:
		info := m.byUser[userID].info()
		st.Status = StatusMatched
		st.Match = &info
		st.PairID = info.PairID
		st.PeerID = m.byUser[userID].Other(userID)
		if deadline, ok := m.timers.Deadline(graceKey(st.PeerID)); ok {
			st.Deadline = &deadline
		}
	case m.queue.Contains(userID):
		st.Status = StatusQueued
		st.QueuePosition = m.queue.Position(userID)
		if entry, ok := m.queue.Entry(userID); ok {
			st.QueuedSince = &entry.EnqueuedAt
		}
	default:
		if pair, ok := m.gate.PairFor(userID); ok {
			st.Status = StatusPending
			st.PairID = pair.PairID
			st.PeerID = pair.Other(userID)
			if deadline, ok := m.timers.Deadline(pairKey(pair.PairID)); ok {
				st.Deadline = &deadline
			}
		}
	}
	return st
}

// Match returns a copy of the live match in roomID.
func (m *ManagerService) Match(roomID string) (MatchInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match, ok := m.matches[roomID]
	if !ok {
		return MatchInfo{}, false
	}
	return match.info(), true
}

// Subscribers lists the users subscribed to roomID.
func (m *ManagerService) Subscribers(roomID string) []string {
	return m.rooms.Subscribers(roomID)
}

// RecoverStaleMatches closes match records a previous process left open.
// Live match state does not survive a restart.
func (m *ManagerService) RecoverStaleMatches(ctx context.Context) (int, error) {
	logger.Info("Starting stale match recovery...")

	roomIDs, err := m.Storage.GetActiveMatchIDs(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load active matches")
	}

	closed := 0
	for _, roomID := range roomIDs {
		if err := m.Storage.CloseMatch(ctx, roomID, models.EndReasonStale); err != nil {
			logger.Warn("could not close stale match", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		closed++
	}

	logger.Infof("Recovery complete. Closed %d of %d stale matches.", closed, len(roomIDs))
	return closed, nil
}

// Shutdown ends every live match, stops timers and closes all connections.
func (m *ManagerService) Shutdown(ctx context.Context) {
	m.lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.timers.Stop()

	var ops []deferredOp
	for _, match := range m.matches {
		ops = append(ops, m.endLocked(match, models.EndReasonShutdown, "", false)...)
	}
	clients := m.registry.Drain()
	m.unlock(ctx, ops)

	for _, c := range clients {
		c.Close()
	}
	m.stopPublisher(ctx)
	logger.Info("hub stopped", zap.Int("clients", len(clients)))
}
