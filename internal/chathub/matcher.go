package chathub

import (
	"context"

	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"go.uber.org/zap"
)

// Abandon reasons sent with pair_abandoned.
const (
	ReasonDeclined     = "declined"
	ReasonDisconnected = "partner_disconnected"
	ReasonLeftQueue    = "left_queue"
)

func pairKey(pairID string) string { return "pair:" + pairID }

// JoinQueue enqueues userID and pairs the queue head while two users wait.
func (m *ManagerService) JoinQueue(ctx context.Context, userID string) error {
	m.lock()
	if _, ok := m.registry.Get(userID); !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.busyLocked(userID) {
		m.mu.Unlock()
		return ErrAlreadyMatched
	}
	m.enqueueLocked(userID)
	m.pairLocked()
	m.unlock(ctx, nil)
	return nil
}

// LeaveQueue cancels a queued user's wait. Leaving while a pair is pending counts as a decline.
func (m *ManagerService) LeaveQueue(ctx context.Context, userID string) error {
	m.lock()
	if m.queue.Remove(userID) {
		m.notify(userID, models.ChatEvent{Type: models.EventQueueLeft})
		m.unlock(ctx, nil)
		return nil
	}
	if pair, ok := m.gate.Withdraw(userID); ok {
		m.timers.Cancel(pairKey(pair.PairID))
		m.abandonLocked(pair, userID, ReasonLeftQueue)
	}
	m.unlock(ctx, nil)
	return nil
}

// Like records userID's consent for pairID. The like that completes the pair
// promotes it to a Match.
func (m *ManagerService) Like(ctx context.Context, userID, pairID string) error {
	m.lock()
	promoted, pair, err := m.gate.RecordLike(pairID, userID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var ops []deferredOp
	if promoted {
		m.timers.Cancel(pairKey(pairID))
		ops = m.promoteLocked(pair)
	}
	m.unlock(ctx, ops)
	return nil
}

// Decline abandons pairID on behalf of userID.
func (m *ManagerService) Decline(ctx context.Context, userID, pairID string) error {
	m.lock()
	pair, err := m.gate.Decline(pairID, userID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.timers.Cancel(pairKey(pairID))
	m.abandonLocked(pair, userID, ReasonDeclined)
	m.unlock(ctx, nil)
	return nil
}

// busyLocked reports whether userID is in a pending pair or a live match.
func (m *ManagerService) busyLocked(userID string) bool {
	if m.byUser[userID] != nil {
		return true
	}
	_, pending := m.gate.PairFor(userID)
	return pending
}

func (m *ManagerService) enqueueLocked(userID string) {
	if m.queue.Enqueue(userID) {
		logger.Debug("user queued", zap.String("user_id", userID))
	}
	m.notify(userID, models.ChatEvent{Type: models.EventQueued, Position: m.queue.Position(userID)})
}

// pairLocked proposes pairs from the queue head until fewer than two users wait.
func (m *ManagerService) pairLocked() {
	for {
		a, b, ok := m.queue.DequeuePair()
		if !ok {
			return
		}
		pair := m.gate.Propose(a.UserID, b.UserID, m.cfg.ConsentTimeout)
		pairID := pair.PairID
		m.timers.Schedule(pairKey(pairID), m.cfg.ConsentTimeout, func() {
			m.expirePair(context.Background(), pairID)
		})

		for _, member := range pair.Members {
			m.notify(member, models.ChatEvent{
				Type:      models.EventMatchProposed,
				PairID:    pairID,
				PeerID:    pair.Other(member),
				Deadline:  &pair.Deadline,
			})
		}
		logger.Info("pair proposed", zap.String("pair_id", pairID),
			zap.String("user_a", a.UserID), zap.String("user_b", b.UserID))
	}
}

// promoteLocked turns a mutually liked pair into a Match with a fresh room.
func (m *ManagerService) promoteLocked(pair PendingPair) []deferredOp {
	roomID := m.rooms.RoomFor(pair.Members[0], pair.Members[1], RoomMatch)
	match := newMatch(pair, roomID)
	m.matches[roomID] = match
	for _, member := range pair.Members {
		m.byUser[member] = match
	}

	var offline []string
	for _, member := range pair.Members {
		c, ok := m.registry.Get(member)
		if !ok || m.rooms.Join(roomID, c) != nil {
			offline = append(offline, member)
		}
	}

	_ = match.transition(models.MatchActive)
	for _, member := range pair.Members {
		m.notify(member, models.ChatEvent{
			Type:   models.EventMatchActive,
			RoomID: roomID,
			PairID: pair.PairID,
			PeerID: match.Other(member),
			State:  match.State,
		})
	}
	m.publish(models.ChatEvent{Type: models.EventMatchActive, RoomID: roomID, PairID: pair.PairID})
	logger.Info("match active", zap.String("room_id", roomID), zap.String("pair_id", pair.PairID))

	ops := []deferredOp{m.persistMatchLocked(match)}

	// A member that dropped between the like and the promotion starts in grace.
	for _, member := range offline {
		ops = append(ops, m.dropFromMatchLocked(match, member)...)
	}
	return ops
}

// abandonLocked tears down a pending pair that leaver withdrew from.
func (m *ManagerService) abandonLocked(pair PendingPair, leaver, reason string) {
	other := pair.Other(leaver)
	for _, member := range pair.Members {
		m.notify(member, models.ChatEvent{Type: models.EventPairAbandoned, PairID: pair.PairID, Reason: reason})
	}
	m.publish(models.ChatEvent{Type: models.EventPairAbandoned, PairID: pair.PairID, Reason: reason})

	if m.cfg.RequeueOnAbandon {
		if _, online := m.registry.Get(other); online {
			m.enqueueLocked(other)
			m.pairLocked()
		}
	}
}

// expirePair runs when a pair's decision deadline elapses. A lone liker goes back
// to the tail of the queue; a non-responder is dropped.
func (m *ManagerService) expirePair(ctx context.Context, pairID string) {
	m.lock()
	pair, ok := m.gate.Expire(pairID)
	if !ok {
		m.mu.Unlock()
		return
	}
	for _, member := range pair.Members {
		m.notify(member, models.ChatEvent{Type: models.EventPairExpired, PairID: pairID})
	}
	m.publish(models.ChatEvent{Type: models.EventPairExpired, PairID: pairID})

	likers := pair.Likers()
	if len(likers) == 1 {
		if _, online := m.registry.Get(likers[0]); online {
			m.enqueueLocked(likers[0])
			m.pairLocked()
		}
	}
	logger.Info("pair expired", zap.String("pair_id", pairID), zap.Int("likes", len(likers)))
	m.unlock(ctx, nil)
}
