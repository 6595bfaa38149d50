package chathub

import (
	"context"

	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"go.uber.org/zap"
)

func graceKey(userID string) string { return "grace:" + userID }

type resumePlan struct {
	roomID  string
	afterID uint
}

// Disconnect handles the loss of c. Stale handles, already replaced by a newer
// connection, are ignored.
func (m *ManagerService) Disconnect(ctx context.Context, c Client) {
	userID := c.GetUserID()

	m.lock()
	if !m.registry.Unregister(c) {
		m.mu.Unlock()
		return
	}

	for _, roomID := range m.rooms.DirectRoomsOf(userID) {
		m.rooms.Leave(roomID, userID)
	}
	m.queue.Remove(userID)
	if pair, ok := m.gate.Withdraw(userID); ok {
		m.timers.Cancel(pairKey(pair.PairID))
		m.abandonLocked(pair, userID, ReasonDisconnected)
	}

	var ops []deferredOp
	if match := m.byUser[userID]; match != nil {
		ops = m.dropFromMatchLocked(match, userID)
	}
	m.unlock(ctx, ops)

	if err := m.Storage.SetPresence(ctx, userID, false); err != nil {
		logger.Warn("presence update failed", zap.String("user_id", userID), zap.Error(err))
	}
	logger.Debug("client disconnected", zap.String("user_id", userID))
}

// dropFromMatchLocked moves an active match into grace for userID, or ends it when
// the other member is already in grace.
func (m *ManagerService) dropFromMatchLocked(match *Match, userID string) []deferredOp {
	switch match.State {
	case models.MatchActive:
		if delivered, ok := m.rooms.Leave(match.RoomID, userID); ok {
			match.ResumeAfter[userID] = delivered
		}
		_ = match.transition(models.MatchGraceDisconnect)
		match.Disconnected = userID

		roomID := match.RoomID
		m.timers.Schedule(graceKey(userID), m.cfg.GracePeriod, func() {
			m.graceExpired(context.Background(), roomID, userID)
		})
		m.notify(match.Other(userID), models.ChatEvent{
			Type:   models.EventPartnerDisconnected,
			RoomID: roomID,
			PeerID: userID,
			State:  match.State,
		})
		logger.Info("match in grace", zap.String("room_id", roomID), zap.String("user_id", userID),
			zap.Duration("grace", m.cfg.GracePeriod))
		return nil

	case models.MatchGraceDisconnect:
		if match.Disconnected != userID {
			return m.endLocked(match, models.EndReasonBothLeft, "", m.cfg.RequeueOnEnd)
		}
	}
	return nil
}

// reconnectLocked resumes userID's match if their grace timer is cancelled in time.
func (m *ManagerService) reconnectLocked(userID string) (*resumePlan, []deferredOp) {
	match := m.byUser[userID]
	if match == nil || match.State != models.MatchGraceDisconnect || match.Disconnected != userID {
		return nil, nil
	}
	if !m.timers.Cancel(graceKey(userID)) {
		// the timer already fired; graceExpired ends the match
		return nil, nil
	}

	_ = match.transition(models.MatchActive)
	match.Disconnected = ""
	plan := &resumePlan{roomID: match.RoomID, afterID: match.ResumeAfter[userID]}

	m.notify(userID, models.ChatEvent{
		Type:   models.EventMatchActive,
		RoomID: match.RoomID,
		PairID: match.PairID,
		PeerID: match.Other(userID),
		State:  match.State,
	})
	m.notify(match.Other(userID), models.ChatEvent{
		Type:   models.EventPartnerReconnected,
		RoomID: match.RoomID,
		PeerID: userID,
		State:  match.State,
	})
	return plan, nil
}

func (m *ManagerService) graceExpired(ctx context.Context, roomID, userID string) {
	m.lock()
	match, ok := m.matches[roomID]
	if !ok || match.State != models.MatchGraceDisconnect || match.Disconnected != userID {
		m.mu.Unlock()
		return
	}
	ops := m.endLocked(match, models.EndReasonGraceExpiry, userID, m.cfg.RequeueOnEnd)
	m.unlock(ctx, ops)
}

// LeaveMatch ends userID's match on their request.
func (m *ManagerService) LeaveMatch(ctx context.Context, userID string) error {
	m.lock()
	match := m.byUser[userID]
	if match == nil {
		m.mu.Unlock()
		return ErrNotInMatch
	}
	ops := m.endLocked(match, models.EndReasonLeft, userID, m.cfg.RequeueOnEnd)
	m.unlock(ctx, ops)
	return nil
}

// endLocked tears the match down. It runs at most once per match; later calls
// find it ended and return nothing. Persisted messages are kept.
func (m *ManagerService) endLocked(match *Match, reason, leaver string, requeue bool) []deferredOp {
	if match.State == models.MatchEnded {
		return nil
	}
	_ = match.transition(models.MatchEnded)
	match.EndReason = reason

	for _, member := range match.Members {
		m.timers.Cancel(graceKey(member))
		if m.byUser[member] == match {
			delete(m.byUser, member)
		}
	}
	delete(m.matches, match.RoomID)
	m.rooms.Close(match.RoomID)

	ended := models.ChatEvent{Type: models.EventMatchEnded, RoomID: match.RoomID, PairID: match.PairID, Reason: reason, State: match.State}
	for _, member := range match.Members {
		m.notify(member, ended)
	}
	m.publish(ended)
	logger.Info("match ended", zap.String("room_id", match.RoomID), zap.String("reason", reason))

	if requeue {
		for _, member := range match.Members {
			if member == leaver {
				continue
			}
			if _, online := m.registry.Get(member); online {
				m.enqueueLocked(member)
			}
		}
		m.pairLocked()
	}

	return []deferredOp{m.persistMatchLocked(match)}
}

// persistMatchLocked snapshots the match record for writing after unlock. Writes
// that lose the race to a newer snapshot are skipped, so an ended match is never
// overwritten by its earlier active record.
func (m *ManagerService) persistMatchLocked(match *Match) deferredOp {
	match.persistSeq++
	seq := match.persistSeq
	rec := match.record()
	return func(ctx context.Context) {
		match.persistMu.Lock()
		defer match.persistMu.Unlock()

		if seq <= match.applied {
			return
		}
		if err := m.Storage.SaveMatch(ctx, rec); err != nil {
			logger.Error("failed to save match", zap.String("room_id", rec.RoomID),
				zap.String("state", string(rec.State)), zap.Error(err))
			return
		}
		match.applied = seq
	}
}
