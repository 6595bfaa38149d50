package chathub

import (
	"context"
	"strings"
	"time"

	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"
	"pairchat/backend/internal/storage"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	replayPage    = 100
	replayTimeout = 30 * time.Second
)

var errReplayIncomplete = errors.New("replay incomplete")

// Relay persists and fans out room traffic. All work for one room runs under
// that room's lock, so every subscriber sees the room in invocation order.
type Relay struct {
	store storage.Storage
	rooms *RoomAllocator
	locks *keyedMutex
}

func NewRelay(s storage.Storage, rooms *RoomAllocator) *Relay {
	return &Relay{store: s, rooms: rooms, locks: newKeyedMutex()}
}

// Send persists the message and delivers it to every current subscriber,
// the sender included. Nothing is delivered unless persistence succeeded.
func (r *Relay) Send(ctx context.Context, roomID, senderID, content string, parentID *uint) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(errBadRequest, "empty message")
	}

	unlock := r.locks.Lock(roomID)
	defer unlock()

	peer, err := r.rooms.Peer(roomID, senderID)
	if err != nil {
		return nil, err
	}

	if parentID != nil {
		parent, err := r.store.FindMessage(ctx, *parentID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && parent.RoomID != roomID) {
			return nil, ErrUnknownMessage
		}
		if err != nil {
			return nil, persistenceFailure(err)
		}
	}

	msg := &models.Message{
		RoomID:          roomID,
		SenderID:        senderID,
		ReceiverID:      peer,
		Content:         content,
		ParentMessageID: parentID,
	}
	if err := storage.Retry(ctx, func(ctx context.Context) error {
		msg.ID = 0
		return r.store.SaveMessage(ctx, msg)
	}); err != nil {
		logger.Error("message not persisted", zap.String("room_id", roomID), zap.String("sender_id", senderID), zap.Error(err))
		return nil, persistenceFailure(err)
	}

	r.rooms.Broadcast(roomID, msg.ToEvent(), msg.ID, "")
	return msg, nil
}

// MarkRead flags readerID's received messages up to uptoID and sends a read
// receipt to the other subscribers when anything changed.
func (r *Relay) MarkRead(ctx context.Context, roomID, readerID string, uptoID uint) (int64, error) {
	unlock := r.locks.Lock(roomID)
	defer unlock()

	if _, err := r.rooms.Peer(roomID, readerID); err != nil {
		return 0, err
	}

	var changed int64
	if err := storage.Retry(ctx, func(ctx context.Context) error {
		n, err := r.store.MarkRead(ctx, roomID, readerID, uptoID)
		changed = n
		return err
	}); err != nil {
		return 0, persistenceFailure(err)
	}

	if changed > 0 {
		r.rooms.Broadcast(roomID, models.ChatEvent{
			Type:          models.EventReadReceipt,
			RoomID:        roomID,
			SenderID:      readerID,
			UptoMessageID: uptoID,
		}, 0, readerID)
	}
	return changed, nil
}

// Delete removes a message on behalf of its sender and tells the room's current
// subscribers. Offline members see the deletion on their next history read.
func (r *Relay) Delete(ctx context.Context, messageID uint, requesterID string) error {
	msg, err := r.store.FindMessage(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUnknownMessage
	}
	if err != nil {
		return persistenceFailure(err)
	}
	if msg.SenderID != requesterID {
		return ErrNotOwner
	}

	unlock := r.locks.Lock(msg.RoomID)
	defer unlock()

	err = storage.Retry(ctx, func(ctx context.Context) error {
		err := r.store.DeleteMessage(ctx, messageID)
		if errors.Is(err, storage.ErrNotFound) {
			// gone already, a retry would not change that
			return nil
		}
		return err
	})
	if err != nil {
		return persistenceFailure(err)
	}

	r.rooms.Broadcast(msg.RoomID, models.ChatEvent{
		Type:      models.EventMessageDeleted,
		RoomID:    msg.RoomID,
		SenderID:  requesterID,
		MessageID: messageID,
	}, 0, "")
	return nil
}

// Resubscribe replays the messages of roomID persisted after afterID to client
// and then subscribes it. No send can interleave between the two. Replay waits
// for buffer space; when it cannot finish, the subscription starts at the last
// message actually handed over and errReplayIncomplete is returned.
func (r *Relay) Resubscribe(ctx context.Context, roomID string, client Client, afterID uint) (int, error) {
	unlock := r.locks.Lock(roomID)
	defer unlock()

	if !r.rooms.Exists(roomID) {
		return 0, ErrUnknownRoom
	}

	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()

	var (
		last      = afterID
		replayed  int
		replayErr error
	)
replay:
	for {
		page, err := r.store.LoadHistory(ctx, roomID, models.HistoryQuery{AfterID: last, Limit: replayPage, Forward: true})
		if err != nil {
			logger.Warn("replay history unavailable", zap.String("room_id", roomID), zap.Error(err))
			replayErr = errors.Wrap(errReplayIncomplete, err.Error())
			break
		}
		for i := range page {
			if !client.DeliverWait(ctx, page[i].ToEvent()) {
				replayErr = errReplayIncomplete
				break replay
			}
			last = page[i].ID
			replayed++
		}
		if len(page) < replayPage {
			break
		}
	}

	if err := r.rooms.join(roomID, client, &last); err != nil {
		return replayed, err
	}
	return replayed, replayErr
}
