package storage

import (
	"context"
	"time"

	"pairchat/backend/internal/models"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Storage is the persistence adapter used by the coordinator and the REST layer.
type Storage interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	DeleteMessage(ctx context.Context, id uint) error
	FindMessage(ctx context.Context, id uint) (*models.Message, error)
	// MarkRead flips IsRead on messages in roomID received by readerID with ID <= uptoID.
	// It returns the number of rows changed.
	MarkRead(ctx context.Context, roomID, readerID string, uptoID uint) (int64, error)
	// LoadHistory returns messages ordered ascending by creation.
	LoadHistory(ctx context.Context, roomID string, q models.HistoryQuery) ([]models.Message, error)
	// LoadConversationSummaries returns one row per direct-message peer, newest first.
	// Match rooms are excluded.
	LoadConversationSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	CountUnread(ctx context.Context, userID string) (int64, error)

	SaveMatch(ctx context.Context, rec *models.MatchRecord) error
	CloseMatch(ctx context.Context, roomID, reason string) error
	GetActiveMatchIDs(ctx context.Context) ([]string, error)

	SetPresence(ctx context.Context, userID string, online bool) error
	PublishEvent(ctx context.Context, ev models.ChatEvent) error
}

// Retry runs op and, if it fails, runs it exactly once more.
// The second error is returned wrapped with the first.
func Retry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(err, "context done, not retrying")
	}
	if retryErr := op(ctx); retryErr != nil {
		return errors.Wrapf(retryErr, "retry failed (first attempt: %v)", err)
	}
	return nil
}

func presenceKey(userID string) string { return "presence:" + userID }

func now() time.Time { return time.Now().UTC() }
