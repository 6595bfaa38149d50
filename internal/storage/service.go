package storage

import (
	"context"
	"encoding/json"

	"pairchat/backend/internal/config"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// matchRoomPattern is the POSIX regex form of models.IsMatchRoomID.
const matchRoomPattern = `^match_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`

// Service implements Storage on top of PostgreSQL (gorm) and Redis.
// Redis is optional; presence and event publishing are skipped without it.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the tables owned by the coordinator.
func (s *Service) Migrate() error {
	return errors.Wrap(s.DB.AutoMigrate(&models.Message{}, &models.MatchRecord{}), "auto migrate")
}

// SaveMessage inserts the message; gorm fills ID and CreatedAt.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		logger.Error("failed to save message", zap.String("room_id", msg.RoomID), zap.Error(err))
		return errors.Wrap(err, "save message")
	}
	return nil
}

// DeleteMessage removes the row for good; deleted messages never show up in history again.
func (s *Service) DeleteMessage(ctx context.Context, id uint) error {
	res := s.DB.WithContext(ctx).Unscoped().Delete(&models.Message{}, id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete message %d", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) FindMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find message %d", id)
	}
	return &msg, nil
}

func (s *Service) MarkRead(ctx context.Context, roomID, readerID string, uptoID uint) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND receiver_id = ? AND id <= ? AND is_read = ?", roomID, readerID, uptoID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "mark read")
	}
	return res.RowsAffected, nil
}

// LoadHistory returns up to q.Limit messages ascending by ID: the newest page
// older than BeforeID, or the oldest page when the query pages forward.
func (s *Service) LoadHistory(ctx context.Context, roomID string, q models.HistoryQuery) ([]models.Message, error) {
	tx := s.DB.WithContext(ctx).Where("room_id = ?", roomID)
	if q.AfterID > 0 {
		tx = tx.Where("id > ?", q.AfterID)
	}
	if q.BeforeID > 0 {
		tx = tx.Where("id < ?", q.BeforeID)
	}
	if len(q.Between) == 2 {
		a, b := q.Between[0], q.Between[1]
		tx = tx.Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))", a, b, b, a)
	}

	var history []models.Message
	if q.Limit > 0 && !q.PagesForward() {
		// newest page first, reversed below
		if err := tx.Order("id desc").Limit(q.Limit).Find(&history).Error; err != nil {
			return nil, errors.Wrapf(err, "load history for room %s", roomID)
		}
		reverse(history)
		return history, nil
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Order("id asc").Find(&history).Error; err != nil {
		return nil, errors.Wrapf(err, "load history for room %s", roomID)
	}
	return history, nil
}

// summaryRow is the scan target of the summaries query.
type summaryRow struct {
	models.Message
	UnreadCount int64
}

func (s *Service) LoadConversationSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	// DISTINCT ON picks the newest message per room; match rooms are ephemeral and excluded.
	rawSQL := `
        SELECT latest.*, COALESCE(unread.cnt, 0) AS unread_count
        FROM (
            SELECT DISTINCT ON (room_id) *
            FROM messages
            WHERE deleted_at IS NULL
              AND (sender_id = ? OR receiver_id = ?)
              AND room_id !~ ?
            ORDER BY room_id, id DESC
        ) AS latest
        LEFT JOIN (
            SELECT room_id, COUNT(*) AS cnt
            FROM messages
            WHERE deleted_at IS NULL AND receiver_id = ? AND is_read = false
            GROUP BY room_id
        ) AS unread ON unread.room_id = latest.room_id
        ORDER BY latest.id DESC
    `

	var rows []summaryRow
	if err := s.DB.WithContext(ctx).Raw(rawSQL, userID, userID, matchRoomPattern, userID).Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load summaries for %s", userID)
	}

	summaries := make([]models.ConversationSummary, 0, len(rows))
	for i := range rows {
		msg := rows[i].Message
		summaries = append(summaries, models.ConversationSummary{
			PeerID:      peerOf(&msg, userID),
			RoomID:      msg.RoomID,
			LastMessage: &msg,
			UnreadCount: rows[i].UnreadCount,
		})
	}
	return summaries, nil
}

func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ? AND room_id !~ ?", userID, false, matchRoomPattern).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count unread")
	}
	return count, nil
}

func (s *Service) SaveMatch(ctx context.Context, rec *models.MatchRecord) error {
	return errors.Wrap(s.DB.WithContext(ctx).Save(rec).Error, "save match")
}

// CloseMatch marks the record ended with the given reason.
func (s *Service) CloseMatch(ctx context.Context, roomID, reason string) error {
	err := s.DB.WithContext(ctx).Model(&models.MatchRecord{}).
		Where("room_id = ?", roomID).
		Updates(map[string]interface{}{
			"state":      models.MatchEnded,
			"ended_at":   gorm.Expr("NOW()"),
			"end_reason": reason,
		}).Error
	return errors.Wrapf(err, "close match %s", roomID)
}

// GetActiveMatchIDs returns the rooms of every match record not yet ended.
func (s *Service) GetActiveMatchIDs(ctx context.Context) ([]string, error) {
	var roomIDs []string
	if err := s.DB.WithContext(ctx).Model(&models.MatchRecord{}).
		Where("state <> ?", models.MatchEnded).
		Pluck("room_id", &roomIDs).Error; err != nil {
		return nil, errors.Wrap(err, "active match ids")
	}
	return roomIDs, nil
}

// SetPresence mirrors the online flag into Redis with a TTL.
func (s *Service) SetPresence(ctx context.Context, userID string, online bool) error {
	if s.Redis == nil {
		return nil
	}
	key := presenceKey(userID)
	if !online {
		return errors.Wrap(s.Redis.Del(ctx, key).Err(), "clear presence")
	}
	return errors.Wrap(s.Redis.Set(ctx, key, "online", config.PresenceTTL).Err(), "set presence")
}

// IsOnline reads the presence key written by SetPresence.
func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	if s.Redis == nil {
		return false, nil
	}
	_, err := s.Redis.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "get presence")
	}
	return true, nil
}

// PublishEvent publishes a lifecycle event to Redis Pub/Sub for the notification layer.
func (s *Service) PublishEvent(ctx context.Context, ev models.ChatEvent) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return errors.Wrap(s.Redis.Publish(ctx, config.EventsChannel, payload).Err(), "publish event")
}

// SubscribeEvents subscribes to the lifecycle events channel.
func (s *Service) SubscribeEvents(ctx context.Context) *redis.PubSub {
	return s.Redis.Subscribe(ctx, config.EventsChannel)
}

func peerOf(msg *models.Message, userID string) string {
	if msg.SenderID == userID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
