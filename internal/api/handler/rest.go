package handler

import (
	"net/http"
	"strconv"

	"pairchat/backend/internal/api/middleware"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type summaryResponse struct {
	PeerID      string            `json:"peer_id"`
	RoomID      string            `json:"room_id"`
	LastMessage *models.ChatEvent `json:"last_message,omitempty"`
	UnreadCount int64             `json:"unread_count"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetConversations returns the direct-message feed: last message and unread count per peer.
func (h *Handler) GetConversations(c *gin.Context) {
	userID := middleware.UserID(c)

	summaries, err := h.Storage.LoadConversationSummaries(c.Request.Context(), userID)
	if err != nil {
		logger.Error("load summaries failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}

	out := make([]summaryResponse, 0, len(summaries))
	for _, s := range summaries {
		resp := summaryResponse{PeerID: s.PeerID, RoomID: s.RoomID, UnreadCount: s.UnreadCount}
		if s.LastMessage != nil {
			ev := s.LastMessage.ToEvent()
			resp.LastMessage = &ev
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// GetMessages pages the direct history with peer_id, oldest first within the page.
func (h *Handler) GetMessages(c *gin.Context) {
	userID := middleware.UserID(c)
	peerID := c.Param("peer_id")
	if peerID == "" || peerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid peer"})
		return
	}

	q := models.HistoryQuery{Limit: h.HistoryLimit, Between: []string{userID, peerID}}
	if raw := c.Query("before_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid before_id"})
			return
		}
		q.BeforeID = uint(id)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if limit < q.Limit {
			q.Limit = limit
		}
	}

	roomID := chathub.DirectRoomID(userID, peerID)
	history, err := h.Storage.LoadHistory(c.Request.Context(), roomID, q)
	if err != nil {
		logger.Error("load history failed", zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}

	messages := make([]models.ChatEvent, 0, len(history))
	for i := range history {
		messages = append(messages, history[i].ToEvent())
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": messages})
}

func (h *Handler) GetUnread(c *gin.Context) {
	userID := middleware.UserID(c)

	count, err := h.Storage.CountUnread(c.Request.Context(), userID)
	if err != nil {
		logger.Error("count unread failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count unread messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// GetMyState reports whether the caller is idle, queued, pending consent or matched.
func (h *Handler) GetMyState(c *gin.Context) {
	c.JSON(http.StatusOK, h.Hub.State(middleware.UserID(c)))
}
