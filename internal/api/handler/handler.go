package handler

import (
	"pairchat/backend/internal/api/middleware"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// Handler містить посилання на ChatHub та сховище
type Handler struct {
	Hub          *chathub.ManagerService
	Storage      storage.Storage
	HistoryLimit int
	SendBuffer   int
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, historyLimit, sendBuffer int) *Handler {
	return &Handler{Hub: hub, Storage: s, HistoryLimit: historyLimit, SendBuffer: sendBuffer}
}

// Routes registers the websocket endpoint and the REST read surface.
func (h *Handler) Routes(r *gin.Engine, jwtSecret string) {
	r.Use(middleware.CORS())
	r.GET("/health", h.Health)

	auth := middleware.AuthRequired(jwtSecret)
	r.GET("/ws", auth, h.ServeWebSocket)

	api := r.Group("/api/v1", auth)
	{
		api.GET("/conversations", h.GetConversations)
		api.GET("/conversations/:peer_id/messages", h.GetMessages)
		api.GET("/unread", h.GetUnread)
		api.GET("/me/state", h.GetMyState)
	}
}
