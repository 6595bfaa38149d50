package chathub

import (
	"context"
	"encoding/json"
	"time"

	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	eventTimeout   = 10 * time.Second
)

// WebSocketClient реалізує інтерфейс chathub.Client
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	*Outbox
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, userID string, buffer int) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Outbox: NewOutbox(buffer),
	}
}

func (c *WebSocketClient) GetUserID() string { return c.UserID }

// Run запускає 'pumps' для WebSocket. The write pump is running before the hub
// replays missed messages, and frames are read only once Connect returned.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go func() {
		c.Hub.Connect(context.Background(), c)
		c.readPump()
	}()
}

// readPump decodes frames and hands them to the hub until the socket drops.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.Close()
		c.Hub.Disconnect(context.Background(), c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("error reading message", zap.String("user_id", c.UserID), zap.Error(err))
			}
			break
		}

		var ev models.ChatEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			logger.Warn("error decoding JSON from client", zap.String("user_id", c.UserID), zap.Error(err))
			c.Deliver(models.ErrorEvent(CodeBadRequest, "malformed frame"))
			continue
		}
		// Відправник завжди той, хто автентифікований на цьому з'єднанні
		ev.SenderID = c.UserID

		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		err = c.Hub.HandleEvent(ctx, c, ev)
		cancel()
		if err != nil {
			code := ErrorCode(err)
			if code == CodeInternal || code == CodePersistenceFailure {
				logger.Error("event failed", zap.String("user_id", c.UserID), zap.String("type", ev.Type), zap.Error(err))
			}
			c.Deliver(models.ErrorEvent(code, err.Error()))
		}
	}
}

// writePump writes one event per text frame and keeps the connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()
		c.Conn.Close()
	}()

	for {
		select {
		case ev := <-c.C():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(ev); err != nil {
				logger.Debug("write failed", zap.String("user_id", c.UserID), zap.Error(err))
				return
			}

		case <-c.Done():
			// Клієнта закрито хабом: дописуємо чергу і закриваємо з'єднання WS
			c.flush()
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still buffered without waiting for more.
func (c *WebSocketClient) flush() {
	for {
		select {
		case ev := <-c.C():
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
