package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ndquangr/txingest/internal/progress"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Progress streaming is same-origin agnostic; auth is out of scope
	// of this gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the fan-out Conn contract.
// Gorilla allows one concurrent writer, so Send serializes writes.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHandler upgrades progress subscriptions.
type WSHandler struct {
	logger *slog.Logger
	fanout *progress.Manager
}

// NewWSHandler creates a new WSHandler instance
func NewWSHandler(deps *Dependencies) *WSHandler {
	return &WSHandler{
		logger: deps.Logger,
		fanout: deps.Fanout,
	}
}

// SubscribeProgress handles GET /ws/progress/:user_id
// The connection is subscribed for the user's progress events until the
// client disconnects or a delivery fails.
func (h *WSHandler) SubscribeProgress(c *gin.Context) {
	userID := c.Param("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id must be a valid UUID",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := &wsConn{conn: conn}
	h.fanout.Subscribe(userID, sub)
	defer func() {
		h.fanout.Unsubscribe(userID, sub)
		conn.Close()
	}()

	// Clients only listen; the read loop just detects disconnects and
	// answers control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("WebSocket closed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}
