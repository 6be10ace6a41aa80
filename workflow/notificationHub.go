package workflow

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/facturasoft/factura_backend/config"
	"github.com/facturasoft/factura_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	lowStockPattern = "lowstock:*"
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
)

// NotificationHub fans low-stock alerts out to websocket subscribers, keyed
// by company. Alerts arrive over redis pub/sub so every server instance sees
// them regardless of which instance committed the invoice.
type NotificationHub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]struct{}
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients: make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Run consumes the redis pattern subscription until ctx is cancelled.
func (h *NotificationHub) Run(ctx context.Context) {
	logger := config.GetLogger()

	pubsub := config.SubscribeRedisChannel(ctx, lowStockPattern)
	defer pubsub.Close()

	logger.WithFields(logrus.Fields{"pattern": lowStockPattern}).Info("notification hub started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info("notification hub stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				logger.Warn("notification hub subscription closed")
				return
			}
			companyId := strings.TrimPrefix(msg.Channel, "lowstock:")
			h.broadcast(companyId, []byte(msg.Payload))
		}
	}
}

func (h *NotificationHub) register(companyId string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[companyId] == nil {
		h.clients[companyId] = make(map[*websocket.Conn]struct{})
	}
	h.clients[companyId][conn] = struct{}{}
}

func (h *NotificationHub) unregister(companyId string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[companyId]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, companyId)
		}
	}
	conn.Close()
}

func (h *NotificationHub) broadcast(companyId string, payload []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[companyId]))
	for conn := range h.clients[companyId] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	logger := config.GetLogger()
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			config.LogError(logger, "workflow", "broadcast", "Error writing to websocket", companyId, err)
			h.unregister(companyId, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// auth happens via the JWT middleware before the upgrade
		return true
	},
}

// ServeWs upgrades the request and keeps the connection registered until the
// client goes away. The read loop only consumes control frames.
func (h *NotificationHub) ServeWs(c *gin.Context) {
	logger := config.GetLogger()

	companyId, ok := utils.GetCompanyIdFromContext(c.Request.Context())
	if !ok || companyId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "company id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		config.LogError(logger, "workflow", "ServeWs", "Websocket upgrade failed", companyId, err)
		return
	}

	h.register(companyId, conn)

	go h.pingLoop(companyId, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.unregister(companyId, conn)
			return
		}
	}
}

func (h *NotificationHub) pingLoop(companyId string, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.unregister(companyId, conn)
			return
		}
	}
}
