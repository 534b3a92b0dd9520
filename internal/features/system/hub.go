package system

import (
	"encoding/json"
	stdsync "sync"

	sync_feature "crm-sync/internal/features/sync"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
)

// Hub fans sync progress events and final results out to websocket
// subscribers. It implements the orchestrator's ProgressSink.
type Hub struct {
	Logger *zap.Logger

	mu      stdsync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		Logger:  logger,
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

type wsMessage struct {
	Type string `json:"type"` // progress, result
	Data any    `json:"data"`
}

func (h *Hub) PublishProgress(event sync_feature.ProgressEvent) {
	h.broadcast(wsMessage{Type: "progress", Data: event})
}

func (h *Hub) PublishResult(connectionID string, result *sync_feature.SyncResult) {
	h.broadcast(wsMessage{Type: "result", Data: map[string]any{
		"connection_id": connectionID,
		"result":        result,
	}})
}

// broadcast never blocks a sync on a slow subscriber; a full client buffer
// drops the message for that client only.
func (h *Hub) broadcast(msg wsMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *Hub) subscribe(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
}

// HandleWebSocket pumps queued messages to one subscriber until the
// connection drops.
func (h *Hub) HandleWebSocket(c *websocket.Conn) {
	ch := h.subscribe(c)
	defer h.unsubscribe(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.Logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
