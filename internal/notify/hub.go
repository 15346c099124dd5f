package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/akashrtd/cubcen-sub008/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxConnections = 200

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Hub раздает уведомления WebSocket клиентам.
// У каждого клиента свой буфер и единственный писатель (writePump).
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	max      int
	closed   bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(maxConnections int, logger *zap.Logger) *Hub {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*wsClient]struct{}),
		max:     maxConnections,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Доступ к API закрывается JWT middleware, Origin не проверяем
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(zap.String("mod", "ws_hub")),
	}
}

// ServeWS апгрейдит соединение и регистрирует клиента
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := len(h.clients) >= h.max || h.closed
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	// Повторная проверка: между RLock и Lock могли подключиться другие
	if len(h.clients) >= h.max || h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Warn("websocket connection rejected", zap.Int("max", h.max))
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("websocket client registered", zap.Int("total", total))

	go h.writePump(c)
	go h.readPump(c)
}

// readPump нужен только для pong и обнаружения закрытия
func (h *Hub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				go h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go h.unregister(c)
				return
			}
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// broadcast не блокируется: медленный клиент с полным буфером отключается
func (h *Hub) broadcast(msg []byte) {
	var slow []*wsClient

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client")
		h.unregister(c)
	}
}

func (h *Hub) NotifyAgentStatusChange(_ context.Context, change domain.AgentStatusChange) {
	h.publish(MessageAgentStatus, change)
}

func (h *Hub) NotifyAgentHealthChange(_ context.Context, change domain.AgentHealthChange) {
	h.publish(MessageAgentHealth, change)
}

func (h *Hub) publish(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("failed to encode notification", zap.Error(err))
		return
	}
	h.broadcast(data)
}

// ClientCount возвращает число подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run держит хаб до отмены контекста, затем закрывает все соединения
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.closed = true
	h.mu.Unlock()

	h.logger.Info("shutting down websocket hub", zap.Int("clients", len(clients)))
	for c := range clients {
		c.close()
	}
}
