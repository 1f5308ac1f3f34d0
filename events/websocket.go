package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // оверлеи открываются с локальных страниц
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub транслирует уведомления подключённым веб-сокет клиентам (оверлеям стрима).
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub создаёт пустой хаб.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "events.hub"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Run пересылает уведомления из source всем клиентам до отмены контекста или закрытия канала.
func (h *Hub) Run(ctx context.Context, source <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case n, ok := <-source:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(n)
		}
	}
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP поднимает соединение до веб-сокета и регистрирует клиента.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("hub: upgrade не удался", "err", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("hub: клиент подключён", "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) broadcast(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.log.Error("hub: ошибка сериализации уведомления", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// медленный клиент
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Warn("hub: ошибка чтения", "err", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
