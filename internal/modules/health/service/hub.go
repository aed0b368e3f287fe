package service

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"breakout_bot/pkg/logger"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub рассылает статус всем подключённым websocket-клиентам.
// Новый клиент сразу получает последнее сообщение.
type Hub struct {
	log *zap.Logger

	lock    sync.Mutex
	clients map[*websocket.Conn]bool
	last    []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     logger.Named(log, "ws"),
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	h.lock.Lock()
	h.clients[conn] = true
	if h.last != nil {
		if err := h.write(conn, h.last); err != nil {
			h.dropLocked(conn)
		}
	}
	h.lock.Unlock()

	// читаем только чтобы заметить закрытие
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				h.lock.Lock()
				h.dropLocked(conn)
				h.lock.Unlock()
				return
			}
		}
	}()
}

func (h *Hub) Broadcast(msg []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.last = msg
	for client := range h.clients {
		if err := h.write(client, msg); err != nil {
			h.dropLocked(client)
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (h *Hub) dropLocked(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	_ = conn.Close()
}

func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Close отключает всех клиентов.
func (h *Hub) Close() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		h.dropLocked(client)
	}
}
