package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Origin is checked against Host by the default CheckOrigin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is one event pushed to operators over /ws.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub fans controller events out to connected websocket clients.
type Hub struct {
	logger  *logrus.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]string
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*websocket.Conn]string),
	}
}

// HandleWebSocket upgrades the request and keeps the connection until the
// client goes away. Clients only receive; anything they send is discarded.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, user string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = user
	h.mu.Unlock()

	h.logger.Infof("WebSocket connected: user=%s", user)

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	user, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()

	conn.Close()
	if ok {
		h.logger.Infof("WebSocket disconnected: user=%s", user)
	}
}

// Broadcast sends an event to every connected client. Clients that
// cannot be written to are dropped.
func (h *Hub) Broadcast(event string, payload interface{}) {
	if h == nil {
		return
	}

	data, err := json.Marshal(Message{Type: event, Payload: payload})
	if err != nil {
		h.logger.Errorf("Failed to encode %s event: %v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		delete(h.clients, conn)
	}
}
