// Package realtime pushes application activity to websocket clients.
package realtime

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// Hub manages WebSocket clients and broadcasts messages to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	register    chan *websocket.Conn
	unregister  chan *websocket.Conn
	broadcast   chan []byte
	done        chan struct{}
	upgrader    websocket.Upgrader
	logger      *zap.Logger
	mu          sync.Mutex
}

// NewHub constructs a Hub. buffer bounds how many broadcasts may queue before
// new ones are dropped. Browser upgrades are accepted from allowedOrigins;
// an empty list means same-origin only and "*" accepts any origin.
func NewHub(buffer int, allowedOrigins []string, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		register:    make(chan *websocket.Conn),
		unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte, buffer),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		logger: logger.Named("realtime"),
	}
}

// originChecker returns nil for an empty list, which makes the upgrader fall
// back to its same-origin check.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool { return strings.EqualFold(o, origin) })
	}
}

// Broadcast queues msg for every connected client. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message")
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// Run processes register/unregister/broadcast events until ctx is done, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.drop(conn)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn]; ok {
		delete(h.connections, conn)
		conn.Close()
	}
}

func (h *Hub) closeAll() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		conn.Close()
		delete(h.connections, conn)
	}
}
