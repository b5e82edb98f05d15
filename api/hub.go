package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"soraq/config"
	"soraq/queue"
)

const writeWait = 10 * time.Second

type subscriber struct {
	conn    *websocket.Conn
	initial []byte
}

// Hub fans queue and status events out to websocket clients. All writes to
// a connection happen on the Run goroutine.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan subscriber
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
	upgrader   websocket.Upgrader
}

func NewHub(cfg *config.Config) *Hub {
	allowed := map[string]bool{}
	for _, o := range cfg.AllowedOrigins() {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan subscriber),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			if sub.initial != nil {
				h.write(sub.conn, sub.initial)
			}
			slog.Info("websocket client connected", "clients", n)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Info("websocket client disconnected", "clients", n)
		case message := <-h.broadcast:
			h.mu.Lock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.Unlock()
			for _, conn := range conns {
				h.write(conn, message)
			}
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, message []byte) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		slog.Warn("error sending websocket message", "error", err)
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}
}

// Publish queues an event for every client. Events are dropped when the
// hub falls behind so the scheduler never blocks on a slow browser.
func (h *Hub) Publish(e queue.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		slog.Warn("websocket hub is behind, dropping event", "type", e.Type)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the connection registered until
// the client goes away. initial is sent before any broadcast.
func (h *Hub) ServeWS(c *gin.Context, initial any) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("failed to upgrade to websocket", "error", err)
		return
	}

	var first []byte
	if initial != nil {
		if first, err = json.Marshal(initial); err != nil {
			slog.Error("failed to marshal websocket snapshot", "error", err)
		}
	}

	select {
	case h.register <- subscriber{conn: conn, initial: first}:
	case <-h.done:
		conn.Close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
			return
		}
	}
}
