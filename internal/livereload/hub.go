// Package livereload pushes hot-reload results to connected browsers over
// WebSocket so development pages refresh when a tag is recompiled.
package livereload

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/tagserve/internal/logging"
	"github.com/conneroisu/tagserve/internal/watcher"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	sendBuffer = 16
)

// Message is the JSON payload sent to browsers.
type Message struct {
	Type  string `json:"type"`
	Tag   string `json:"tag,omitempty"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// MessageFor converts a reload event.
func MessageFor(e watcher.Event) Message {
	m := Message{Type: string(e.Type), Tag: e.Name, Path: e.Path}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected browsers and broadcasts messages to them.
type Hub struct {
	originPatterns []string
	logger         logging.Logger

	clients      map[*client]struct{}
	clientsMutex sync.RWMutex

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	doneOnce   sync.Once
}

// NewHub creates a hub. originPatterns lists extra origins allowed to
// connect besides the server's own host.
func NewHub(originPatterns []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{
		originPatterns: originPatterns,
		logger:         logger.WithComponent("livereload"),
		clients:        make(map[*client]struct{}),
		register:       make(chan *client),
		unregister:     make(chan *client),
		broadcast:      make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, forwarding every event received on
// events to all clients. events may be nil.
func (h *Hub) Run(ctx context.Context, events <-chan watcher.Event) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.clientsMutex.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(ctx, "Client connected", "clients", n)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.send(ctx, msg)

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			msg, err := json.Marshal(MessageFor(e))
			if err != nil {
				h.logger.Error(ctx, err, "Failed to encode reload message")
				continue
			}
			h.send(ctx, msg)
		}
	}
}

// Broadcast queues msg for every connected client. It never blocks; the
// message is dropped when the queue is full or the hub has stopped.
func (h *Hub) Broadcast(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	case <-h.done:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away or the hub stops.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	case <-r.Context().Done():
		conn.Close(websocket.StatusGoingAway, "")
		return
	}

	h.writePump(conn.CloseRead(r.Context()), c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// writePump owns all writes to the connection. ctx is cancelled by
// CloseRead once the peer closes.
func (h *Hub) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				h.logger.Debug(ctx, "WebSocket write failed", "error", err.Error())
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// send delivers msg to every client, dropping clients that cannot keep up.
func (h *Hub) send(ctx context.Context, msg []byte) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn(ctx, nil, "Dropping slow live-reload client")
		}
	}
}

func (h *Hub) remove(c *client) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) shutdown() {
	h.doneOnce.Do(func() {
		close(h.done)
	})

	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
