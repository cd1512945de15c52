// Package live fans filtered rows out to viewers: browsers over a websocket
// and subscribers of an MQTT topic.
package live

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/net/websocket"

	"github.com/mtiwari1/exgstream/internal/sample"
)

const clientBacklog = 512

// Frame is the wire form of one filtered row.
type Frame struct {
	Counter  int32   `json:"counter"`
	Channels []int32 `json:"channels"`
}

// NewFrame copies a row into its wire form.
func NewFrame(row sample.Row) Frame {
	return Frame{Counter: row.Counter(), Channels: append([]int32(nil), row[1:]...)}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts rows to websocket clients. A client that cannot keep up
// loses frames; it never slows the pipeline down.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// Consume implements acquisition.Sink.
func (h *Hub) Consume(row sample.Row) {
	if len(row) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(NewFrame(row))
	if err != nil {
		h.logger.Error("encode live frame", slog.String("error", err.Error()))
		return
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Clients is the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped is the number of frames not delivered to slow clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Handler upgrades requests to websocket connections that receive every row.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("live viewer connected", slog.String("remote", conn.Request().RemoteAddr))

	// Viewers send nothing; a read error means they went away.
	go func() {
		_, _ = io.Copy(io.Discard, conn)
		h.remove(c)
	}()

	for msg := range c.send {
		if _, err := conn.Write(msg); err != nil {
			h.remove(c)
			break
		}
	}
	h.logger.Info("live viewer disconnected", slog.String("remote", conn.Request().RemoteAddr))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
