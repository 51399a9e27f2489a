// Package server exposes the current value table to subscribers over
// websocket and fans out refreshed snapshots as they are produced.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// client wraps one subscriber connection. Gorilla conns allow only one
// concurrent writer; the mutex serializes the connect-time replay with
// broadcasts.
type client struct {
	conn *websocket.Conn

	mu sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub tracks websocket subscribers. Every subscriber gets the latest
// snapshot on connect and each broadcast afterwards. A slow or dead
// subscriber is dropped without affecting the others.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]bool
	last    []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	cl := &client{conn: conn}

	h.mu.Lock()
	h.clients[cl] = true
	last := h.last
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Subscriber connected", "remote", r.RemoteAddr, "subscribers", count)

	if last != nil {
		if err := cl.write(last); err != nil {
			h.drop(cl)
			return
		}
	}

	// Consume inbound frames so close and ping frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(cl)
				return
			}
		}
	}()
}

// Broadcast sends the payload to every subscriber and remembers it for
// late joiners.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	h.last = payload
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		if err := cl.write(payload); err != nil {
			h.drop(cl)
		}
	}
}

func (h *Hub) drop(cl *client) {
	cl.conn.Close()

	h.mu.Lock()
	_, known := h.clients[cl]
	delete(h.clients, cl)
	count := len(h.clients)
	h.mu.Unlock()

	if known {
		h.logger.Info("Subscriber disconnected", "subscribers", count)
	}
}

// Serve runs the HTTP listener until the context is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.HandleWS)

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info("Value stream listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
