// Package notify pushes server-side events (credential transitions, reminder
// firings) to connected browsers over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Event is a single server-to-browser notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	At      string `json:"at"`
}

// Event types published by the server.
const (
	EventCredentialStatus = "credential_status"
	EventReminderFired    = "reminder_fired"
)

// Hub tracks connected event subscribers and broadcasts to all of them.
type Hub struct {
	mu            sync.RWMutex
	conns         map[*websocket.Conn]struct{}
	allowedOrigin string
	isDev         bool
}

// NewHub creates an event hub.
func NewHub(allowedOrigin string, isDev bool) *Hub {
	return &Hub{
		conns:         make(map[*websocket.Conn]struct{}),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// Publish broadcasts an event to every connected subscriber. Slow or dead
// connections are dropped rather than allowed to stall the broadcast.
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(Event{
		Type:    eventType,
		Payload: payload,
		At:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("Failed to marshal event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("Dropping event subscriber", "error", err)
			h.unregister(conn)
			_ = conn.Close(websocket.StatusNormalClosure, "write failed")
		}
	}
}

// ServeHTTP upgrades the connection and holds it open for events. Clients
// only receive; anything they send is drained and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept event WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}

	h.register(ws)
	defer func() {
		h.unregister(ws)
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}()

	slog.Info("Event subscriber connected", "ip", r.RemoteAddr)

	// CloseRead keeps the connection's read side serviced (pings, close
	// frames) and cancels when the client goes away.
	ctx := ws.CloseRead(r.Context())
	<-ctx.Done()

	slog.Info("Event subscriber disconnected", "ip", r.RemoteAddr)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Event WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
