package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"storefront/internal/app/notify"
)

// Frame is the envelope of every server-to-client message.
type Frame struct {
	Type           string        `json:"type"`
	Channel        string        `json:"channel,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Event          *notify.Event `json:"event,omitempty"`
	Code           string        `json:"code,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Hub tracks live connections and the channels (rooms) they are joined to. Every
// connection sits in its user room and role room; conversation rooms are joined on
// request. A user may hold several connections at once.
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	rooms     map[string]map[string]*Connection
	connRooms map[string]map[string]struct{}
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

func (h *Hub) attach(conn *Connection) {
	conn.closed = h.detach
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.joinLocked(notify.UserChannel(conn.UserID), conn)
	if conn.Role != "" {
		h.joinLocked(notify.RoleChannel(conn.Role), conn)
	}
	h.mu.Unlock()
	go conn.writeLoop()
}

func (h *Hub) detach(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.connRooms[conn.ID] {
		h.leaveLocked(room, conn.ID)
	}
	delete(h.connRooms, conn.ID)
	delete(h.conns, conn.ID)
}

// Join adds conn to channel. Detached connections are ignored.
func (h *Hub) Join(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return
	}
	h.joinLocked(channel, conn)
}

func (h *Hub) Leave(channel string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(channel, conn.ID)
}

// Deliver sends event to every connection in channel and returns how many accepted it.
func (h *Hub) Deliver(channel string, event notify.Event) int {
	payload, err := json.Marshal(Frame{Type: "event", Channel: channel, Event: &event})
	if err != nil {
		h.logger.Error("realtime frame encode failed", "event_id", event.ID, "error", err)
		return 0
	}
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.rooms[channel]))
	for _, conn := range h.rooms[channel] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			h.logger.Warn("realtime delivery dropped", "connection_id", conn.ID, "user_id", conn.UserID, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Publish delivers event on every channel it addresses. It is the in-process backend.
func (h *Hub) Publish(_ context.Context, event notify.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	for _, channel := range notify.Channels(event) {
		h.Deliver(channel, event)
	}
	return nil
}

// Members returns the number of connections in channel.
func (h *Hub) Members(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		conn.Close(closeShutdown, "server shutdown")
	}
}

func (h *Hub) joinLocked(channel string, conn *Connection) {
	room := h.rooms[channel]
	if room == nil {
		room = make(map[string]*Connection)
		h.rooms[channel] = room
	}
	room[conn.ID] = conn
	h.connRooms[conn.ID][channel] = struct{}{}
}

func (h *Hub) leaveLocked(channel, connID string) {
	if room := h.rooms[channel]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(h.rooms, channel)
		}
	}
	if memberships := h.connRooms[connID]; memberships != nil {
		delete(memberships, channel)
	}
}

var _ notify.Publisher = (*Hub)(nil)
