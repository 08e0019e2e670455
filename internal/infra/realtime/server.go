package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"storefront/internal/app/notify"
	"storefront/internal/domain/user"
)

// Membership answers whether a user may join a conversation room.
type Membership interface {
	IsParticipant(ctx context.Context, conversationID string, userID user.ID) (bool, error)
}

type ServerConfig struct {
	SendBuffer int
	// AllowedOrigins restricts browser origins; empty accepts same-host requests only.
	AllowedOrigins []string
	CheckTimeout   time.Duration
}

// Server upgrades authenticated requests and runs the per-connection read loop.
type Server struct {
	hub        *Hub
	membership Membership
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	cfg        ServerConfig
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func NewServer(hub *Hub, membership Membership, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	s := &Server{hub: hub, membership: membership, logger: logger, cfg: cfg}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Serve upgrades the request for an already authenticated user and blocks until the
// client goes away.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID user.ID, role user.Role) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.logger.Debug("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	conn := newConnection(ws, userID, role, s.cfg.SendBuffer)
	s.hub.attach(conn)
	defer conn.Close(websocket.CloseNormalClosure, "session closed")

	s.logger.Info("realtime connected", "connection_id", conn.ID, "user_id", userID)
	s.reply(conn, Frame{Type: "connected", Channel: notify.UserChannel(userID)})

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := r.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug("realtime read ended", "connection_id", conn.ID, "error", err)
			}
			s.logger.Info("realtime disconnected", "connection_id", conn.ID, "user_id", userID)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reply(conn, Frame{Type: "error", Code: "bad_request", Error: "invalid payload"})
			continue
		}
		switch frame.Type {
		case "subscribe":
			s.subscribe(ctx, conn, frame.ConversationID)
		case "unsubscribe":
			s.unsubscribe(conn, frame.ConversationID)
		case "ping":
			s.reply(conn, Frame{Type: "pong"})
		default:
			s.reply(conn, Frame{Type: "error", Code: "unsupported_type", Error: "unknown frame type"})
		}
	}
}

func (s *Server) subscribe(ctx context.Context, conn *Connection, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		s.reply(conn, Frame{Type: "error", Code: "bad_request", Error: "conversation_id is required"})
		return
	}
	if s.membership == nil {
		s.reply(conn, Frame{Type: "error", Code: "unavailable", Error: "subscriptions are disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
	defer cancel()
	ok, err := s.membership.IsParticipant(ctx, conversationID, conn.UserID)
	if err != nil || !ok {
		if err != nil {
			s.logger.Debug("realtime subscribe refused", "conversation_id", conversationID, "user_id", conn.UserID, "error", err)
		}
		s.reply(conn, Frame{Type: "error", Code: "forbidden", ConversationID: conversationID, Error: "not a participant"})
		return
	}
	s.hub.Join(notify.ConversationChannel(conversationID), conn)
	s.reply(conn, Frame{Type: "subscribed", ConversationID: conversationID})
}

func (s *Server) unsubscribe(conn *Connection, conversationID string) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		s.reply(conn, Frame{Type: "error", Code: "bad_request", Error: "conversation_id is required"})
		return
	}
	s.hub.Leave(notify.ConversationChannel(conversationID), conn)
	s.reply(conn, Frame{Type: "unsubscribed", ConversationID: conversationID})
}

func (s *Server) reply(conn *Connection, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
