package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"storefront/internal/app/dto"
	"storefront/internal/infra/realtime"
	"storefront/internal/infra/security"
)

type RealtimeHTTP interface {
	Ticket(c *gin.Context)
	Connect(c *gin.Context)
}

// RealtimeHandler trades a bearer session for a socket ticket. Browsers cannot set an
// Authorization header on a websocket upgrade, so the ticket travels in the query.
type RealtimeHandler struct {
	Tickets *security.TicketIssuer
	Server  *realtime.Server
	Logger  *slog.Logger
}

func (h RealtimeHandler) Ticket(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Tickets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	ticket, expiresAt, err := h.Tickets.Issue(p.ToUserID(), p.Role)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("issue realtime ticket failed", "user_id", p.ID, "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, dto.RealtimeTicket{Ticket: ticket, ExpiresAt: expiresAt})
}

func (h RealtimeHandler) Connect(c *gin.Context) {
	if h.Tickets == nil || h.Server == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	raw := strings.TrimSpace(c.Query("ticket"))
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ticket required"})
		return
	}
	ticket, err := h.Tickets.Verify(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid ticket"})
		return
	}
	c.Set("user_id", string(ticket.UserID))
	h.Server.Serve(c.Writer, c.Request, ticket.UserID, ticket.Role)
}
