package ginserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	gin "github.com/gin-gonic/gin"

	"storefront/internal/app/dto"
	domainuser "storefront/internal/domain/user"
)

type AdminHTTP interface {
	ListUsers(c *gin.Context)
}

// AdminHandler lets admins browse users to pick a peer for a direct conversation.
type AdminHandler struct {
	Users  domainuser.Repository
	Logger *slog.Logger
}

const maxUserPageSize = 100

func (h AdminHandler) ListUsers(c *gin.Context) {
	if _, ok := requireRole(c, domainuser.RoleAdmin); !ok {
		return
	}
	params := domainuser.ListParams{
		Query:  strings.TrimSpace(c.Query("query")),
		Limit:  parsePositiveInt(c.Query("limit"), 20),
		Offset: parsePositiveInt(c.Query("offset"), 0),
	}
	if params.Limit > maxUserPageSize {
		params.Limit = maxUserPageSize
	}
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role, err := domainuser.ParseRole(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.Role = role
	}
	users, total, err := h.Users.List(c.Request.Context(), params)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("list users failed", "error", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := dto.UserList{Items: make([]dto.UserProfile, 0, len(users)), Total: total}
	for _, u := range users {
		out.Items = append(out.Items, dto.MapUserProfile(u))
	}
	c.JSON(http.StatusOK, out)
}

func parsePositiveInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
