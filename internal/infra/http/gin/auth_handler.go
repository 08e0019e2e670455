package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"storefront/internal/app/dto"
	authsvc "storefront/internal/app/services/auth"
	domainuser "storefront/internal/domain/user"
	"storefront/internal/infra/security"
)

type AuthHTTP interface {
	Register(c *gin.Context)
	Login(c *gin.Context)
	Logout(c *gin.Context)
	LogoutEverywhere(c *gin.Context)
	Me(c *gin.Context)
}

type AuthHandler struct {
	Service *authsvc.Service
	Logger  *slog.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	credentialsRequest
	Name string `json:"name"`
	Role string `json:"role"`
}

// ready aborts with 503 when the handler was built without a service.
func (h AuthHandler) ready(c *gin.Context) bool {
	if h.Service != nil {
		return true
	}
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "auth service unavailable"})
	return false
}

func (h AuthHandler) Register(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var body signUpRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := h.Service.Register(c.Request.Context(), authsvc.RegisterParams{
		Email:    body.Email,
		Name:     body.Name,
		Password: body.Password,
		Role:     body.Role,
	})
	h.writeSession(c, http.StatusCreated, result, err)
}

func (h AuthHandler) Login(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var body credentialsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := h.Service.Login(c.Request.Context(), authsvc.LoginParams{
		Email:    strings.TrimSpace(body.Email),
		Password: body.Password,
	})
	h.writeSession(c, http.StatusOK, result, err)
}

func (h AuthHandler) Logout(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if err := h.Service.Logout(c.Request.Context(), bearerTokenFromContext(c)); err != nil {
		h.warn("logout failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// LogoutEverywhere signs the caller out of every device.
func (h AuthHandler) LogoutEverywhere(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if err := h.Service.LogoutEverywhere(c.Request.Context(), domainuser.ID(p.ID)); err != nil {
		h.warn("revoke sessions failed", err, "user_id", p.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h AuthHandler) Me(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.UserProfile{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.Name,
		Role:      string(p.Role),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	})
}

func (h AuthHandler) writeSession(c *gin.Context, status int, result *authsvc.AuthResult, err error) {
	if err != nil {
		c.JSON(authErrorStatus(err), gin.H{"error": h.authErrorMessage(err)})
		return
	}
	c.JSON(status, dto.NewAuthResponse(result.User, string(result.Session.Token), result.Session.ExpiresAt))
}

func authErrorStatus(err error) int {
	switch {
	case errors.Is(err, authsvc.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, authsvc.ErrPasswordTooShort),
		errors.Is(err, security.ErrPasswordTooLong),
		errors.Is(err, authsvc.ErrRoleNotAllowed),
		errors.Is(err, domainuser.ErrInvalidRole),
		errors.Is(err, domainuser.ErrEmailRequired),
		errors.Is(err, domainuser.ErrNameRequired):
		return http.StatusBadRequest
	case errors.Is(err, domainuser.ErrEmailAlreadyUsed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// authErrorMessage hides internal failures behind a generic message and logs them.
func (h AuthHandler) authErrorMessage(err error) string {
	switch authErrorStatus(err) {
	case http.StatusUnauthorized:
		return "invalid credentials"
	case http.StatusInternalServerError:
		if h.Logger != nil {
			h.Logger.Error("auth operation failed", "error", err)
		}
		return "internal error"
	default:
		return err.Error()
	}
}

func (h AuthHandler) warn(msg string, err error, attrs ...any) {
	if h.Logger == nil {
		return
	}
	h.Logger.Warn(msg, append(attrs, "error", err)...)
}

func bearerTokenFromContext(c *gin.Context) string {
	if p, ok := currentPrincipal(c); ok && p.Token != "" {
		return p.Token
	}
	return extractBearerToken(c.GetHeader("Authorization"))
}
