package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	chathandlers "storefront/internal/app/handlers/chat"
	"storefront/internal/app/middleware"
	"storefront/internal/app/queries"
	domainuser "storefront/internal/domain/user"
)

const idempotencyHeader = "Idempotency-Key"

type ChatHTTP interface {
	ListConversations(c *gin.Context)
	OpenSupport(c *gin.Context)
	OpenDirect(c *gin.Context)
	ListMessages(c *gin.Context)
	PostMessage(c *gin.Context)
	UploadAttachment(c *gin.Context)
}

// ChatHandler translates chat routes into bus commands and queries.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
	// MaxUploadBytes caps the multipart body; the handler enforces the file limit itself.
	MaxUploadBytes int64
}

type openDirectRequest struct {
	UserID string `json:"userId"`
}

type postMessageRequest struct {
	Content       string `json:"content"`
	AttachmentURL string `json:"attachmentUrl"`
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	items, err := queries.Ask[chathandlers.ListConversationsQuery, []dto.Conversation](c.Request.Context(), h.Queries,
		chathandlers.ListConversationsQuery{UserID: p.ID})
	if err != nil {
		h.respondChatError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	if items == nil {
		items = []dto.Conversation{}
	}
	c.JSON(http.StatusOK, items)
}

func (h ChatHandler) OpenSupport(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	opened, err := commands.Dispatch[chathandlers.OpenSupportConversationCommand, *dto.OpenedConversation](c.Request.Context(), h.Commands,
		chathandlers.OpenSupportConversationCommand{CustomerID: p.ID})
	if err != nil {
		h.respondChatError(c, err, "open support conversation", "user_id", p.ID)
		return
	}
	respondOpened(c, opened)
}

func (h ChatHandler) OpenDirect(c *gin.Context) {
	p, ok := requireRole(c, domainuser.RoleAdmin)
	if !ok {
		return
	}
	var req openDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	opened, err := commands.Dispatch[chathandlers.OpenDirectConversationCommand, *dto.OpenedConversation](c.Request.Context(), h.Commands,
		chathandlers.OpenDirectConversationCommand{AdminID: p.ID, PeerID: strings.TrimSpace(req.UserID)})
	if err != nil {
		h.respondChatError(c, err, "open direct conversation", "user_id", p.ID, "peer_id", req.UserID)
		return
	}
	respondOpened(c, opened)
}

func respondOpened(c *gin.Context, opened *dto.OpenedConversation) {
	status := http.StatusOK
	if opened.Created {
		status = http.StatusCreated
	}
	c.JSON(status, opened)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	items, err := queries.Ask[chathandlers.ListMessagesQuery, []dto.Message](c.Request.Context(), h.Queries,
		chathandlers.ListMessagesQuery{ConversationID: conversationID, RequesterID: p.ID})
	if err != nil {
		h.respondChatError(c, err, "list messages", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	if items == nil {
		items = []dto.Message{}
	}
	c.JSON(http.StatusOK, items)
}

func (h ChatHandler) PostMessage(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := commands.Dispatch[chathandlers.PostMessageCommand, *dto.Message](c.Request.Context(), h.Commands,
		chathandlers.PostMessageCommand{
			ConversationID:  conversationID,
			SenderID:        p.ID,
			Text:            req.Content,
			AttachmentURL:   req.AttachmentURL,
			IdempotencyKeyV: c.GetHeader(idempotencyHeader),
		})
	if err != nil {
		h.respondChatError(c, err, "post message", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h ChatHandler) UploadAttachment(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = chathandlers.DefaultMaxAttachmentBytes
	}
	// leave room for multipart framing
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is unreadable"})
		return
	}
	defer file.Close()

	attachment, err := commands.Dispatch[chathandlers.UploadAttachmentCommand, *dto.Attachment](c.Request.Context(), h.Commands,
		chathandlers.UploadAttachmentCommand{
			ConversationID: conversationID,
			UploaderID:     p.ID,
			Filename:       header.Filename,
			ContentType:    header.Header.Get("Content-Type"),
			Size:           header.Size,
			Body:           file,
		})
	if err != nil {
		h.respondChatError(c, err, "upload attachment", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusCreated, attachment)
}

func (h ChatHandler) respondChatError(c *gin.Context, err error, op string, attrs ...any) {
	switch {
	case errors.Is(err, chathandlers.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	case errors.Is(err, chathandlers.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": forbiddenReason(err)})
	case errors.Is(err, chathandlers.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, chathandlers.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, middleware.ErrKeyReused):
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key already used"})
	case errors.Is(err, chathandlers.ErrNoAdminAvailable):
		h.logger().Error(op+" failed", append(attrs, "error", err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no admin available"})
	default:
		h.logger().Error(op+" failed", append(attrs, "error", err)...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// forbiddenReason reports the cause wrapped around ErrForbidden, e.g. "admin role required".
func forbiddenReason(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, chathandlers.ErrForbidden.Error()+": "); i >= 0 {
		if reason := msg[i+len(chathandlers.ErrForbidden.Error())+2:]; reason != "" {
			return reason
		}
	}
	return "forbidden"
}

func (h ChatHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
