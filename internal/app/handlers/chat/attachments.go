package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	"storefront/internal/domain/user"
)

const (
	uploadAttachmentKey = "chat.upload_attachment"

	DefaultMaxAttachmentBytes int64 = 10 << 20
)

var allowedAttachmentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Uploader stores attachment bytes and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (string, error)
}

type UploadAttachmentCommand struct {
	ConversationID string
	UploaderID     string
	Filename       string
	ContentType    string
	Size           int64
	Body           io.Reader
}

func (c UploadAttachmentCommand) Key() string { return uploadAttachmentKey }

func (c UploadAttachmentCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" || strings.TrimSpace(c.UploaderID) == "" {
		return fmt.Errorf("%w: conversation and uploader are required", ErrInvalidInput)
	}
	if c.Body == nil || c.Size <= 0 {
		return fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if _, ok := allowedAttachmentTypes[normalizeContentType(c.ContentType)]; !ok {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidInput, c.ContentType)
	}
	return nil
}

type UploadAttachmentHandler struct {
	Directory *Directory
	Uploader  Uploader
	MaxBytes  int64
}

// Handle checks membership before anything is written to the bucket. The returned URL
// is attached to a message by a subsequent PostMessageCommand.
func (h *UploadAttachmentHandler) Handle(ctx context.Context, cmd UploadAttachmentCommand) (*dto.Attachment, error) {
	if h.Uploader == nil {
		return nil, errors.New("chat: attachment uploads are not configured")
	}
	limit := h.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxAttachmentBytes
	}
	if cmd.Size > limit {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, limit)
	}
	member, err := h.Directory.IsParticipant(ctx, cmd.ConversationID, user.ID(cmd.UploaderID))
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("%w: uploader is not a participant", ErrForbidden)
	}

	contentType := normalizeContentType(cmd.ContentType)
	key := path.Join("chat", strings.TrimSpace(cmd.ConversationID), h.Directory.NewID()+allowedAttachmentTypes[contentType])
	url, err := h.Uploader.Upload(ctx, key, io.LimitReader(cmd.Body, limit), contentType)
	if err != nil {
		return nil, fmt.Errorf("chat: upload attachment: %w", err)
	}
	return &dto.Attachment{URL: url, ContentType: contentType, Size: cmd.Size}, nil
}

func normalizeContentType(raw string) string {
	value, _, _ := strings.Cut(raw, ";")
	return strings.ToLower(strings.TrimSpace(value))
}

var _ commands.Handler[UploadAttachmentCommand, *dto.Attachment] = (*UploadAttachmentHandler)(nil)
