package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	"storefront/internal/app/middleware"
	"storefront/internal/app/notify"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

const postMessageKey = "chat.post_message"

type PostMessageCommand struct {
	ConversationID  string
	SenderID        string
	Text            string
	AttachmentURL   string
	IdempotencyKeyV string
}

func (c PostMessageCommand) Key() string { return postMessageKey }

// IdempotencyKey is scoped to the sender and the conversation.
func (c PostMessageCommand) IdempotencyKey() string {
	key := strings.TrimSpace(c.IdempotencyKeyV)
	if key == "" {
		return ""
	}
	return postMessageKey + ":" + strings.TrimSpace(c.SenderID) + ":" + strings.TrimSpace(c.ConversationID) + ":" + key
}

// IdempotencyFingerprint hashes what the message will contain; a retry must match it.
func (c PostMessageCommand) IdempotencyFingerprint() string {
	sum := sha256.New()
	for _, part := range []string{
		strings.TrimSpace(c.ConversationID),
		strings.TrimSpace(c.Text),
		strings.TrimSpace(c.AttachmentURL),
	} {
		sum.Write([]byte(part))
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

func (c PostMessageCommand) ResultPrototype() any { return &dto.Message{} }

func (c PostMessageCommand) Validate() error {
	if strings.TrimSpace(c.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.SenderID) == "" {
		return fmt.Errorf("%w: sender id is required", ErrInvalidInput)
	}
	if _, err := domainchat.NormalizeText(c.Text); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

type PostMessageHandler struct {
	Store    domainchat.Store
	Users    user.Repository
	Notifier notify.Notifier
	NewID    func() string
	Now      func() time.Time
	Logger   *slog.Logger
}

func (h *PostMessageHandler) Handle(ctx context.Context, cmd PostMessageCommand) (*dto.Message, error) {
	if h.Store == nil || h.Users == nil || h.NewID == nil {
		return nil, errors.New("chat: post message handler not configured")
	}
	conv, err := h.Store.ConversationByID(ctx, domainchat.ConversationID(strings.TrimSpace(cmd.ConversationID)))
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("chat: load conversation: %w", err)
	}
	senderID := user.ID(strings.TrimSpace(cmd.SenderID))
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: sender is not a participant", ErrForbidden)
	}

	msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
		ID:             domainchat.MessageID(h.NewID()),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Text:           cmd.Text,
		AttachmentURL:  cmd.AttachmentURL,
		CreatedAt:      h.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := h.Store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("chat: append message: %w", err)
	}
	if err := h.Store.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		// activity time only drives inbox ordering
		h.logger().WarnContext(ctx, "conversation activity not updated",
			"conversation_id", conv.ID, "message_id", msg.ID, "error", err)
	}

	view, err := newProfiles(h.Users).message(ctx, msg)
	if err != nil {
		// the message is stored; fall back to the bare view
		h.logger().WarnContext(ctx, "sender profile unavailable", "user_id", senderID, "error", err)
		view = messageView(msg, nil)
	}
	h.fanOut(ctx, conv, view)
	return &view, nil
}

func (h *PostMessageHandler) fanOut(ctx context.Context, conv *domainchat.Conversation, view dto.Message) {
	if h.Notifier == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		h.logger().WarnContext(ctx, "message notification skipped", "message_id", view.ID, "error", err)
		return
	}
	h.Notifier.Notify(ctx, notify.Event{
		ID:             h.NewID(),
		Type:           notify.MessageCreated,
		ConversationID: string(conv.ID),
		Recipients:     conv.ParticipantIDs(),
		Payload:        payload,
		OccurredAt:     view.CreatedAt,
	})
}

func (h *PostMessageHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *PostMessageHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var (
	_ commands.Handler[PostMessageCommand, *dto.Message] = (*PostMessageHandler)(nil)
	_ middleware.IdempotentCommand                        = PostMessageCommand{}
	_ middleware.Validatable                              = PostMessageCommand{}
)
