package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/app/dto"
	"storefront/internal/app/queries"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

const listMessagesKey = "chat.list_messages"

type ListMessagesQuery struct {
	ConversationID string
	RequesterID    string
}

func (q ListMessagesQuery) Key() string { return listMessagesKey }

func (q ListMessagesQuery) Validate() error {
	if strings.TrimSpace(q.ConversationID) == "" || strings.TrimSpace(q.RequesterID) == "" {
		return fmt.Errorf("%w: conversation and requester are required", ErrInvalidInput)
	}
	return nil
}

type ListMessagesHandler struct {
	Store domainchat.Store
	Users user.Repository
}

// Handle returns the full history in ascending creation order.
func (h *ListMessagesHandler) Handle(ctx context.Context, q ListMessagesQuery) ([]dto.Message, error) {
	conv, err := h.Store.ConversationByID(ctx, domainchat.ConversationID(strings.TrimSpace(q.ConversationID)))
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("chat: load conversation: %w", err)
	}
	if !conv.HasParticipant(user.ID(strings.TrimSpace(q.RequesterID))) {
		return nil, fmt.Errorf("%w: requester is not a participant", ErrForbidden)
	}
	messages, err := h.Store.MessagesByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	domainchat.SortChronologically(messages)

	resolver := newProfiles(h.Users)
	out := make([]dto.Message, 0, len(messages))
	for _, msg := range messages {
		view, err := resolver.message(ctx, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

var _ queries.Handler[ListMessagesQuery, []dto.Message] = (*ListMessagesHandler)(nil)
