package chat

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/app/dto"
	"storefront/internal/app/queries"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

const listConversationsKey = "chat.list_conversations"

type ListConversationsQuery struct {
	UserID string
}

func (q ListConversationsQuery) Key() string { return listConversationsKey }

func (q ListConversationsQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return nil
}

type ListConversationsHandler struct {
	Store domainchat.Store
	Users user.Repository
}

// Handle returns the user's inbox, most recent activity first.
func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) ([]dto.Conversation, error) {
	userID := user.ID(strings.TrimSpace(q.UserID))
	conversations, err := h.Store.ConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	domainchat.SortByActivity(conversations)

	resolver := newProfiles(h.Users)
	out := make([]dto.Conversation, 0, len(conversations))
	for _, conv := range conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		latest, err := latestMessage(ctx, h.Store, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("chat: load latest message: %w", err)
		}
		view, err := resolver.conversation(ctx, conv, latest)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

var _ queries.Handler[ListConversationsQuery, []dto.Conversation] = (*ListConversationsHandler)(nil)
