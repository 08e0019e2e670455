package chat

import (
	"context"
	"time"

	"storefront/internal/domain/user"
)

type ConversationRepository interface {
	// EnsureConversation stores conv unless a conversation with the same pair key exists.
	// It returns the stored conversation and whether this call created it. Implementations
	// must make this atomic with respect to the pair key.
	EnsureConversation(ctx context.Context, conv *Conversation) (*Conversation, bool, error)
	ConversationByID(ctx context.Context, id ConversationID) (*Conversation, error)
	ConversationByPair(ctx context.Context, key PairKey) (*Conversation, error)
	// ConversationsForUser returns conversations the user participates in, newest activity first.
	ConversationsForUser(ctx context.Context, userID user.ID) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id ConversationID, at time.Time) error
}

type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *Message) error
	// MessagesByConversation returns every message in ascending creation order.
	MessagesByConversation(ctx context.Context, id ConversationID) ([]*Message, error)
	// LatestMessage returns ErrNoMessages for an empty conversation.
	LatestMessage(ctx context.Context, id ConversationID) (*Message, error)
}

type Store interface {
	ConversationRepository
	MessageRepository
	Ping(ctx context.Context) error
}
