package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/domain/user"
)

type EventType string

const (
	MessageCreated      EventType = "message.created"
	ConversationCreated EventType = "conversation.created"
)

const (
	userChannelPrefix         = "user:"
	conversationChannelPrefix = "conversation:"
	roleChannelPrefix         = "role:"
)

var ErrInvalidEvent = errors.New("notify: invalid event")

// Event is a best-effort invalidation signal. The store stays the source of truth;
// receivers re-read over HTTP when in doubt.
type Event struct {
	ID             string          `json:"id"`
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id"`
	Recipients     []user.ID       `json:"recipients,omitempty"`
	Roles          []user.Role     `json:"roles,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	switch e.Type {
	case MessageCreated, ConversationCreated:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if strings.TrimSpace(e.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidEvent)
	}
	return nil
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	return json.Unmarshal(e.Payload, out)
}

func UserChannel(id user.ID) string { return userChannelPrefix + string(id) }

func ConversationChannel(id string) string { return conversationChannelPrefix + id }

func RoleChannel(role user.Role) string { return roleChannelPrefix + string(role) }

// Channels lists every channel the event is addressed to, without duplicates:
// one per recipient, the conversation channel, then one per role.
func Channels(e Event) []string {
	out := make([]string, 0, len(e.Recipients)+len(e.Roles)+1)
	seen := make(map[string]struct{}, cap(out))
	add := func(ch string) {
		if _, ok := seen[ch]; ok {
			return
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	for _, id := range e.Recipients {
		if id != "" {
			add(UserChannel(id))
		}
	}
	if e.ConversationID != "" {
		add(ConversationChannel(e.ConversationID))
	}
	for _, role := range e.Roles {
		if role != "" {
			add(RoleChannel(role))
		}
	}
	return out
}

// ParseChannel splits a channel name into its kind prefix and identifier.
func ParseChannel(channel string) (kind, id string, ok bool) {
	for _, prefix := range []string{userChannelPrefix, conversationChannelPrefix, roleChannelPrefix} {
		if rest, found := strings.CutPrefix(channel, prefix); found && rest != "" {
			return strings.TrimSuffix(prefix, ":"), rest, true
		}
	}
	return "", "", false
}
