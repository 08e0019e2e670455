package chat

import (
	"errors"
	"sort"
	"strings"
	"time"

	"storefront/internal/domain/user"
)

var (
	ErrConversationIDRequired = errors.New("chat: conversation id is required")
	ErrConversationNotFound   = errors.New("chat: conversation not found")
	ErrParticipantRequired    = errors.New("chat: participant id is required")
	ErrSelfConversation       = errors.New("chat: cannot start a conversation with yourself")
	ErrPairRequired           = errors.New("chat: conversation requires exactly two participants")
)

type ConversationID string

// PairKey is the canonical identity of a two-party conversation: the sorted participant IDs
// joined by "|". Stores enforce uniqueness on it.
type PairKey string

const pairSeparator = "|"

func NewPairKey(a, b user.ID) (PairKey, error) {
	left := strings.TrimSpace(string(a))
	right := strings.TrimSpace(string(b))
	if left == "" || right == "" {
		return "", ErrParticipantRequired
	}
	if left == right {
		return "", ErrSelfConversation
	}
	if right < left {
		left, right = right, left
	}
	return PairKey(left + pairSeparator + right), nil
}

// Members splits the key back into its two user IDs.
func (k PairKey) Members() (user.ID, user.ID) {
	left, right, _ := strings.Cut(string(k), pairSeparator)
	return user.ID(left), user.ID(right)
}

// Participant links a user to a conversation with the role held at join time.
type Participant struct {
	UserID   user.ID
	Role     user.Role
	JoinedAt time.Time
}

type Conversation struct {
	ID           ConversationID
	PairKey      PairKey
	Participants []Participant
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type NewConversationParams struct {
	ID           ConversationID
	Participants []Participant
	Now          time.Time
}

func NewConversation(params NewConversationParams) (*Conversation, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrConversationIDRequired
	}
	if len(params.Participants) != 2 {
		return nil, ErrPairRequired
	}
	key, err := NewPairKey(params.Participants[0].UserID, params.Participants[1].UserID)
	if err != nil {
		return nil, err
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	participants := make([]Participant, 0, len(params.Participants))
	for _, p := range params.Participants {
		participants = append(participants, Participant{
			UserID:   user.ID(strings.TrimSpace(string(p.UserID))),
			Role:     p.Role,
			JoinedAt: now,
		})
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return &Conversation{
		ID:           ConversationID(id),
		PairKey:      key,
		Participants: participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (c *Conversation) HasParticipant(id user.ID) bool {
	_, ok := c.Participant(id)
	return ok
}

func (c *Conversation) Participant(id user.ID) (Participant, bool) {
	if c == nil {
		return Participant{}, false
	}
	for _, p := range c.Participants {
		if p.UserID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (c *Conversation) ParticipantIDs() []user.ID {
	ids := make([]user.ID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Others returns every participant except id.
func (c *Conversation) Others(id user.ID) []user.ID {
	ids := make([]user.ID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.UserID != id {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// Touch moves the last-activity timestamp forward; it never moves it back.
func (c *Conversation) Touch(at time.Time) {
	at = at.UTC()
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	return &out
}

// SortByActivity orders conversations by last activity, newest first, ties broken by ID.
func SortByActivity(conversations []*Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		a, b := conversations[i], conversations[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
}
