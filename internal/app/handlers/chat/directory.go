package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/app/notify"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

// Directory resolves the single conversation between two users, creating it on first contact.
type Directory struct {
	Store    domainchat.Store
	Users    user.Repository
	Notifier notify.Notifier
	NewID    func() string
	Now      func() time.Time
	Logger   *slog.Logger
}

type OpenParams struct {
	Initiator user.ID
	Peer      user.ID
	// Support conversations are also announced on the admin role channel.
	Support bool
}

// GetOrCreate is order independent: (a, b) and (b, a) resolve to the same conversation.
func (d *Directory) GetOrCreate(ctx context.Context, a, b user.ID) (*domainchat.Conversation, bool, error) {
	return d.Open(ctx, OpenParams{Initiator: a, Peer: b})
}

func (d *Directory) Open(ctx context.Context, params OpenParams) (*domainchat.Conversation, bool, error) {
	if err := d.ensureDependencies(); err != nil {
		return nil, false, err
	}
	initiatorID := user.ID(strings.TrimSpace(string(params.Initiator)))
	peerID := user.ID(strings.TrimSpace(string(params.Peer)))
	key, err := domainchat.NewPairKey(initiatorID, peerID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	initiator, err := d.loadUser(ctx, initiatorID)
	if err != nil {
		return nil, false, err
	}
	peer, err := d.loadUser(ctx, peerID)
	if err != nil {
		return nil, false, err
	}

	existing, err := d.Store.ConversationByPair(ctx, key)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, domainchat.ErrConversationNotFound):
		return nil, false, fmt.Errorf("chat: lookup conversation: %w", err)
	}

	conv, err := domainchat.NewConversation(domainchat.NewConversationParams{
		ID: domainchat.ConversationID(d.NewID()),
		Participants: []domainchat.Participant{
			{UserID: initiator.ID, Role: initiator.Role},
			{UserID: peer.ID, Role: peer.Role},
		},
		Now: d.now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	stored, created, err := d.Store.EnsureConversation(ctx, conv)
	if err != nil {
		return nil, false, fmt.Errorf("chat: ensure conversation: %w", err)
	}
	if created {
		d.announce(ctx, stored, initiator.ID, params.Support)
	}
	return stored, created, nil
}

// IsParticipant reports membership. An unknown conversation is ErrNotFound.
func (d *Directory) IsParticipant(ctx context.Context, conversationID string, userID user.ID) (bool, error) {
	if d.Store == nil {
		return false, errors.New("chat: store not configured")
	}
	id := strings.TrimSpace(conversationID)
	if id == "" || userID == "" {
		return false, ErrInvalidInput
	}
	conv, err := d.Store.ConversationByID(ctx, domainchat.ConversationID(id))
	if err != nil {
		if errors.Is(err, domainchat.ErrConversationNotFound) {
			return false, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return false, err
	}
	return conv.HasParticipant(userID), nil
}

func (d *Directory) announce(ctx context.Context, conv *domainchat.Conversation, initiator user.ID, support bool) {
	if d.Notifier == nil {
		return
	}
	view, err := newProfiles(d.Users).conversation(ctx, conv, nil)
	if err != nil {
		d.logger().WarnContext(ctx, "conversation announcement skipped", "conversation_id", conv.ID, "error", err)
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		d.logger().WarnContext(ctx, "conversation announcement skipped", "conversation_id", conv.ID, "error", err)
		return
	}
	event := notify.Event{
		ID:             d.NewID(),
		Type:           notify.ConversationCreated,
		ConversationID: string(conv.ID),
		Recipients:     conv.Others(initiator),
		Payload:        payload,
		OccurredAt:     conv.CreatedAt,
	}
	if support {
		event.Roles = []user.Role{user.RoleAdmin}
	}
	d.Notifier.Notify(ctx, event)
}

func (d *Directory) loadUser(ctx context.Context, id user.ID) (*user.User, error) {
	u, err := d.Users.ByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s: %w", ErrNotFound, id, err)
		}
		return nil, fmt.Errorf("chat: load user: %w", err)
	}
	return u, nil
}

func (d *Directory) ensureDependencies() error {
	switch {
	case d.Store == nil:
		return errors.New("chat: store not configured")
	case d.Users == nil:
		return errors.New("chat: user repository not configured")
	case d.NewID == nil:
		return errors.New("chat: id generator not configured")
	}
	return nil
}

func (d *Directory) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Directory) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// SupportRouter picks the admin that answers customer support conversations.
type SupportRouter struct {
	Users user.Repository
	// PreferredAdmin wins when it names an existing ADMIN.
	PreferredAdmin user.ID
}

// ResolveAdmin returns the preferred admin if valid, else the earliest created admin.
func (r SupportRouter) ResolveAdmin(ctx context.Context) (*user.User, error) {
	if r.Users == nil {
		return nil, errors.New("chat: user repository not configured")
	}
	if r.PreferredAdmin != "" {
		u, err := r.Users.ByID(ctx, r.PreferredAdmin)
		switch {
		case err == nil && u.IsAdmin():
			return u, nil
		case err != nil && !errors.Is(err, user.ErrNotFound):
			return nil, fmt.Errorf("chat: load preferred admin: %w", err)
		}
	}
	admins, err := r.Users.ByRole(ctx, user.RoleAdmin, 1)
	if err != nil {
		return nil, fmt.Errorf("chat: list admins: %w", err)
	}
	if len(admins) == 0 {
		return nil, ErrNoAdminAvailable
	}
	return admins[0], nil
}
