package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

const (
	openSupportKey = "chat.open_support"
	openDirectKey  = "chat.open_direct"
)

// OpenSupportConversationCommand opens (or returns) the customer's conversation with support.
type OpenSupportConversationCommand struct {
	CustomerID string
}

func (c OpenSupportConversationCommand) Key() string { return openSupportKey }

func (c OpenSupportConversationCommand) Validate() error {
	if strings.TrimSpace(c.CustomerID) == "" {
		return fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	return nil
}

type OpenSupportConversationHandler struct {
	Directory *Directory
	Router    SupportRouter
}

func (h *OpenSupportConversationHandler) Handle(ctx context.Context, cmd OpenSupportConversationCommand) (*dto.OpenedConversation, error) {
	admin, err := h.Router.ResolveAdmin(ctx)
	if err != nil {
		return nil, err
	}
	conv, created, err := h.Directory.Open(ctx, OpenParams{
		Initiator: user.ID(cmd.CustomerID),
		Peer:      admin.ID,
		Support:   true,
	})
	if err != nil {
		return nil, err
	}
	return openedView(ctx, h.Directory, conv, created)
}

// OpenDirectConversationCommand lets an admin open a conversation with any user.
type OpenDirectConversationCommand struct {
	AdminID string
	PeerID  string
}

func (c OpenDirectConversationCommand) Key() string { return openDirectKey }

// Validate only checks the caller; the peer is checked after the admin role so a
// non-admin is refused whatever the payload.
func (c OpenDirectConversationCommand) Validate() error {
	if strings.TrimSpace(c.AdminID) == "" {
		return fmt.Errorf("%w: caller is required", ErrInvalidInput)
	}
	return nil
}

type OpenDirectConversationHandler struct {
	Directory *Directory
}

func (h *OpenDirectConversationHandler) Handle(ctx context.Context, cmd OpenDirectConversationCommand) (*dto.OpenedConversation, error) {
	caller, err := h.Directory.Users.ByID(ctx, user.ID(cmd.AdminID))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("%w: caller is unknown", ErrUnauthorized)
		}
		return nil, err
	}
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	conv, created, err := h.Directory.Open(ctx, OpenParams{
		Initiator: caller.ID,
		Peer:      user.ID(cmd.PeerID),
	})
	if err != nil {
		return nil, err
	}
	return openedView(ctx, h.Directory, conv, created)
}

func openedView(ctx context.Context, d *Directory, conv *domainchat.Conversation, created bool) (*dto.OpenedConversation, error) {
	latest, err := latestMessage(ctx, d.Store, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("chat: load latest message: %w", err)
	}
	view, err := newProfiles(d.Users).conversation(ctx, conv, latest)
	if err != nil {
		return nil, err
	}
	return &dto.OpenedConversation{Conversation: view, Created: created}, nil
}

var (
	_ commands.Handler[OpenSupportConversationCommand, *dto.OpenedConversation] = (*OpenSupportConversationHandler)(nil)
	_ commands.Handler[OpenDirectConversationCommand, *dto.OpenedConversation]  = (*OpenDirectConversationHandler)(nil)
)
