package chat

import (
	"context"
	"errors"

	"storefront/internal/app/dto"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

// profiles resolves display fields for users, memoising lookups within one request.
type profiles struct {
	repo  user.Repository
	cache map[user.ID]*user.User
}

func newProfiles(repo user.Repository) *profiles {
	return &profiles{repo: repo, cache: make(map[user.ID]*user.User)}
}

// get returns nil without error for users that no longer exist.
func (p *profiles) get(ctx context.Context, id user.ID) (*user.User, error) {
	if u, ok := p.cache[id]; ok {
		return u, nil
	}
	u, err := p.repo.ByID(ctx, id)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}
	p.cache[id] = u
	return u, nil
}

func (p *profiles) message(ctx context.Context, msg *domainchat.Message) (dto.Message, error) {
	sender, err := p.get(ctx, msg.SenderID)
	if err != nil {
		return dto.Message{}, err
	}
	return messageView(msg, sender), nil
}

func (p *profiles) conversation(ctx context.Context, conv *domainchat.Conversation, latest *domainchat.Message) (dto.Conversation, error) {
	view := dto.Conversation{
		ID:           string(conv.ID),
		Participants: make([]dto.Participant, 0, len(conv.Participants)),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
	for _, part := range conv.Participants {
		u, err := p.get(ctx, part.UserID)
		if err != nil {
			return dto.Conversation{}, err
		}
		entry := dto.Participant{UserID: string(part.UserID), Role: string(part.Role)}
		if u != nil {
			entry.Name = u.Name
		}
		view.Participants = append(view.Participants, entry)
	}
	if latest != nil {
		msg, err := p.message(ctx, latest)
		if err != nil {
			return dto.Conversation{}, err
		}
		view.LastMessage = &msg
	}
	return view, nil
}

func messageView(msg *domainchat.Message, sender *user.User) dto.Message {
	view := dto.Message{
		ID:             string(msg.ID),
		ConversationID: string(msg.ConversationID),
		SenderID:       string(msg.SenderID),
		Content:        msg.Text,
		AttachmentURL:  msg.AttachmentURL,
		CreatedAt:      msg.CreatedAt,
	}
	if sender != nil {
		view.SenderName = sender.Name
		view.SenderRole = string(sender.Role)
	}
	return view
}

// latestMessage returns nil for an empty conversation.
func latestMessage(ctx context.Context, store domainchat.MessageRepository, id domainchat.ConversationID) (*domainchat.Message, error) {
	msg, err := store.LatestMessage(ctx, id)
	if errors.Is(err, domainchat.ErrNoMessages) {
		return nil, nil
	}
	return msg, err
}
