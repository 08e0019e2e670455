package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	domainchat "storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
)

var errNilConversation = errors.New("memory: conversation is nil")

// ChatStore keeps conversations and messages in memory. A single mutex guards the pair
// index, which makes EnsureConversation atomic per pair.
type ChatStore struct {
	mu            sync.RWMutex
	conversations map[domainchat.ConversationID]*domainchat.Conversation
	byPair        map[domainchat.PairKey]domainchat.ConversationID
	byUser        map[domainuser.ID]map[domainchat.ConversationID]struct{}
	messages      map[domainchat.ConversationID][]*domainchat.Message
}

func NewChatStore() *ChatStore {
	return &ChatStore{
		conversations: make(map[domainchat.ConversationID]*domainchat.Conversation),
		byPair:        make(map[domainchat.PairKey]domainchat.ConversationID),
		byUser:        make(map[domainuser.ID]map[domainchat.ConversationID]struct{}),
		messages:      make(map[domainchat.ConversationID][]*domainchat.Message),
	}
}

func (s *ChatStore) EnsureConversation(_ context.Context, conv *domainchat.Conversation) (*domainchat.Conversation, bool, error) {
	if conv == nil {
		return nil, false, errNilConversation
	}
	if conv.PairKey == "" {
		return nil, false, domainchat.ErrPairRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byPair[conv.PairKey]; ok {
		return s.conversations[id].Clone(), false, nil
	}
	stored := conv.Clone()
	s.conversations[stored.ID] = stored
	s.byPair[stored.PairKey] = stored.ID
	for _, p := range stored.Participants {
		index, ok := s.byUser[p.UserID]
		if !ok {
			index = make(map[domainchat.ConversationID]struct{})
			s.byUser[p.UserID] = index
		}
		index[stored.ID] = struct{}{}
	}
	return stored.Clone(), true, nil
}

func (s *ChatStore) ConversationByID(_ context.Context, id domainchat.ConversationID) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (s *ChatStore) ConversationByPair(_ context.Context, key domainchat.PairKey) (*domainchat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[key]
	if !ok {
		return nil, domainchat.ErrConversationNotFound
	}
	return s.conversations[id].Clone(), nil
}

func (s *ChatStore) ConversationsForUser(_ context.Context, userID domainuser.ID) ([]*domainchat.Conversation, error) {
	s.mu.RLock()
	out := make([]*domainchat.Conversation, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		out = append(out, s.conversations[id].Clone())
	}
	s.mu.RUnlock()
	domainchat.SortByActivity(out)
	return out, nil
}

func (s *ChatStore) TouchConversation(_ context.Context, id domainchat.ConversationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domainchat.ErrConversationNotFound
	}
	conv.Touch(at)
	return nil
}

func (s *ChatStore) AppendMessage(_ context.Context, msg *domainchat.Message) error {
	if msg == nil {
		return domainchat.ErrMessageIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return domainchat.ErrConversationNotFound
	}
	copyMsg := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copyMsg)
	return nil
}

func (s *ChatStore) MessagesByConversation(_ context.Context, id domainchat.ConversationID) ([]*domainchat.Message, error) {
	s.mu.RLock()
	stored := s.messages[id]
	out := make([]*domainchat.Message, 0, len(stored))
	for _, msg := range stored {
		copyMsg := *msg
		out = append(out, &copyMsg)
	}
	s.mu.RUnlock()
	domainchat.SortChronologically(out)
	return out, nil
}

func (s *ChatStore) LatestMessage(ctx context.Context, id domainchat.ConversationID) (*domainchat.Message, error) {
	messages, err := s.MessagesByConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, domainchat.ErrNoMessages
	}
	return messages[len(messages)-1], nil
}

func (s *ChatStore) Ping(context.Context) error { return nil }

var _ domainchat.Store = (*ChatStore)(nil)
