package memory

import (
	"context"
	"sync"
	"time"

	domainauth "storefront/internal/domain/auth"
	domainuser "storefront/internal/domain/user"
)

// SessionStore keeps bearer sessions in memory, indexed by token and by user.
type SessionStore struct {
	mu     sync.RWMutex
	tokens map[domainauth.Token]domainauth.Session
	byUser map[domainuser.ID]map[domainauth.Token]struct{}
	now    func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		tokens: make(map[domainauth.Token]domainauth.Session),
		byUser: make(map[domainuser.ID]map[domainauth.Token]struct{}),
		now:    time.Now,
	}
}

func (s *SessionStore) Save(_ context.Context, session *domainauth.Session) error {
	if session == nil || session.Token == "" {
		return domainauth.ErrTokenRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[session.Token] = *session
	index, ok := s.byUser[session.UserID]
	if !ok {
		index = make(map[domainauth.Token]struct{})
		s.byUser[session.UserID] = index
	}
	index[session.Token] = struct{}{}
	return nil
}

// Get evicts and reports expired sessions as missing.
func (s *SessionStore) Get(_ context.Context, token domainauth.Token) (*domainauth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.tokens[token]
	if !ok {
		return nil, domainauth.ErrSessionNotFound
	}
	if session.Expired(s.now()) {
		s.deleteLocked(token)
		return nil, domainauth.ErrSessionNotFound
	}
	return &session, nil
}

func (s *SessionStore) Delete(_ context.Context, token domainauth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(token)
	return nil
}

func (s *SessionStore) DeleteByUser(_ context.Context, userID domainuser.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.byUser[userID] {
		delete(s.tokens, token)
	}
	delete(s.byUser, userID)
	return nil
}

func (s *SessionStore) deleteLocked(token domainauth.Token) {
	session, ok := s.tokens[token]
	if !ok {
		return
	}
	delete(s.tokens, token)
	if index, ok := s.byUser[session.UserID]; ok {
		delete(index, token)
		if len(index) == 0 {
			delete(s.byUser, session.UserID)
		}
	}
}

var _ domainauth.SessionStore = (*SessionStore)(nil)
