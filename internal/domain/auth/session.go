package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"storefront/internal/domain/user"
)

var (
	ErrTokenRequired   = errors.New("auth: token is required")
	ErrUserRequired    = errors.New("auth: user is required")
	ErrTTLInvalid      = errors.New("auth: ttl must be positive")
	ErrSessionNotFound = errors.New("auth: session not found")
)

// Token is an opaque bearer credential.
type Token string

// Session binds a bearer token to a user until ExpiresAt. Role records the role at
// login for audit logs only; requests always resolve the current role from the user.
type Session struct {
	Token     Token     `json:"token"`
	UserID    user.ID   `json:"user_id"`
	Role      user.Role `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue opens a session for u lasting ttl from now.
func Issue(token Token, u *user.User, ttl time.Duration, now time.Time) (*Session, error) {
	if strings.TrimSpace(string(token)) == "" {
		return nil, ErrTokenRequired
	}
	if u == nil || strings.TrimSpace(string(u.ID)) == "" {
		return nil, ErrUserRequired
	}
	if ttl <= 0 {
		return nil, ErrTTLInvalid
	}
	if now.IsZero() {
		now = time.Now()
	}
	issued := now.UTC()
	return &Session{
		Token:     Token(strings.TrimSpace(string(token))),
		UserID:    u.ID,
		Role:      u.Role,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}, nil
}

// Remaining is how long the session stays valid after at; zero once expired.
func (s *Session) Remaining(at time.Time) time.Duration {
	left := s.ExpiresAt.Sub(at)
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) Expired(at time.Time) bool {
	return s.Remaining(at) == 0
}

type SessionStore interface {
	Save(ctx context.Context, session *Session) error
	// Get reports a missing or expired session as ErrSessionNotFound.
	Get(ctx context.Context, token Token) (*Session, error)
	Delete(ctx context.Context, token Token) error
	DeleteByUser(ctx context.Context, userID user.ID) error
}
