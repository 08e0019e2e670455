package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront/internal/domain/user"
)

const (
	ticketIssuer   = "storefront"
	ticketAudience = "realtime"
)

var (
	ErrTicketSecret  = errors.New("security: ticket secret must be at least 32 bytes")
	ErrInvalidTicket = errors.New("security: invalid ticket")
)

// TicketClaims identify the user a websocket connection belongs to.
type TicketClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Ticket is the verified content of a socket ticket.
type Ticket struct {
	UserID    user.ID
	Role      user.Role
	ExpiresAt time.Time
}

// TicketIssuer signs short lived HS256 tickets exchanged for a websocket upgrade.
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTicketIssuer(secret string, ttl time.Duration) (*TicketIssuer, error) {
	if len(strings.TrimSpace(secret)) < 32 {
		return nil, ErrTicketSecret
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TicketIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (i *TicketIssuer) Issue(userID user.ID, role user.Role) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.ttl)
	claims := TicketClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(userID),
			Issuer:    ticketIssuer,
			Audience:  jwt.ClaimStrings{ticketAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("security: sign ticket: %w", err)
	}
	return signed, expires, nil
}

func (i *TicketIssuer) Verify(raw string) (Ticket, error) {
	var claims TicketClaims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwt.WithIssuer(ticketIssuer),
		jwt.WithAudience(ticketAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.Subject == "" {
		return Ticket{}, fmt.Errorf("%w: missing subject", ErrInvalidTicket)
	}
	role, err := user.ParseRole(claims.Role)
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	return Ticket{
		UserID:    user.ID(claims.Subject),
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
