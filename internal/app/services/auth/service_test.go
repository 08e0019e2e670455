package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domainauth "storefront/internal/domain/auth"
	domainuser "storefront/internal/domain/user"
	"storefront/internal/infra/storage/memory"
)

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (plainHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type sequenceTokens struct{ n int }

func (g *sequenceTokens) NewToken() (string, error) {
	g.n++
	return fmt.Sprintf("token-%d", g.n), nil
}

func newService() *Service {
	return &Service{
		Users:     memory.NewUserRepository(),
		Sessions:  memory.NewSessionStore(),
		Passwords: plainHasher{},
		Tokens:    &sequenceTokens{},
	}
}

func TestRegisterDefaultsToCustomer(t *testing.T) {
	svc := newService()
	result, err := svc.Register(context.Background(), RegisterParams{
		Email: " Alice@Example.com ", Name: " Alice ", Password: "password123",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.User.Role != domainuser.RoleCustomer || result.User.Email != "alice@example.com" || result.User.Name != "Alice" {
		t.Fatalf("unexpected user %+v", result.User)
	}
	if result.Session.UserID != result.User.ID || !result.Session.ExpiresAt.After(time.Now().Add(23*time.Hour)) {
		t.Fatalf("unexpected session %+v", result.Session)
	}
}

func TestRegisterRejects(t *testing.T) {
	cases := []struct {
		name   string
		params RegisterParams
		want   error
	}{
		{name: "admin role", params: RegisterParams{Email: "a@b.c", Name: "A", Password: "password123", Role: "admin"}, want: ErrRoleNotAllowed},
		{name: "unknown role", params: RegisterParams{Email: "a@b.c", Name: "A", Password: "password123", Role: "pilot"}, want: domainuser.ErrInvalidRole},
		{name: "short password", params: RegisterParams{Email: "a@b.c", Name: "A", Password: "short"}, want: ErrPasswordTooShort},
		{name: "no email", params: RegisterParams{Name: "A", Password: "password123"}, want: domainuser.ErrEmailRequired},
		{name: "no name", params: RegisterParams{Email: "a@b.c", Password: "password123"}, want: domainuser.ErrNameRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := newService().Register(context.Background(), tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLoginAndResolve(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	if _, err := svc.Register(ctx, RegisterParams{Email: "rick@example.com", Name: "Rick", Password: "password123", Role: "rider"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, LoginParams{Email: "rick@example.com", Password: "nope-nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginParams{Email: "nobody@example.com", Password: "password123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}

	login, err := svc.Login(ctx, LoginParams{Email: "RICK@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resolved, err := svc.ResolveToken(ctx, " "+string(login.Session.Token)+" ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.User.Role != domainuser.RoleRider {
		t.Fatalf("expected rider, got %s", resolved.User.Role)
	}

	if err := svc.Logout(ctx, string(login.Session.Token)); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.ResolveToken(ctx, string(login.Session.Token)); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestResolvePurgesSessionsOfMissingUser(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	ghost := &domainuser.User{ID: "ghost", Role: domainuser.RoleCustomer}
	for _, token := range []domainauth.Token{"g1", "g2"} {
		session, err := domainauth.Issue(token, ghost, time.Hour, time.Now())
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if err := svc.Sessions.Save(ctx, session); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	if _, err := svc.ResolveToken(ctx, "g1"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Sessions.Get(ctx, "g2"); !errors.Is(err, domainauth.ErrSessionNotFound) {
		t.Fatalf("sibling session should be purged, got %v", err)
	}
}

func TestLogoutEverywhere(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	first, err := svc.Register(ctx, RegisterParams{Email: "a@example.com", Name: "A", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := svc.Login(ctx, LoginParams{Email: "a@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := svc.LogoutEverywhere(ctx, ""); !errors.Is(err, domainauth.ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}
	if err := svc.LogoutEverywhere(ctx, first.User.ID); err != nil {
		t.Fatalf("logout everywhere: %v", err)
	}
	for _, token := range []domainauth.Token{first.Session.Token, second.Session.Token} {
		if _, err := svc.ResolveToken(ctx, string(token)); !errors.Is(err, domainauth.ErrSessionNotFound) {
			t.Fatalf("token %s should be revoked, got %v", token, err)
		}
	}
}

func TestServiceRequiresDependencies(t *testing.T) {
	if _, err := (&Service{}).Login(context.Background(), LoginParams{Email: "a@b.c", Password: "x"}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}
