package chat

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/app/commands"
	"storefront/internal/app/middleware"
	"storefront/internal/app/notify"
	"storefront/internal/app/queries"
	"storefront/internal/domain/user"
	"storefront/internal/infra/storage/memory"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	store  *memory.ChatStore
	users  *memory.UserRepository
	bus    *notify.MemoryBus
	dir    *Directory
	cmds   commands.Bus
	qs     queries.Bus
	ticks  atomic.Int64
	nextID atomic.Int64
}

type harnessOption func(*harness, *SupportRouter)

func withPreferredAdmin(id user.ID) harnessOption {
	return func(_ *harness, r *SupportRouter) { r.PreferredAdmin = id }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store: memory.NewChatStore(),
		users: memory.NewUserRepository(),
		bus:   notify.NewMemoryBus(),
	}
	newID := func() string { return fmt.Sprintf("id-%04d", h.nextID.Add(1)) }
	now := func() time.Time { return epoch.Add(time.Duration(h.ticks.Add(1)) * time.Second) }
	notifier := notify.Synchronous{Publisher: h.bus}

	h.dir = &Directory{Store: h.store, Users: h.users, Notifier: notifier, NewID: newID, Now: now}
	router := SupportRouter{Users: h.users}
	for _, opt := range opts {
		opt(h, &router)
	}

	cmdReg := commands.NewRegistry()
	qReg := queries.NewRegistry()
	Handlers{
		OpenSupport: &OpenSupportConversationHandler{Directory: h.dir, Router: router},
		OpenDirect:  &OpenDirectConversationHandler{Directory: h.dir},
		PostMessage: &PostMessageHandler{
			Store: h.store, Users: h.users, Notifier: notifier, NewID: newID, Now: now,
		},
		ListMessages:      &ListMessagesHandler{Store: h.store, Users: h.users},
		ListConversations: &ListConversationsHandler{Store: h.store, Users: h.users},
	}.Register(cmdReg, qReg)

	h.cmds = middleware.ChainCommands(cmdReg,
		middleware.Validation(),
		middleware.Idempotency(memory.NewIdempotencyStore(time.Hour), nil, nil),
	)
	h.qs = middleware.ChainQueries(qReg, middleware.QueryValidation())
	return h
}

func (h *harness) addUser(t *testing.T, id, name string, role user.Role, createdAt time.Time) *user.User {
	t.Helper()
	u, err := user.NewUser(user.CreateParams{
		ID:           user.ID(id),
		Email:        id + "@example.com",
		Name:         name,
		PasswordHash: "hash",
		Role:         role,
		CreatedAt:    createdAt,
	})
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if err := h.users.Save(context.Background(), u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return u
}

// seed adds an admin, two customers and a rider.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	h.addUser(t, "admin", "Support", user.RoleAdmin, epoch.Add(-48*time.Hour))
	h.addUser(t, "alice", "Alice", user.RoleCustomer, epoch.Add(-24*time.Hour))
	h.addUser(t, "bob", "Bob", user.RoleCustomer, epoch.Add(-23*time.Hour))
	h.addUser(t, "rick", "Rick", user.RoleRider, epoch.Add(-22*time.Hour))
}

func (h *harness) eventsOfType(kind notify.EventType) []notify.Event {
	var out []notify.Event
	for _, e := range h.bus.Events() {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}
