// Package storetest holds behaviour checks shared by every chat store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	domainchat "storefront/internal/domain/chat"
	domainuser "storefront/internal/domain/user"
)

// RunChatStore exercises store through the domain contract. IDs are random, so durable
// backends can share a database between runs.
func RunChatStore(t *testing.T, store domainchat.Store) {
	t.Helper()
	t.Run("ensure converges under contention", func(t *testing.T) { ensureConverges(t, store) })
	t.Run("messages in order", func(t *testing.T) { messagesInOrder(t, store) })
	t.Run("inbox lists both participants by activity", func(t *testing.T) { inboxByActivity(t, store) })
	t.Run("missing conversation", func(t *testing.T) { missingConversation(t, store) })
}

// Base is millisecond aligned; some backends store no finer precision.
var Base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func uniqueUser(name string) domainuser.ID {
	return domainuser.ID(name + "-" + uuid.NewString()[:8])
}

// Conversation builds a valid two-party conversation between customer and admin.
func Conversation(t *testing.T, id string, customer, admin domainuser.ID, at time.Time) *domainchat.Conversation {
	t.Helper()
	conv, err := domainchat.NewConversation(domainchat.NewConversationParams{
		ID: domainchat.ConversationID(id),
		Participants: []domainchat.Participant{
			{UserID: customer, Role: domainuser.RoleCustomer},
			{UserID: admin, Role: domainuser.RoleAdmin},
		},
		Now: at,
	})
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	return conv
}

func ensureConverges(t *testing.T, store domainchat.Store) {
	ctx := context.Background()
	customer, admin := uniqueUser("amy"), uniqueUser("zed")

	const workers = 16
	candidates := make([]*domainchat.Conversation, workers)
	for i := range candidates {
		a, b := customer, admin
		if i%2 == 1 {
			a, b = b, a
		}
		candidates[i] = Conversation(t, uuid.NewString(), a, b, Base)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[domainchat.ConversationID]int{}
		created int
	)
	for _, conv := range candidates {
		wg.Add(1)
		go func(conv *domainchat.Conversation) {
			defer wg.Done()
			stored, isNew, err := store.EnsureConversation(ctx, conv)
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[stored.ID]++
			if isNew {
				created++
			}
		}(conv)
	}
	wg.Wait()

	if len(ids) != 1 || created != 1 {
		t.Fatalf("expected one conversation created once, got ids=%v created=%d", ids, created)
	}
	byPair, err := store.ConversationByPair(ctx, candidates[0].PairKey)
	if err != nil {
		t.Fatalf("by pair: %v", err)
	}
	if ids[byPair.ID] != workers {
		t.Fatalf("pair resolves to %s, callers saw %v", byPair.ID, ids)
	}
	for _, uid := range []domainuser.ID{customer, admin} {
		inbox, err := store.ConversationsForUser(ctx, uid)
		if err != nil {
			t.Fatalf("inbox %s: %v", uid, err)
		}
		if len(inbox) != 1 || inbox[0].ID != byPair.ID {
			t.Fatalf("inbox of %s should hold only %s, got %d entries", uid, byPair.ID, len(inbox))
		}
	}
}

func messagesInOrder(t *testing.T, store domainchat.Store) {
	ctx := context.Background()
	customer, admin := uniqueUser("amy"), uniqueUser("zed")
	conv, _, err := store.EnsureConversation(ctx, Conversation(t, uuid.NewString(), customer, admin, Base))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if _, err := store.LatestMessage(ctx, conv.ID); !errors.Is(err, domainchat.ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}

	// inserted out of order, with two messages sharing a timestamp
	plan := []struct {
		id     string
		offset time.Duration
	}{
		{"m3", 3 * time.Second},
		{"m1", time.Second},
		{"m2b", 2 * time.Second},
		{"m2a", 2 * time.Second},
	}
	for _, p := range plan {
		msg, err := domainchat.NewMessage(domainchat.NewMessageParams{
			ID:             domainchat.MessageID(fmt.Sprintf("%s-%s", conv.ID, p.id)),
			ConversationID: conv.ID,
			SenderID:       customer,
			Text:           p.id,
			CreatedAt:      Base.Add(p.offset),
		})
		if err != nil {
			t.Fatalf("new message: %v", err)
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("append %s: %v", p.id, err)
		}
	}

	msgs, err := store.MessagesByConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, m.Text)
	}
	if fmt.Sprint(got) != "[m1 m2a m2b m3]" {
		t.Fatalf("unexpected order %v", got)
	}
	latest, err := store.LatestMessage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Text != "m3" || !latest.CreatedAt.Equal(Base.Add(3*time.Second)) {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func inboxByActivity(t *testing.T, store domainchat.Store) {
	ctx := context.Background()
	admin := uniqueUser("admin")
	alice, bob := uniqueUser("alice"), uniqueUser("bob")

	withAlice, _, err := store.EnsureConversation(ctx, Conversation(t, uuid.NewString(), alice, admin, Base))
	if err != nil {
		t.Fatalf("ensure alice: %v", err)
	}
	withBob, _, err := store.EnsureConversation(ctx, Conversation(t, uuid.NewString(), bob, admin, Base.Add(time.Second)))
	if err != nil {
		t.Fatalf("ensure bob: %v", err)
	}
	if err := store.TouchConversation(ctx, withAlice.ID, Base.Add(time.Minute)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// an older touch never moves the conversation back
	if err := store.TouchConversation(ctx, withAlice.ID, Base.Add(30*time.Second)); err != nil {
		t.Fatalf("stale touch: %v", err)
	}

	inbox, err := store.ConversationsForUser(ctx, admin)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 2 || inbox[0].ID != withAlice.ID || inbox[1].ID != withBob.ID {
		t.Fatalf("unexpected admin inbox order: %v", inboxIDs(inbox))
	}
	if !inbox[0].UpdatedAt.Equal(Base.Add(time.Minute)) {
		t.Fatalf("touch not kept: %s", inbox[0].UpdatedAt)
	}

	bobs, err := store.ConversationsForUser(ctx, bob)
	if err != nil {
		t.Fatalf("bob inbox: %v", err)
	}
	if len(bobs) != 1 || bobs[0].ID != withBob.ID || !bobs[0].HasParticipant(admin) {
		t.Fatalf("unexpected bob inbox: %v", inboxIDs(bobs))
	}
}

func missingConversation(t *testing.T, store domainchat.Store) {
	ctx := context.Background()
	missing := domainchat.ConversationID(uuid.NewString())
	if _, err := store.ConversationByID(ctx, missing); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("by id: expected ErrConversationNotFound, got %v", err)
	}
	if _, err := store.ConversationByPair(ctx, domainchat.PairKey("nobody|"+uuid.NewString())); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("by pair: expected ErrConversationNotFound, got %v", err)
	}
	if err := store.TouchConversation(ctx, missing, Base); !errors.Is(err, domainchat.ErrConversationNotFound) {
		t.Fatalf("touch: expected ErrConversationNotFound, got %v", err)
	}
	inbox, err := store.ConversationsForUser(ctx, uniqueUser("ghost"))
	if err != nil || len(inbox) != 0 {
		t.Fatalf("empty inbox expected, got %d %v", len(inbox), err)
	}
}

func inboxIDs(convs []*domainchat.Conversation) []domainchat.ConversationID {
	ids := make([]domainchat.ConversationID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	return ids
}
