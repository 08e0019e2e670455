package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	domainuser "storefront/internal/domain/user"
	"storefront/internal/infra/config"
	"storefront/internal/infra/storage/storetest"
)

// newTestStore needs SCYLLA_TEST_HOSTS (comma separated); tables live in storefront_test.
func newTestStore(t *testing.T) *ChatStore {
	t.Helper()
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	session, err := NewSession(context.Background(), config.ScyllaConfig{
		Hosts:       strings.Split(hosts, ","),
		Keyspace:    "storefront_test",
		Consistency: "ONE",
		Timeout:     10 * time.Second,
		Replication: 1,
	}, nil)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(session.Close)
	return NewChatStore(session, nil)
}

func TestChatStoreContract(t *testing.T) {
	storetest.RunChatStore(t, newTestStore(t))
}

func TestInboxIgnoresLeftoverClaimLoser(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	customer := domainuser.ID("amy-" + uuid.NewString()[:8])
	admin := domainuser.ID("zed-" + uuid.NewString()[:8])

	winner := storetest.Conversation(t, uuid.NewString(), customer, admin, storetest.Base)
	if _, created, err := store.EnsureConversation(ctx, winner); err != nil || !created {
		t.Fatalf("ensure: created=%v err=%v", created, err)
	}

	// rows of a loser whose cleanup never ran
	loser := storetest.Conversation(t, uuid.NewString(), customer, admin, storetest.Base.Add(time.Hour))
	if err := store.insertConversation(ctx, loser); err != nil {
		t.Fatalf("insert loser: %v", err)
	}
	if err := store.indexConversation(ctx, loser); err != nil {
		t.Fatalf("index loser: %v", err)
	}

	for _, uid := range []domainuser.ID{customer, admin} {
		inbox, err := store.ConversationsForUser(ctx, uid)
		if err != nil {
			t.Fatalf("inbox: %v", err)
		}
		if len(inbox) != 1 || inbox[0].ID != winner.ID {
			t.Fatalf("inbox of %s should only hold the claimed conversation, got %d entries", uid, len(inbox))
		}
	}

	// a later get-or-create for the pair still resolves to the winner
	again := storetest.Conversation(t, uuid.NewString(), admin, customer, storetest.Base)
	got, created, err := store.EnsureConversation(ctx, again)
	if err != nil || created || got.ID != winner.ID {
		t.Fatalf("expected existing %s, got %+v created=%v err=%v", winner.ID, got, created, err)
	}
}
