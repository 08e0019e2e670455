package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"storefront/internal/app/commands"
	"storefront/internal/app/dto"
	"storefront/internal/app/middleware"
	"storefront/internal/app/notify"
	"storefront/internal/app/queries"
	domainchat "storefront/internal/domain/chat"
	"storefront/internal/domain/user"
)

func (h *harness) openSupport(t *testing.T, customer string) *dto.OpenedConversation {
	t.Helper()
	opened, err := commands.Dispatch[OpenSupportConversationCommand, *dto.OpenedConversation](
		context.Background(), h.cmds, OpenSupportConversationCommand{CustomerID: customer})
	if err != nil {
		t.Fatalf("open support for %s: %v", customer, err)
	}
	return opened
}

func (h *harness) post(ctx context.Context, conv, sender, text, key string) (*dto.Message, error) {
	return commands.Dispatch[PostMessageCommand, *dto.Message](ctx, h.cmds, PostMessageCommand{
		ConversationID:  conv,
		SenderID:        sender,
		Text:            text,
		IdempotencyKeyV: key,
	})
}

func (h *harness) messages(t *testing.T, conv, requester string) []dto.Message {
	t.Helper()
	msgs, err := queries.Ask[ListMessagesQuery, []dto.Message](context.Background(), h.qs,
		ListMessagesQuery{ConversationID: conv, RequesterID: requester})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func (h *harness) inbox(t *testing.T, userID string) []dto.Conversation {
	t.Helper()
	convs, err := queries.Ask[ListConversationsQuery, []dto.Conversation](context.Background(), h.qs,
		ListConversationsQuery{UserID: userID})
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	return convs
}

func TestSupportConversationRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	opened := h.openSupport(t, "alice")
	if !opened.Created {
		t.Fatal("expected a new conversation")
	}
	if len(opened.Participants) != 2 || opened.LastMessage != nil {
		t.Fatalf("unexpected conversation view: %+v", opened.Conversation)
	}

	first, err := h.post(ctx, opened.ID, "alice", "Where is my order?", "")
	if err != nil {
		t.Fatalf("customer post: %v", err)
	}
	if first.SenderName != "Alice" || first.SenderRole != string(user.RoleCustomer) {
		t.Fatalf("sender not resolved: %+v", first)
	}
	if _, err := h.post(ctx, opened.ID, "admin", "It ships today.", ""); err != nil {
		t.Fatalf("admin reply: %v", err)
	}

	msgs := h.messages(t, opened.ID, "alice")
	if len(msgs) != 2 || msgs[0].Content != "Where is my order?" || msgs[1].Content != "It ships today." {
		t.Fatalf("unexpected history: %+v", msgs)
	}
	if !msgs[0].CreatedAt.Before(msgs[1].CreatedAt) {
		t.Fatal("history is not ascending")
	}

	adminInbox := h.inbox(t, "admin")
	if len(adminInbox) != 1 || adminInbox[0].ID != opened.ID {
		t.Fatalf("unexpected admin inbox: %+v", adminInbox)
	}
	if last := adminInbox[0].LastMessage; last == nil || last.Content != "It ships today." {
		t.Fatalf("unexpected last message: %+v", last)
	}
	if adminInbox[0].UnreadCount != 0 {
		t.Fatalf("unread count should be zero, got %d", adminInbox[0].UnreadCount)
	}

	again := h.openSupport(t, "alice")
	if again.Created || again.ID != opened.ID {
		t.Fatalf("expected the existing conversation, got %+v", again)
	}
}

func TestGetOrCreateIsSymmetric(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	ab, created, err := h.dir.GetOrCreate(ctx, "alice", "bob")
	if err != nil || !created {
		t.Fatalf("first open: created=%v err=%v", created, err)
	}
	ba, created, err := h.dir.GetOrCreate(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if created || ba.ID != ab.ID {
		t.Fatalf("expected %s reused, got %s (created=%v)", ab.ID, ba.ID, created)
	}
	if n := len(h.eventsOfType(notify.ConversationCreated)); n != 1 {
		t.Fatalf("expected one announcement, got %d", n)
	}
}

func TestGetOrCreateConvergesUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	const callers = 24
	ids := make([]domainchat.ConversationID, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := user.ID("alice"), user.ID("rick")
			if i%2 == 0 {
				a, b = b, a
			}
			conv, _, err := h.dir.GetOrCreate(ctx, a, b)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("callers disagree: %s vs %s", ids[i], ids[0])
		}
	}
	if n := len(h.inbox(t, "alice")); n != 1 {
		t.Fatalf("expected a single conversation, got %d", n)
	}
	if n := len(h.eventsOfType(notify.ConversationCreated)); n != 1 {
		t.Fatalf("expected one announcement, got %d", n)
	}
}

func TestOpenRejectsInvalidPairs(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	if _, _, err := h.dir.GetOrCreate(ctx, "alice", "alice"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self conversation: expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := h.dir.GetOrCreate(ctx, "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty peer: expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := h.dir.GetOrCreate(ctx, "alice", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown peer: expected ErrNotFound, got %v", err)
	}
	if convs := h.inbox(t, "alice"); len(convs) != 0 {
		t.Fatalf("rejected opens must not persist, got %d conversations", len(convs))
	}
	if events := h.bus.Events(); len(events) != 0 {
		t.Fatalf("rejected opens must not notify, got %d events", len(events))
	}
}

func TestSupportWithoutAdmins(t *testing.T) {
	h := newHarness(t)
	h.addUser(t, "alice", "Alice", user.RoleCustomer, epoch)

	_, err := commands.Dispatch[OpenSupportConversationCommand, *dto.OpenedConversation](
		context.Background(), h.cmds, OpenSupportConversationCommand{CustomerID: "alice"})
	if !errors.Is(err, ErrNoAdminAvailable) {
		t.Fatalf("expected ErrNoAdminAvailable, got %v", err)
	}
}

func TestSupportRouting(t *testing.T) {
	cases := []struct {
		name      string
		preferred user.ID
		want      string
	}{
		{name: "earliest admin by default", want: "admin"},
		{name: "preferred admin", preferred: "night-shift", want: "night-shift"},
		{name: "preferred user is not an admin", preferred: "bob", want: "admin"},
		{name: "preferred user does not exist", preferred: "ghost", want: "admin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, withPreferredAdmin(tc.preferred))
			h.seed(t)
			h.addUser(t, "night-shift", "Night Shift", user.RoleAdmin, epoch)

			opened := h.openSupport(t, "alice")
			var found bool
			for _, p := range opened.Participants {
				if p.UserID == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %+v", tc.want, opened.Participants)
			}
		})
	}
}

func TestSupportAnnouncesToAdmins(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	opened := h.openSupport(t, "alice")

	events := h.eventsOfType(notify.ConversationCreated)
	if len(events) != 1 {
		t.Fatalf("expected one conversation.created, got %d", len(events))
	}
	event := events[0]
	if event.ConversationID != opened.ID {
		t.Fatalf("unexpected conversation id %s", event.ConversationID)
	}
	if len(event.Recipients) != 1 || event.Recipients[0] != "admin" {
		t.Fatalf("expected the admin as sole recipient, got %v", event.Recipients)
	}
	if len(event.Roles) != 1 || event.Roles[0] != user.RoleAdmin {
		t.Fatalf("expected the admin role channel, got %v", event.Roles)
	}
	var view dto.Conversation
	if err := event.Decode(&view); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if view.ID != opened.ID {
		t.Fatalf("payload carries %s", view.ID)
	}
}

func TestOpenDirectRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	open := func(caller, peer string) (*dto.OpenedConversation, error) {
		return commands.Dispatch[OpenDirectConversationCommand, *dto.OpenedConversation](ctx, h.cmds,
			OpenDirectConversationCommand{AdminID: caller, PeerID: peer})
	}

	if _, err := open("alice", "rick"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("customer caller: expected ErrForbidden, got %v", err)
	}
	if _, err := open("alice", " "); !errors.Is(err, ErrForbidden) {
		t.Fatalf("customer caller without peer: expected ErrForbidden, got %v", err)
	}
	if _, err := open("ghost", "rick"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown caller: expected ErrUnauthorized, got %v", err)
	}
	if _, err := open("admin", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing peer: expected ErrInvalidInput, got %v", err)
	}

	first, err := open("admin", "rick")
	if err != nil || !first.Created {
		t.Fatalf("admin open: created=%v err=%v", first != nil && first.Created, err)
	}
	second, err := open("admin", "rick")
	if err != nil {
		t.Fatalf("admin reopen: %v", err)
	}
	if second.Created || second.ID != first.ID {
		t.Fatalf("expected existing conversation, got %+v", second)
	}
	events := h.eventsOfType(notify.ConversationCreated)
	if len(events) != 1 || len(events[0].Roles) != 0 {
		t.Fatalf("direct open should announce once without role channels: %+v", events)
	}
}

func TestPostMessageRejectionsLeaveNoTrace(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	opened := h.openSupport(t, "alice")
	before := len(h.bus.Events())

	cases := []struct {
		name   string
		conv   string
		sender string
		text   string
		attach string
		want   error
	}{
		{name: "outsider", conv: opened.ID, sender: "rick", text: "hi", want: ErrForbidden},
		{name: "unknown conversation", conv: "nope", sender: "alice", text: "hi", want: ErrNotFound},
		{name: "blank text", conv: opened.ID, sender: "alice", text: "   ", want: ErrInvalidInput},
		{name: "missing sender", conv: opened.ID, sender: "", text: "hi", want: ErrInvalidInput},
		{name: "bad attachment", conv: opened.ID, sender: "alice", text: "hi", attach: "javascript:alert(1)", want: ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := commands.Dispatch[PostMessageCommand, *dto.Message](ctx, h.cmds, PostMessageCommand{
				ConversationID: tc.conv,
				SenderID:       tc.sender,
				Text:           tc.text,
				AttachmentURL:  tc.attach,
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if msgs := h.messages(t, opened.ID, "alice"); len(msgs) != 0 {
		t.Fatalf("rejected posts were stored: %+v", msgs)
	}
	if after := len(h.bus.Events()); after != before {
		t.Fatalf("rejected posts emitted %d events", after-before)
	}
}

func TestListMessagesAccess(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	opened := h.openSupport(t, "alice")

	_, err := queries.Ask[ListMessagesQuery, []dto.Message](ctx, h.qs,
		ListMessagesQuery{ConversationID: opened.ID, RequesterID: "bob"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("outsider: expected ErrForbidden, got %v", err)
	}
	_, err = queries.Ask[ListMessagesQuery, []dto.Message](ctx, h.qs,
		ListMessagesQuery{ConversationID: "missing", RequesterID: "alice"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing conversation: expected ErrNotFound, got %v", err)
	}
	_, err = queries.Ask[ListMessagesQuery, []dto.Message](ctx, h.qs,
		ListMessagesQuery{ConversationID: opened.ID})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("missing requester: expected ErrInvalidInput, got %v", err)
	}
	if msgs := h.messages(t, opened.ID, "admin"); msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected an empty non-nil history, got %#v", msgs)
	}
}

func TestPostMessageFansOutToParticipants(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	opened := h.openSupport(t, "alice")

	msg, err := h.post(context.Background(), opened.ID, "alice", "hello", "")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	events := h.eventsOfType(notify.MessageCreated)
	if len(events) != 1 {
		t.Fatalf("expected one message.created, got %d", len(events))
	}
	channels := notify.Channels(events[0])
	want := []string{
		notify.UserChannel("admin"),
		notify.UserChannel("alice"),
		notify.ConversationChannel(opened.ID),
	}
	if len(channels) != len(want) {
		t.Fatalf("unexpected channels %v", channels)
	}
	for i := range want {
		if channels[i] != want[i] {
			t.Fatalf("expected channels %v, got %v", want, channels)
		}
	}
	var payload dto.Message
	if err := events[0].Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != msg.ID || payload.Content != "hello" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestInboxOrderingAndExclusion(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()

	support := h.openSupport(t, "alice")
	direct, _, err := h.dir.GetOrCreate(ctx, "admin", "bob")
	if err != nil {
		t.Fatalf("open direct: %v", err)
	}

	inbox := h.inbox(t, "admin")
	if len(inbox) != 2 || inbox[0].ID != string(direct.ID) {
		t.Fatalf("newest conversation should lead: %+v", inbox)
	}

	if _, err := h.post(ctx, support.ID, "alice", "ping", ""); err != nil {
		t.Fatalf("post: %v", err)
	}
	inbox = h.inbox(t, "admin")
	if inbox[0].ID != support.ID {
		t.Fatalf("conversation with latest message should lead: %+v", inbox)
	}

	if convs := h.inbox(t, "bob"); len(convs) != 1 || convs[0].ID != string(direct.ID) {
		t.Fatalf("bob should only see his own conversation: %+v", convs)
	}
	if convs := h.inbox(t, "rick"); convs == nil || len(convs) != 0 {
		t.Fatalf("rick should see an empty inbox, got %#v", convs)
	}
}

func TestPostMessageReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	opened := h.openSupport(t, "alice")

	first, err := h.post(ctx, opened.ID, "alice", "once", "retry-1")
	if err != nil {
		t.Fatalf("first post: %v", err)
	}
	second, err := h.post(ctx, opened.ID, "alice", "once", "retry-1")
	if err != nil {
		t.Fatalf("replayed post: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if msgs := h.messages(t, opened.ID, "alice"); len(msgs) != 1 {
		t.Fatalf("expected one stored message, got %d", len(msgs))
	}
	if n := len(h.eventsOfType(notify.MessageCreated)); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}

	// the key is scoped to the sender
	reply, err := h.post(ctx, opened.ID, "admin", "got it", "retry-1")
	if err != nil {
		t.Fatalf("admin post: %v", err)
	}
	if reply.ID == first.ID {
		t.Fatal("keys from different senders collided")
	}
}

func TestPostMessageKeyReusedElsewhereIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	ctx := context.Background()
	withAlice := h.openSupport(t, "alice")
	withBob := h.openSupport(t, "bob")

	first, err := h.post(ctx, withAlice.ID, "admin", "to alice", "k1")
	if err != nil {
		t.Fatalf("first post: %v", err)
	}

	// same key in another conversation is a new message, not a replay
	other, err := h.post(ctx, withBob.ID, "admin", "to bob", "k1")
	if err != nil {
		t.Fatalf("post to bob: %v", err)
	}
	if other.ConversationID != withBob.ID || other.Content != "to bob" || other.ID == first.ID {
		t.Fatalf("unexpected message %+v", other)
	}
	if msgs := h.messages(t, withBob.ID, "bob"); len(msgs) != 1 {
		t.Fatalf("expected one message with bob, got %d", len(msgs))
	}

	// same key and conversation with different content
	if _, err := h.post(ctx, withAlice.ID, "admin", "something else", "k1"); !errors.Is(err, middleware.ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if msgs := h.messages(t, withAlice.ID, "alice"); len(msgs) != 1 || msgs[0].Content != "to alice" {
		t.Fatalf("alice conversation changed: %+v", msgs)
	}
}
